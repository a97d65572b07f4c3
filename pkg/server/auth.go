package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer    = "rpevents"
	defaultExpiry  = 24 * time.Hour
	clockSkewGrace = 30 * time.Second
)

// Claims holds the JWT claims for a session. PlayerRef is the character
// the bearer speaks as; Admin unlocks the event admin API.
type Claims struct {
	PlayerRef  gamedb.DBRef `json:"player_ref"`
	PlayerName string       `json:"player_name"`
	Admin      bool         `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and checks HMAC-signed tokens. Tokens are minted by
// whoever holds the shared secret (the eventadmin tool, a game front end).
type AuthService struct {
	key    []byte
	expiry time.Duration
	parser *jwt.Parser
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated and only tokens issued by this process verify.
func NewAuthService(jwtSecret string, expirySeconds int) *AuthService {
	key := []byte(jwtSecret)
	if jwtSecret == "" {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := defaultExpiry
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{
		key:    key,
		expiry: expiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkewGrace),
		),
	}
}

// Issue signs a token for a character.
func (a *AuthService) Issue(player gamedb.DBRef, name string, admin bool) (string, error) {
	return a.sign(&Claims{
		PlayerRef:  player,
		PlayerName: name,
		Admin:      admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subjectFor(player),
			Issuer:  tokenIssuer,
		},
	})
}

// sign stamps a fresh issue and expiry time on c and signs it.
func (a *AuthService) sign(c *Claims) (string, error) {
	now := time.Now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

// ValidateToken checks signature, issuer and expiry, and that the subject
// names the same character as the player_ref claim.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject != subjectFor(claims.PlayerRef) {
		return nil, fmt.Errorf("invalid token: subject %q does not match player #%d", claims.Subject, claims.PlayerRef)
	}
	return claims, nil
}

// RefreshToken re-signs a still-valid token with a new expiry.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	return a.sign(claims)
}

func subjectFor(player gamedb.DBRef) string {
	return fmt.Sprintf("#%d", player)
}

// GenerateJWTSecret returns a random hex secret for the jwt_secret setting.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
