package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// rateSweepEvery is how often idle rate limit buckets are dropped.
const rateSweepEvery = 5 * time.Minute

// WebConfig is the subset of GameConf the HTTP front end reads.
type WebConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	RateLimit   int // requests per minute per client, 0 disables
	JWTSecret   string
	JWTExpiry   int // seconds
}

// WebConfigFrom extracts the web settings from a GameConf.
func WebConfigFrom(gc *GameConf) WebConfig {
	return WebConfig{
		Host:        gc.WebHost,
		Port:        gc.WebPort,
		CORSOrigins: gc.WebCORSOrigins,
		RateLimit:   gc.WebRateLimit,
		JWTSecret:   gc.JWTSecret,
		JWTExpiry:   gc.JWTExpiry,
	}
}

// WebServer serves the /ws session transport, the event admin API, and the
// health and metrics endpoints.
type WebServer struct {
	game    *Game
	srv     *http.Server
	mux     *http.ServeMux
	auth    *AuthService
	limiter *rateLimiter
	origins originPolicy
	ws      websocket.Upgrader
	started time.Time
}

// NewWebServer builds the route table and middleware chain for game.
func NewWebServer(game *Game, cfg WebConfig) *WebServer {
	origins := newOriginPolicy(cfg.CORSOrigins)
	s := &WebServer{
		game:    game,
		mux:     http.NewServeMux(),
		auth:    NewAuthService(cfg.JWTSecret, cfg.JWTExpiry),
		limiter: newRateLimiter(cfg.RateLimit),
		origins: origins,
		ws:      websocket.Upgrader{CheckOrigin: origins.checkWSOrigin},
		started: time.Now(),
	}
	s.routes()

	// Requests pass CORS first, then the limiter, then get counted.
	var h http.Handler = s.mux
	h = instrumentMiddleware(game.Metrics, h)
	h = rateLimitMiddleware(s.limiter, h)
	h = corsMiddleware(s.origins, h)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *WebServer) routes() {
	s.mux.HandleFunc("GET /ws", s.serveSession)
	s.mux.HandleFunc("POST /api/v1/auth/refresh", s.refreshToken)
	s.RegisterRESTRoutes()
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.Handle("GET /metrics", s.game.Metrics.Handler())
}

// Auth returns the token service, for minting tokens outside a request.
func (s *WebServer) Auth() *AuthService { return s.auth }

// Handler returns the root handler with all middleware applied.
func (s *WebServer) Handler() http.Handler { return s.srv.Handler }

// Start serves until Stop is called, sweeping idle rate limit buckets
// while ctx lives.
func (s *WebServer) Start(ctx context.Context) error {
	go func() {
		t := time.NewTicker(rateSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.limiter.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("web: listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains open requests and closes the listener.
func (s *WebServer) Stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// serveSession upgrades a request carrying a valid bearer token and logs
// the socket in as the token's character.
func (s *WebServer) serveSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireToken(w, r)
	if !ok {
		return
	}
	conn, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("web: upgrade from %s: %v", clientAddr(r), err)
		return
	}

	sess := newWSSession(s.game, conn, clientAddr(r))
	s.game.Conns.Login(sess.d, claims.PlayerRef)
	log.Printf("[ws:%d] %s connected as #%d from %s", sess.d.ID, claims.PlayerName, claims.PlayerRef, sess.d.Addr)
	sess.send(WSMessage{Type: "login", Data: map[string]any{
		"player_ref":  int(claims.PlayerRef),
		"player_name": claims.PlayerName,
	}})

	go sess.writePump()
	go sess.readPump()
}

// requireToken writes a 401 and reports false unless r carries a valid
// bearer token.
func (s *WebServer) requireToken(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return nil, false
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		DebugLog("web: rejected token from %s: %v", clientAddr(r), err)
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

func (s *WebServer) refreshToken(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	fresh, err := s.auth.RefreshToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": fresh})
}

func (s *WebServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"sessions": s.game.Conns.Count(),
	})
}
