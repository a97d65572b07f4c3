package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/crystal-mush/rpevents/pkg/rpevents"
	"gopkg.in/yaml.v3"
)

// GameConf holds the server's configuration. Durations are given in
// seconds, like the rest of the file.
type GameConf struct {
	// --- Identity ---
	Name string `yaml:"name"`

	// --- Event scheduler ---
	EventTickInterval int    `yaml:"event_tick_interval"` // seconds between ticks
	EventIdleLimit    int    `yaml:"event_idle_limit"`    // idle ticks before an event is closed
	EventKarmaAward   int    `yaml:"event_karma_award"`   // karma per qualifying host
	EventLogRoot      string `yaml:"event_log_root"`      // parent of the rpevents/ log directory

	// --- Scripts ---
	RecoveryInterval   int `yaml:"recovery_interval"`
	AppearanceInterval int `yaml:"appearance_interval"`
	ScentDuration      int `yaml:"scent_duration"`
	RecoveryBaseDiff   int `yaml:"recovery_base_difficulty"` // added to every recovery roll difficulty

	// --- Storage ---
	BoltPath   string `yaml:"bolt_path"`
	SQLPath    string `yaml:"sql_path"`
	SQLTimeout int    `yaml:"sql_timeout"` // per-query timeout in seconds

	// --- Backups ---
	BackupDir      string `yaml:"backup_dir"`
	BackupInterval int    `yaml:"backup_interval"` // minutes between automatic backups, 0 = off
	BackupRetain   int    `yaml:"backup_retain"`   // archives kept, 0 = all

	// --- Web ---
	WebEnabled     bool     `yaml:"web_enabled"`
	WebHost        string   `yaml:"web_host"`
	WebPort        int      `yaml:"web_port"`
	WebCORSOrigins []string `yaml:"web_cors_origins"`
	WebRateLimit   int      `yaml:"web_rate_limit"` // requests per minute per IP
	JWTSecret      string   `yaml:"jwt_secret"`
	JWTExpiry      int      `yaml:"jwt_expiry"` // seconds

	// --- Logging ---
	LogFile       string `yaml:"log_file"` // empty = stderr
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	Debug         bool   `yaml:"debug"`
}

// DefaultGameConf returns a GameConf with sensible defaults.
func DefaultGameConf() *GameConf {
	return &GameConf{
		Name:               "rpevents",
		EventTickInterval:  300,
		EventIdleLimit:     12,
		EventKarmaAward:    1,
		EventLogRoot:       "data",
		RecoveryInterval:   1800,
		AppearanceInterval: 3600,
		ScentDuration:      86400,
		BoltPath:           "data/world.bolt",
		SQLPath:            "data/events.sqlite",
		SQLTimeout:         5,
		BackupDir:          "data/backups",
		BackupRetain:       7,
		WebEnabled:         true,
		WebPort:            8443,
		WebRateLimit:       60,
		JWTExpiry:          86400,
		LogMaxSizeMB:       50,
		LogMaxBackups:      5,
	}
}

// LoadGameConf reads a YAML config file over the defaults.
func LoadGameConf(path string) (*GameConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	gc := DefaultGameConf()
	if err := yaml.Unmarshal(data, gc); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}

	// Relative storage paths are resolved against the config directory
	baseDir := filepath.Dir(path)
	for _, p := range []*string{&gc.EventLogRoot, &gc.BoltPath, &gc.SQLPath, &gc.BackupDir, &gc.LogFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}

	if err := gc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gc, nil
}

// Validate rejects values the scheduler cannot run with.
func (gc *GameConf) Validate() error {
	switch {
	case gc.EventTickInterval <= 0:
		return fmt.Errorf("event_tick_interval must be positive, got %d", gc.EventTickInterval)
	case gc.EventIdleLimit <= 0:
		return fmt.Errorf("event_idle_limit must be positive, got %d", gc.EventIdleLimit)
	case gc.RecoveryInterval <= 0:
		return fmt.Errorf("recovery_interval must be positive, got %d", gc.RecoveryInterval)
	case gc.AppearanceInterval <= 0:
		return fmt.Errorf("appearance_interval must be positive, got %d", gc.AppearanceInterval)
	case gc.ScentDuration <= 0:
		return fmt.Errorf("scent_duration must be positive, got %d", gc.ScentDuration)
	case gc.BackupInterval < 0:
		return fmt.Errorf("backup_interval must not be negative, got %d", gc.BackupInterval)
	}
	return nil
}

// EventConfig converts the scheduler tunables.
func (gc *GameConf) EventConfig() rpevents.Config {
	return rpevents.Config{
		Interval:   seconds(gc.EventTickInterval),
		IdleLimit:  gc.EventIdleLimit,
		KarmaAward: gc.EventKarmaAward,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ApplyGameConf installs a (re)loaded config. Only the scheduler and
// script tunables take effect at runtime; storage and web settings need a
// restart. Must run on the scheduler goroutine.
func (g *Game) ApplyGameConf(gc *GameConf) {
	old := g.Conf
	g.Conf = gc
	SetDebug(gc.Debug)
	if g.Events != nil {
		g.Events.SetConfig(gc.EventConfig())
	}
	if old != nil && (old.BoltPath != gc.BoltPath || old.SQLPath != gc.SQLPath || old.WebPort != gc.WebPort) {
		log.Printf("config: storage and web changes need a restart")
	}
}
