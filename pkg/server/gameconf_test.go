package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadGameConf(t *testing.T) {
	path := writeConf(t, `
name: Crystal
event_tick_interval: 60
event_idle_limit: 4
bolt_path: world.bolt
sql_path: /var/lib/rpevents/events.sqlite
web_cors_origins: [https://play.example.org]
debug: true
`)
	gc, err := LoadGameConf(path)
	if err != nil {
		t.Fatalf("LoadGameConf: %v", err)
	}
	dir := filepath.Dir(path)

	if gc.Name != "Crystal" || gc.EventTickInterval != 60 || gc.EventIdleLimit != 4 {
		t.Fatalf("expected file values, got %+v", gc)
	}
	// Unset keys keep their defaults.
	if gc.EventKarmaAward != 1 || gc.ScentDuration != 86400 || gc.WebPort != 8443 {
		t.Fatalf("expected defaults kept, got %+v", gc)
	}
	if gc.BoltPath != filepath.Join(dir, "world.bolt") {
		t.Fatalf("expected bolt path resolved against %s, got %s", dir, gc.BoltPath)
	}
	if gc.SQLPath != "/var/lib/rpevents/events.sqlite" {
		t.Fatalf("expected absolute path untouched, got %s", gc.SQLPath)
	}
	if gc.EventLogRoot != filepath.Join(dir, "data") {
		t.Fatalf("expected default log root resolved, got %s", gc.EventLogRoot)
	}
	if gc.LogFile != "" {
		t.Fatalf("expected empty log file kept empty, got %q", gc.LogFile)
	}

	cfg := gc.EventConfig()
	if cfg.Interval != time.Minute || cfg.IdleLimit != 4 || cfg.KarmaAward != 1 {
		t.Fatalf("unexpected event config: %+v", cfg)
	}
}

func TestLoadGameConfErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero tick", "event_tick_interval: 0\n", "event_tick_interval"},
		{"negative idle", "event_idle_limit: -1\n", "event_idle_limit"},
		{"zero recovery", "recovery_interval: 0\n", "recovery_interval"},
		{"zero scent", "scent_duration: 0\n", "scent_duration"},
		{"bad yaml", "event_tick_interval: [\n", "parsing YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGameConf(writeConf(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := LoadGameConf(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyGameConf(t *testing.T) {
	tg := newTestGame(t)
	defer SetDebug(false)

	gc := *tg.Conf
	gc.EventTickInterval = 120
	gc.EventIdleLimit = 3
	gc.EventKarmaAward = 2
	gc.Debug = true
	tg.ApplyGameConf(&gc)

	cfg := tg.Events.Config()
	if cfg.Interval != 2*time.Minute || cfg.IdleLimit != 3 || cfg.KarmaAward != 2 {
		t.Fatalf("expected new event config, got %+v", cfg)
	}
	if tg.Conf != &gc {
		t.Fatal("expected game to hold the new config")
	}
	if !IsDebug() {
		t.Fatal("expected debug logging on")
	}
}

func TestReloadConfig(t *testing.T) {
	tg := newTestGame(t)
	tg.ConfPath = writeConf(t, "event_idle_limit: 7\n")

	if err := tg.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	// Applied on the scheduler goroutine.
	if tg.Events.Config().IdleLimit == 7 {
		t.Fatal("expected reload to wait for the scheduler")
	}
	tg.Sched.RunDue()
	if got := tg.Events.Config().IdleLimit; got != 7 {
		t.Fatalf("expected idle limit 7, got %d", got)
	}

	if err := os.WriteFile(tg.ConfPath, []byte("event_idle_limit: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := tg.ReloadConfig(); err == nil {
		t.Fatal("expected invalid config to be refused")
	}
	tg.Sched.RunDue()
	if got := tg.Events.Config().IdleLimit; got != 7 {
		t.Fatalf("expected idle limit kept at 7, got %d", got)
	}
}

func TestWatchConfigMissingDirectory(t *testing.T) {
	tg := newTestGame(t)
	tg.ConfPath = filepath.Join(t.TempDir(), "gone", "game.yaml")

	if tg.WatchConfig(context.Background()) {
		t.Fatal("expected no watcher for a missing directory")
	}
}

func TestWatchConfigStarts(t *testing.T) {
	tg := newTestGame(t)
	tg.ConfPath = writeConf(t, "event_idle_limit: 7\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !tg.WatchConfig(ctx) {
		t.Fatal("expected watcher to start")
	}

	bare := newTestGame(t)
	bare.ConfPath = ""
	if bare.WatchConfig(ctx) {
		t.Fatal("expected no watcher without a config path")
	}
}
