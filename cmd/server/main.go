// Command server runs the RP event scheduler, the character scripts and
// the HTTP front end over a bbolt world and a SQLite event database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/crystal-mush/rpevents/pkg/archive"
	"github.com/crystal-mush/rpevents/pkg/boltstore"
	"github.com/crystal-mush/rpevents/pkg/eventdb"
	"github.com/crystal-mush/rpevents/pkg/eventlog"
	"github.com/crystal-mush/rpevents/pkg/server"
	"github.com/crystal-mush/rpevents/pkg/worldfile"
	"gopkg.in/natefinch/lumberjack.v2"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

type options struct {
	conf, world, bolt, sqlDB, logRoot, restore string
	port                                       int
	forceImport, debug                         bool
}

func main() {
	var o options
	flag.StringVar(&o.conf, "conf", envDefault("RPE_CONF", ""), "Path to game config file (env: RPE_CONF)")
	flag.StringVar(&o.world, "world", envDefault("RPE_WORLD", ""), "YAML world file imported into an empty store (env: RPE_WORLD)")
	flag.StringVar(&o.bolt, "bolt", envDefault("RPE_BOLT", ""), "bbolt world database, overrides config (env: RPE_BOLT)")
	flag.StringVar(&o.sqlDB, "sqldb", envDefault("RPE_SQLDB", ""), "SQLite event database, overrides config (env: RPE_SQLDB)")
	flag.StringVar(&o.logRoot, "logroot", envDefault("RPE_LOGROOT", ""), "Root directory for event logs, overrides config (env: RPE_LOGROOT)")
	flag.StringVar(&o.restore, "restore", envDefault("RPE_RESTORE", ""), "Backup archive to restore before starting (env: RPE_RESTORE)")
	flag.BoolVar(&o.forceImport, "import", os.Getenv("RPE_IMPORT") == "true", "Re-import the world file even if the store has data (env: RPE_IMPORT)")
	flag.BoolVar(&o.debug, "debug", os.Getenv("RPE_DEBUG") == "true", "Enable debug logging (env: RPE_DEBUG)")
	flag.IntVar(&o.port, "port", 0, "Web port, overrides config (env: RPE_PORT)")
	genSecret := flag.Bool("gensecret", false, "Print a random jwt_secret and exit")
	flag.Parse()

	if *genSecret {
		fmt.Println(server.GenerateJWTSecret())
		return
	}
	if err := run(o); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Printf("server: stopped")
}

func run(o options) error {
	log.Printf("%s starting", server.VersionString())

	gc, err := loadConf(o)
	if err != nil {
		return err
	}
	if gc.LogFile != "" {
		rotator, err := rotateLogs(gc)
		if err != nil {
			return err
		}
		defer rotator.Close()
	}
	server.SetDebug(gc.Debug)

	if o.restore != "" {
		if err := restore(o, gc); err != nil {
			return err
		}
	}
	for _, p := range []string{gc.BoltPath, gc.SQLPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("data directory: %w", err)
		}
	}

	store, err := boltstore.Open(gc.BoltPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := openWorld(store, o); err != nil {
		return err
	}

	events, err := eventdb.Open(gc.SQLPath, gc.SQLTimeout)
	if err != nil {
		return err
	}
	defer events.Close()
	log.Printf("server: events in %s, busy timeout %ds", gc.SQLPath, gc.SQLTimeout)

	game, err := server.NewGame(gc, store, events, nil)
	if err != nil {
		return err
	}
	game.ConfPath = o.conf

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Printf("server: %s up, event tick %ds, idle limit %d", gc.Name, gc.EventTickInterval, gc.EventIdleLimit)
	return server.NewServer(game).Run(ctx)
}

// loadConf reads the config file, or the defaults, and applies flag and
// environment overrides on top.
func loadConf(o options) (*server.GameConf, error) {
	gc := server.DefaultGameConf()
	if o.conf != "" {
		var err error
		if gc, err = server.LoadGameConf(o.conf); err != nil {
			return nil, err
		}
		log.Printf("server: config %s", o.conf)
	}

	if o.bolt != "" {
		gc.BoltPath = o.bolt
	}
	if o.sqlDB != "" {
		gc.SQLPath = o.sqlDB
	}
	if o.logRoot != "" {
		gc.EventLogRoot = o.logRoot
	}
	port := o.port
	if port == 0 {
		port, _ = strconv.Atoi(os.Getenv("RPE_PORT"))
	}
	if port != 0 {
		gc.WebPort = port
	}
	gc.Debug = gc.Debug || o.debug
	if v := os.Getenv("RPE_JWT_SECRET"); v != "" {
		gc.JWTSecret = v
	}
	if v := os.Getenv("RPE_WEB"); v != "" {
		gc.WebEnabled = strings.EqualFold(v, "true")
	}
	if err := gc.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return gc, nil
}

// rotateLogs tees the process log into a size-rotated file.
func rotateLogs(gc *server.GameConf) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   gc.LogFile,
		MaxSize:    gc.LogMaxSizeMB,
		MaxBackups: gc.LogMaxBackups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Printf("server: logging to %s", gc.LogFile)
	return rotator, nil
}

func restore(o options, gc *server.GameConf) error {
	log.Printf("server: restoring %s", o.restore)
	res, err := archive.Restore(archive.RestoreParams{
		ArchivePath: o.restore,
		BoltDest:    gc.BoltPath,
		SQLDest:     gc.SQLPath,
		LogDest:     eventlog.NewDir(gc.EventLogRoot).Root(),
		ConfDest:    o.conf,
	})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Printf("server: restore: %s", w)
	}
	log.Printf("server: restored %d files", res.FilesRestored)
	return nil
}

// openWorld fills the store's cache, seeding it from the world file on the
// first run or when a re-import is forced.
func openWorld(store *boltstore.Store, o options) error {
	if store.HasData() && !o.forceImport {
		return store.LoadAll()
	}
	if o.world == "" {
		if o.forceImport {
			return errors.New("-import needs -world or RPE_WORLD")
		}
		log.Printf("server: %s is empty and no world file was given, starting with an empty world", store.Path())
		return nil
	}
	db, err := worldfile.Load(o.world)
	if err != nil {
		return err
	}
	log.Printf("server: seeding %s from %s", store.Path(), o.world)
	return store.ImportFromDatabase(db)
}
