package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/rpevents/pkg/archive"
)

// backupMu keeps two backups from staging at once.
var backupMu sync.Mutex

// Backup archives the world store, the event database, the event logs and
// the config file into BackupDir, then prunes archives beyond
// BackupRetain. It reads the stores directly and may run on any
// goroutine.
func (g *Game) Backup(ctx context.Context) (string, error) {
	backupMu.Lock()
	defer backupMu.Unlock()

	// Conf is swapped on the scheduler goroutine by config reloads.
	var conf GameConf
	if err := g.Sched.Call(ctx, func() { conf = *g.Conf }); err != nil {
		return "", fmt.Errorf("server: backup: %w", err)
	}

	evs, err := g.SQL.List(ctx, true)
	if err != nil {
		g.Metrics.BackupDone(false)
		return "", fmt.Errorf("server: backup: %w", err)
	}

	p := archive.Params{
		SQLPath:           g.SQL.Path(),
		SQLCheckpointFunc: g.SQL.Checkpoint,
		LogDir:            g.Events.Logs().Root(),
		ConfPath:          g.ConfPath,
		Dir:               conf.BackupDir,
		Name:              conf.Name,
		Events:            len(evs),
		Now:               g.Sched.Now(),
	}
	if g.Store != nil {
		p.BoltSnapshotFunc = g.Store.Backup
	}
	path, err := archive.Create(p)
	if err != nil {
		g.Metrics.BackupDone(false)
		return "", fmt.Errorf("server: backup: %w", err)
	}
	g.Metrics.BackupDone(true)
	log.Printf("Backup written: %s (%d events)", path, len(evs))

	removed, err := archive.Prune(conf.BackupDir, conf.BackupRetain)
	if err != nil {
		log.Printf("WARNING: pruning backups: %v", err)
	}
	for _, r := range removed {
		DebugLog("pruned backup %s", r)
	}
	return path, nil
}

// autoBackup writes a backup every interval until ctx is done.
func (g *Game) autoBackup(ctx context.Context, interval time.Duration) {
	log.Printf("Auto-backup enabled: every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Backup(ctx); err != nil {
				log.Printf("ERROR: auto-backup: %v", err)
			}
		}
	}
}
