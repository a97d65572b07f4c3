package server

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadConfig re-reads ConfPath and queues the new settings onto the
// scheduler goroutine. A file that fails to load leaves the running
// config in place.
func (g *Game) ReloadConfig() error {
	gc, err := LoadGameConf(g.ConfPath)
	if err != nil {
		return err
	}
	g.Sched.Do(func() {
		g.ApplyGameConf(gc)
		log.Printf("config: reloaded %s", g.ConfPath)
	})
	return nil
}

// WatchConfig starts an fsnotify watcher on the config file's directory
// and reloads the config whenever the file is written. The watcher stops
// when ctx is done. The directory is watched rather than the file so
// editors that replace the file on save are still seen. It reports
// whether a watcher was started.
func (g *Game) WatchConfig(ctx context.Context) bool {
	if g.ConfPath == "" {
		return false
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WARNING: Could not start config watcher: %v", err)
		return false
	}

	name := filepath.Base(g.ConfPath)
	dir := filepath.Dir(g.ConfPath)
	if err := watcher.Add(dir); err != nil {
		log.Printf("WARNING: Could not watch config directory %s: %v", dir, err)
		watcher.Close()
		return false
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				DebugLog("config file event: %s", event)
				if err := g.ReloadConfig(); err != nil {
					log.Printf("config: keeping current settings: %v", err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Config watcher error: %v", err)
			}
		}
	}()

	log.Printf("Watching config for changes: %s", g.ConfPath)
	return true
}
