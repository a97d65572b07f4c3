package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Server runs a Game: the scheduler loop, the config watcher and the web
// server.
type Server struct {
	Game *Game
	web  *WebServer
}

// NewServer creates a new server instance.
func NewServer(game *Game) *Server {
	return &Server{Game: game}
}

// Web returns the web server once Run has created it, or nil.
func (s *Server) Web() *WebServer {
	return s.web
}

// Run starts everything and blocks until ctx is cancelled or a component
// fails. On return the scheduler state has been saved.
func (s *Server) Run(ctx context.Context) error {
	g := s.Game
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("World: %d rooms, %d characters", len(g.DB.Rooms), len(g.DB.Characters))

	g.Events.Start()
	g.WatchConfig(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := g.Sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if g.Conf.BackupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.autoBackup(ctx, time.Duration(g.Conf.BackupInterval)*time.Minute)
		}()
	}

	if g.Conf.WebEnabled {
		s.web = NewWebServer(g, WebConfigFrom(g.Conf))
		if g.Conf.JWTSecret == "" {
			log.Printf("WARNING: jwt_secret is not set; only tokens issued by this process will verify")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.web.Start(ctx); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Printf("Shutting down: %v", runErr)
	}

	if s.web != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.web.Stop(stopCtx); err != nil {
			log.Printf("web server shutdown: %v", err)
		}
		stopCancel()
	}
	cancel()
	g.Sched.Close()
	wg.Wait()

	// The loop has exited; this goroutine now owns the game.
	g.Events.Stop()
	log.Printf("Scheduler state saved")
	return runErr
}
