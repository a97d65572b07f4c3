package server

import (
	"context"
	"log"
	"runtime"
)

// ConnStats is a breakdown of current sessions.
type ConnStats struct {
	Total     int     `json:"total"`
	WebSocket int     `json:"websocket"`
	Capture   int     `json:"capture"`
	LoggingIn int     `json:"login_screen"`
	Connected int     `json:"connected"`
	Lines     int64   `json:"lines"`
	MaxIdle   float64 `json:"max_idle_seconds"`
}

// ConnectionStats returns a breakdown of current sessions.
func (g *Game) ConnectionStats() ConnStats {
	var s ConnStats
	for _, d := range g.Conns.Sessions() {
		s.Total++
		switch d.Transport {
		case TransportWebSocket:
			s.WebSocket++
		case TransportCapture:
			s.Capture++
		}
		if d.LoggedIn() {
			s.Connected++
		} else {
			s.LoggingIn++
		}
		s.Lines += d.Lines()
		s.MaxIdle = max(s.MaxIdle, d.IdleFor().Seconds())
	}
	return s
}

// SchedStats summarises the scheduler and what it is driving.
type SchedStats struct {
	Immediate int            `json:"immediate"`
	Waiting   int            `json:"waiting"`
	Active    int            `json:"active_events"`
	Pending   int            `json:"pending_starts"`
	Cancelled int            `json:"cancelled"`
	Scripts   map[string]int `json:"scripts"`
}

// SchedulerStats gathers scheduler counts. Queue depths are always
// filled; the rest is left zero if the scheduler is closed or ctx ends
// first.
func (g *Game) SchedulerStats(ctx context.Context) SchedStats {
	// inner is written on the scheduler goroutine and only read once Call
	// has returned without error.
	inner := &SchedStats{}
	err := g.Sched.Call(ctx, func() {
		snap := g.Events.Snapshot()
		inner.Active = len(snap.ActiveEvents)
		inner.Pending = len(snap.PendingStart)
		inner.Cancelled = len(snap.Cancelled)
		inner.Scripts = g.Scripts.Count()
	})
	var s SchedStats
	if err != nil {
		DebugLog("scheduler stats: %v", err)
	} else {
		s = *inner
	}
	s.Immediate, s.Waiting = g.Sched.Stats()
	return s
}

// MemoryStats returns Go runtime memory statistics.
func MemoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"heap_alloc":  m.HeapAlloc,
		"heap_sys":    m.HeapSys,
		"heap_inuse":  m.HeapInuse,
		"stack_inuse": m.StackInuse,
		"num_gc":      m.NumGC,
		"goroutines":  runtime.NumGoroutine(),
	}
}

// LogStats writes a one-line summary to the process log.
func (g *Game) LogStats(ctx context.Context) {
	c := g.ConnectionStats()
	s := g.SchedulerStats(ctx)
	log.Printf("stats: %d sessions, %d active events, %d pending starts, %d queued", c.Total, s.Active, s.Pending, s.Immediate+s.Waiting)
}
