// Package rpevents runs the scheduled role-play event lifecycle: countdown
// announcements, automatic starts, idle shutdown, per-event logs and the
// awards handed out when an event ends.
//
// Every Manager method must be called on the scheduler goroutine (from a
// timer callback or through Scheduler.Do/Call).
package rpevents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"time"

	"github.com/crystal-mush/rpevents/pkg/eventlog"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/timer"
	"github.com/gertd/go-pluralize"
)

// ErrNotFound is wrapped by stores when an event, account or asset record
// does not exist.
var ErrNotFound = errors.New("not found")

// EventStore loads and saves events.
type EventStore interface {
	Get(ctx context.Context, id int64) (*gamedb.RPEvent, error)
	Upcoming(ctx context.Context) ([]*gamedb.RPEvent, error)
	Save(ctx context.Context, ev *gamedb.RPEvent) error
	Delete(ctx context.Context, id int64) error
	AddParticipant(ctx context.Context, id int64, persona gamedb.DBRef) error
}

// Rewards credits personas for hosting events.
type Rewards interface {
	AddKarma(ctx context.Context, persona gamedb.DBRef, n int) error
	AdjustPrestige(ctx context.Context, persona gamedb.DBRef, amount int) error
}

// Board removes an event's bulletin board post.
type Board interface {
	DeletePost(ctx context.Context, tagKey, tagData string) error
}

// World answers location questions and marks rooms as logging an event.
type World interface {
	RoomName(room gamedb.DBRef) (string, bool)
	StartEventLogging(room gamedb.DBRef, ev *gamedb.RPEvent)
	StopEventLogging(room gamedb.DBRef)
	LocationOf(persona gamedb.DBRef) gamedb.DBRef
	IsConnected(persona gamedb.DBRef) bool
}

// Announcer delivers text to sessions.
type Announcer interface {
	AnnounceAll(msg string)
	MsgContents(room gamedb.DBRef, msg string)
}

// StateStore persists the scheduler bookkeeping between restarts.
type StateStore interface {
	LoadSchedulerState() (*gamedb.SchedulerState, error)
	SaveSchedulerState(st *gamedb.SchedulerState) error
}

// Observer is told about lifecycle transitions. Used for metrics.
type Observer interface {
	Announced(id int64)
	Started(id int64)
	Finished(id int64)
	Ticked(elapsed time.Duration)
}

// Config holds the tunables of the event scheduler.
type Config struct {
	Interval   time.Duration // time between ticks
	IdleLimit  int           // idle ticks before an active event is closed
	KarmaAward int           // karma per qualifying host
}

// DefaultConfig returns the standard tunables: a five minute tick, an
// hour of idleness, one karma per host.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		IdleLimit:  12,
		KarmaAward: 1,
	}
}

// State is the scheduler's bookkeeping. PendingStart is never persisted.
type State struct {
	IdleEvents   map[int64]int
	ActiveEvents []int64
	PendingStart map[int64]*timer.Handle
	Cancelled    []int64
	EventLogs    map[int64]string
	GMLogs       map[int64]string
}

func newState() State {
	return State{
		IdleEvents:   make(map[int64]int),
		PendingStart: make(map[int64]*timer.Handle),
		EventLogs:    make(map[int64]string),
		GMLogs:       make(map[int64]string),
	}
}

func (s *State) record() *gamedb.SchedulerState {
	return &gamedb.SchedulerState{
		IdleEvents:   maps.Clone(s.IdleEvents),
		ActiveEvents: slices.Clone(s.ActiveEvents),
		Cancelled:    slices.Clone(s.Cancelled),
		EventLogs:    maps.Clone(s.EventLogs),
		GMLogs:       maps.Clone(s.GMLogs),
	}
}

func (s *State) restore(rec *gamedb.SchedulerState) {
	*s = newState()
	maps.Copy(s.IdleEvents, rec.IdleEvents)
	maps.Copy(s.EventLogs, rec.EventLogs)
	maps.Copy(s.GMLogs, rec.GMLogs)
	s.ActiveEvents = slices.Clone(rec.ActiveEvents)
	s.Cancelled = slices.Clone(rec.Cancelled)
}

// PendingIDs returns the ids with a deferred start armed, sorted.
func (s State) PendingIDs() []int64 {
	return slices.Sorted(maps.Keys(s.PendingStart))
}

// IsActive reports whether the event is running.
func (s State) IsActive(id int64) bool {
	return slices.Contains(s.ActiveEvents, id)
}

// Deps are the collaborators of a Manager. Board, StateStore and Observer
// are optional.
type Deps struct {
	Events    EventStore
	Rewards   Rewards
	Board     Board
	World     World
	Announcer Announcer
	State     StateStore
	Logs      *eventlog.Dir
	Observer  Observer
}

// Manager drives the event lifecycle.
type Manager struct {
	cfg   Config
	sched *timer.Scheduler
	deps  Deps

	state  State
	open   map[int64]*eventlog.Pair
	plural *pluralize.Client
	tick   *timer.Handle
}

// NewManager builds a Manager and restores saved state. Pending starts
// from a previous run are not restored; the next tick re-arms them.
func NewManager(cfg Config, sched *timer.Scheduler, deps Deps) (*Manager, error) {
	if deps.Events == nil || deps.World == nil || deps.Announcer == nil || deps.Logs == nil {
		return nil, errors.New("rpevents: events, world, announcer and logs are required")
	}
	m := &Manager{
		cfg:    cfg,
		sched:  sched,
		deps:   deps,
		state:  newState(),
		open:   make(map[int64]*eventlog.Pair),
		plural: pluralize.NewClient(),
	}
	if deps.State != nil {
		rec, err := deps.State.LoadSchedulerState()
		if err != nil {
			return nil, fmt.Errorf("rpevents: load state: %w", err)
		}
		m.state.restore(rec)
		// No pending start survives a restart, so there is nothing left
		// for a cancelled id to guard against.
		m.state.Cancelled = nil
		if len(m.state.ActiveEvents) > 0 {
			log.Printf("rpevents: restored %d active events", len(m.state.ActiveEvents))
		}
	}
	return m, nil
}

// Start arms the repeating tick. The first tick is one interval away.
func (m *Manager) Start() {
	if m.tick != nil {
		return
	}
	m.tick = m.sched.Every(m.cfg.Interval, m.cfg.Interval, func() {
		m.Tick(context.Background())
	})
}

// Stop disarms the tick and closes open logs. Pending starts stay armed
// until the scheduler itself is closed.
func (m *Manager) Stop() {
	if m.tick != nil {
		m.tick.Cancel()
		m.tick = nil
	}
	for id, p := range m.open {
		if err := p.Close(); err != nil {
			log.Printf("rpevents: %v", err)
		}
		delete(m.open, id)
	}
	m.saveState()
}

// Config returns the current tunables.
func (m *Manager) Config() Config { return m.cfg }

// SetConfig replaces the tunables. A changed interval re-arms the tick.
func (m *Manager) SetConfig(cfg Config) {
	old := m.cfg
	m.cfg = cfg
	if m.tick != nil && cfg.Interval != old.Interval {
		m.tick.Cancel()
		m.tick = nil
		m.Start()
	}
}

// Logs returns the event log directory.
func (m *Manager) Logs() *eventlog.Dir { return m.deps.Logs }

// Snapshot returns a copy of the scheduler state.
func (m *Manager) Snapshot() State {
	return State{
		IdleEvents:   maps.Clone(m.state.IdleEvents),
		ActiveEvents: slices.Clone(m.state.ActiveEvents),
		PendingStart: maps.Clone(m.state.PendingStart),
		Cancelled:    slices.Clone(m.state.Cancelled),
		EventLogs:    maps.Clone(m.state.EventLogs),
		GMLogs:       maps.Clone(m.state.GMLogs),
	}
}

func (m *Manager) now() time.Time { return m.sched.Now() }

func (m *Manager) saveState() {
	if m.deps.State == nil {
		return
	}
	if err := m.deps.State.SaveSchedulerState(m.state.record()); err != nil {
		log.Printf("rpevents: save state: %v", err)
	}
}

func (m *Manager) removeActive(id int64) {
	m.state.ActiveEvents = slices.DeleteFunc(m.state.ActiveEvents, func(v int64) bool { return v == id })
	delete(m.state.IdleEvents, id)
}

// sortedIdle returns the idle map's keys in ascending order so ticks are
// deterministic.
func (m *Manager) sortedIdle() []int64 {
	return slices.Sorted(maps.Keys(m.state.IdleEvents))
}
