package server

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/crystal-mush/rpevents/pkg/boltstore"
	"github.com/crystal-mush/rpevents/pkg/eventdb"
	"github.com/crystal-mush/rpevents/pkg/eventlog"
	"github.com/crystal-mush/rpevents/pkg/events"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/rpevents"
	"github.com/crystal-mush/rpevents/pkg/scripts"
	"github.com/crystal-mush/rpevents/pkg/timer"
)

// Game is the running world. DB, Events and Scripts belong to the
// scheduler goroutine; other goroutines reach them through Sched.Do or
// Sched.Call.
type Game struct {
	DB       *gamedb.Database
	Conns    *ConnManager
	EventBus *events.Bus
	Sched    *timer.Scheduler
	Store    *boltstore.Store // nil = no bbolt persistence
	SQL      *eventdb.Store
	Events   *rpevents.Manager
	Scripts  *scripts.Runner
	Metrics  *Metrics
	Conf     *GameConf
	ConfPath string // watched for changes when set

	// Roll returns one d10. Replaced in tests.
	Roll func() int
}

// NewGame wires the world, the event scheduler and the script runner.
// store may be nil; its cached world is used as the game database when
// present. clock may be nil for the wall clock.
func NewGame(conf *GameConf, store *boltstore.Store, sql *eventdb.Store, clock timer.Clock) (*Game, error) {
	if sql == nil {
		return nil, errors.New("server: event store is required")
	}
	if conf == nil {
		conf = DefaultGameConf()
	}
	if clock == nil {
		clock = timer.RealClock{}
	}

	db := gamedb.NewDatabase()
	if store != nil {
		db = store.DB()
	}
	bus := events.NewBus(db)
	conns := NewConnManager(bus)

	g := &Game{
		DB:       db,
		Conns:    conns,
		EventBus: bus,
		Sched:    timer.New(clock),
		Store:    store,
		SQL:      sql,
		Conf:     conf,
		Roll:     func() int { return rand.IntN(10) + 1 },
	}
	g.Metrics = NewMetrics(g, clock.Now())
	bus.Tap(g.Metrics)

	// Typed nils must not reach the interfaces below.
	var saver scripts.StateSaver
	var state rpevents.StateStore
	if store != nil {
		saver = store
		state = store
	}

	g.Scripts = scripts.NewRunner(g.Sched, saver)
	g.Scripts.OnRepeat = g.Metrics.ScriptRepeated

	mgr, err := rpevents.NewManager(conf.EventConfig(), g.Sched, rpevents.Deps{
		Events:    sql,
		Rewards:   sql,
		Board:     sql,
		World:     g,
		Announcer: g,
		State:     state,
		Logs:      eventlog.NewDir(conf.EventLogRoot),
		Observer:  g.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	g.Events = mgr

	if store != nil {
		states, err := store.LoadScripts()
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		n := g.Scripts.Restore(states, g, g.setupScript)
		log.Printf("Restored %d of %d scripts", n, len(states))
	}
	return g, nil
}

// setupScript hooks game callbacks into a script before it is attached.
func (g *Game) setupScript(s scripts.Script) {
	if a, ok := s.(*scripts.Appearance); ok {
		a.OnChange = g.scentChanged
	}
}

// --- rpevents.World ---

// RoomName returns a room's name.
func (g *Game) RoomName(room gamedb.DBRef) (string, bool) {
	r, ok := g.DB.Rooms[room]
	if !ok {
		return "", false
	}
	return r.Name, true
}

// StartEventLogging marks a room as recording an event.
func (g *Game) StartEventLogging(room gamedb.DBRef, ev *gamedb.RPEvent) {
	r, ok := g.DB.Rooms[room]
	if !ok {
		return
	}
	r.CurrentEvent = ev.ID
	r.AddTag(gamedb.TagLoggingEvent)
	g.persistRoom(r)
	DebugLog("room #%d logging event %d", room, ev.ID)
}

// StopEventLogging clears a room's event marker and tells the occupants.
func (g *Game) StopEventLogging(room gamedb.DBRef) {
	r, ok := g.DB.Rooms[room]
	if !ok {
		return
	}
	r.CurrentEvent = 0
	r.RemoveTag(gamedb.TagLoggingEvent)
	g.persistRoom(r)
	g.EventBus.EmitToRoom(room, events.Event{
		Type:   events.EvRoomNotice,
		Source: gamedb.Nothing,
		Text:   "{rEvent logging is now off for this room.{n",
	})
}

// LocationOf returns where a persona's character stands.
func (g *Game) LocationOf(persona gamedb.DBRef) gamedb.DBRef {
	c, ok := g.DB.CharacterOf(persona)
	if !ok {
		return gamedb.Nothing
	}
	return c.Location
}

// IsConnected reports whether a persona's character has a session.
func (g *Game) IsConnected(persona gamedb.DBRef) bool {
	c, ok := g.DB.CharacterOf(persona)
	if !ok {
		return false
	}
	return g.Conns.IsConnected(c.Ref)
}

// --- rpevents.Announcer ---

// AnnounceAll sends a message to every session.
func (g *Game) AnnounceAll(msg string) {
	g.EventBus.EmitAll(events.Event{
		Type:   events.EvAnnounce,
		Source: gamedb.Nothing,
		Text:   msg,
	})
}

// MsgContents sends a message to everyone in a room.
func (g *Game) MsgContents(room gamedb.DBRef, msg string) {
	g.EventBus.EmitToRoom(room, events.Event{
		Type:   events.EvRoomNotice,
		Source: gamedb.Nothing,
		Text:   msg,
	})
}

// --- Persistence ---

func (g *Game) persistRoom(r *gamedb.Room) {
	if g.Store == nil {
		return
	}
	if err := g.Store.PutRoom(r); err != nil {
		log.Printf("ERROR: persist room #%d: %v", r.Ref, err)
	}
}

func (g *Game) persistCharacter(c *gamedb.Character) {
	if g.Store == nil {
		return
	}
	if err := g.Store.PutCharacter(c); err != nil {
		log.Printf("ERROR: persist character #%d: %v", c.Ref, err)
	}
}

// PersonaOf returns the persona a character speaks for: its owning player,
// or the character itself when it has none.
func PersonaOf(c *gamedb.Character) gamedb.DBRef {
	if c.Player != gamedb.Nothing {
		return c.Player
	}
	return c.Ref
}

// Compile-time interface checks.
var (
	_ rpevents.World     = (*Game)(nil)
	_ rpevents.Announcer = (*Game)(nil)
	_ scripts.Entities   = (*Game)(nil)
)
