package events

import (
	"slices"
	"sync"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Rooms tells the bus who is standing in a room.
type Rooms interface {
	Occupants(room gamedb.DBRef) []*gamedb.Character
}

// Bus routes events to the sessions of a character. Subscriber lists are
// copy-on-write, so emitting never holds the lock while delivering. Taps
// see every event once, after its recipients.
type Bus struct {
	rooms Rooms

	mu   sync.RWMutex
	subs map[gamedb.DBRef][]Subscriber
	taps []Subscriber
}

// NewBus creates a bus that resolves room occupants through rooms.
func NewBus(rooms Rooms) *Bus {
	return &Bus{
		rooms: rooms,
		subs:  make(map[gamedb.DBRef][]Subscriber),
	}
}

// Subscribe adds a session for a character.
func (b *Bus) Subscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[player] = append(slices.Clip(b.subs[player]), sub)
}

// Unsubscribe removes a session and drops any closed ones it finds on the
// way.
func (b *Bus) Unsubscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(b.subs[player]), func(s Subscriber) bool {
		return s == sub || s.Closed()
	})
	if len(kept) == 0 {
		delete(b.subs, player)
		return
	}
	b.subs[player] = kept
}

// Tap registers an observer of all traffic, such as a metrics counter.
func (b *Bus) Tap(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(slices.Clip(b.taps), sub)
}

// Sessions returns how many open sessions a character has.
func (b *Bus) Sessions(player gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs[player] {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (b *Bus) lookup(player gamedb.DBRef) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs[player]
}

func (b *Bus) tapped() []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.taps
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// EmitToPlayer sends an event to every session of one character.
func (b *Bus) EmitToPlayer(player gamedb.DBRef, ev Event) {
	ev.Player = player
	deliver(b.lookup(player), ev)
	deliver(b.tapped(), ev)
}

// EmitAll sends an event to every connected character. Taps see it once
// with Player set to Nothing.
func (b *Bus) EmitAll(ev Event) {
	b.mu.RLock()
	targets := make(map[gamedb.DBRef][]Subscriber, len(b.subs))
	for p, subs := range b.subs {
		targets[p] = subs
	}
	b.mu.RUnlock()

	for p, subs := range targets {
		pev := ev
		pev.Player = p
		deliver(subs, pev)
	}
	ev.Player = gamedb.Nothing
	deliver(b.tapped(), ev)
}

// EmitToRoom sends an event to each connected occupant of a room. Rooms
// with nobody in them still reach the taps.
func (b *Bus) EmitToRoom(room gamedb.DBRef, ev Event) {
	ev.Room = room
	for _, c := range b.rooms.Occupants(room) {
		pev := ev
		pev.Player = c.Ref
		deliver(b.lookup(c.Ref), pev)
	}
	ev.Player = gamedb.Nothing
	deliver(b.tapped(), ev)
}
