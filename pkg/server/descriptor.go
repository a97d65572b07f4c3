package server

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/rpevents/pkg/events"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// TransportType identifies the kind of transport a Descriptor uses.
type TransportType int

const (
	TransportWebSocket TransportType = iota // WebSocket (JSON events)
	TransportCapture                        // output buffered in memory
)

func (t TransportType) String() string {
	switch t {
	case TransportWebSocket:
		return "websocket"
	case TransportCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Descriptor is one client session. It receives bus events for the
// character it is logged in as.
type Descriptor struct {
	ID        int
	Player    gamedb.DBRef // Nothing until Login
	Addr      string
	Transport TransportType
	Since     time.Time

	// SendFunc writes plain text to the client.
	SendFunc func(msg string)
	// ReceiveFunc overrides the default event delivery. If nil, the
	// event text goes through SendFunc.
	ReceiveFunc func(ev events.Event)

	lines  atomic.Int64 // room messages sent by this session
	idle   atomic.Int64 // unix nanos of last input
	closed atomic.Bool
}

// NewDescriptor creates a session that is not yet logged in.
func NewDescriptor(id int, addr string, transport TransportType) *Descriptor {
	d := &Descriptor{
		ID:        id,
		Player:    gamedb.Nothing,
		Addr:      addr,
		Transport: transport,
		Since:     time.Now(),
	}
	d.idle.Store(d.Since.UnixNano())
	return d
}

// LoggedIn reports whether the session speaks for a character.
func (d *Descriptor) LoggedIn() bool { return d.Player != gamedb.Nothing }

// Touch records input from the client.
func (d *Descriptor) Touch() { d.idle.Store(time.Now().UnixNano()) }

// Spoke counts a room message sent by the session.
func (d *Descriptor) Spoke() { d.lines.Add(1) }

// Lines is the number of room messages the session has sent.
func (d *Descriptor) Lines() int64 { return d.lines.Load() }

// IdleFor is the time since the client last sent anything.
func (d *Descriptor) IdleFor() time.Duration {
	return time.Since(time.Unix(0, d.idle.Load()))
}

// Send writes a string to the client.
func (d *Descriptor) Send(msg string) {
	if d.closed.Load() || d.SendFunc == nil {
		return
	}
	d.SendFunc(msg)
}

// Close marks the session closed. Further sends are dropped.
func (d *Descriptor) Close() { d.closed.Store(true) }

// Receive implements events.Subscriber.
func (d *Descriptor) Receive(ev events.Event) {
	if d.closed.Load() {
		return
	}
	if d.ReceiveFunc != nil {
		d.ReceiveFunc(ev)
		return
	}
	if ev.Text != "" {
		d.Send(ev.Text)
	}
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool { return d.closed.Load() }

var _ events.Subscriber = (*Descriptor)(nil)

// ConnManager tracks open sessions and keeps the event bus subscriptions
// in step with logins.
type ConnManager struct {
	bus    *events.Bus
	nextID atomic.Int64

	mu    sync.RWMutex
	conns map[int]*Descriptor
}

// NewConnManager creates a manager that subscribes logged-in sessions to
// bus.
func NewConnManager(bus *events.Bus) *ConnManager {
	return &ConnManager{
		bus:   bus,
		conns: make(map[int]*Descriptor),
	}
}

// NextID returns a fresh descriptor ID.
func (cm *ConnManager) NextID() int { return int(cm.nextID.Add(1)) }

// Add registers a new descriptor.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[d.ID] = d
}

// Login binds a session to a character, registering it if Add was not
// called, and starts its event delivery.
func (cm *ConnManager) Login(d *Descriptor, player gamedb.DBRef) {
	cm.mu.Lock()
	d.Player = player
	cm.conns[d.ID] = d
	cm.mu.Unlock()
	cm.bus.Subscribe(player, d)
}

// Remove forgets a descriptor and stops its event delivery.
func (cm *ConnManager) Remove(d *Descriptor) {
	cm.mu.Lock()
	delete(cm.conns, d.ID)
	player := d.Player
	cm.mu.Unlock()
	if player != gamedb.Nothing {
		cm.bus.Unsubscribe(player, d)
	}
}

// IsConnected reports whether a character has an open session.
func (cm *ConnManager) IsConnected(player gamedb.DBRef) bool {
	return cm.bus.Sessions(player) > 0
}

// Count returns the number of open sessions.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// Sessions returns the open sessions ordered by ID.
func (cm *ConnManager) Sessions() []*Descriptor {
	cm.mu.RLock()
	ids := slices.Sorted(maps.Keys(cm.conns))
	out := make([]*Descriptor, len(ids))
	for i, id := range ids {
		out[i] = cm.conns[id]
	}
	cm.mu.RUnlock()
	return out
}
