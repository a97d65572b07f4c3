package rpevents

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/crystal-mush/rpevents/pkg/eventlog"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/timer"
)

var epoch = time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC)

type fakeEvents struct {
	events map[int64]*gamedb.RPEvent
	saves  int
	getErr error
}

func (f *fakeEvents) Get(_ context.Context, id int64) (*gamedb.RPEvent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ev, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	cp := *ev
	cp.Participants = slices.Clone(ev.Participants)
	return &cp, nil
}

func (f *fakeEvents) Upcoming(context.Context) ([]*gamedb.RPEvent, error) {
	var out []*gamedb.RPEvent
	for _, id := range sortedKeys(f.events) {
		if ev := f.events[id]; !ev.Finished {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEvents) Save(_ context.Context, ev *gamedb.RPEvent) error {
	if _, ok := f.events[ev.ID]; !ok {
		return ErrNotFound
	}
	cp := *ev
	f.events[ev.ID] = &cp
	f.saves++
	return nil
}

func (f *fakeEvents) Delete(_ context.Context, id int64) error {
	if _, ok := f.events[id]; !ok {
		return ErrNotFound
	}
	delete(f.events, id)
	return nil
}

func (f *fakeEvents) AddParticipant(_ context.Context, id int64, persona gamedb.DBRef) error {
	ev, ok := f.events[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(ev.Participants, persona) {
		ev.Participants = append(ev.Participants, persona)
	}
	return nil
}

func sortedKeys(m map[int64]*gamedb.RPEvent) []int64 {
	var ids []int64
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type fakeRewards struct {
	karma    map[gamedb.DBRef]int
	prestige map[gamedb.DBRef]int
}

func (f *fakeRewards) AddKarma(_ context.Context, p gamedb.DBRef, n int) error {
	if _, ok := f.karma[p]; !ok {
		return ErrNotFound
	}
	f.karma[p] += n
	return nil
}

func (f *fakeRewards) AdjustPrestige(_ context.Context, p gamedb.DBRef, n int) error {
	if _, ok := f.prestige[p]; !ok {
		return ErrNotFound
	}
	f.prestige[p] += n
	return nil
}

type fakeBoard struct {
	deleted []string
}

func (f *fakeBoard) DeletePost(_ context.Context, key, data string) error {
	f.deleted = append(f.deleted, key+"="+data)
	return nil
}

type fakeWorld struct {
	rooms     map[gamedb.DBRef]string
	locations map[gamedb.DBRef]gamedb.DBRef
	connected map[gamedb.DBRef]bool
	logging   map[gamedb.DBRef]int64
}

func (w *fakeWorld) RoomName(room gamedb.DBRef) (string, bool) {
	name, ok := w.rooms[room]
	return name, ok
}

func (w *fakeWorld) StartEventLogging(room gamedb.DBRef, ev *gamedb.RPEvent) {
	w.logging[room] = ev.ID
}

func (w *fakeWorld) StopEventLogging(room gamedb.DBRef) {
	delete(w.logging, room)
}

func (w *fakeWorld) LocationOf(p gamedb.DBRef) gamedb.DBRef {
	if loc, ok := w.locations[p]; ok {
		return loc
	}
	return gamedb.Nothing
}

func (w *fakeWorld) IsConnected(p gamedb.DBRef) bool { return w.connected[p] }

type roomMsg struct {
	room gamedb.DBRef
	msg  string
}

type fakeAnnouncer struct {
	all  []string
	room []roomMsg
}

func (a *fakeAnnouncer) AnnounceAll(msg string) { a.all = append(a.all, msg) }

func (a *fakeAnnouncer) MsgContents(room gamedb.DBRef, msg string) {
	a.room = append(a.room, roomMsg{room, msg})
}

type memState struct {
	saved *gamedb.SchedulerState
}

func (s *memState) LoadSchedulerState() (*gamedb.SchedulerState, error) {
	if s.saved == nil {
		return &gamedb.SchedulerState{}, nil
	}
	return s.saved, nil
}

func (s *memState) SaveSchedulerState(st *gamedb.SchedulerState) error {
	s.saved = st
	return nil
}

type countingObserver struct {
	announced, started, finished, ticks int
}

func (o *countingObserver) Announced(int64)      { o.announced++ }
func (o *countingObserver) Started(int64)        { o.started++ }
func (o *countingObserver) Finished(int64)       { o.finished++ }
func (o *countingObserver) Ticked(time.Duration) { o.ticks++ }

// testEnv wires a Manager to in-memory fakes. Room #10 is "Great Hall",
// personas #1 to #3 stand in it, #4 stands in "Garden" (#11).
type testEnv struct {
	t         *testing.T
	clock     *timer.ManualClock
	sched     *timer.Scheduler
	events    *fakeEvents
	rewards   *fakeRewards
	board     *fakeBoard
	world     *fakeWorld
	announcer *fakeAnnouncer
	state     *memState
	observer  *countingObserver
	logs      *eventlog.Dir
	mgr       *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := timer.NewManualClock(epoch)
	env := &testEnv{
		t:      t,
		clock:  clk,
		sched:  timer.New(clk),
		events: &fakeEvents{events: make(map[int64]*gamedb.RPEvent)},
		rewards: &fakeRewards{
			karma:    map[gamedb.DBRef]int{1: 0, 2: 0, 3: 0},
			prestige: map[gamedb.DBRef]int{1: 0, 2: 0, 3: 0},
		},
		board: &fakeBoard{},
		world: &fakeWorld{
			rooms:     map[gamedb.DBRef]string{10: "Great Hall", 11: "Garden"},
			locations: map[gamedb.DBRef]gamedb.DBRef{1: 10, 2: 10, 3: 10, 4: 11},
			connected: map[gamedb.DBRef]bool{},
			logging:   map[gamedb.DBRef]int64{},
		},
		announcer: &fakeAnnouncer{},
		state:     &memState{},
		observer:  &countingObserver{},
		logs:      eventlog.NewDir(t.TempDir()),
	}
	env.mgr = env.newManager()
	return env
}

func (e *testEnv) newManager() *Manager {
	e.t.Helper()
	m, err := NewManager(DefaultConfig(), e.sched, Deps{
		Events:    e.events,
		Rewards:   e.rewards,
		Board:     e.board,
		World:     e.world,
		Announcer: e.announcer,
		State:     e.state,
		Logs:      e.logs,
		Observer:  e.observer,
	})
	if err != nil {
		e.t.Fatalf("NewManager: %v", err)
	}
	return m
}

// addEvent stores a public event hosted by #1 starting in startsIn.
func (e *testEnv) addEvent(id int64, name string, startsIn time.Duration) *gamedb.RPEvent {
	ev := &gamedb.RPEvent{
		ID:          id,
		Name:        name,
		Date:        e.clock.Now().Add(startsIn),
		Location:    10,
		PublicEvent: true,
		Hosts:       []gamedb.DBRef{1},
	}
	e.events.events[id] = ev
	return ev
}

func (e *testEnv) get(id int64) *gamedb.RPEvent {
	e.t.Helper()
	ev, err := e.events.Get(context.Background(), id)
	if err != nil {
		e.t.Fatalf("get event %d: %v", id, err)
	}
	return ev
}

func (e *testEnv) tick() {
	e.mgr.Tick(context.Background())
}
