package rpevents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/google/go-cmp/cmp"
)

func TestCountdownAnnouncements(t *testing.T) {
	tests := []struct {
		name     string
		startsIn time.Duration
		want     string
	}{
		{"hour window", 57 * time.Minute, "{wEvent: 'Masquerade' will start in 57 minutes and 0 seconds.{n"},
		{"top of hour window", 60 * time.Minute, "{wEvent: 'Masquerade' will start in 60 minutes and 0 seconds.{n"},
		{"half hour window", 28*time.Minute + 30*time.Second, "{wEvent: 'Masquerade' will start in 28 minutes and 30 seconds.{n"},
		{"short window", 9*time.Minute + time.Second, "{wEvent: 'Masquerade' will start in 9 minutes and 1 second.{n"},
		{"short window lower edge", 5 * time.Minute, "{wEvent: 'Masquerade' will start in 5 minutes and 0 seconds.{n"},
		{"between windows", 40 * time.Minute, ""},
		{"just past hour window", 55 * time.Minute, ""},
		{"over an hour", 61 * time.Minute, ""},
		{"just past half hour window", 25 * time.Minute, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addEvent(1, "Masquerade", tt.startsIn)
			env.tick()

			var got string
			if len(env.announcer.all) > 0 {
				got = env.announcer.all[0]
			}
			if got != tt.want {
				t.Fatalf("expected announcement %q, got %q", tt.want, got)
			}
			if len(env.mgr.Snapshot().PendingStart) != 0 {
				t.Fatal("expected no pending start outside the start window")
			}
		})
	}
}

func TestEveryUpcomingEventIsProcessed(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Hunt", 57*time.Minute)
	env.addEvent(2, "Feast", 8*time.Minute)
	env.addEvent(3, "Duel", 2*time.Minute)
	env.tick()

	if len(env.announcer.all) != 2 {
		t.Fatalf("expected 2 announcements, got %v", env.announcer.all)
	}
	if diff := cmp.Diff([]int64{3}, env.mgr.Snapshot().PendingIDs()); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}
	if env.observer.announced != 2 || env.observer.ticks != 1 {
		t.Fatalf("unexpected observer counts %+v", env.observer)
	}
}

func TestUnscheduledEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Someday", 0)
	ev.Date = time.Time{}
	env.tick()
	if len(env.announcer.all) != 0 || len(env.mgr.ActiveIDs()) != 0 {
		t.Fatal("expected an event without a date to be left alone")
	}
}

func TestPendingStartFiresAndStartsEvent(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(7, "Tourney", 3*time.Minute)

	env.tick()
	pending := env.mgr.Snapshot().PendingStart
	if len(pending) != 1 || pending[7] == nil {
		t.Fatalf("expected pending start for event 7, got %v", pending)
	}
	if tok := pending[7].Token(); tok != "event:7" {
		t.Fatalf("expected token event:7, got %q", tok)
	}

	// A second tick inside the window must not arm a second timer.
	env.clock.Advance(time.Minute)
	env.tick()
	if _, waiting := env.sched.Stats(); waiting != 1 {
		t.Fatalf("expected one armed timer, got %d", waiting)
	}

	env.clock.Advance(2 * time.Minute)
	env.sched.RunDue()

	snap := env.mgr.Snapshot()
	if diff := cmp.Diff([]int64{7}, snap.ActiveEvents); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}
	if len(snap.PendingStart) != 0 {
		t.Fatal("expected pending entry cleared once started")
	}
	if snap.IdleEvents[7] != 0 {
		t.Fatalf("expected idle 0, got %d", snap.IdleEvents[7])
	}
	if env.world.logging[10] != 7 {
		t.Fatal("expected Great Hall to be logging event 7")
	}
}

func TestPastEventStartsWithBanner(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()

	want := []string{border, "Ball has started at Great Hall.", border}
	if diff := cmp.Diff(want, env.announcer.all); diff != "" {
		t.Fatalf("announcements mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(border, "{w*****") || !strings.HasSuffix(border, "{n\n") {
		t.Fatalf("unexpected border %q", border)
	}
	if got := env.get(1).Date; !got.Equal(epoch.Add(-time.Minute)) {
		t.Fatalf("late start must keep the scheduled date, got %v", got)
	}
	snap := env.mgr.Snapshot()
	if snap.EventLogs[1] != "event_log_1.txt" || snap.GMLogs[1] != "gm_event_log_1.txt" {
		t.Fatalf("unexpected log names %q %q", snap.EventLogs[1], snap.GMLogs[1])
	}
}

func TestPrivateEventMessagesRoom(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Council", -time.Minute)
	ev.PublicEvent = false
	env.tick()

	if len(env.announcer.all) != 0 {
		t.Fatalf("private event must not be announced game-wide, got %v", env.announcer.all)
	}
	want := []roomMsg{{10, "Council has started at Great Hall."}}
	if diff := cmp.Diff(want, env.announcer.room, cmp.AllowUnexported(roomMsg{})); diff != "" {
		t.Fatalf("room messages mismatch (-want +got):\n%s", diff)
	}
}

func TestEarlyStartMovesDate(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Ball", 2*time.Hour)
	if err := env.mgr.StartEvent(context.Background(), ev, gamedb.Nothing); err != nil {
		t.Fatalf("StartEvent: %v", err)
	}
	if got := env.get(1).Date; !got.Equal(epoch) {
		t.Fatalf("expected date moved to %v, got %v", epoch, got)
	}
}

func TestStartIsIdempotentAndSkipsFinished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := env.addEvent(1, "Ball", -time.Minute)
	env.mgr.StartEvent(ctx, ev, gamedb.Nothing)
	env.mgr.StartEvent(ctx, env.get(1), gamedb.Nothing)
	if diff := cmp.Diff([]int64{1}, env.mgr.ActiveIDs()); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}

	done := env.addEvent(2, "Old", -time.Hour)
	done.Finished = true
	env.mgr.StartEvent(ctx, done, gamedb.Nothing)
	if env.mgr.Snapshot().IsActive(2) {
		t.Fatal("finished event must not restart")
	}
	if env.observer.started != 1 {
		t.Fatalf("expected 1 start, got %d", env.observer.started)
	}
}

func TestEventLocationResolution(t *testing.T) {
	tests := []struct {
		name      string
		location  gamedb.DBRef
		gms       []gamedb.DBRef
		connected []gamedb.DBRef
		hosts     []gamedb.DBRef
		want      gamedb.DBRef
	}{
		{"own location", 11, []gamedb.DBRef{1}, []gamedb.DBRef{1}, []gamedb.DBRef{2}, 11},
		{"connected gm", gamedb.Nothing, []gamedb.DBRef{2, 4}, []gamedb.DBRef{4}, []gamedb.DBRef{1}, 11},
		{"offline gm falls back to host", gamedb.Nothing, []gamedb.DBRef{4}, nil, []gamedb.DBRef{1}, 10},
		{"nothing known", gamedb.Nothing, nil, nil, nil, gamedb.Nothing},
		{"stale location", 99, nil, nil, []gamedb.DBRef{4}, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			for _, p := range tt.connected {
				env.world.connected[p] = true
			}
			ev := &gamedb.RPEvent{ID: 1, Location: tt.location, GMs: tt.gms, Hosts: tt.hosts}
			if got := env.mgr.EventLocation(ev); got != tt.want {
				t.Fatalf("expected #%d, got #%d", tt.want, got)
			}
		})
	}
}

func TestStartWithoutLocation(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Wander", -time.Minute)
	ev.Location = gamedb.Nothing
	ev.Hosts = nil
	env.tick()
	if env.announcer.all[1] != "Wander has started." {
		t.Fatalf("unexpected start line %q", env.announcer.all[1])
	}
}

func TestStartAtExplicitLocationStoresIt(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Picnic", time.Hour)
	if err := env.mgr.StartEvent(context.Background(), ev, 11); err != nil {
		t.Fatalf("StartEvent: %v", err)
	}
	if got := env.get(1).Location; got != 11 {
		t.Fatalf("expected location #11 saved, got #%d", got)
	}
	if env.world.logging[11] != 1 {
		t.Fatal("expected Garden to be logging")
	}
}

func TestIdleEventClosesAfterLimit(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick() // starts the event with idle 0

	for i := 0; i < 12; i++ {
		env.tick()
	}
	if got := env.mgr.Snapshot().IdleEvents[1]; got != 12 {
		t.Fatalf("expected idle 12, got %d", got)
	}
	if env.get(1).Finished {
		t.Fatal("event closed too early")
	}

	env.tick()
	if !env.get(1).Finished {
		t.Fatal("expected event finished after idle limit")
	}
	snap := env.mgr.Snapshot()
	if len(snap.ActiveEvents) != 0 || len(snap.IdleEvents) != 0 {
		t.Fatalf("expected event removed from bookkeeping, got %+v", snap)
	}
	if len(snap.EventLogs) != 0 || len(snap.GMLogs) != 0 {
		t.Fatal("expected log names dropped")
	}
	last := env.announcer.all[len(env.announcer.all)-1]
	if last != "Ball has ended at Great Hall." {
		t.Fatalf("unexpected end line %q", last)
	}
	if _, ok := env.world.logging[10]; ok {
		t.Fatal("expected room logging stopped")
	}
	if diff := cmp.Diff([]string{"ball_1=1"}, env.board.deleted); diff != "" {
		t.Fatalf("board mismatch (-want +got):\n%s", diff)
	}
	if env.observer.finished != 1 {
		t.Fatalf("expected 1 finish, got %d", env.observer.finished)
	}
}

func TestMessagesKeepEventAlive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	for i := 0; i < 20; i++ {
		env.tick()
		if err := env.mgr.AddMsg(ctx, 1, "{wAlaric{n dances.", 2); err != nil {
			t.Fatalf("AddMsg: %v", err)
		}
	}
	if env.get(1).Finished {
		t.Fatal("event with steady chatter was closed")
	}
	if got := env.mgr.Snapshot().IdleEvents[1]; got != 0 {
		t.Fatalf("expected idle reset to 0, got %d", got)
	}
}

func TestDeletedActiveEventIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	delete(env.events.events, 1)

	for range 30 {
		env.tick()
	}
	snap := env.mgr.Snapshot()
	if snap.IsActive(1) {
		t.Fatal("expected deleted event dropped from the active set")
	}
	if _, ok := snap.IdleEvents[1]; ok {
		t.Fatal("expected idle counter removed")
	}
	if _, ok := snap.EventLogs[1]; ok {
		t.Fatal("expected log entry removed")
	}
}

func TestFinishFailureRestartsIdleCount(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	env.mgr.state.IdleEvents[1] = 12
	env.events.getErr = errors.New("db down")

	env.tick()
	snap := env.mgr.Snapshot()
	if !snap.IsActive(1) {
		t.Fatal("a failed lookup must not drop the event")
	}
	// removed from idle, then re-added at 1 by the active sweep
	if snap.IdleEvents[1] != 1 {
		t.Fatalf("expected idle counter restarted at 1, got %d", snap.IdleEvents[1])
	}
}

func TestFinishEventTwicePaysOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := env.addEvent(1, "Gala", -time.Minute)
	ev.CelebrationTier = gamedb.TierAverage
	ev.Participants = []gamedb.DBRef{1}
	env.tick()

	for range 2 {
		if err := env.mgr.FinishEvent(ctx, env.get(1)); err != nil {
			t.Fatalf("FinishEvent: %v", err)
		}
	}
	if env.rewards.karma[1] != 1 {
		t.Fatalf("expected karma 1, got %d", env.rewards.karma[1])
	}
	if env.rewards.prestige[1] != 1000 {
		t.Fatalf("expected prestige 1000, got %d", env.rewards.prestige[1])
	}
	if env.observer.finished != 1 {
		t.Fatalf("expected one finish, got %d", env.observer.finished)
	}
	ended := 0
	for _, line := range env.announcer.all {
		if strings.Contains(line, "has ended") {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("expected one end announcement, got %d", ended)
	}
}

func TestAddMsgFailureKeepsIdleCount(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	env.tick()
	env.events.getErr = errors.New("db down")

	if err := env.mgr.AddMsg(context.Background(), 1, "Lost words.", 2); err == nil {
		t.Fatal("expected AddMsg to fail")
	}
	if got := env.mgr.Snapshot().IdleEvents[1]; got != 1 {
		t.Fatalf("expected idle count kept at 1, got %d", got)
	}
}

func TestAddMsgLogsAndEnrols(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()

	if err := env.mgr.AddMsg(ctx, 1, "\x1b[1mBette\x1b[0m says, \"{rWelcome{n.\"", 2); err != nil {
		t.Fatalf("AddMsg: %v", err)
	}
	if err := env.mgr.AddMsg(ctx, 1, "The band plays.", gamedb.Nothing); err != nil {
		t.Fatalf("AddMsg: %v", err)
	}
	if err := env.mgr.AddGMNote(ctx, 1, "{yOOC: break in 10{n"); err != nil {
		t.Fatalf("AddGMNote: %v", err)
	}

	got, err := env.mgr.ReadLog(1)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if want := "\nBette says, \"Welcome.\"\n\nThe band plays.\n"; got != want {
		t.Fatalf("expected log %q, got %q", want, got)
	}
	gm, _ := env.logs.ReadGMLog(1)
	if gm != "\nOOC: break in 10\n" {
		t.Fatalf("unexpected GM log %q", gm)
	}
	if diff := cmp.Diff([]gamedb.DBRef{2}, env.get(1).Participants); diff != "" {
		t.Fatalf("participants mismatch (-want +got):\n%s", diff)
	}

	// Existing participants are not added twice.
	env.mgr.AddMsg(ctx, 1, "Again.", 2)
	if n := len(env.get(1).Participants); n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}
}

func TestGMNoteDoesNotResetIdle(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	env.tick()
	env.mgr.AddGMNote(context.Background(), 1, "note")
	if got := env.mgr.Snapshot().IdleEvents[1]; got != 1 {
		t.Fatalf("expected idle 1, got %d", got)
	}
}

func TestAddMsgToEventWithoutLog(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ball", time.Hour)
	if err := env.mgr.AddMsg(context.Background(), 1, "hi", 2); err == nil {
		t.Fatal("expected error for an event that never started")
	}
	if err := env.mgr.AddMsg(context.Background(), 99, "hi", 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDoAwards(t *testing.T) {
	tests := []struct {
		name         string
		public       bool
		tier         int
		hosts        []gamedb.DBRef
		participants []gamedb.DBRef
		wantKarma    map[gamedb.DBRef]int
		wantPrestige map[gamedb.DBRef]int
	}{
		{
			name: "refined public event", public: true, tier: gamedb.TierRefined,
			hosts: []gamedb.DBRef{1, 2, 3}, participants: []gamedb.DBRef{1, 2, 5},
			wantKarma:    map[gamedb.DBRef]int{1: 1, 2: 1, 3: 0},
			wantPrestige: map[gamedb.DBRef]int{1: 2500, 2: 2500, 3: 0},
		},
		{
			name: "small event pays karma only", public: true, tier: gamedb.TierSmall,
			hosts: []gamedb.DBRef{1}, participants: []gamedb.DBRef{1},
			wantKarma:    map[gamedb.DBRef]int{1: 1, 2: 0, 3: 0},
			wantPrestige: map[gamedb.DBRef]int{1: 0, 2: 0, 3: 0},
		},
		{
			name: "private event pays nothing", public: false, tier: gamedb.TierLegendary,
			hosts: []gamedb.DBRef{1}, participants: []gamedb.DBRef{1},
			wantKarma:    map[gamedb.DBRef]int{1: 0, 2: 0, 3: 0},
			wantPrestige: map[gamedb.DBRef]int{1: 0, 2: 0, 3: 0},
		},
		{
			name: "host without records is skipped", public: true, tier: gamedb.TierGrand,
			hosts: []gamedb.DBRef{9, 1}, participants: []gamedb.DBRef{1, 9},
			wantKarma:    map[gamedb.DBRef]int{1: 1, 2: 0, 3: 0},
			wantPrestige: map[gamedb.DBRef]int{1: 10000, 2: 0, 3: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ev := &gamedb.RPEvent{ID: 1, Name: "Gala", PublicEvent: tt.public, CelebrationTier: tt.tier,
				Hosts: tt.hosts, Participants: tt.participants}
			env.mgr.DoAwards(context.Background(), ev)
			if diff := cmp.Diff(tt.wantKarma, env.rewards.karma); diff != "" {
				t.Errorf("karma mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPrestige, env.rewards.prestige); diff != "" {
				t.Errorf("prestige mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAssetsMissingStillPaysKarma(t *testing.T) {
	env := newTestEnv(t)
	delete(env.rewards.prestige, 1)
	ev := &gamedb.RPEvent{ID: 1, PublicEvent: true, CelebrationTier: gamedb.TierAverage,
		Hosts: []gamedb.DBRef{1}, Participants: []gamedb.DBRef{1}}
	env.mgr.DoAwards(context.Background(), ev)
	if env.rewards.karma[1] != 1 {
		t.Fatalf("expected karma awarded, got %d", env.rewards.karma[1])
	}
}

func TestCancelPendingEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := env.addEvent(3, "Hunt", 2*time.Minute)
	env.tick()

	if err := env.mgr.CancelEvent(ctx, ev); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	snap := env.mgr.Snapshot()
	if diff := cmp.Diff([]int64{3}, snap.Cancelled); diff != "" {
		t.Fatalf("cancelled mismatch (-want +got):\n%s", diff)
	}
	if len(snap.PendingStart) != 0 {
		t.Fatal("expected pending entry removed")
	}
	if _, ok := env.events.events[3]; ok {
		t.Fatal("expected event deleted")
	}
	if diff := cmp.Diff([]string{"hunt_3=3"}, env.board.deleted); diff != "" {
		t.Fatalf("board mismatch (-want +got):\n%s", diff)
	}

	// The armed timer still fires, sees the cancellation, and clears it.
	env.clock.Advance(5 * time.Minute)
	env.sched.RunDue()
	snap = env.mgr.Snapshot()
	if len(snap.Cancelled) != 0 || len(snap.ActiveEvents) != 0 {
		t.Fatalf("expected cancelled marker consumed and nothing started, got %+v", snap)
	}
}

func TestCancelActiveEvent(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(1, "Ball", -time.Minute)
	env.tick()
	if err := env.mgr.CancelEvent(context.Background(), ev); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if env.mgr.Snapshot().IsActive(1) {
		t.Fatal("expected cancelled event to stop running")
	}
	if _, ok := env.world.logging[10]; ok {
		t.Fatal("expected room logging stopped")
	}
}

func TestPendingStartForDeletedEvent(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Ghost", time.Minute)
	env.tick()
	delete(env.events.events, 1)
	env.clock.Advance(time.Minute)
	env.sched.RunDue()
	if len(env.mgr.Snapshot().PendingStart) != 0 {
		t.Fatal("expected pending entry cleared for missing event")
	}
}

func TestRescheduleEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev := env.addEvent(1, "Moved", 2*time.Minute)
	env.tick()
	ev.Date = epoch.Add(3 * time.Hour)
	env.events.Save(ctx, ev)
	if err := env.mgr.RescheduleEvent(ctx, ev); err != nil {
		t.Fatalf("RescheduleEvent: %v", err)
	}
	if len(env.mgr.Snapshot().PendingStart) != 0 {
		t.Fatal("expected old pending start revoked")
	}
	env.clock.Advance(10 * time.Minute)
	env.sched.RunDue()
	if env.mgr.Snapshot().IsActive(1) {
		t.Fatal("event started at its old time")
	}

	past := env.addEvent(2, "Now", time.Hour)
	past.Date = env.clock.Now().Add(-time.Second)
	if err := env.mgr.RescheduleEvent(ctx, past); err != nil {
		t.Fatalf("RescheduleEvent: %v", err)
	}
	if !env.mgr.Snapshot().IsActive(2) {
		t.Fatal("expected reschedule into the past to start the event")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addEvent(1, "Ball", -time.Minute)
	env.addEvent(2, "Later", 2*time.Minute)
	env.tick()
	env.tick()
	env.mgr.Stop()

	restarted := env.newManager()
	snap := restarted.Snapshot()
	if diff := cmp.Diff([]int64{1}, snap.ActiveEvents); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}
	if snap.IdleEvents[1] != 1 {
		t.Fatalf("expected idle 1, got %d", snap.IdleEvents[1])
	}
	if len(snap.PendingStart) != 0 {
		t.Fatal("pending starts must not survive a restart")
	}

	// Logs reopen lazily after a restart.
	if err := restarted.AddMsg(ctx, 1, "Back again.", gamedb.Nothing); err != nil {
		t.Fatalf("AddMsg after restart: %v", err)
	}
}

func TestCancelledIDsClearedOnRestart(t *testing.T) {
	env := newTestEnv(t)
	ev := env.addEvent(3, "Hunt", 2*time.Minute)
	env.tick()
	if err := env.mgr.CancelEvent(context.Background(), ev); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	env.mgr.Stop()

	restarted := env.newManager()
	if got := restarted.Snapshot().Cancelled; len(got) != 0 {
		t.Fatalf("expected no cancelled ids after restart, got %v", got)
	}
}

func TestStartArmsRepeatingTick(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(1, "Masquerade", 62*time.Minute)
	env.mgr.Start()

	env.clock.Advance(4 * time.Minute)
	env.sched.RunDue()
	if env.observer.ticks != 0 {
		t.Fatal("first tick must wait a full interval")
	}
	env.clock.Advance(time.Minute)
	env.sched.RunDue()
	if len(env.announcer.all) != 1 {
		t.Fatalf("expected announcement at the 57 minute mark, got %v", env.announcer.all)
	}

	cfg := env.mgr.Config()
	cfg.Interval = time.Minute
	env.mgr.SetConfig(cfg)
	env.clock.Advance(time.Minute)
	env.sched.RunDue()
	if env.observer.ticks != 2 {
		t.Fatalf("expected re-armed tick at the new interval, got %d ticks", env.observer.ticks)
	}

	env.mgr.Stop()
	env.clock.Advance(time.Hour)
	env.sched.RunDue()
	if env.observer.ticks != 2 {
		t.Fatal("tick ran after Stop")
	}
}
