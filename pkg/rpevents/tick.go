package rpevents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// Countdown windows. An event is announced when a tick lands inside one
// of them; a window skipped between ticks is not announced.
const (
	pendingWindow = 5 * time.Minute
	shortWindow   = 10 * time.Minute
)

var announceWindows = []struct{ lo, hi time.Duration }{
	{25 * time.Minute, 30 * time.Minute},
	{55 * time.Minute, 60 * time.Minute},
}

// Tick runs one scheduler pass: close idle events, age active ones, then
// announce, arm or start upcoming events. Per-event failures are logged
// and skipped.
func (m *Manager) Tick(ctx context.Context) {
	began := time.Now()
	defer func() {
		m.saveState()
		if m.deps.Observer != nil {
			m.deps.Observer.Ticked(time.Since(began))
		}
	}()

	for _, id := range m.sortedIdle() {
		if m.state.IdleEvents[id] < m.cfg.IdleLimit {
			continue
		}
		ev, err := m.deps.Events.Get(ctx, id)
		if err == nil {
			err = m.FinishEvent(ctx, ev)
		}
		switch {
		case errors.Is(err, ErrNotFound):
			log.Printf("rpevents: dropping active event %d: record is gone", id)
			m.removeActive(id)
			m.closeLogs(id)
		case err != nil:
			log.Printf("rpevents: closing idle event %d: %v", id, err)
			delete(m.state.IdleEvents, id)
		}
	}

	for _, id := range m.state.ActiveEvents {
		m.state.IdleEvents[id]++
	}

	upcoming, err := m.deps.Events.Upcoming(ctx)
	if err != nil {
		log.Printf("rpevents: loading upcoming events: %v", err)
		return
	}
	now := m.now()
	for _, ev := range upcoming {
		if m.state.IsActive(ev.ID) || ev.Date.IsZero() {
			continue
		}
		diff := ev.Date.Sub(now)
		switch {
		case diff < 0:
			if err := m.StartEvent(ctx, ev, gamedb.Nothing); err != nil {
				log.Printf("rpevents: starting event %d: %v", ev.ID, err)
			}
		case diff < pendingWindow:
			m.armStart(ev.ID, diff)
		case diff < shortWindow || inAnnounceWindow(diff):
			m.announceUpcoming(ev, diff)
		}
	}
}

func inAnnounceWindow(diff time.Duration) bool {
	for _, w := range announceWindows {
		if diff > w.lo && diff <= w.hi {
			return true
		}
	}
	return false
}

// armStart schedules a deferred start unless one is already pending.
func (m *Manager) armStart(id int64, delay time.Duration) {
	if _, ok := m.state.PendingStart[id]; ok {
		return
	}
	m.state.PendingStart[id] = m.sched.After(delay, fmt.Sprintf("event:%d", id), func() {
		m.delayedStart(context.Background(), id)
	})
}

func (m *Manager) announceUpcoming(ev *gamedb.RPEvent, diff time.Duration) {
	mins := int(diff / time.Minute)
	secs := int((diff % time.Minute) / time.Second)
	m.deps.Announcer.AnnounceAll(fmt.Sprintf("{wEvent: '%s' will start in %s and %s.{n",
		ev.Name, m.plural.Pluralize("minute", mins, true), m.plural.Pluralize("second", secs, true)))
	if m.deps.Observer != nil {
		m.deps.Observer.Announced(ev.ID)
	}
}

// delayedStart is the callback of a pending start.
func (m *Manager) delayedStart(ctx context.Context, id int64) {
	if i := slices.Index(m.state.Cancelled, id); i >= 0 {
		m.state.Cancelled = slices.Delete(m.state.Cancelled, i, i+1)
		m.saveState()
		return
	}
	ev, err := m.deps.Events.Get(ctx, id)
	if err != nil {
		delete(m.state.PendingStart, id)
		if errors.Is(err, ErrNotFound) {
			log.Printf("rpevents: pending event %d no longer exists", id)
		} else {
			log.Printf("rpevents: loading pending event %d: %v", id, err)
		}
		return
	}
	if err := m.StartEvent(ctx, ev, gamedb.Nothing); err != nil {
		log.Printf("rpevents: starting event %d: %v", id, err)
	}
}
