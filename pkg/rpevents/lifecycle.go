package rpevents

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

var border = "{w" + strings.Repeat("*", 59) + "{n\n"

// EventLocation resolves where an event takes place: its own location,
// else the location of a connected GM, else that of the main host.
// Returns Nothing when none is known.
func (m *Manager) EventLocation(ev *gamedb.RPEvent) gamedb.DBRef {
	if _, ok := m.deps.World.RoomName(ev.Location); ok {
		return ev.Location
	}
	for _, gm := range ev.GMs {
		if !m.deps.World.IsConnected(gm) {
			continue
		}
		if loc := m.deps.World.LocationOf(gm); loc != gamedb.Nothing {
			return loc
		}
	}
	if host := ev.MainHost(); host != gamedb.Nothing {
		return m.deps.World.LocationOf(host)
	}
	return gamedb.Nothing
}

// StartEvent begins an event. location overrides the resolved location
// when it is not Nothing. Starting an event that is active or finished
// does nothing.
func (m *Manager) StartEvent(ctx context.Context, ev *gamedb.RPEvent, location gamedb.DBRef) error {
	delete(m.state.PendingStart, ev.ID)
	if m.state.IsActive(ev.ID) || ev.Finished {
		return nil
	}

	loc := location
	if loc == gamedb.Nothing {
		loc = m.EventLocation(ev)
	}
	dirty := false
	startStr := fmt.Sprintf("%s has started.", ev.Name)
	if name, ok := m.deps.World.RoomName(loc); ok {
		m.deps.World.StartEventLogging(loc, ev)
		startStr = fmt.Sprintf("%s has started at %s.", ev.Name, name)
		if loc != ev.Location {
			ev.Location = loc
			dirty = true
		}
	}
	if ev.PublicEvent {
		m.deps.Announcer.AnnounceAll(border)
		m.deps.Announcer.AnnounceAll(startStr)
		m.deps.Announcer.AnnounceAll(border)
	} else if _, ok := m.deps.World.RoomName(ev.Location); ok {
		m.deps.Announcer.MsgContents(ev.Location, startStr)
	}

	m.state.ActiveEvents = append(m.state.ActiveEvents, ev.ID)
	m.state.IdleEvents[ev.ID] = 0

	// forced to start early: the event now begins at the actual start
	if now := m.now(); now.Before(ev.Date) {
		ev.Date = now
		dirty = true
	}

	var saveErr error
	if dirty {
		if err := m.deps.Events.Save(ctx, ev); err != nil {
			saveErr = fmt.Errorf("rpevents: save started event %d: %w", ev.ID, err)
		}
	}

	if pair, err := m.deps.Logs.Open(ev.ID); err != nil {
		log.Printf("rpevents: %v", err)
	} else {
		m.open[ev.ID] = pair
		m.state.EventLogs[ev.ID], m.state.GMLogs[ev.ID] = pair.Names()
	}

	m.saveState()
	if m.deps.Observer != nil {
		m.deps.Observer.Started(ev.ID)
	}
	log.Printf("rpevents: started event %d (%s)", ev.ID, ev.Name)
	return saveErr
}

// FinishEvent ends an event: room logging stops, the end is announced,
// the event is marked finished, awards are paid, logs are closed and the
// board post removed. An event already finished is only dropped from the
// running set; nothing is announced or paid twice.
func (m *Manager) FinishEvent(ctx context.Context, ev *gamedb.RPEvent) error {
	if ev.Finished {
		if m.state.IsActive(ev.ID) {
			m.removeActive(ev.ID)
			m.closeLogs(ev.ID)
			m.saveState()
		}
		return nil
	}
	loc := m.EventLocation(ev)
	endStr := fmt.Sprintf("%s has ended.", ev.Name)
	if name, ok := m.deps.World.RoomName(loc); ok {
		m.deps.World.StopEventLogging(loc)
		endStr = fmt.Sprintf("%s has ended at %s.", ev.Name, name)
	}
	m.deps.Announcer.AnnounceAll(endStr)

	ev.Finished = true
	if err := m.deps.Events.Save(ctx, ev); err != nil {
		return fmt.Errorf("rpevents: save finished event %d: %w", ev.ID, err)
	}
	m.removeActive(ev.ID)
	m.DoAwards(ctx, ev)
	m.closeLogs(ev.ID)
	m.deletePost(ctx, ev)

	m.saveState()
	if m.deps.Observer != nil {
		m.deps.Observer.Finished(ev.ID)
	}
	log.Printf("rpevents: finished event %d (%s)", ev.ID, ev.Name)
	return nil
}

func (m *Manager) closeLogs(id int64) {
	if p, ok := m.open[id]; ok {
		if err := p.Close(); err != nil {
			log.Printf("rpevents: %v", err)
		}
		delete(m.open, id)
	}
	delete(m.state.EventLogs, id)
	delete(m.state.GMLogs, id)
}

func (m *Manager) deletePost(ctx context.Context, ev *gamedb.RPEvent) {
	if m.deps.Board == nil {
		return
	}
	if err := m.deps.Board.DeletePost(ctx, ev.TagKey(), ev.TagData()); err != nil {
		log.Printf("rpevents: deleting post for event %d: %v", ev.ID, err)
	}
}

// CancelEvent deletes an event. A pending start is marked cancelled so
// its callback does nothing when it fires. A running event is stopped
// without awards.
func (m *Manager) CancelEvent(ctx context.Context, ev *gamedb.RPEvent) error {
	if _, ok := m.state.PendingStart[ev.ID]; ok {
		m.state.Cancelled = append(m.state.Cancelled, ev.ID)
		delete(m.state.PendingStart, ev.ID)
	}
	if m.state.IsActive(ev.ID) {
		if loc := m.EventLocation(ev); loc != gamedb.Nothing {
			m.deps.World.StopEventLogging(loc)
		}
		m.removeActive(ev.ID)
		m.closeLogs(ev.ID)
	}
	m.deletePost(ctx, ev)
	err := m.deps.Events.Delete(ctx, ev.ID)
	m.saveState()
	if err != nil {
		return fmt.Errorf("rpevents: delete event %d: %w", ev.ID, err)
	}
	log.Printf("rpevents: cancelled event %d (%s)", ev.ID, ev.Name)
	return nil
}

// RescheduleEvent is called after an event's date was changed. A date in
// the past starts the event now. A pending start armed for the old date
// is revoked so the next tick re-arms it for the new one.
func (m *Manager) RescheduleEvent(ctx context.Context, ev *gamedb.RPEvent) error {
	if h, ok := m.state.PendingStart[ev.ID]; ok {
		h.Cancel()
		delete(m.state.PendingStart, ev.ID)
	}
	if !ev.Date.IsZero() && ev.Date.Before(m.now()) {
		return m.StartEvent(ctx, ev, gamedb.Nothing)
	}
	return nil
}

// DoAwards pays the hosts of a public event who also took part: karma
// for each, plus an even share of the event's prestige when it has a
// celebration tier. Hosts without an account or assets record are
// skipped.
func (m *Manager) DoAwards(ctx context.Context, ev *gamedb.RPEvent) {
	if !ev.PublicEvent || m.deps.Rewards == nil {
		return
	}
	hosts := ev.QualifiedHosts()
	for _, host := range hosts {
		if err := m.deps.Rewards.AddKarma(ctx, host, m.cfg.KarmaAward); err != nil {
			log.Printf("rpevents: karma for host #%d of event %d: %v", host, ev.ID, err)
		}
		if ev.CelebrationTier == gamedb.TierSmall {
			continue
		}
		if err := m.deps.Rewards.AdjustPrestige(ctx, host, ev.Prestige()/len(hosts)); err != nil {
			log.Printf("rpevents: prestige for host #%d of event %d: %v", host, ev.ID, err)
		}
	}
}

// ActiveIDs returns the running events in start order.
func (m *Manager) ActiveIDs() []int64 {
	return slices.Clone(m.state.ActiveEvents)
}
