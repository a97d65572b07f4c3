package rpevents

import (
	"context"
	"fmt"

	"github.com/crystal-mush/rpevents/pkg/eventlog"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// pair returns the open logs of an event, reopening them after a restart.
func (m *Manager) pair(id int64) (*eventlog.Pair, error) {
	if p, ok := m.open[id]; ok {
		return p, nil
	}
	if _, ok := m.state.EventLogs[id]; !ok {
		return nil, fmt.Errorf("rpevents: event %d has no open log", id)
	}
	p, err := m.deps.Logs.Open(id)
	if err != nil {
		return nil, err
	}
	m.open[id] = p
	return p, nil
}

// AddMsg records a message spoken during an event and resets its idle
// counter. A sender persona not yet among the participants is added.
// Pass Nothing for messages with no persona behind them.
func (m *Manager) AddMsg(ctx context.Context, id int64, msg string, sender gamedb.DBRef) error {
	msg = eventlog.StripANSI(msg)
	ev, err := m.deps.Events.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("rpevents: add message to event %d: %w", id, err)
	}
	p, err := m.pair(id)
	if err != nil {
		return err
	}
	if err := p.Append(msg); err != nil {
		return err
	}
	if m.state.IsActive(id) {
		m.state.IdleEvents[id] = 0
	}
	if sender != gamedb.Nothing && !ev.IsParticipant(sender) {
		if err := m.deps.Events.AddParticipant(ctx, id, sender); err != nil {
			return fmt.Errorf("rpevents: enrol #%d in event %d: %w", sender, id, err)
		}
	}
	return nil
}

// AddGMNote records a GM-only or out-of-character note. It does not count
// as activity.
func (m *Manager) AddGMNote(ctx context.Context, id int64, msg string) error {
	p, err := m.pair(id)
	if err != nil {
		return err
	}
	return p.AppendGM(eventlog.StripANSI(msg))
}

// ReadLog returns an event's player log.
func (m *Manager) ReadLog(id int64) (string, error) {
	return m.deps.Logs.ReadLog(id)
}
