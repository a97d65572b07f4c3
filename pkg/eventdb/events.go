package eventdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/rpevents"
)

// Event role names stored in event_roles.
const (
	roleHost        = "host"
	roleParticipant = "participant"
	roleGM          = "gm"
)

const eventColumns = `id, name, description, date, location, finished, public_event, gm_event, celebration_tier`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*gamedb.RPEvent, error) {
	var (
		ev                   gamedb.RPEvent
		date                 int64
		location             int64
		finished, public, gm int
	)
	if err := r.Scan(&ev.ID, &ev.Name, &ev.Desc, &date, &location, &finished, &public, &gm, &ev.CelebrationTier); err != nil {
		return nil, err
	}
	ev.Date = timeOrZero(date)
	ev.Location = gamedb.DBRef(location)
	ev.Finished = finished != 0
	ev.PublicEvent = public != 0
	ev.GMEvent = gm != 0
	return &ev, nil
}

// Create inserts a new event and assigns its ID.
func (s *Store) Create(ctx context.Context, ev *gamedb.RPEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (name, description, date, location, finished, public_event, gm_event, celebration_tier)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Name, ev.Desc, unixOrZero(ev.Date), int64(ev.Location), boolToInt(ev.Finished),
		boolToInt(ev.PublicEvent), boolToInt(ev.GMEvent), ev.CelebrationTier)
	if err != nil {
		return fmt.Errorf("eventdb: insert event %q: %w", ev.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("eventdb: insert event %q: %w", ev.Name, err)
	}
	if err := writeRoles(ctx, tx, id, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventdb: commit event %d: %w", id, err)
	}
	ev.ID = id
	return nil
}

// Save updates an existing event and replaces its host, participant and
// GM lists.
func (s *Store) Save(ctx context.Context, ev *gamedb.RPEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE events SET name = ?, description = ?, date = ?, location = ?, finished = ?,
		 public_event = ?, gm_event = ?, celebration_tier = ? WHERE id = ?`,
		ev.Name, ev.Desc, unixOrZero(ev.Date), int64(ev.Location), boolToInt(ev.Finished),
		boolToInt(ev.PublicEvent), boolToInt(ev.GMEvent), ev.CelebrationTier, ev.ID)
	if err != nil {
		return fmt.Errorf("eventdb: update event %d: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("eventdb: update event %d: %w", ev.ID, rpevents.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_roles WHERE event_id = ?`, ev.ID); err != nil {
		return fmt.Errorf("eventdb: clear roles for event %d: %w", ev.ID, err)
	}
	if err := writeRoles(ctx, tx, ev.ID, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventdb: commit event %d: %w", ev.ID, err)
	}
	return nil
}

func writeRoles(ctx context.Context, tx *sql.Tx, id int64, ev *gamedb.RPEvent) error {
	for _, set := range []struct {
		role string
		refs []gamedb.DBRef
	}{
		{roleHost, ev.Hosts},
		{roleParticipant, ev.Participants},
		{roleGM, ev.GMs},
	} {
		for pos, ref := range set.refs {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO event_roles (event_id, persona, role, position) VALUES (?, ?, ?, ?)`,
				id, int64(ref), set.role, pos)
			if err != nil {
				return fmt.Errorf("eventdb: write %s #%d for event %d: %w", set.role, ref, id, err)
			}
		}
	}
	return nil
}

// loadRoles fills the host, participant and GM lists of the given events.
func (s *Store) loadRoles(ctx context.Context, evs ...*gamedb.RPEvent) error {
	for _, ev := range evs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT persona, role FROM event_roles WHERE event_id = ? ORDER BY role, position`, ev.ID)
		if err != nil {
			return fmt.Errorf("eventdb: load roles for event %d: %w", ev.ID, err)
		}
		ev.Hosts, ev.Participants, ev.GMs = nil, nil, nil
		for rows.Next() {
			var persona int64
			var role string
			if err := rows.Scan(&persona, &role); err != nil {
				rows.Close()
				return fmt.Errorf("eventdb: scan role: %w", err)
			}
			ref := gamedb.DBRef(persona)
			switch role {
			case roleHost:
				ev.Hosts = append(ev.Hosts, ref)
			case roleParticipant:
				ev.Participants = append(ev.Participants, ref)
			case roleGM:
				ev.GMs = append(ev.GMs, ref)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("eventdb: load roles for event %d: %w", ev.ID, err)
		}
	}
	return nil
}

// Get loads one event. A missing row yields an error wrapping
// rpevents.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*gamedb.RPEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("eventdb: event %d: %w", id, rpevents.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("eventdb: get event %d: %w", id, err)
	}
	if err := s.loadRoles(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Upcoming returns every unfinished event, earliest first.
func (s *Store) Upcoming(ctx context.Context) ([]*gamedb.RPEvent, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE finished = 0 ORDER BY date, id`)
}

// List returns events, newest first, optionally including finished ones.
func (s *Store) List(ctx context.Context, includeFinished bool) ([]*gamedb.RPEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events`
	if !includeFinished {
		q += ` WHERE finished = 0`
	}
	return s.query(ctx, q+` ORDER BY date DESC, id DESC`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*gamedb.RPEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventdb: list events: %w", err)
	}
	var out []*gamedb.RPEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("eventdb: scan event: %w", err)
		}
		out = append(out, ev)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("eventdb: list events: %w", err)
	}
	if err := s.loadRoles(ctx, out...); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an event and its role rows.
func (s *Store) Delete(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("eventdb: delete event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("eventdb: delete event %d: %w", id, rpevents.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_roles WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("eventdb: delete roles for event %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventdb: commit delete %d: %w", id, err)
	}
	return nil
}

// AddParticipant appends a persona to an event's participants. Adding an
// existing participant is a no-op.
func (s *Store) AddParticipant(ctx context.Context, id int64, persona gamedb.DBRef) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO event_roles (event_id, persona, role, position)
		 SELECT ?, ?, ?, COALESCE(MAX(position), -1) + 1 FROM event_roles WHERE event_id = ? AND role = ?`,
		id, int64(persona), roleParticipant, id, roleParticipant)
	if err != nil {
		return fmt.Errorf("eventdb: add participant #%d to event %d: %w", persona, id, err)
	}
	return nil
}
