package eventdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/rpevents"
)

// EnsureAccount creates an account record for a persona if none exists.
func (s *Store) EnsureAccount(ctx context.Context, persona gamedb.DBRef) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO accounts (persona) VALUES (?)`, int64(persona))
	if err != nil {
		return fmt.Errorf("eventdb: ensure account #%d: %w", persona, err)
	}
	return nil
}

// EnsureAssets creates an assets record for a persona if none exists.
func (s *Store) EnsureAssets(ctx context.Context, persona gamedb.DBRef) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO assets (persona) VALUES (?)`, int64(persona))
	if err != nil {
		return fmt.Errorf("eventdb: ensure assets #%d: %w", persona, err)
	}
	return nil
}

// AddKarma adds n karma to the persona's account.
func (s *Store) AddKarma(ctx context.Context, persona gamedb.DBRef, n int) error {
	return s.bump(ctx, `UPDATE accounts SET karma = karma + ? WHERE persona = ?`, "account", persona, n)
}

// AdjustPrestige adds amount (possibly negative) to the persona's prestige.
func (s *Store) AdjustPrestige(ctx context.Context, persona gamedb.DBRef, amount int) error {
	return s.bump(ctx, `UPDATE assets SET prestige = prestige + ? WHERE persona = ?`, "assets", persona, amount)
}

func (s *Store) bump(ctx context.Context, q, what string, persona gamedb.DBRef, n int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, q, n, int64(persona))
	if err != nil {
		return fmt.Errorf("eventdb: update %s #%d: %w", what, persona, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("eventdb: %s #%d: %w", what, persona, rpevents.ErrNotFound)
	}
	return nil
}

// Account loads a persona's account record.
func (s *Store) Account(ctx context.Context, persona gamedb.DBRef) (*gamedb.Account, error) {
	a := &gamedb.Account{Persona: persona}
	err := s.db.QueryRowContext(ctx, `SELECT karma FROM accounts WHERE persona = ?`, int64(persona)).Scan(&a.Karma)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("eventdb: account #%d: %w", persona, rpevents.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("eventdb: account #%d: %w", persona, err)
	}
	return a, nil
}

// Assets loads a persona's assets record.
func (s *Store) Assets(ctx context.Context, persona gamedb.DBRef) (*gamedb.Assets, error) {
	a := &gamedb.Assets{Persona: persona}
	err := s.db.QueryRowContext(ctx, `SELECT prestige FROM assets WHERE persona = ?`, int64(persona)).Scan(&a.Prestige)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("eventdb: assets #%d: %w", persona, rpevents.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("eventdb: assets #%d: %w", persona, err)
	}
	return a, nil
}
