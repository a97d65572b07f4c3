package eventdb

import (
	"context"
	"fmt"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// EventBoard is the board that event announcements are posted to.
const EventBoard = "events"

// CreatePost stores a board post and assigns its ID.
func (s *Store) CreatePost(ctx context.Context, p *gamedb.BoardPost) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO board_posts (board, poster, subject, body, tag_key, tag_data, posted) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Board, int64(p.Poster), p.Subject, p.Body, p.TagKey, p.TagData, unixOrZero(p.Posted))
	if err != nil {
		return fmt.Errorf("eventdb: create post %q: %w", p.Subject, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("eventdb: create post %q: %w", p.Subject, err)
	}
	p.ID = id
	return nil
}

// Posts lists the posts on a board, oldest first.
func (s *Store) Posts(ctx context.Context, board string) ([]*gamedb.BoardPost, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board, poster, subject, body, tag_key, tag_data, posted FROM board_posts WHERE board = ? ORDER BY id`, board)
	if err != nil {
		return nil, fmt.Errorf("eventdb: list posts on %q: %w", board, err)
	}
	defer rows.Close()
	var out []*gamedb.BoardPost
	for rows.Next() {
		var (
			p      gamedb.BoardPost
			poster int64
			posted int64
		)
		if err := rows.Scan(&p.ID, &p.Board, &poster, &p.Subject, &p.Body, &p.TagKey, &p.TagData, &posted); err != nil {
			return nil, fmt.Errorf("eventdb: scan post: %w", err)
		}
		p.Poster = gamedb.DBRef(poster)
		p.Posted = timeOrZero(posted)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeletePost removes every post tagged with the given key and data. No
// matching post is not an error.
func (s *Store) DeletePost(ctx context.Context, tagKey, tagData string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `DELETE FROM board_posts WHERE tag_key = ? AND tag_data = ?`, tagKey, tagData)
	if err != nil {
		return fmt.Errorf("eventdb: delete post %s=%s: %w", tagKey, tagData, err)
	}
	return nil
}

// PostEvent publishes an event's announcement to the events board, tagged
// so it can be found and removed when the event ends.
func (s *Store) PostEvent(ctx context.Context, ev *gamedb.RPEvent, poster gamedb.DBRef, body string) (*gamedb.BoardPost, error) {
	p := &gamedb.BoardPost{
		Board:   EventBoard,
		Poster:  poster,
		Subject: ev.Name,
		Body:    body,
		TagKey:  ev.TagKey(),
		TagData: ev.TagData(),
		Posted:  ev.Date,
	}
	if err := s.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
