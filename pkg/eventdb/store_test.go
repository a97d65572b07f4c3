package eventdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/rpevents"
	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"), 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetSave(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC)

	ev := &gamedb.RPEvent{
		Name:            "Masquerade",
		Desc:            "Masks required.",
		Date:            date,
		Location:        10,
		PublicEvent:     true,
		CelebrationTier: gamedb.TierGrand,
		Hosts:           []gamedb.DBRef{3, 1},
		GMs:             []gamedb.DBRef{7},
	}
	if err := s.Create(ctx, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == 0 {
		t.Fatal("expected an assigned id")
	}

	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Fatalf("event mismatch (-want +got):\n%s", diff)
	}

	got.Finished = true
	got.Participants = []gamedb.DBRef{1, 4}
	got.GMs = nil
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Fatalf("saved event mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, 42); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, &gamedb.RPEvent{ID: 42, Name: "x"}); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("Save: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, 42); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestUpcomingAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"Late", "Early", "Done", "Undated"} {
		ev := &gamedb.RPEvent{Name: name, Location: gamedb.Nothing}
		switch name {
		case "Late":
			ev.Date = base.Add(48 * time.Hour)
		case "Early":
			ev.Date = base.Add(time.Hour)
		case "Done":
			ev.Date = base
			ev.Finished = true
		}
		if err := s.Create(ctx, ev); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}

	up, err := s.Upcoming(ctx)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	var names []string
	for _, ev := range up {
		names = append(names, ev.Name)
	}
	if diff := cmp.Diff([]string{"Undated", "Early", "Late"}, names); diff != "" {
		t.Fatalf("upcoming mismatch (-want +got):\n%s", diff)
	}
	if !up[0].Date.IsZero() {
		t.Fatal("expected undated event to keep a zero date")
	}

	all, err := s.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	open, _ := s.List(ctx, false)
	if len(open) != 3 {
		t.Fatalf("expected 3 unfinished events, got %d", len(open))
	}
}

func TestAddParticipantAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := &gamedb.RPEvent{Name: "Ball", Location: gamedb.Nothing, Participants: []gamedb.DBRef{5}}
	if err := s.Create(ctx, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, p := range []gamedb.DBRef{2, 5, 9, 2} {
		if err := s.AddParticipant(ctx, ev.ID, p); err != nil {
			t.Fatalf("AddParticipant #%d: %v", p, err)
		}
	}
	got, _ := s.Get(ctx, ev.ID)
	if diff := cmp.Diff([]gamedb.DBRef{5, 2, 9}, got.Participants); diff != "" {
		t.Fatalf("participants mismatch (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx, ev.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM event_roles WHERE event_id = ?`, ev.ID).Scan(&n)
	if n != 0 {
		t.Fatalf("expected role rows removed, got %d", n)
	}
}

func TestRewards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddKarma(ctx, 1, 1); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing account, got %v", err)
	}
	if err := s.AdjustPrestige(ctx, 1, 100); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing assets, got %v", err)
	}

	s.EnsureAccount(ctx, 1)
	s.EnsureAccount(ctx, 1)
	s.EnsureAssets(ctx, 1)
	for range 3 {
		if err := s.AddKarma(ctx, 1, 1); err != nil {
			t.Fatalf("AddKarma: %v", err)
		}
	}
	s.AdjustPrestige(ctx, 1, 2500)
	s.AdjustPrestige(ctx, 1, -500)

	acct, err := s.Account(ctx, 1)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	assets, err := s.Assets(ctx, 1)
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	if acct.Karma != 3 || assets.Prestige != 2000 {
		t.Fatalf("expected karma 3 and prestige 2000, got %d and %d", acct.Karma, assets.Prestige)
	}
	if _, err := s.Account(ctx, 2); !errors.Is(err, rpevents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoardPosts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := &gamedb.RPEvent{ID: 4, Name: "Grand Ball", Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	if _, err := s.PostEvent(ctx, ev, 1, "All are welcome."); err != nil {
		t.Fatalf("PostEvent: %v", err)
	}
	other := &gamedb.RPEvent{ID: 5, Name: "Hunt"}
	s.PostEvent(ctx, other, 1, "Bring bows.")

	posts, err := s.Posts(ctx, EventBoard)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 2 || posts[0].TagKey != "grand ball_4" || posts[0].TagData != "4" {
		t.Fatalf("unexpected posts %+v", posts)
	}

	if err := s.DeletePost(ctx, ev.TagKey(), ev.TagData()); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if err := s.DeletePost(ctx, "nothing_1", "1"); err != nil {
		t.Fatalf("DeletePost of missing post: %v", err)
	}
	posts, _ = s.Posts(ctx, EventBoard)
	if len(posts) != 1 || posts[0].Subject != "Hunt" {
		t.Fatalf("expected only the Hunt post left, got %+v", posts)
	}
}
