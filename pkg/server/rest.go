package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-mush/rpevents/pkg/archive"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/rpevents"
	"github.com/dustin/go-humanize"
	goccy "github.com/goccy/go-json"
)

// RegisterRESTRoutes registers the event admin API. Every route needs an
// admin token.
func (s *WebServer) RegisterRESTRoutes() {
	admin := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, authMiddleware(s.auth, true, h))
	}

	admin("GET /api/v1/events", s.handleListEvents)
	admin("POST /api/v1/events", s.handleCreateEvent)
	admin("GET /api/v1/events/{id}", s.handleGetEvent)
	admin("POST /api/v1/events/{id}/start", s.handleStartEvent)
	admin("POST /api/v1/events/{id}/finish", s.handleFinishEvent)
	admin("POST /api/v1/events/{id}/cancel", s.handleCancelEvent)
	admin("PUT /api/v1/events/{id}/date", s.handleRescheduleEvent)
	admin("POST /api/v1/events/{id}/messages", s.handlePostMessage)
	admin("GET /api/v1/events/{id}/log", s.handleReadLog)

	admin("GET /api/v1/scheduler", s.handleSchedulerState)
	admin("GET /api/v1/stats", s.handleStats)
	admin("GET /api/v1/backups", s.handleListBackups)
	admin("POST /api/v1/backups", s.handleCreateBackup)

	admin("POST /api/v1/characters/{ref}/damage", s.handleDamage)
	admin("POST /api/v1/characters/{ref}/heal", s.handleHeal)
	admin("POST /api/v1/characters/{ref}/scent", s.handleScent)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	goccy.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := goccy.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeOpError maps an operation error to a status.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rpevents.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseDBRef(s string) (gamedb.DBRef, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil {
		return gamedb.Nothing, err
	}
	return gamedb.DBRef(n), nil
}

// onScheduler runs fn on the scheduler goroutine and returns its error.
func (s *WebServer) onScheduler(ctx context.Context, fn func() error) error {
	var err error
	if cerr := s.game.Sched.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

// --- Views ---

type eventView struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Desc         string         `json:"description,omitempty"`
	Date         *time.Time     `json:"date,omitempty"`
	Starts       string         `json:"starts,omitempty"`
	Location     gamedb.DBRef   `json:"location"`
	Status       string         `json:"status"`
	Idle         int            `json:"idle,omitempty"`
	Public       bool           `json:"public"`
	GMEvent      bool           `json:"gm_event"`
	Tier         string         `json:"tier"`
	Hosts        []gamedb.DBRef `json:"hosts"`
	Participants []gamedb.DBRef `json:"participants"`
	GMs          []gamedb.DBRef `json:"gms"`
}

// EventStatus names where an event is in its lifecycle.
func EventStatus(ev *gamedb.RPEvent, st *rpevents.State) string {
	switch {
	case ev.Finished:
		return "finished"
	case st.IsActive(ev.ID):
		return "active"
	case st.PendingStart[ev.ID] != nil:
		return "pending"
	case ev.Date.IsZero():
		return "unscheduled"
	default:
		return "scheduled"
	}
}

func newEventView(ev *gamedb.RPEvent, st *rpevents.State, now time.Time) eventView {
	v := eventView{
		ID:           ev.ID,
		Name:         ev.Name,
		Desc:         ev.Desc,
		Location:     ev.Location,
		Status:       EventStatus(ev, st),
		Idle:         st.IdleEvents[ev.ID],
		Public:       ev.PublicEvent,
		GMEvent:      ev.GMEvent,
		Tier:         gamedb.TierName(ev.CelebrationTier),
		Hosts:        ev.Hosts,
		Participants: ev.Participants,
		GMs:          ev.GMs,
	}
	if !ev.Date.IsZero() {
		d := ev.Date
		v.Date = &d
		v.Starts = humanize.RelTime(ev.Date, now, "ago", "from now")
	}
	return v
}

// --- Events ---

func (s *WebServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") != ""
	var views []eventView
	err := s.onScheduler(r.Context(), func() error {
		evs, err := s.game.SQL.List(r.Context(), all)
		if err != nil {
			return err
		}
		st := s.game.Events.Snapshot()
		now := s.game.Sched.Now()
		views = make([]eventView, 0, len(evs))
		for _, ev := range evs {
			views = append(views, newEventView(ev, &st, now))
		}
		return nil
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views, "count": len(views)})
}

func (s *WebServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	s.eventOp(w, r, func(ctx context.Context, ev *gamedb.RPEvent) error { return nil })
}

// createEventRequest is the body of POST /api/v1/events.
type createEventRequest struct {
	Name     string         `json:"name"`
	Desc     string         `json:"description"`
	Date     time.Time      `json:"date"`
	Location gamedb.DBRef   `json:"location"`
	Public   bool           `json:"public"`
	GMEvent  bool           `json:"gm_event"`
	Tier     int            `json:"tier"`
	Hosts    []gamedb.DBRef `json:"hosts"`
	GMs      []gamedb.DBRef `json:"gms"`
	Post     string         `json:"post"` // board post body; empty = no post
}

func (s *WebServer) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	req := createEventRequest{Location: gamedb.Nothing}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Tier < gamedb.TierSmall || req.Tier > gamedb.TierLegendary {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("tier must be %d to %d", gamedb.TierSmall, gamedb.TierLegendary))
		return
	}
	ev := &gamedb.RPEvent{
		Name:            req.Name,
		Desc:            req.Desc,
		Date:            req.Date,
		Location:        req.Location,
		PublicEvent:     req.Public,
		GMEvent:         req.GMEvent,
		CelebrationTier: req.Tier,
		Hosts:           req.Hosts,
		GMs:             req.GMs,
	}
	claims := ClaimsFromContext(r.Context())

	var view eventView
	err := s.onScheduler(r.Context(), func() error {
		if err := s.game.SQL.Create(r.Context(), ev); err != nil {
			return err
		}
		if req.Post != "" {
			if _, err := s.game.SQL.PostEvent(r.Context(), ev, claims.PlayerRef, req.Post); err != nil {
				return err
			}
		}
		st := s.game.Events.Snapshot()
		view = newEventView(ev, &st, s.game.Sched.Now())
		return nil
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// eventOp loads the event named in the path, runs op on the scheduler
// goroutine and answers with the event's state afterwards.
func (s *WebServer) eventOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, ev *gamedb.RPEvent) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ctx := r.Context()
	var view eventView
	err = s.onScheduler(ctx, func() error {
		ev, err := s.game.SQL.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := op(ctx, ev); err != nil {
			return err
		}
		st := s.game.Events.Snapshot()
		view = newEventView(ev, &st, s.game.Sched.Now())
		return nil
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *WebServer) handleStartEvent(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Location gamedb.DBRef `json:"location"`
	}{Location: gamedb.Nothing}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.eventOp(w, r, func(ctx context.Context, ev *gamedb.RPEvent) error {
		return s.game.Events.StartEvent(ctx, ev, req.Location)
	})
}

func (s *WebServer) handleFinishEvent(w http.ResponseWriter, r *http.Request) {
	s.eventOp(w, r, func(ctx context.Context, ev *gamedb.RPEvent) error {
		return s.game.Events.FinishEvent(ctx, ev)
	})
}

func (s *WebServer) handleCancelEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ctx := r.Context()
	err = s.onScheduler(ctx, func() error {
		ev, err := s.game.SQL.Get(ctx, id)
		if err != nil {
			return err
		}
		return s.game.Events.CancelEvent(ctx, ev)
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "cancelled"})
}

func (s *WebServer) handleRescheduleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date time.Time `json:"date"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	s.eventOp(w, r, func(ctx context.Context, ev *gamedb.RPEvent) error {
		ev.Date = req.Date
		if err := s.game.SQL.Save(ctx, ev); err != nil {
			return err
		}
		return s.game.Events.RescheduleEvent(ctx, ev)
	})
}

func (s *WebServer) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Text   string       `json:"text"`
		GM     bool         `json:"gm"`
		Sender gamedb.DBRef `json:"sender"`
	}{Sender: gamedb.Nothing}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.eventOp(w, r, func(ctx context.Context, ev *gamedb.RPEvent) error {
		if req.GM {
			return s.game.Events.AddGMNote(ctx, ev.ID, req.Text)
		}
		if err := s.game.Events.AddMsg(ctx, ev.ID, req.Text, req.Sender); err != nil {
			return err
		}
		if req.Sender != gamedb.Nothing && !slices.Contains(ev.Participants, req.Sender) {
			ev.Participants = append(ev.Participants, req.Sender)
		}
		return nil
	})
}

func (s *WebServer) handleReadLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	// Log files are only appended on the scheduler goroutine; reading them
	// here may see a partial last line, which is acceptable for a viewer.
	logs := s.game.Events.Logs()
	var text string
	if r.URL.Query().Get("gm") != "" {
		text, err = logs.ReadGMLog(id)
	} else {
		text, err = logs.ReadLog(id)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// --- Scheduler ---

type schedulerView struct {
	Interval   string           `json:"interval"`
	IdleLimit  int              `json:"idle_limit"`
	KarmaAward int              `json:"karma_award"`
	Active     []int64          `json:"active"`
	Idle       map[int64]int    `json:"idle"`
	Pending    []int64          `json:"pending"`
	Cancelled  []int64          `json:"cancelled"`
	Logs       map[int64]string `json:"logs"`
}

func (s *WebServer) handleSchedulerState(w http.ResponseWriter, r *http.Request) {
	var view schedulerView
	err := s.onScheduler(r.Context(), func() error {
		cfg := s.game.Events.Config()
		st := s.game.Events.Snapshot()
		view = schedulerView{
			Interval:   cfg.Interval.String(),
			IdleLimit:  cfg.IdleLimit,
			KarmaAward: cfg.KarmaAward,
			Active:     st.ActiveEvents,
			Idle:       st.IdleEvents,
			Pending:    st.PendingIDs(),
			Cancelled:  st.Cancelled,
			Logs:       st.EventLogs,
		}
		return nil
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": s.game.ConnectionStats(),
		"scheduler":   s.game.SchedulerStats(r.Context()),
		"memory":      MemoryStats(),
		"uptime":      humanize.Time(s.started),
	})
}

// --- Backups ---

func (s *WebServer) handleListBackups(w http.ResponseWriter, r *http.Request) {
	var dir string
	if err := s.game.Sched.Call(r.Context(), func() { dir = s.game.Conf.BackupDir }); err != nil {
		writeOpError(w, err)
		return
	}
	list, err := archive.List(dir)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if list == nil {
		list = []archive.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": list, "count": len(list)})
}

func (s *WebServer) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	path, err := s.game.Backup(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// --- Characters ---

func (s *WebServer) characterOp(w http.ResponseWriter, r *http.Request, op func(ref gamedb.DBRef) error) {
	ref, err := parseDBRef(r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dbref")
		return
	}
	var c gamedb.Character
	err = s.onScheduler(r.Context(), func() error {
		if err := op(ref); err != nil {
			return err
		}
		if cur, ok := s.game.DB.Characters[ref]; ok {
			c = *cur
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    int(c.Ref),
		"name":   c.Name,
		"damage": c.Damage,
		"scent":  c.Scent,
	})
}

func (s *WebServer) handleDamage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.characterOp(w, r, func(ref gamedb.DBRef) error { return s.game.Damage(ref, req.Amount) })
}

func (s *WebServer) handleHeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.characterOp(w, r, func(ref gamedb.DBRef) error { return s.game.Heal(ref, req.Amount) })
}

func (s *WebServer) handleScent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scent string `json:"scent"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.characterOp(w, r, func(ref gamedb.DBRef) error { return s.game.SetScent(ref, req.Scent) })
}
