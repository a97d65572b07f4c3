package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rodaine/table"
)

// event mirrors the server's event JSON.
type event struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Desc         string     `json:"description"`
	Date         *time.Time `json:"date"`
	Starts       string     `json:"starts"`
	Location     int        `json:"location"`
	Status       string     `json:"status"`
	Idle         int        `json:"idle"`
	Public       bool       `json:"public"`
	GMEvent      bool       `json:"gm_event"`
	Tier         string     `json:"tier"`
	Hosts        []int      `json:"hosts"`
	Participants []int      `json:"participants"`
	GMs          []int      `json:"gms"`
}

type eventList struct {
	Events []event `json:"events"`
	Count  int     `json:"count"`
}

type backup struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
	Events    int    `json:"events"`
}

type backupList struct {
	Backups []backup `json:"backups"`
	Count   int      `json:"count"`
}

type schedulerState struct {
	Interval   string           `json:"interval"`
	IdleLimit  int              `json:"idle_limit"`
	KarmaAward int              `json:"karma_award"`
	Active     []int64          `json:"active"`
	Idle       map[int64]int    `json:"idle"`
	Pending    []int64          `json:"pending"`
	Cancelled  []int64          `json:"cancelled"`
	Logs       map[int64]string `json:"logs"`
}

func refs(rs []int) string {
	if len(rs) == 0 {
		return "-"
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("#%d", r)
	}
	return strings.Join(parts, " ")
}

func when(e event) string {
	if e.Date == nil {
		return "unscheduled"
	}
	s := e.Date.Local().Format("2006-01-02 15:04")
	if e.Starts != "" {
		s += " (" + e.Starts + ")"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printEvents(w io.Writer, evs []event) {
	if len(evs) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	t := table.New("ID", "Name", "When", "Room", "Status", "Tier", "Public").WithWriter(w)
	for _, e := range evs {
		t.AddRow(e.ID, e.Name, when(e), fmt.Sprintf("#%d", e.Location), e.Status, e.Tier, yesNo(e.Public))
	}
	t.Print()
}

func printEvent(w io.Writer, e event) {
	fmt.Fprintf(w, "Event %d: %s\n", e.ID, e.Name)
	if e.Desc != "" {
		fmt.Fprintf(w, "  %s\n", e.Desc)
	}
	t := table.New("Field", "Value").WithWriter(w)
	t.AddRow("When", when(e))
	t.AddRow("Room", fmt.Sprintf("#%d", e.Location))
	t.AddRow("Status", e.Status)
	if e.Status == "active" {
		t.AddRow("Idle ticks", e.Idle)
	}
	t.AddRow("Tier", e.Tier)
	t.AddRow("Public", yesNo(e.Public))
	t.AddRow("GM event", yesNo(e.GMEvent))
	t.AddRow("Hosts", refs(e.Hosts))
	t.AddRow("GMs", refs(e.GMs))
	t.AddRow("Participants", refs(e.Participants))
	t.Print()
}

func printBackups(w io.Writer, bs []backup) {
	if len(bs) == 0 {
		fmt.Fprintln(w, "No backups.")
		return
	}
	t := table.New("Filename", "Taken", "Size", "Events").WithWriter(w)
	for _, b := range bs {
		taken := b.Timestamp
		if ts, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
			taken = humanize.Time(ts)
		}
		t.AddRow(b.Filename, taken, humanize.Bytes(uint64(b.Size)), b.Events)
	}
	t.Print()
}

func printScheduler(w io.Writer, s schedulerState) {
	fmt.Fprintf(w, "Tick every %s, idle limit %d, karma award %d\n", s.Interval, s.IdleLimit, s.KarmaAward)
	if len(s.Active) == 0 {
		fmt.Fprintln(w, "No active events.")
	} else {
		active := slices.Clone(s.Active)
		slices.Sort(active)
		t := table.New("Event", "Idle", "Log").WithWriter(w)
		for _, id := range active {
			t.AddRow(id, fmt.Sprintf("%d/%d", s.Idle[id], s.IdleLimit), s.Logs[id])
		}
		t.Print()
	}
	if len(s.Pending) > 0 {
		fmt.Fprintf(w, "Pending starts: %v\n", s.Pending)
	}
	if len(s.Cancelled) > 0 {
		fmt.Fprintf(w, "Cancelled starts: %v\n", s.Cancelled)
	}
}
