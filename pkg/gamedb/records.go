package gamedb

import "time"

// Account holds the out-of-character standing of a persona's player.
type Account struct {
	Persona DBRef
	Karma   int
}

// Assets holds a persona's in-character social capital.
type Assets struct {
	Persona  DBRef
	Prestige int
}

// BoardPost is a bulletin board entry, optionally tagged to an event.
type BoardPost struct {
	ID      int64
	Board   string
	Poster  DBRef
	Subject string
	Body    string
	TagKey  string
	TagData string
	Posted  time.Time
}

// SchedulerState is the persisted part of the event scheduler's
// bookkeeping. Pending start timers are not stored.
type SchedulerState struct {
	IdleEvents   map[int64]int
	ActiveEvents []int64
	Cancelled    []int64
	EventLogs    map[int64]string
	GMLogs       map[int64]string
}

// ScriptState is the persisted form of a periodic script attached to an
// object. Values and Strings hold script-specific data.
type ScriptState struct {
	Object   DBRef
	Key      string
	Interval time.Duration
	Stopped  bool
	Values   map[string]int64
	Strings  map[string]string
}
