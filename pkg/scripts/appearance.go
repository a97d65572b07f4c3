package scripts

import (
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

const (
	AppearanceKey             = "Appearance"
	DefaultAppearanceInterval = time.Hour
	DefaultScentDuration      = 24 * time.Hour
)

// Appearance wears off temporary appearance modifiers. Currently only
// scent.
type Appearance struct {
	obj       gamedb.DBRef
	interval  time.Duration
	duration  time.Duration
	Scent     string
	Remaining time.Duration

	// OnChange, if set, is called whenever the scent changes.
	OnChange func(obj gamedb.DBRef, scent string)
}

// NewAppearance creates an appearance script. Zero durations take the
// defaults.
func NewAppearance(obj gamedb.DBRef, interval, duration time.Duration) *Appearance {
	if interval <= 0 {
		interval = DefaultAppearanceInterval
	}
	if duration <= 0 {
		duration = DefaultScentDuration
	}
	return &Appearance{obj: obj, interval: interval, duration: duration, Remaining: duration}
}

func (a *Appearance) Key() string             { return AppearanceKey }
func (a *Appearance) Object() gamedb.DBRef    { return a.obj }
func (a *Appearance) Interval() time.Duration { return a.interval }
func (a *Appearance) IsValid() bool           { return a.Scent != "" }

// SetScent applies a scent for the full duration.
func (a *Appearance) SetScent(scent string) {
	a.Remaining = a.duration
	a.setScent(scent)
}

func (a *Appearance) setScent(scent string) {
	a.Scent = scent
	if a.OnChange != nil {
		a.OnChange(a.obj, scent)
	}
}

func (a *Appearance) AtRepeat() Outcome {
	if a.Scent != "" {
		a.Remaining -= a.interval
		if a.Remaining <= 0 {
			a.setScent("")
		}
	}
	if a.Scent == "" {
		return Stop
	}
	return Continue
}

func (a *Appearance) State() *gamedb.ScriptState {
	return &gamedb.ScriptState{
		Object:   a.obj,
		Key:      AppearanceKey,
		Interval: a.interval,
		Values: map[string]int64{
			"remaining": int64(a.Remaining / time.Second),
			"duration":  int64(a.duration / time.Second),
		},
		Strings: map[string]string{"scent": a.Scent},
	}
}
