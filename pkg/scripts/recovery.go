package scripts

import (
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

const (
	RecoveryKey             = "Recovery"
	DefaultRecoveryInterval = 30 * time.Minute

	// recoveryDifficulty is the base difficulty of a recovery roll; recent
	// healing lowers it.
	recoveryDifficulty = 15
)

// Entities resolves the characters scripts are attached to.
type Entities interface {
	Lookup(ref gamedb.DBRef) (*gamedb.Character, bool)
	// RecoveryTest rolls to heal the character and returns the roll.
	RecoveryTest(ref gamedb.DBRef, diffMod int) int
}

// Recovery heals a wounded character a little each interval until it is
// whole, dead, or gone.
type Recovery struct {
	obj         gamedb.DBRef
	entities    Entities
	interval    time.Duration
	HighestHeal int
}

// NewRecovery creates a recovery script for obj. A zero interval means
// DefaultRecoveryInterval.
func NewRecovery(obj gamedb.DBRef, entities Entities, interval time.Duration) *Recovery {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &Recovery{obj: obj, entities: entities, interval: interval}
}

func (r *Recovery) Key() string             { return RecoveryKey }
func (r *Recovery) Object() gamedb.DBRef    { return r.obj }
func (r *Recovery) Interval() time.Duration { return r.interval }

// IsValid reports whether the character exists and is wounded.
func (r *Recovery) IsValid() bool {
	c, ok := r.entities.Lookup(r.obj)
	return ok && c.Damage > 0
}

// NoteHeal records a heal so later recovery rolls get easier.
func (r *Recovery) NoteHeal(v int) {
	if v > r.HighestHeal {
		r.HighestHeal = v
	}
}

// AtRepeat decays the recent heal bonus and rolls for recovery.
func (r *Recovery) AtRepeat() Outcome {
	r.HighestHeal /= 2
	c, ok := r.entities.Lookup(r.obj)
	if !ok || c.Dead {
		return StopAndDelete
	}
	if c.Damage > 0 {
		r.entities.RecoveryTest(r.obj, recoveryDifficulty-r.HighestHeal)
		return Continue
	}
	return StopAndDelete
}

func (r *Recovery) State() *gamedb.ScriptState {
	return &gamedb.ScriptState{
		Object:   r.obj,
		Key:      RecoveryKey,
		Interval: r.interval,
		Values:   map[string]int64{"highest_heal": int64(r.HighestHeal)},
	}
}
