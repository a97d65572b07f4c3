package scripts

import (
	"fmt"
	"log"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

// FromState rebuilds a script from its saved state.
func FromState(st gamedb.ScriptState, entities Entities) (Script, error) {
	switch st.Key {
	case RecoveryKey:
		r := NewRecovery(st.Object, entities, st.Interval)
		r.HighestHeal = int(st.Values["highest_heal"])
		return r, nil
	case AppearanceKey:
		a := NewAppearance(st.Object, st.Interval, time.Duration(st.Values["duration"])*time.Second)
		a.Scent = st.Strings["scent"]
		a.Remaining = time.Duration(st.Values["remaining"]) * time.Second
		return a, nil
	}
	return nil, fmt.Errorf("%w %q on #%d", ErrUnknown, st.Key, st.Object)
}

// Restore re-attaches saved scripts. Running ones resume one interval
// from now; stopped ones are attached but stay stopped. setup, if set, is
// called on every rebuilt script before it is attached.
func (r *Runner) Restore(states []gamedb.ScriptState, entities Entities, setup func(Script)) int {
	n := 0
	for _, st := range states {
		s, err := FromState(st, entities)
		if err != nil {
			log.Printf("scripts: restore: %v", err)
			continue
		}
		if setup != nil {
			setup(s)
		}
		id := idOf(s.Object(), s.Key())
		if st.Stopped {
			r.scripts[id] = &running{script: s, stopped: true}
			continue
		}
		if !s.IsValid() {
			r.drop(s.Object(), s.Key())
			continue
		}
		r.arm(id, s, s.Interval())
		n++
	}
	return n
}
