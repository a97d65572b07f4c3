package scripts

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/timer"
)

// StateSaver persists script state after each repeat.
type StateSaver interface {
	PutScript(st *gamedb.ScriptState) error
	DeleteScript(obj gamedb.DBRef, key string) error
}

type scriptID struct {
	obj gamedb.DBRef
	key string
}

func idOf(obj gamedb.DBRef, key string) scriptID {
	return scriptID{obj, strings.ToLower(key)}
}

type running struct {
	script  Script
	handle  *timer.Handle
	stopped bool
}

// Runner attaches scripts to the scheduler. Like the scheduler's
// callbacks, its methods must be called on the scheduler goroutine.
type Runner struct {
	sched   *timer.Scheduler
	saver   StateSaver
	scripts map[scriptID]*running

	// OnRepeat, if set, is called after every repeat with its outcome.
	OnRepeat func(key string, out Outcome)
}

// NewRunner creates a runner. saver may be nil.
func NewRunner(sched *timer.Scheduler, saver StateSaver) *Runner {
	return &Runner{
		sched:   sched,
		saver:   saver,
		scripts: make(map[scriptID]*running),
	}
}

// Start registers a script to repeat every s.Interval(), first after
// startDelay. Invalid scripts are refused.
func (r *Runner) Start(s Script, startDelay time.Duration) error {
	id := idOf(s.Object(), s.Key())
	if cur, ok := r.scripts[id]; ok && !cur.stopped {
		return fmt.Errorf("%w: %s on #%d", ErrExists, s.Key(), s.Object())
	}
	if !s.IsValid() {
		return fmt.Errorf("%w: %s on #%d", ErrInvalid, s.Key(), s.Object())
	}
	r.arm(id, s, startDelay)
	r.save(s)
	return nil
}

func (r *Runner) arm(id scriptID, s Script, startDelay time.Duration) {
	rs := &running{script: s}
	rs.handle = r.sched.Every(s.Interval(), startDelay, func() { r.repeat(id, rs) })
	r.scripts[id] = rs
}

// Ensure makes sure a script with s's key runs on s's object. A stopped
// script of that key is revived with its existing state; otherwise s is
// started. The running script is returned.
func (r *Runner) Ensure(s Script) (Script, error) {
	id := idOf(s.Object(), s.Key())
	if cur, ok := r.scripts[id]; ok {
		if !cur.stopped {
			return cur.script, nil
		}
		if !cur.script.IsValid() {
			return nil, fmt.Errorf("%w: %s on #%d", ErrInvalid, s.Key(), s.Object())
		}
		r.arm(id, cur.script, cur.script.Interval())
		r.save(cur.script)
		return cur.script, nil
	}
	if err := r.Start(s, s.Interval()); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Runner) repeat(id scriptID, rs *running) {
	out := rs.script.AtRepeat()
	switch out {
	case Continue:
		r.save(rs.script)
	case Stop:
		rs.handle.Cancel()
		rs.stopped = true
		r.save(rs.script)
	case StopAndDelete:
		rs.handle.Cancel()
		if r.scripts[id] == rs {
			delete(r.scripts, id)
		}
		r.drop(rs.script.Object(), rs.script.Key())
	}
	if r.OnRepeat != nil {
		r.OnRepeat(rs.script.Key(), out)
	}
}

// Get returns the script with the given key on obj, running or stopped.
func (r *Runner) Get(obj gamedb.DBRef, key string) (Script, bool) {
	rs, ok := r.scripts[idOf(obj, key)]
	if !ok {
		return nil, false
	}
	return rs.script, true
}

// Running reports whether the script is attached and not stopped.
func (r *Runner) Running(obj gamedb.DBRef, key string) bool {
	rs, ok := r.scripts[idOf(obj, key)]
	return ok && !rs.stopped
}

// Stop halts a script but keeps it attached.
func (r *Runner) Stop(obj gamedb.DBRef, key string) bool {
	rs, ok := r.scripts[idOf(obj, key)]
	if !ok || rs.stopped {
		return false
	}
	rs.handle.Cancel()
	rs.stopped = true
	r.save(rs.script)
	return true
}

// Delete halts and detaches a script.
func (r *Runner) Delete(obj gamedb.DBRef, key string) bool {
	id := idOf(obj, key)
	rs, ok := r.scripts[id]
	if !ok {
		return false
	}
	if rs.handle != nil {
		rs.handle.Cancel()
	}
	delete(r.scripts, id)
	r.drop(obj, key)
	return true
}

// Count returns the number of running scripts per key.
func (r *Runner) Count() map[string]int {
	out := make(map[string]int)
	for _, rs := range r.scripts {
		if !rs.stopped {
			out[rs.script.Key()]++
		}
	}
	return out
}

func (r *Runner) save(s Script) {
	if r.saver == nil {
		return
	}
	st := s.State()
	st.Stopped = !r.Running(s.Object(), s.Key())
	if err := r.saver.PutScript(st); err != nil {
		log.Printf("scripts: save %s on #%d: %v", s.Key(), s.Object(), err)
	}
}

func (r *Runner) drop(obj gamedb.DBRef, key string) {
	if r.saver == nil {
		return
	}
	if err := r.saver.DeleteScript(obj, key); err != nil {
		log.Printf("scripts: delete %s on #%d: %v", key, obj, err)
	}
}
