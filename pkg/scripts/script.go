// Package scripts runs periodic per-object scripts, such as wound recovery
// and scent decay, on the game scheduler.
package scripts

import (
	"errors"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

var (
	ErrInvalid = errors.New("scripts: script is not valid for its object")
	ErrExists  = errors.New("scripts: script already running")
	ErrUnknown = errors.New("scripts: unknown script key")
)

// Outcome tells the runner what to do after a repeat.
type Outcome int

const (
	Continue      Outcome = iota // keep repeating
	Stop                         // stop, keep the script and its state
	StopAndDelete                // stop and remove the script
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case StopAndDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Script is a periodic task attached to an object.
type Script interface {
	Key() string
	Object() gamedb.DBRef
	Interval() time.Duration
	IsValid() bool
	AtRepeat() Outcome
	State() *gamedb.ScriptState
}
