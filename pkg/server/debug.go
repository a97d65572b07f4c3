package server

import (
	"log"
	"sync/atomic"
)

// debugMode is set from -debug, RPE_DEBUG or the config file's debug key,
// and follows config reloads.
var debugMode atomic.Bool

// SetDebug turns debug logging on or off, logging only actual changes.
func SetDebug(on bool) {
	if debugMode.Swap(on) == on {
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	log.Printf("server: debug logging %s", state)
}

// IsDebug reports whether debug logging is on.
func IsDebug() bool { return debugMode.Load() }

// DebugLog is log.Printf guarded by the debug switch.
func DebugLog(format string, args ...any) {
	if debugMode.Load() {
		log.Printf("[DEBUG] "+format, args...)
	}
}
