package utils

import (
	"log"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// SetDebug turns [DEBUG] lines on or off process-wide
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// Debugf writes a [DEBUG] line when debug logging is on
func Debugf(format string, args ...interface{}) {
	if debugEnabled.Load() {
		log.Printf("[DEBUG] "+format, args...)
	}
}
