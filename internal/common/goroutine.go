// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// liveGoroutines counts SafeGo goroutines that have not returned yet
var liveGoroutines atomic.Int64

// GetGoroutineCount returns the number of SafeGo goroutines still running
func GetGoroutineCount() int64 {
	return liveGoroutines.Load()
}

// SafeGo runs fn in a goroutine with panic recovery.
// A panic is logged with its stack and the process keeps running.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	liveGoroutines.Add(1)

	go func() {
		defer liveGoroutines.Add(-1)
		defer RecoverAndLog(logger, name)
		fn()
	}()
}

// RecoverAndLog must be deferred directly. It swallows a panic after logging it with a stack trace.
func RecoverAndLog(logger arbor.ILogger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// PanicStack returns the current goroutine stack, trimmed to 4KB
func PanicStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func logPanic(logger arbor.ILogger, name string, r interface{}) {
	stackTrace := PanicStack()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
