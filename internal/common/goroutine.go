package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer RecoverPanic(logger, name, nil)
		fn()
	}()
}

// RecoverPanic must be deferred. It logs a recovered panic with its stack and,
// when onPanic is set, hands the panic value to the caller so it can be turned
// into an ordinary error.
func RecoverPanic(logger arbor.ILogger, name string, onPanic func(r interface{})) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", string(buf[:n])).
			Msg("Recovered from panic")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in %s: %v\n%s\n", name, r, buf[:n])
	}

	if onPanic != nil {
		onPanic(r)
	}
}
