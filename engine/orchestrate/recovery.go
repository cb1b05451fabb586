package orchestrate

import (
	"fmt"
	"runtime/debug"

	"github.com/steward-labs/steward/engine/logging"
)

// safeGo runs fn in a goroutine with panic containment. A panicking step
// worker must never take the coordinator down; the panic is logged and
// handed to onPanic so the step can be failed like any other error.
func safeGo(logger logging.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// safeExecute executes fn with panic recovery, converting a panic into an error.
func safeExecute(logger logging.Logger, operation string, fn func() error) error {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		err = fn()
	}()
	return err
}
