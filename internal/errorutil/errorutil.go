package errorutil

import "errors"

// ErrProfilerRunning is returned when a new session is requested while
// another one is still registered with the profiler service.
var ErrProfilerRunning = errors.New("a profiler is already running")

// ErrCancelled resolves the completion signal of a cancelled session; it
// means no report will be produced.
var ErrCancelled = errors.New("profiler session cancelled")

// ErrNotStopped is returned when a report is requested from a session that
// has not stopped cleanly. This is a programming error, not a transient one.
var ErrNotStopped = errors.New("profiler session is not stopped")
