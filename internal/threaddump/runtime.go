package threaddump

import (
	"runtime"
	"strings"

	"github.com/flarelabs/flare/internal/frame"
)

// RecordProvider captures threads through runtime.GoroutineProfile stack
// records. It avoids the text formatting entirely, which makes it the
// preferred high-resolution capture mechanism, but the records carry no run
// state, so Thread.State is always empty.
type RecordProvider struct {
	records []runtime.StackRecord
}

func NewRecordProvider() *RecordProvider {
	return &RecordProvider{}
}

func (p *RecordProvider) DumpThreads() ([]Thread, error) {
	// We don't know how many goroutines exist, so the record slice grows
	// dynamically, overshooting by 10% since more goroutines may be launched
	// between two calls. Once it reaches the program's high-water mark it is
	// reused indefinitely.
	var n int
	for {
		var ok bool
		n, ok = runtime.GoroutineProfile(p.records)
		if ok {
			break
		}
		p.records = make([]runtime.StackRecord, int(float64(n)*1.1)+1)
	}

	threads := make([]Thread, 0, n)
	for i := 0; i < n; i++ {
		stack := expand(p.records[i].Stack())
		if len(stack) == 0 || isOwnCapture(stack) {
			continue
		}
		threads = append(threads, Thread{
			ID:    uint64(i),
			Name:  rootName(stack),
			Stack: stack,
		})
	}
	return threads, nil
}

func expand(pcs []uintptr) []frame.Frame {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	var out []frame.Frame
	for {
		f, more := frames.Next()
		if f.Function != "" {
			out = append(out, frame.Frame{
				Package:  functionPackage(f.Function),
				Function: f.Function,
				File:     f.File,
				Line:     uint32(f.Line),
			})
		}
		if !more {
			break
		}
	}
	return out
}

// functionPackage extracts the import path from a fully qualified function
// name, e.g. "net/http" from "net/http.(*Server).Serve".
func functionPackage(fn string) string {
	slash := strings.LastIndex(fn, "/")
	dot := strings.Index(fn[slash+1:], ".")
	if dot < 0 {
		return ""
	}
	return fn[:slash+1+dot]
}

// rootName derives a thread name from the bottom-most frame, the function the
// goroutine was started from. Worker pools started from the same function
// naturally share a name this way.
func rootName(stack []frame.Frame) string {
	return stack[len(stack)-1].Function
}

// isOwnCapture reports whether the stack belongs to the profiler's capture
// worker, recognizable by a threaddump frame near the leaf.
func isOwnCapture(stack []frame.Frame) bool {
	limit := len(stack)
	if limit > 4 {
		limit = 4
	}
	for _, f := range stack[:limit] {
		if strings.Contains(f.Function, "/internal/threaddump.") ||
			strings.Contains(f.Function, "/internal/sampler.") {
			return true
		}
	}
	return false
}
