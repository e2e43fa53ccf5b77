package threaddump

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/flarelabs/flare/internal/frame"
)

// minStackBufferSize is the initial buffer for full stack dumps (1MB). The
// buffer doubles until the dump fits and keeps the high-water mark.
const minStackBufferSize = 1 << 20

// stackAll is swapped in tests; it is runtime.Stack with all=true otherwise.
var stackAll = func(buf []byte) int { return runtime.Stack(buf, true) }

// TextProvider captures threads by formatting and re-parsing the runtime's
// textual stack dump. Slower than RecordProvider, but the text form is the
// only one that carries goroutine run states, which the ignore-sleeping
// filter needs.
type TextProvider struct {
	buf []byte
}

func NewTextProvider() *TextProvider {
	return &TextProvider{buf: make([]byte, minStackBufferSize)}
}

func (p *TextProvider) DumpThreads() ([]Thread, error) {
	var n int
	for {
		n = stackAll(p.buf)
		if n < len(p.buf) {
			break
		}
		p.buf = make([]byte, len(p.buf)*2)
	}
	threads := ParseStackDump(string(p.buf[:n]))
	out := threads[:0]
	for _, t := range threads {
		if isOwnCapture(t.Stack) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseStackDump parses the output of runtime.Stack(all=true) into threads.
// Entries it cannot make sense of are dropped rather than failing the dump.
func ParseStackDump(dump string) []Thread {
	var threads []Thread
	for _, block := range strings.Split(dump, "\n\n") {
		t, ok := parseGoroutine(block)
		if !ok {
			continue
		}
		threads = append(threads, t)
	}
	return threads
}

// parseGoroutine parses one block of the form
//
//	goroutine 42 [IO wait, 3 minutes]:
//	net/http.(*conn).serve(0xc000ered, ...)
//		/usr/local/go/src/net/http/server.go:1995 +0x784
func parseGoroutine(block string) (Thread, bool) {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) < 1 || !strings.HasPrefix(lines[0], "goroutine ") {
		return Thread{}, false
	}
	header := lines[0]
	open := strings.Index(header, "[")
	closing := strings.LastIndex(header, "]")
	if open < 0 || closing < open {
		return Thread{}, false
	}
	id, err := strconv.ParseUint(strings.TrimSpace(header[len("goroutine "):open]), 10, 64)
	if err != nil {
		return Thread{}, false
	}
	state := header[open+1 : closing]
	if i := strings.Index(state, ","); i >= 0 {
		state = state[:i]
	}

	var stack []frame.Frame
	for i := 1; i+1 < len(lines); i += 2 {
		fn := lines[i]
		loc := strings.TrimSpace(lines[i+1])
		if strings.HasPrefix(fn, "created by ") {
			break
		}
		if j := strings.LastIndex(fn, "("); j >= 0 {
			fn = fn[:j]
		}
		f := frame.Frame{Function: fn, Package: functionPackage(fn)}
		if j := strings.LastIndex(loc, ":"); j >= 0 {
			file := loc[:j]
			lineStr := loc[j+1:]
			if k := strings.Index(lineStr, " "); k >= 0 {
				lineStr = lineStr[:k]
			}
			if line, err := strconv.ParseUint(lineStr, 10, 32); err == nil {
				f.File = file
				f.Line = uint32(line)
			}
		}
		stack = append(stack, f)
	}
	if len(stack) == 0 {
		return Thread{}, false
	}
	return Thread{
		ID:    id,
		Name:  rootName(stack),
		State: state,
		Stack: stack,
	}, true
}

// Sleeping reports whether the thread's run state indicates it is idle
// rather than doing work. Unknown or missing states count as active, the
// record provider cannot observe states at all.
func (t Thread) Sleeping() bool {
	switch t.State {
	case "", "running", "runnable", "syscall":
		return false
	}
	return true
}

// Native reports whether the thread's leaf frame executes runtime or syscall
// code rather than user code.
func (t Thread) Native() bool {
	if len(t.Stack) == 0 {
		return false
	}
	pkg := t.Stack[0].Package
	return pkg == "runtime" || pkg == "syscall"
}
