// Package threaddump acquires snapshots of running threads and selects the
// subset of them a profiler session should sample.
package threaddump

import (
	"regexp"
	"strings"

	"github.com/flarelabs/flare/internal/frame"
)

// WorkerThreadName is the name the sampler's own capture worker reports
// itself under. Dumpers never select it.
const WorkerThreadName = "flare-sampler"

type (
	// Thread is one entry of a dump snapshot. Stack is ordered leaf first,
	// the way the runtime reports it.
	Thread struct {
		ID    uint64
		Name  string
		State string
		Stack []frame.Frame
	}

	// Provider supplies the live set of threads each tick. A provider error
	// skips the tick; it is never fatal to the session.
	Provider interface {
		DumpThreads() ([]Thread, error)
	}

	// Dumper selects which threads of a snapshot to sample. The variants are
	// a closed set: All, Specific, Regex, plus whatever default the host
	// supplies (opaque to the core, same contract).
	Dumper interface {
		ThreadsToSample(snapshot []Thread) []Thread
	}
)

// All samples every live thread except the sampler's own worker.
var All Dumper = allDumper{}

type allDumper struct{}

func (allDumper) ThreadsToSample(snapshot []Thread) []Thread {
	out := make([]Thread, 0, len(snapshot))
	for _, t := range snapshot {
		if t.Name == WorkerThreadName {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Specific samples threads whose name matches one of the given names,
// case-insensitively. Names that resolve to no live thread are skipped
// without error, the thread may simply not exist yet.
func Specific(names ...string) Dumper {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return specificDumper{names: set}
}

type specificDumper struct {
	names map[string]struct{}
}

func (d specificDumper) ThreadsToSample(snapshot []Thread) []Thread {
	var out []Thread
	for _, t := range snapshot {
		if _, ok := d.names[strings.ToLower(t.Name)]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Regex samples threads whose name matches any of the given patterns.
func Regex(patterns ...string) (Dumper, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return regexDumper{patterns: compiled}, nil
}

type regexDumper struct {
	patterns []*regexp.Regexp
}

func (d regexDumper) ThreadsToSample(snapshot []Thread) []Thread {
	var out []Thread
	for _, t := range snapshot {
		if t.Name == WorkerThreadName {
			continue
		}
		for _, re := range d.patterns {
			if re.MatchString(t.Name) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
