// Package report turns a stopped profiler session into an immutable,
// serializable report. Ordering and parent-call merging are applied while
// traversing; the session's frozen trees are never mutated, so several
// reports with different options can be built from the same session.
package report

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flarelabs/flare/internal/calltree"
	"github.com/flarelabs/flare/internal/errorutil"
	"github.com/flarelabs/flare/internal/frame"
	"github.com/flarelabs/flare/internal/sampler"
	"github.com/flarelabs/flare/internal/timeutil"
)

// Version identifies the logical report schema.
const Version = "flare/1"

// ContentType tags serialized report payloads for the upload collaborator.
const ContentType = "application/x-flare-profile"

// ThreadOrder selects how thread groups and their children are ordered.
type ThreadOrder string

const (
	OrderByName ThreadOrder = "by_name"
	OrderByTime ThreadOrder = "by_time"
)

type (
	// Options configure a single report build.
	Options struct {
		Order ThreadOrder
		// Comment is embedded verbatim; escaping is the serialization
		// collaborator's concern.
		Comment string
		// MergeParentCalls collapses direct self-recursion: a child whose
		// frame equals its parent's folds into the parent. Distinct
		// ancestor chains always stay distinct.
		MergeParentCalls bool
		Submitter        *Submitter
	}

	Submitter struct {
		Name string    `json:"name"`
		ID   uuid.UUID `json:"id"`
	}

	Platform struct {
		OS        string `json:"os"`
		Arch      string `json:"arch"`
		GoVersion string `json:"go_version"`
		Hostname  string `json:"hostname,omitempty"`
	}

	Metadata struct {
		StartTime   timeutil.Time `json:"start_time"`
		DurationMS  uint64        `json:"duration_ms"`
		IntervalMS  float64       `json:"interval_ms"`
		Backend     string        `json:"backend"`
		Order       ThreadOrder   `json:"order"`
		Comment     string        `json:"comment,omitempty"`
		Submitter   *Submitter    `json:"submitter,omitempty"`
		SampleCount uint64        `json:"sample_count"`
		Platform    Platform      `json:"platform"`
	}

	// ThreadEntry is the call tree of one thread group.
	ThreadEntry struct {
		Name     string        `json:"name"`
		Count    uint64        `json:"count"`
		TimeNS   uint64        `json:"time_ns"`
		Children []*FrameEntry `json:"children,omitempty"`
	}

	FrameEntry struct {
		Name     string        `json:"name"`
		Package  string        `json:"package,omitempty"`
		Line     uint32        `json:"line,omitempty"`
		Count    uint64        `json:"count"`
		TimeNS   uint64        `json:"time_ns"`
		Children []*FrameEntry `json:"children,omitempty"`
	}

	Report struct {
		Version  string         `json:"version"`
		Metadata Metadata       `json:"metadata"`
		Threads  []*ThreadEntry `json:"threads"`
	}
)

// Build assembles a report from a stopped session. Requesting one from a
// session in any other state is a programming error and fails fast with
// errorutil.ErrNotStopped.
func Build(s *sampler.Sampler, opts Options) (*Report, error) {
	if s.State() != sampler.StateStopped {
		return nil, errorutil.ErrNotStopped
	}
	if opts.Order == "" {
		opts.Order = OrderByName
	}

	disambiguator := frame.NewDisambiguator()
	trees := s.Trees()
	type groupView struct {
		name string
		root *calltree.Node
		view *view
	}
	groups := make([]groupView, 0, len(trees))
	for name, root := range trees {
		groups = append(groups, groupView{name: name, root: root, view: buildView(root, opts.MergeParentCalls)})
	}
	// Register every frame before rendering so that a collision discovered
	// anywhere in the report upgrades all colliding entries, not only the
	// ones traversed after it.
	for _, g := range groups {
		register(g.view, disambiguator)
	}
	threads := make([]*ThreadEntry, 0, len(groups))
	for _, g := range groups {
		threads = append(threads, &ThreadEntry{
			Name:     g.name,
			Count:    g.root.Count,
			TimeNS:   g.root.TimeNS,
			Children: entries(g.view, opts, disambiguator),
		})
	}
	sortThreads(threads, opts.Order)

	hostname, _ := os.Hostname()
	return &Report{
		Version: Version,
		Metadata: Metadata{
			StartTime:   timeutil.Time(s.StartTime()),
			DurationMS:  uint64(s.Duration() / time.Millisecond),
			IntervalMS:  float64(s.Config().Interval) / float64(time.Millisecond),
			Backend:     s.Backend(),
			Order:       opts.Order,
			Comment:     opts.Comment,
			Submitter:   opts.Submitter,
			SampleCount: s.SampleCount(),
			Platform: Platform{
				OS:        runtime.GOOS,
				Arch:      runtime.GOARCH,
				GoVersion: runtime.Version(),
				Hostname:  hostname,
			},
		},
		Threads: threads,
	}, nil
}

// view is the merged traversal shape of a subtree. Merging happens here, on
// the way out, so the stored tree keeps full path fidelity.
type view struct {
	frame    frame.Frame
	count    uint64
	timeNS   uint64
	children map[uint64]*view
	order    []uint64
}

func buildView(root *calltree.Node, merge bool) *view {
	v := &view{frame: root.Frame, children: make(map[uint64]*view)}
	addChildren(v, root, merge)
	return v
}

func register(v *view, d *frame.Disambiguator) {
	for _, id := range v.order {
		cv := v.children[id]
		d.Display(cv.frame)
		register(cv, d)
	}
}

func addChildren(v *view, n *calltree.Node, merge bool) {
	for _, c := range n.Children() {
		if merge && c.Frame.ID() == v.frame.ID() && v.frame.Function != "" {
			// Direct self-recursion folds into the parent; grandchildren
			// are lifted and re-merged.
			v.count += c.Count
			v.timeNS += c.TimeNS
			addChildren(v, c, merge)
			continue
		}
		id := c.Frame.ID()
		cv, ok := v.children[id]
		if !ok {
			cv = &view{frame: c.Frame, children: make(map[uint64]*view)}
			v.children[id] = cv
			v.order = append(v.order, id)
		}
		cv.count += c.Count
		cv.timeNS += c.TimeNS
		addChildren(cv, c, merge)
	}
}

func entries(v *view, opts Options, d *frame.Disambiguator) []*FrameEntry {
	if len(v.order) == 0 {
		return nil
	}
	out := make([]*FrameEntry, 0, len(v.order))
	for _, id := range v.order {
		cv := v.children[id]
		out = append(out, &FrameEntry{
			Name:     d.Display(cv.frame),
			Package:  cv.frame.Package,
			Line:     cv.frame.Line,
			Count:    cv.count,
			TimeNS:   cv.timeNS,
			Children: entries(cv, opts, d),
		})
	}
	sortFrames(out, opts.Order)
	return out
}

func sortThreads(threads []*ThreadEntry, order ThreadOrder) {
	sort.SliceStable(threads, func(i, j int) bool {
		if order == OrderByTime {
			if threads[i].TimeNS != threads[j].TimeNS {
				return threads[i].TimeNS > threads[j].TimeNS
			}
			if threads[i].Count != threads[j].Count {
				return threads[i].Count > threads[j].Count
			}
		}
		return threads[i].Name < threads[j].Name
	})
}

func sortFrames(frames []*FrameEntry, order ThreadOrder) {
	sort.SliceStable(frames, func(i, j int) bool {
		if order == OrderByTime {
			if frames[i].TimeNS != frames[j].TimeNS {
				return frames[i].TimeNS > frames[j].TimeNS
			}
			if frames[i].Count != frames[j].Count {
				return frames[i].Count > frames[j].Count
			}
		}
		return frames[i].Name < frames[j].Name
	})
}
