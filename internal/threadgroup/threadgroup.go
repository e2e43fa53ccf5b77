// Package threadgroup maps sampled thread names to the logical group their
// samples aggregate under.
package threadgroup

import "regexp"

// Grouper maps a thread name to its group key. The set of implementations is
// closed: AsOne, ByName and ByPool cover every supported grouping mode.
type Grouper interface {
	Group(threadName string) string
}

var (
	// AsOne groups every thread under a single key.
	AsOne Grouper = asOne{}
	// ByName gives every distinct thread name its own group.
	ByName Grouper = byName{}
	// ByPool groups threads by their pool name, stripping a trailing
	// "-<digits>" or "#<digits>" worker-index suffix: "Netty IO #3" and
	// "Netty IO #7" both map to "Netty IO". Names without a recognizable
	// suffix form their own group.
	ByPool Grouper = byPool{}
)

type asOne struct{}

func (asOne) Group(string) string { return "all" }

type byName struct{}

func (byName) Group(name string) string { return name }

type byPool struct{}

var poolSuffix = regexp.MustCompile(`^(.*?) *[-#] *\d+$`)

func (byPool) Group(name string) string {
	m := poolSuffix.FindStringSubmatch(name)
	if m == nil || m[1] == "" {
		return name
	}
	return m[1]
}
