package frame

import (
	"fmt"
	"hash"
	"hash/fnv"
	"path"
	"strings"
)

type (
	// Frame identifies one call site in a sampled stack.
	Frame struct {
		Package  string `json:"package,omitempty"`
		Function string `json:"function"`
		File     string `json:"file,omitempty"`
		Line     uint32 `json:"line,omitempty"`
	}
)

// ID returns a stable identity for the frame, used as the child key in call
// trees. Line numbers are excluded so that samples taken at different lines
// of the same function aggregate into one node.
func (f Frame) ID() uint64 {
	h := fnv.New64a()
	f.WriteToHash(h)
	return h.Sum64()
}

func (f Frame) WriteToHash(h hash.Hash) {
	if f.Package == "" && f.Function == "" {
		h.Write([]byte("-"))
		return
	}
	h.Write([]byte(f.Package))
	h.Write([]byte(f.Function))
	h.Write([]byte(f.File))
}

// BaseName returns the function name without the package path qualifier the
// runtime prepends, e.g. "(*Server).Serve" for "net/http.(*Server).Serve".
func (f Frame) BaseName() string {
	name := f.Function
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 && i+1 < len(name) {
		name = name[i+1:]
	}
	if name == "" {
		return f.Function
	}
	return name
}

// PackageBaseName returns the basename of the package if package is a path.
func (f Frame) PackageBaseName() string {
	if f.Package == "" {
		return ""
	}
	return path.Base(f.Package)
}

func (f Frame) String() string {
	if f.File == "" {
		return fmt.Sprintf("%s.%s", f.PackageBaseName(), f.BaseName())
	}
	return fmt.Sprintf("%s.%s (%s:%d)", f.PackageBaseName(), f.BaseName(), path.Base(f.File), f.Line)
}
