package frame

import (
	"fmt"
	"path"
	"sync"
)

// Disambiguator resolves display names for frames. Most functions keep their
// bare short name; only when two distinct functions in the same package share
// a short name (closures, generic instantiations) does the colliding set get
// a source-file hint appended. Resolution is memoized per (package, name).
type Disambiguator struct {
	mu   sync.Mutex
	seen map[string][]variant
}

type variant struct {
	file    string
	display string
}

func NewDisambiguator() *Disambiguator {
	return &Disambiguator{seen: make(map[string][]variant)}
}

// Display returns a stable human-readable name for the frame. The first
// function observed under a (package, name) key keeps the bare name; a later
// collision upgrades every variant under that key to the hinted form.
func (d *Disambiguator) Display(f Frame) string {
	base := f.BaseName()
	key := f.Package + "." + base

	d.mu.Lock()
	defer d.mu.Unlock()

	variants := d.seen[key]
	for i := range variants {
		if variants[i].file == f.File {
			return variants[i].display
		}
	}

	v := variant{file: f.File, display: base}
	if len(variants) > 0 {
		// A collision upgrades previously bare entries too.
		for i := range variants {
			variants[i].display = hinted(base, variants[i].file)
		}
		v.display = hinted(base, f.File)
	}
	d.seen[key] = append(variants, v)
	return v.display
}

func hinted(base, file string) string {
	if file == "" {
		return base
	}
	return fmt.Sprintf("%s (%s)", base, path.Base(file))
}
