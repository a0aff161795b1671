package element

import (
	"slices"
	"time"
)

// Snapshot is a sealed point-in-time element tree for one process. Elements
// are stored flattened in traversal order; the tree structure is recoverable
// from each element's path. Snapshots are immutable and freely shareable.
type Snapshot struct {
	PID        int       `json:"pid"`
	CapturedAt time.Time `json:"capturedAt"`
	Elements   []Element `json:"elements"`
}

// NewSnapshot seals a snapshot, sorting elements into deterministic path
// order.
func NewSnapshot(pid int, capturedAt time.Time, elems []Element) *Snapshot {
	sorted := slices.Clone(elems)
	slices.SortFunc(sorted, func(a, b Element) int {
		return a.Path.Compare(b.Path)
	})
	return &Snapshot{PID: pid, CapturedAt: capturedAt, Elements: sorted}
}

// Len returns the number of elements in the snapshot.
func (s *Snapshot) Len() int { return len(s.Elements) }

// ByPath returns the element with the given path, if present.
func (s *Snapshot) ByPath(p Path) (Element, bool) {
	// Elements are sorted by path; binary search keeps lookups cheap on
	// large trees.
	i, found := slices.BinarySearchFunc(s.Elements, p, func(e Element, target Path) int {
		return e.Path.Compare(target)
	})
	if !found {
		return Element{}, false
	}
	return s.Elements[i], true
}
