package element

import (
	"slices"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultBoundsTolerance is the calibrated per-axis tolerance, in points,
// used when matching elements across snapshots.
const DefaultBoundsTolerance = 5.0

// AttributeChange records one attribute transition on a matched element.
// Delta holds a compact character-level delta for long textual values.
type AttributeChange struct {
	Name   string `json:"name"`
	Before string `json:"before"`
	After  string `json:"after"`
	Delta  string `json:"delta,omitempty"`
}

// ModifiedElement pairs the after-state of a matched element with the
// attribute changes that made it count as modified.
type ModifiedElement struct {
	Element Element           `json:"element"`
	Changes []AttributeChange `json:"changes"`
}

// TraversalDiff is the three-way delta between two snapshots of the same
// process. The sets are disjoint and each is sorted by path.
type TraversalDiff struct {
	Added    []Element         `json:"added"`
	Removed  []Element         `json:"removed"`
	Modified []ModifiedElement `json:"modified"`
}

// Empty reports whether the diff carries no changes.
func (d *TraversalDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Diff computes the TraversalDiff from before to after using the default
// bounds tolerance. This is the only diff algorithm in the repository; every
// surface that reports element deltas goes through it.
func Diff(before, after *Snapshot) *TraversalDiff {
	return DiffWithTolerance(before, after, DefaultBoundsTolerance)
}

// DiffWithTolerance computes the TraversalDiff with an explicit bounds
// tolerance. An element in before matches an element in after when the roles
// are equal and the identifier matches, or the title matches, or the bounds
// agree within tol on each axis. Unmatched before-elements are removed,
// unmatched after-elements are added, and matched pairs with any
// non-positional attribute change are modified.
func DiffWithTolerance(before, after *Snapshot, tol float64) *TraversalDiff {
	diff := &TraversalDiff{}
	if before == nil {
		before = &Snapshot{}
	}
	if after == nil {
		after = &Snapshot{}
	}

	matchedAfter := make([]bool, len(after.Elements))

	// Snapshot elements are already in path order, so a first-match scan is
	// deterministic.
	for i := range before.Elements {
		b := &before.Elements[i]
		matched := -1
		for j := range after.Elements {
			if matchedAfter[j] {
				continue
			}
			if SameIdentity(b, &after.Elements[j], tol) {
				matched = j
				break
			}
		}
		if matched == -1 {
			diff.Removed = append(diff.Removed, b.Clone())
			continue
		}
		matchedAfter[matched] = true
		a := &after.Elements[matched]
		if !attrsEqual(b, a) {
			diff.Modified = append(diff.Modified, ModifiedElement{
				Element: a.Clone(),
				Changes: attributeChanges(b, a),
			})
		}
	}

	for j := range after.Elements {
		if !matchedAfter[j] {
			diff.Added = append(diff.Added, after.Elements[j].Clone())
		}
	}

	slices.SortFunc(diff.Added, func(a, b Element) int { return a.Path.Compare(b.Path) })
	slices.SortFunc(diff.Removed, func(a, b Element) int { return a.Path.Compare(b.Path) })
	slices.SortFunc(diff.Modified, func(a, b ModifiedElement) int {
		return a.Element.Path.Compare(b.Element.Path)
	})

	return diff
}

// attributeChanges lists the non-positional attribute transitions between a
// matched pair.
func attributeChanges(before, after *Element) []AttributeChange {
	var changes []AttributeChange
	add := func(name, b, a string) {
		if b != a {
			changes = append(changes, AttributeChange{Name: name, Before: b, After: a})
		}
	}

	add("subrole", before.Subrole, after.Subrole)
	add("title", before.Title, after.Title)
	if before.Value != after.Value {
		changes = append(changes, AttributeChange{
			Name:   "value",
			Before: before.Value,
			After:  after.Value,
			Delta:  valueDelta(before.Value, after.Value),
		})
	}
	add("description", before.Description, after.Description)
	add("help", before.Help, after.Help)
	add("identifier", before.Identifier, after.Identifier)
	add("enabled", boolString(before.Enabled), boolString(after.Enabled))
	add("focused", boolString(before.Focused), boolString(after.Focused))
	add("selected", boolString(before.Selected), boolString(after.Selected))
	if !slices.Equal(before.Actions, after.Actions) {
		changes = append(changes, AttributeChange{
			Name:   "actions",
			Before: joinActions(before.Actions),
			After:  joinActions(after.Actions),
		})
	}
	return changes
}

// valueDelta renders a compact character-level delta so watch subscribers
// can show what changed inside long text values without the full strings.
func valueDelta(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	return dmp.DiffToDelta(diffs)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func joinActions(actions []string) string {
	out := ""
	for i, a := range actions {
		if i > 0 {
			out += ","
		}
		out += a
	}
	return out
}
