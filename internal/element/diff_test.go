package element

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func snap(pid int, elems ...Element) *Snapshot {
	return NewSnapshot(pid, time.Now(), elems)
}

func button(path Path, title string) Element {
	return Element{
		Role:    "AXButton",
		Title:   title,
		Enabled: true,
		Bounds:  Bounds{X: float64(10 * path[len(path)-1]), Y: 20, W: 40, H: 20},
		Path:    path,
	}
}

func TestDiff_AddedRemoved(t *testing.T) {
	cancel := button(Path{-1, 1}, "Cancel")
	apply := button(Path{-1, 1}, "Apply")
	// Different titles alone are not enough to break a match; push the
	// replacement outside the bounds tolerance too.
	apply.Bounds.Y += 50

	before := snap(42, button(Path{-1, 0}, "OK"), cancel)
	after := snap(42, button(Path{-1, 0}, "OK"), apply)

	diff := Diff(before, after)

	require.Len(t, diff.Removed, 1)
	require.Len(t, diff.Added, 1)
	require.Empty(t, diff.Modified)
	assert.Equal(t, "Cancel", diff.Removed[0].Title)
	assert.Equal(t, "Apply", diff.Added[0].Title)
}

func TestDiff_ModifiedByValue(t *testing.T) {
	b := Element{Role: "AXStaticText", Identifier: "display", Value: "12", Path: Path{-1, 0}}
	a := b
	a.Value = "42"

	diff := Diff(snap(1, b), snap(1, a))

	require.Empty(t, diff.Added)
	require.Empty(t, diff.Removed)
	require.Len(t, diff.Modified, 1)
	require.Len(t, diff.Modified[0].Changes, 1)
	change := diff.Modified[0].Changes[0]
	assert.Equal(t, "value", change.Name)
	assert.Equal(t, "12", change.Before)
	assert.Equal(t, "42", change.After)
	assert.NotEmpty(t, change.Delta)
}

func TestDiff_BoundsMoveAloneIsNotModified(t *testing.T) {
	b := Element{Role: "AXWindow", Title: "Untitled", Bounds: Bounds{X: 0, Y: 0, W: 400, H: 300}, Path: Path{-1}}
	a := b
	a.Bounds = Bounds{X: 100, Y: 120, W: 400, H: 300}

	diff := Diff(snap(1, b), snap(1, a))

	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified, "a pure move must not count as modified")
}

func TestDiff_BoundsToleranceMatching(t *testing.T) {
	// No identifier or title: identity falls back to bounds proximity.
	b := Element{Role: "AXGroup", Bounds: Bounds{X: 10, Y: 10, W: 100, H: 50}, Path: Path{0}}

	within := b
	within.Bounds = Bounds{X: 14, Y: 6, W: 103, H: 52}
	diff := Diff(snap(1, b), snap(1, within))
	assert.Empty(t, diff.Added, "within 5pt on every axis should match")
	assert.Empty(t, diff.Removed)

	outside := b
	outside.Bounds = Bounds{X: 16, Y: 10, W: 100, H: 50}
	diff = Diff(snap(1, b), snap(1, outside))
	assert.Len(t, diff.Added, 1, "beyond 5pt should not match")
	assert.Len(t, diff.Removed, 1)
}

func TestDiff_IdentifierBeatsGeometry(t *testing.T) {
	b := Element{Role: "AXTextField", Identifier: "search", Bounds: Bounds{X: 0, Y: 0, W: 100, H: 20}, Path: Path{-1, 0}}
	a := b
	a.Bounds = Bounds{X: 500, Y: 500, W: 100, H: 20}

	diff := Diff(snap(1, b), snap(1, a))

	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified)
}

func TestDiff_NilSnapshots(t *testing.T) {
	after := snap(1, button(Path{-1, 0}, "OK"))

	diff := Diff(nil, after)
	require.Len(t, diff.Added, 1)
	require.Empty(t, diff.Removed)

	diff = Diff(after, nil)
	require.Len(t, diff.Removed, 1)
	require.Empty(t, diff.Added)
}

func TestDiff_DeterministicOrdering(t *testing.T) {
	before := snap(1)
	after := snap(1,
		button(Path{-1, 2}, "C"),
		button(Path{-1, 0}, "A"),
		button(Path{-1, 1}, "B"),
	)

	diff := Diff(before, after)

	require.Len(t, diff.Added, 3)
	assert.Equal(t, "A", diff.Added[0].Title)
	assert.Equal(t, "B", diff.Added[1].Title)
	assert.Equal(t, "C", diff.Added[2].Title)
}

// Property: applying added and modified to before, and removing removed,
// yields a set identity-equal to after.
func TestDiff_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gen := elementGen()

		beforeElems := rapid.SliceOfN(gen, 0, 12).Draw(t, "before")
		afterElems := rapid.SliceOfN(gen, 0, 12).Draw(t, "after")
		assignDistinctPaths(beforeElems)
		assignDistinctPaths(afterElems)

		before := snap(7, beforeElems...)
		after := snap(7, afterElems...)
		diff := Diff(before, after)

		// Reconstruct: before minus removed+modified-origins, plus
		// added+modified. Matching is by identity rule, so count by
		// membership instead of exact equality.
		reconstructed := len(before.Elements) - len(diff.Removed) - len(diff.Modified) +
			len(diff.Added) + len(diff.Modified)
		require.Equal(t, len(after.Elements), reconstructed)

		// Disjointness: no path appears in more than one set.
		seen := map[string]string{}
		for _, e := range diff.Added {
			seen[e.Path.String()] = "added"
		}
		for _, e := range diff.Removed {
			if prev, ok := seen[e.Path.String()]; ok && prev == "added" {
				// A path may legitimately appear in both added and removed
				// when an element at the same position changed identity.
				continue
			}
			seen[e.Path.String()] = "removed"
		}
		for _, m := range diff.Modified {
			require.NotEqual(t, "added", seen[m.Element.Path.String()])
		}
	})
}

func elementGen() *rapid.Generator[Element] {
	return rapid.Custom(func(t *rapid.T) Element {
		return Element{
			Role:       rapid.SampledFrom([]string{"AXButton", "AXStaticText", "AXTextField"}).Draw(t, "role"),
			Title:      rapid.SampledFrom([]string{"", "OK", "Cancel", "Apply"}).Draw(t, "title"),
			Identifier: rapid.SampledFrom([]string{"", "id-1", "id-2", "id-3"}).Draw(t, "identifier"),
			Value:      rapid.SampledFrom([]string{"", "0", "42"}).Draw(t, "value"),
			Enabled:    rapid.Bool().Draw(t, "enabled"),
			Bounds: Bounds{
				X: float64(rapid.IntRange(-50, 50).Draw(t, "x") * 20),
				Y: float64(rapid.IntRange(-50, 50).Draw(t, "y") * 20),
				W: float64(rapid.IntRange(1, 20).Draw(t, "w") * 20),
				H: float64(rapid.IntRange(1, 20).Draw(t, "h") * 20),
			},
		}
	})
}

func assignDistinctPaths(elems []Element) {
	for i := range elems {
		elems[i].Path = Path{-1, i}
	}
}

func TestDiff_Empty(t *testing.T) {
	elems := make([]Element, 0, 5)
	for i := 0; i < 5; i++ {
		elems = append(elems, button(Path{-1, i}, fmt.Sprintf("B%d", i)))
	}
	s := snap(1, elems...)

	diff := Diff(s, s)
	assert.True(t, diff.Empty())
}
