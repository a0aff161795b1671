package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

func testSnapshot() *element.Snapshot {
	return element.NewSnapshot(99, time.Now(), []element.Element{
		{Role: "AXWindow", Title: "Untitled", Bounds: element.Bounds{X: 0, Y: 0, W: 800, H: 600}, Path: element.Path{-1}},
		{Role: "AXButton", Title: "OK", Bounds: element.Bounds{X: 10, Y: 550, W: 80, H: 30}, Path: element.Path{-1, 0}},
		{Role: "AXButton", Title: "Cancel", Bounds: element.Bounds{X: 100, Y: 550, W: 80, H: 30}, Path: element.Path{-1, 1}},
		{Role: "AXTextField", Identifier: "search", Value: "hello world", Bounds: element.Bounds{X: 10, Y: 10, W: 200, H: 24}, Path: element.Path{-1, 2}},
		{Role: "AXStaticText", Value: "3 results", Description: "status line", Bounds: element.Bounds{X: 10, Y: 40, W: 200, H: 16}, Path: element.Path{-1, 3}},
	})
}

func TestFindElements_ByRole(t *testing.T) {
	snap := testSnapshot()

	got := FindElements(snap, Attr{Field: FieldRole, Op: OpEquals, Want: "AXButton"}, 0)

	require.Len(t, got, 2)
	// Deterministic path order.
	assert.Equal(t, "OK", got[0].Title)
	assert.Equal(t, "Cancel", got[1].Title)
}

func TestFindElements_MaxResults(t *testing.T) {
	snap := testSnapshot()

	got := FindElements(snap, Attr{Field: FieldRole, Op: OpEquals, Want: "AXButton"}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "OK", got[0].Title)
}

func TestFindElements_Contains(t *testing.T) {
	snap := testSnapshot()

	got := FindElements(snap, Attr{Field: FieldValue, Op: OpContains, Want: "world"}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Identifier)
}

func TestFindElements_Within(t *testing.T) {
	snap := testSnapshot()

	// Bottom strip of the window catches both buttons.
	got := FindElements(snap, And{
		Attr{Field: FieldRole, Op: OpEquals, Want: "AXButton"},
		Within{Region: element.Bounds{X: 0, Y: 540, W: 800, H: 60}},
	}, 0)
	require.Len(t, got, 2)

	got = FindElements(snap, Within{Region: element.Bounds{X: 0, Y: 0, W: 5, H: 5}}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "AXWindow", got[0].Role)
}

func TestFindElements_BooleanComposition(t *testing.T) {
	snap := testSnapshot()

	got := FindElements(snap, And{
		Attr{Field: FieldRole, Op: OpEquals, Want: "AXButton"},
		Not{Inner: Attr{Field: FieldTitle, Op: OpEquals, Want: "Cancel"}},
	}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "OK", got[0].Title)

	got = FindElements(snap, Or{
		Attr{Field: FieldTitle, Op: OpEquals, Want: "OK"},
		Attr{Field: FieldIdentifier, Op: OpEquals, Want: "search"},
	}, 0)
	require.Len(t, got, 2)
}

func TestFindElement_Unique(t *testing.T) {
	snap := testSnapshot()

	got, err := FindElement(snap, Attr{Field: FieldIdentifier, Op: OpEquals, Want: "search"})
	require.NoError(t, err)
	assert.Equal(t, "AXTextField", got.Role)
}

func TestFindElement_ZeroMatches(t *testing.T) {
	snap := testSnapshot()

	_, err := FindElement(snap, Attr{Field: FieldRole, Op: OpEquals, Want: "AXSlider"})
	require.Error(t, err)
	assert.Equal(t, axerr.KindNotFound, axerr.KindOf(err))
}

func TestFindElement_Ambiguous(t *testing.T) {
	snap := testSnapshot()

	_, err := FindElement(snap, Attr{Field: FieldRole, Op: OpEquals, Want: "AXButton"})
	require.Error(t, err)
	assert.Equal(t, axerr.KindFailedPrecondition, axerr.KindOf(err))
}

func TestSpec_Compile(t *testing.T) {
	snap := testSnapshot()

	sel, err := Spec{Role: "AXButton", Title: "OK"}.Compile()
	require.NoError(t, err)
	got := FindElements(snap, sel, 0)
	require.Len(t, got, 1)

	sel, err = Spec{Any: []Spec{{Title: "OK"}, {Title: "Cancel"}}}.Compile()
	require.NoError(t, err)
	got = FindElements(snap, sel, 0)
	require.Len(t, got, 2)

	sel, err = Spec{Role: "AXButton", Not: &Spec{Title: "OK"}}.Compile()
	require.NoError(t, err)
	got = FindElements(snap, sel, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Cancel", got[0].Title)
}

func TestSpec_CompileErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty", Spec{}},
		{"empty not", Spec{Not: &Spec{}}},
		{"bad path", Spec{Path: "1/x"}},
		{"bad region", Spec{Within: &Region{X: 0, Y: 0, W: -1, H: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Compile()
			require.Error(t, err)
			assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))
		})
	}
}

func TestSpec_PathPredicate(t *testing.T) {
	snap := testSnapshot()

	sel, err := Spec{Path: "-1/2"}.Compile()
	require.NoError(t, err)
	got, err := FindElement(snap, sel)
	require.NoError(t, err)
	assert.Equal(t, "search", got.Identifier)
}
