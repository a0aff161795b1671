package traversal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/ax/axtest"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

func TestTraverse_WalksWindowsBeforeChildren(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))

	snap, err := NewEngine(fake).Traverse(context.Background(), 101, ModePassive, false)
	require.NoError(t, err)

	// Root + window + display + 4 buttons.
	require.Equal(t, 7, snap.Len())

	win, ok := snap.ByPath(element.Path{-1})
	require.True(t, ok)
	assert.Equal(t, "AXWindow", win.Role)
	assert.Equal(t, "Calculator", win.Title)

	display, ok := snap.ByPath(element.Path{-1, 0})
	require.True(t, ok)
	assert.Equal(t, "display", display.Identifier)
	assert.Equal(t, "0", display.Value)
}

func TestTraverse_MainWindowNotDuplicated(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))

	snap, err := NewEngine(fake).Traverse(context.Background(), 101, ModePassive, false)
	require.NoError(t, err)

	// The main window already appears in the windows list; the visited set
	// must keep the -10000 slot from duplicating its subtree.
	windows := 0
	for _, e := range snap.Elements {
		if e.Role == "AXWindow" {
			windows++
		}
	}
	assert.Equal(t, 1, windows)

	_, ok := snap.ByPath(element.Path{element.MainWindowIndex})
	assert.False(t, ok)
}

func TestTraverse_MainWindowReservedIndex(t *testing.T) {
	// A main window absent from AXWindows gets the reserved index.
	main := axtest.NewNode("AXWindow", "Floating").WithFrame(0, 0, 100, 100)
	root := axtest.NewNode("AXApplication", "App")
	root.Main = main

	fake := axtest.NewFake()
	fake.AddApp(&axtest.App{Info: ax.AppInfo{PID: 7, Name: "App"}, Root: root})

	snap, err := NewEngine(fake).Traverse(context.Background(), 7, ModePassive, false)
	require.NoError(t, err)

	got, ok := snap.ByPath(element.Path{element.MainWindowIndex})
	require.True(t, ok)
	assert.Equal(t, "Floating", got.Title)
}

func TestTraverse_PathUniqueness(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))

	snap, err := NewEngine(fake).Traverse(context.Background(), 101, ModePassive, false)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, e := range snap.Elements {
		p := e.Path.String()
		require.False(t, seen[p], "duplicate path %q", p)
		seen[p] = true
	}
}

func TestTraverse_CycleGuard(t *testing.T) {
	a := axtest.NewNode("AXGroup", "a")
	b := axtest.NewNode("AXGroup", "b")
	a.WithChildren(b)
	b.WithChildren(a) // cycle

	root := axtest.NewNode("AXApplication", "App").WithChildren(a)
	fake := axtest.NewFake()
	fake.AddApp(&axtest.App{Info: ax.AppInfo{PID: 8, Name: "App"}, Root: root})

	snap, err := NewEngine(fake).Traverse(context.Background(), 8, ModePassive, false)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
}

func TestTraverse_PassiveNeverActivates(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	other := axtest.NewCalculatorApp(202)
	other.Info.Name = "TextEdit"
	other.Info.BundleID = "com.apple.TextEdit"
	fake.AddApp(other)
	fake.SetFrontmost(202)

	_, err := NewEngine(fake).Traverse(context.Background(), 101, ModePassive, false)
	require.NoError(t, err)

	assert.Empty(t, fake.Activations, "passive traversal must not activate")
	front, err := fake.FrontmostPID()
	require.NoError(t, err)
	assert.Equal(t, 202, front)
}

func TestTraverse_ActiveActivatesOnceWithOptIn(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	fake.SetFrontmost(202)

	_, err := NewEngine(fake).Traverse(context.Background(), 101, ModeActive, true)
	require.NoError(t, err)
	assert.Equal(t, []int{101}, fake.Activations)

	// Already frontmost: no second activation.
	fake.Activations = nil
	_, err = NewEngine(fake).Traverse(context.Background(), 101, ModeActive, true)
	require.NoError(t, err)
	assert.Empty(t, fake.Activations)
}

func TestTraverse_ActiveWithoutOptInDoesNotActivate(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	fake.SetFrontmost(202)

	_, err := NewEngine(fake).Traverse(context.Background(), 101, ModeActive, false)
	require.NoError(t, err)
	assert.Empty(t, fake.Activations)
}

func TestTraverse_DeadPID(t *testing.T) {
	fake := axtest.NewFake()

	_, err := NewEngine(fake).Traverse(context.Background(), 999, ModePassive, false)
	require.Error(t, err)
	assert.Equal(t, axerr.KindNotFound, axerr.KindOf(err))
}

func TestTraverse_PermissionDenied(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	fake.SetTrusted(false)

	_, err := NewEngine(fake).Traverse(context.Background(), 101, ModePassive, false)
	require.Error(t, err)
	assert.Equal(t, axerr.KindPermissionDenied, axerr.KindOf(err))
}

func TestTraverse_ElementBound(t *testing.T) {
	root := axtest.NewNode("AXApplication", "App")
	for i := 0; i < 50; i++ {
		root.WithChildren(axtest.NewNode("AXGroup", ""))
	}
	fake := axtest.NewFake()
	fake.AddApp(&axtest.App{Info: ax.AppInfo{PID: 5, Name: "App"}, Root: root})

	engine := NewEngine(fake)
	engine.SetMaxElements(10)

	snap, err := engine.Traverse(context.Background(), 5, ModePassive, false)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Len())
}

func TestTraverse_CancelledContext(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(fake).Traverse(ctx, 101, ModePassive, false)
	require.Error(t, err)
	assert.Equal(t, axerr.KindDeadlineExceeded, axerr.KindOf(err))
}
