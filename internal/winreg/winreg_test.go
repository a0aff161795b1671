package winreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/ax/axtest"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

func newTestApp(pid int) *axtest.App {
	win := axtest.NewNode("AXWindow", "Main Window").WithFrame(100, 100, 640, 480)
	win.WindowID = 501
	win.WithRefAttr("AXCloseButton",
		axtest.NewNode("AXButton", "close").WithActions("AXPress"))

	root := axtest.NewNode("AXApplication", "TestApp")
	root.Windows = []*axtest.Node{win}
	root.Main = win
	return &axtest.App{
		Info: ax.AppInfo{PID: pid, BundleID: "com.example.test", Name: "TestApp", Policy: ax.PolicyRegular},
		Root: root,
	}
}

func TestList_EnumerationAuthority(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	records, err := reg.List()
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, uint32(501), rec.WindowID)
	assert.Equal(t, 10, rec.OwnerPID)
	assert.Equal(t, "com.example.test", rec.BundleID)
	assert.True(t, rec.OnScreen)
	assert.False(t, rec.AXAvailable, "List must not consult accessibility")
}

func TestGet_MergesAXAuthority(t *testing.T) {
	fake := axtest.NewFake()
	app := newTestApp(10)
	app.Root.Windows[0].With(ax.AttrMinimized, "false").With(ax.AttrMain, "true")
	fake.AddApp(app)

	reg := NewRegistry(fake)
	rec, err := reg.Get(10, 501)
	require.NoError(t, err)

	assert.True(t, rec.AXAvailable)
	assert.Equal(t, "Main Window", rec.Title)
	assert.Equal(t, element.Bounds{X: 100, Y: 100, W: 640, H: 480}, rec.Bounds)
	assert.True(t, rec.Focused)
	assert.True(t, rec.Visible)
}

func TestGet_UnknownWindow(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	_, err := reg.Get(10, 999)
	require.Error(t, err)
	assert.Equal(t, axerr.KindNotFound, axerr.KindOf(err))
}

func TestResolve_PrivateSymbolPath(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err)
	assert.Equal(t, uint32(501), res.Record.WindowID)
	assert.True(t, res.Record.AXAvailable)
}

func TestResolve_HeuristicFallback(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))
	fake.SetWindowIDAvailable(false)

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err, "title + bounds heuristic should bridge without the private symbol")
	assert.Equal(t, "Main Window", res.Record.Title)
}

func TestResolve_StalenessRetryByTitle(t *testing.T) {
	fake := axtest.NewFake()
	app := newTestApp(10)
	fake.AddApp(app)
	fake.SetWindowIDAvailable(false)

	reg := NewRegistry(fake)
	// Prime the enumeration cache, then move the window far beyond the
	// heuristic distance so the cached bounds are stale.
	_, err := reg.List()
	require.NoError(t, err)
	app.Root.Windows[0].Frame = element.Bounds{X: 2000, Y: 2000, W: 640, H: 480}

	res, err := reg.Resolve(10, 501)
	require.NoError(t, err, "title rematch should survive stale enumeration bounds")
	assert.Equal(t, "Main Window", res.Record.Title)
}

func TestSetBounds_RoundTrip(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err)

	b1 := element.Bounds{X: 50, Y: 60, W: 800, H: 600}
	require.NoError(t, reg.SetBounds(res, b1))

	rec, err := reg.Get(10, 501)
	require.NoError(t, err)
	assert.Equal(t, b1, rec.Bounds)
}

func TestSetMinimized_AffectsVisible(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err)

	require.NoError(t, reg.SetMinimized(res, true))

	rec, err := reg.Get(10, 501)
	require.NoError(t, err)
	assert.True(t, rec.Minimized)
	assert.False(t, rec.Visible, "visible = isOnScreen && !minimized && !hidden")
}

func TestClose_PressesCloseButton(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err)

	require.NoError(t, reg.Close(res))
	assert.Equal(t, []string{"AXPress"}, fake.Performed)
}

func TestClose_NoCloseButton(t *testing.T) {
	fake := axtest.NewFake()
	app := newTestApp(10)
	app.Root.Windows[0].RefAttrs = nil
	fake.AddApp(app)

	reg := NewRegistry(fake)
	res, err := reg.Resolve(10, 501)
	require.NoError(t, err)

	err = reg.Close(res)
	require.Error(t, err)
	assert.Equal(t, axerr.KindUnavailable, axerr.KindOf(err))
}

func TestList_CachesBriefly(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(newTestApp(10))

	reg := NewRegistry(fake)
	first, err := reg.List()
	require.NoError(t, err)

	// A second window appears; the cached list hides it until invalidated.
	win2 := axtest.NewNode("AXWindow", "Second").WithFrame(0, 0, 100, 100)
	win2.WindowID = 502
	app := newTestApp(11)
	app.Info.PID = 11
	app.Root.Windows = append(app.Root.Windows, win2)
	fake.AddApp(app)

	cached, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, cached, len(first))

	reg.Invalidate()
	fresh, err := reg.List()
	require.NoError(t, err)
	assert.Greater(t, len(fresh), len(first))
}
