// Package ax wraps the host accessibility, window-enumeration,
// input-synthesis, application-lifecycle, and pasteboard APIs behind one
// interface. The darwin implementation is cgo; everything else gets a stub
// so the pure packages build and test on any platform.
//
// Every method that touches the OS must run on the process's UI thread; the
// coordinator owns that dispatch (see internal/ax/mainthread). Methods here
// are not safe to call from arbitrary goroutines on darwin.
package ax

import (
	"context"
	"time"

	"github.com/zjrosen/axd/internal/element"
)

// ElemRef is an opaque handle to a live accessibility element. Handles are
// owned by the caller and must be released exactly once.
type ElemRef any

// Standard accessibility attribute names read during traversal.
const (
	AttrRole        = "AXRole"
	AttrSubrole     = "AXSubrole"
	AttrTitle       = "AXTitle"
	AttrValue       = "AXValue"
	AttrDescription = "AXDescription"
	AttrHelp        = "AXHelp"
	AttrIdentifier  = "AXIdentifier"
	AttrEnabled     = "AXEnabled"
	AttrFocused     = "AXFocused"
	AttrSelected    = "AXSelected"
	AttrMinimized   = "AXMinimized"
	AttrHidden      = "AXHidden"
	AttrMain        = "AXMain"
)

// Policy is an application's activation policy.
type Policy int

const (
	// PolicyRegular applications appear in the Dock and can be activated.
	PolicyRegular Policy = iota
	// PolicyAccessory applications have no Dock presence.
	PolicyAccessory
	// PolicyProhibited applications are background-only.
	PolicyProhibited
)

// AppInfo describes a running application.
type AppInfo struct {
	PID        int
	BundleID   string
	Name       string
	Policy     Policy
	LaunchedAt time.Time
	Frontmost  bool
}

// WindowInfo is the enumeration-authority view of one on-screen window.
// These fields come from the global read-only window list and may lag the
// accessibility truth by tens of milliseconds.
type WindowInfo struct {
	WindowID  uint32
	OwnerPID  int
	OwnerName string
	ZIndex    int
	OnScreen  bool
	Bounds    element.Bounds
	Title     string
}

// Shim is the single seam between the core and the operating system.
type Shim interface {
	// Trusted reports whether accessibility permission has been granted.
	Trusted() bool

	// AppElement creates the accessibility root for a process.
	AppElement(pid int) (ElemRef, error)
	// Release frees a handle. Safe on nil.
	Release(ref ElemRef)
	// RefToken returns a process-unique identity token for the element
	// behind the handle, used by traversal's visited set.
	RefToken(ref ElemRef) uint64

	// Attrs reads multiple attributes in one batched IPC round trip,
	// stringifying every scalar kind (string, number, boolean, date, and
	// structured accessibility values). Missing attributes are absent from
	// the map, never an error.
	Attrs(ref ElemRef, names []string) (map[string]string, error)
	// Attr is the single-attribute fallback path.
	Attr(ref ElemRef, name string) (string, error)
	// AttrRef reads an element-valued attribute (AXMainWindow,
	// AXCloseButton, AXFocusedUIElement, ...). Returns (nil, nil) when the
	// attribute has no value. The caller releases the handle.
	AttrRef(ref ElemRef, name string) (ElemRef, error)
	// Frame reads the element's bounds in Global Display Coordinates.
	Frame(ref ElemRef) (element.Bounds, error)
	// SetFrame moves and resizes a window element.
	SetFrame(ref ElemRef, b element.Bounds) error

	// Children returns child handles; the caller releases each.
	Children(ref ElemRef) ([]ElemRef, error)
	// WindowsOf returns the window handles of an application element.
	WindowsOf(ref ElemRef) ([]ElemRef, error)
	// MainWindowOf returns the application's main window handle, or
	// (nil, nil) when there is none.
	MainWindowOf(ref ElemRef) (ElemRef, error)

	// Actions lists the accessibility actions the element supports.
	Actions(ref ElemRef) ([]string, error)
	// Perform triggers a named accessibility action.
	Perform(ref ElemRef, action string) error
	// SetAttr writes a string or boolean attribute value.
	SetAttr(ref ElemRef, name, value string) error
	// WindowID bridges a window element to its enumeration window id via a
	// private symbol resolved at runtime. ok is false when the symbol is
	// unavailable on this OS build.
	WindowID(ref ElemRef) (id uint32, ok bool)

	// ListWindows reads the global window enumeration.
	ListWindows() ([]WindowInfo, error)
	// RunningApps lists running applications.
	RunningApps() ([]AppInfo, error)
	// FrontmostPID returns the PID of the frontmost application.
	FrontmostPID() (int, error)
	// Activate brings an application to the foreground.
	Activate(pid int) error
	// Launch starts an application by bundle id or filesystem path and
	// returns its PID once the process exists. AX readiness is the
	// caller's concern.
	Launch(ctx context.Context, bundleIDOrPath string) (int, error)
	// IsAlive reports whether the PID names a live process.
	IsAlive(pid int) bool

	// KeyStroke synthesizes one key press for a key name, resolved
	// through the host's active input-source layout.
	KeyStroke(key string, modifiers []string) error
	// TypeText synthesizes the keystroke sequence producing text under the
	// active layout.
	TypeText(text string) error
	// Click synthesizes a mouse click at a global point.
	Click(x, y float64, right bool, clicks int) error

	// ReadClipboard returns the general pasteboard's string contents.
	ReadClipboard() (string, error)
	// WriteClipboard replaces the general pasteboard's string contents.
	WriteClipboard(text string) error

	// ShowHighlight draws a transient overlay rectangle for action
	// visualization. Best effort.
	ShowHighlight(b element.Bounds, d time.Duration) error
}

// TraversalAttrs is the batched attribute set read for every visited node.
var TraversalAttrs = []string{
	AttrRole, AttrSubrole, AttrTitle, AttrValue, AttrDescription,
	AttrHelp, AttrIdentifier, AttrEnabled, AttrFocused, AttrSelected,
}
