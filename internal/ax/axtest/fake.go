// Package axtest provides a scriptable in-memory implementation of ax.Shim.
// Tests build element trees out of Nodes, register them as running
// applications, and assert against the input/activation logs.
package axtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

// Node is one fake accessibility element.
type Node struct {
	Attrs    map[string]string
	Frame    element.Bounds
	Actions  []string
	Children []*Node

	// Application-root fields.
	Windows []*Node
	Main    *Node

	// Element-valued attributes (AXCloseButton and friends).
	RefAttrs map[string]*Node

	// Window fields.
	WindowID uint32
	OnScreen bool
}

// NewNode builds a node with a role and title.
func NewNode(role, title string) *Node {
	n := &Node{Attrs: map[string]string{ax.AttrRole: role}, OnScreen: true}
	if title != "" {
		n.Attrs[ax.AttrTitle] = title
	}
	return n
}

// With sets an attribute and returns the node for chaining.
func (n *Node) With(name, value string) *Node {
	n.Attrs[name] = value
	return n
}

// WithFrame sets the node bounds.
func (n *Node) WithFrame(x, y, w, h float64) *Node {
	n.Frame = element.Bounds{X: x, Y: y, W: w, H: h}
	return n
}

// WithChildren appends children.
func (n *Node) WithChildren(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// WithRefAttr sets an element-valued attribute.
func (n *Node) WithRefAttr(name string, target *Node) *Node {
	if n.RefAttrs == nil {
		n.RefAttrs = map[string]*Node{}
	}
	n.RefAttrs[name] = target
	return n
}

// WithActions sets the supported action names.
func (n *Node) WithActions(actions ...string) *Node {
	n.Actions = actions
	return n
}

// App is a registered fake application.
type App struct {
	Info ax.AppInfo
	Root *Node
}

type fakeRef struct{ node *Node }

// Fake implements ax.Shim over registered apps.
type Fake struct {
	mu sync.Mutex

	trusted           bool
	windowIDAvailable bool

	apps  map[int]*App
	front int

	clipboard string

	nextToken uint64
	tokens    map[*Node]uint64

	// Launch targets registered by bundle id or path.
	launchable map[string]*App

	// Logs for assertions.
	Activations []int
	Keys        []string
	Clicks      []string
	Performed   []string

	// Hooks let tests mutate the tree in response to synthesized input.
	OnKey     func(key string)
	OnPerform func(node *Node, action string)

	// Fault injection.
	AttrsErr error
	ListErr  error
}

// NewFake returns a trusted fake with the private window-id symbol present.
func NewFake() *Fake {
	return &Fake{
		trusted:           true,
		windowIDAvailable: true,
		apps:              make(map[int]*App),
		tokens:            make(map[*Node]uint64),
		launchable:        make(map[string]*App),
	}
}

// AddApp registers a running application.
func (f *Fake) AddApp(app *App) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[app.Info.PID] = app
	if app.Info.Frontmost {
		f.front = app.Info.PID
	}
}

// RemoveApp simulates process death.
func (f *Fake) RemoveApp(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.apps, pid)
}

// RegisterLaunchable makes Launch succeed for the given bundle id or path.
func (f *Fake) RegisterLaunchable(key string, app *App) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launchable[key] = app
}

// SetTrusted flips the accessibility permission probe.
func (f *Fake) SetTrusted(trusted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trusted = trusted
}

// SetWindowIDAvailable simulates the private symbol missing.
func (f *Fake) SetWindowIDAvailable(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowIDAvailable = ok
}

// SetFrontmost forces the frontmost application.
func (f *Fake) SetFrontmost(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.front = pid
}

func (f *Fake) Trusted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trusted
}

func (f *Fake) AppElement(pid int) (ax.ElemRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.trusted {
		return nil, axerr.PermissionDenied("accessibility permission not granted")
	}
	app, ok := f.apps[pid]
	if !ok {
		return nil, axerr.NotFound("no running process with pid %d", pid)
	}
	return fakeRef{node: app.Root}, nil
}

func (f *Fake) Release(ax.ElemRef) {}

func (f *Fake) RefToken(ref ax.ElemRef) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	tok, ok := f.tokens[n]
	if !ok {
		f.nextToken++
		tok = f.nextToken
		f.tokens[n] = tok
	}
	return tok
}

func (f *Fake) Attrs(ref ax.ElemRef, names []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttrsErr != nil {
		return nil, f.AttrsErr
	}
	n := ref.(fakeRef).node
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := n.Attrs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (f *Fake) Attr(ref ax.ElemRef, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	v, ok := n.Attrs[name]
	if !ok {
		return "", axerr.NotFound("read %s: no such attribute", name)
	}
	return v, nil
}

func (f *Fake) AttrRef(ref ax.ElemRef, name string) (ax.ElemRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	target, ok := n.RefAttrs[name]
	if !ok || target == nil {
		return nil, nil
	}
	return fakeRef{node: target}, nil
}

func (f *Fake) Frame(ref ax.ElemRef) (element.Bounds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ref.(fakeRef).node.Frame, nil
}

func (f *Fake) SetFrame(ref ax.ElemRef, b element.Bounds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref.(fakeRef).node.Frame = b
	return nil
}

func (f *Fake) Children(ref ax.ElemRef) ([]ax.ElemRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	out := make([]ax.ElemRef, len(n.Children))
	for i, c := range n.Children {
		out[i] = fakeRef{node: c}
	}
	return out, nil
}

func (f *Fake) WindowsOf(ref ax.ElemRef) ([]ax.ElemRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	out := make([]ax.ElemRef, len(n.Windows))
	for i, w := range n.Windows {
		out[i] = fakeRef{node: w}
	}
	return out, nil
}

func (f *Fake) MainWindowOf(ref ax.ElemRef) (ax.ElemRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := ref.(fakeRef).node
	if n.Main == nil {
		return nil, nil
	}
	return fakeRef{node: n.Main}, nil
}

func (f *Fake) Actions(ref ax.ElemRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), ref.(fakeRef).node.Actions...), nil
}

func (f *Fake) Perform(ref ax.ElemRef, action string) error {
	f.mu.Lock()
	n := ref.(fakeRef).node
	supported := false
	for _, a := range n.Actions {
		if a == action {
			supported = true
			break
		}
	}
	hook := f.OnPerform
	if supported {
		f.Performed = append(f.Performed, action)
	}
	f.mu.Unlock()

	if !supported {
		return axerr.NotFound("perform %s: no such attribute or action", action)
	}
	if hook != nil {
		hook(n, action)
	}
	return nil
}

// SetNodeAttr mutates a node attribute under the fake's lock, so tests can
// change trees while pollers traverse them.
func (f *Fake) SetNodeAttr(n *Node, name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.Attrs[name] = value
}

func (f *Fake) SetAttr(ref ax.ElemRef, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref.(fakeRef).node.Attrs[name] = value
	return nil
}

func (f *Fake) WindowID(ref ax.ElemRef) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.windowIDAvailable {
		return 0, false
	}
	n := ref.(fakeRef).node
	if n.WindowID == 0 {
		return 0, false
	}
	return n.WindowID, true
}

func (f *Fake) ListWindows() ([]ax.WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	pids := make([]int, 0, len(f.apps))
	for pid := range f.apps {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	var out []ax.WindowInfo
	z := 0
	for _, pid := range pids {
		app := f.apps[pid]
		for _, w := range app.Root.Windows {
			if !w.OnScreen {
				continue
			}
			out = append(out, ax.WindowInfo{
				WindowID:  w.WindowID,
				OwnerPID:  pid,
				OwnerName: app.Info.Name,
				ZIndex:    z,
				OnScreen:  true,
				Bounds:    w.Frame,
				Title:     w.Attrs[ax.AttrTitle],
			})
			z++
		}
	}
	return out, nil
}

func (f *Fake) RunningApps() ([]ax.AppInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pids := make([]int, 0, len(f.apps))
	for pid := range f.apps {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	out := make([]ax.AppInfo, 0, len(pids))
	for _, pid := range pids {
		info := f.apps[pid].Info
		info.Frontmost = pid == f.front
		out = append(out, info)
	}
	return out, nil
}

func (f *Fake) FrontmostPID() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.front == 0 {
		return 0, axerr.Unavailable("no frontmost application")
	}
	return f.front, nil
}

func (f *Fake) Activate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[pid]; !ok {
		return axerr.NotFound("no running process with pid %d", pid)
	}
	f.front = pid
	f.Activations = append(f.Activations, pid)
	return nil
}

func (f *Fake) IsAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.apps[pid]
	return ok
}

func (f *Fake) Launch(_ context.Context, bundleIDOrPath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.launchable[bundleIDOrPath]
	if !ok {
		return 0, axerr.NotFound("no application found for %q", bundleIDOrPath)
	}
	f.apps[app.Info.PID] = app
	return app.Info.PID, nil
}

func (f *Fake) KeyStroke(key string, modifiers []string) error {
	f.mu.Lock()
	entry := key
	if len(modifiers) > 0 {
		entry = strings.Join(modifiers, "+") + "+" + key
	}
	f.Keys = append(f.Keys, entry)
	hook := f.OnKey
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	return nil
}

func (f *Fake) TypeText(text string) error {
	for _, r := range text {
		if err := f.KeyStroke(string(r), nil); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Click(x, y float64, right bool, clicks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clicks = append(f.Clicks, fmt.Sprintf("%g,%g right=%t n=%d", x, y, right, clicks))
	return nil
}

func (f *Fake) ReadClipboard() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clipboard, nil
}

func (f *Fake) WriteClipboard(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clipboard = text
	return nil
}

func (f *Fake) ShowHighlight(element.Bounds, time.Duration) error { return nil }

var _ ax.Shim = (*Fake)(nil)

// NewCalculatorApp builds a small calculator-shaped app tree used across
// the engine tests.
func NewCalculatorApp(pid int) *App {
	display := NewNode("AXStaticText", "").With(ax.AttrValue, "0").With(ax.AttrIdentifier, "display").WithFrame(20, 60, 160, 30)
	window := NewNode("AXWindow", "Calculator").WithFrame(100, 100, 200, 300).WithActions("AXRaise")
	window.WindowID = uint32(1000 + pid)
	window.WithChildren(
		display,
		NewNode("AXButton", "1").WithFrame(20, 120, 40, 40).WithActions("AXPress"),
		NewNode("AXButton", "2").WithFrame(70, 120, 40, 40).WithActions("AXPress"),
		NewNode("AXButton", "+").WithFrame(120, 120, 40, 40).WithActions("AXPress"),
		NewNode("AXButton", "=").WithFrame(20, 170, 40, 40).WithActions("AXPress"),
	)
	root := NewNode("AXApplication", "Calculator")
	root.Windows = []*Node{window}
	root.Main = window
	return &App{
		Info: ax.AppInfo{
			PID:        pid,
			BundleID:   "com.apple.calculator",
			Name:       "Calculator",
			Policy:     ax.PolicyRegular,
			LaunchedAt: time.Now(),
		},
		Root: root,
	}
}
