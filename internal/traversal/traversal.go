// Package traversal produces element snapshots from live processes. It is
// the only creator of element.Snapshot values.
package traversal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/log"
)

// Mode selects whether a traversal may interact with application focus.
type Mode string

const (
	// ModePassive guarantees the traversal never activates, focuses, or
	// otherwise disturbs the foreground application.
	ModePassive Mode = "passive"
	// ModeActive permits at most one activation request per call, and only
	// when the caller explicitly opted in.
	ModeActive Mode = "active"
)

// DefaultMaxElements bounds a single traversal. Deep web views can produce
// six-figure element counts; the bound keeps snapshots tractable.
const DefaultMaxElements = 5000

// Engine walks accessibility trees. It must be driven from the UI thread;
// the action coordinator owns that dispatch.
type Engine struct {
	shim        ax.Shim
	maxElements int
}

// NewEngine creates a traversal engine over the given shim.
func NewEngine(shim ax.Shim) *Engine {
	return &Engine{shim: shim, maxElements: DefaultMaxElements}
}

// SetMaxElements overrides the per-snapshot element bound.
func (e *Engine) SetMaxElements(n int) {
	if n > 0 {
		e.maxElements = n
	}
}

// Traverse produces a snapshot of the process's element tree.
//
// In ModePassive the foreground application is never touched. In ModeActive
// the engine requests activation at most once, and only when the target is
// not already frontmost and allowActivation is true.
func (e *Engine) Traverse(ctx context.Context, pid int, mode Mode, allowActivation bool) (*element.Snapshot, error) {
	ctx, span := otel.Tracer("axd").Start(ctx, "traversal.traverse")
	span.SetAttributes(attribute.Int("pid", pid), attribute.String("mode", string(mode)))
	defer span.End()

	appRef, err := e.shim.AppElement(pid)
	if err != nil {
		return nil, err
	}
	defer e.shim.Release(appRef)

	if mode == ModeActive && allowActivation {
		front, ferr := e.shim.FrontmostPID()
		if ferr != nil || front != pid {
			if aerr := e.shim.Activate(pid); aerr != nil {
				log.Warn(log.CatTraverse, "activation refused", "pid", pid, "error", aerr)
			}
		}
	}

	w := &walker{
		shim:    e.shim,
		ctx:     ctx,
		visited: make(map[uint64]struct{}),
		max:     e.maxElements,
	}

	// The application root is reached with the empty path.
	if err := w.visitOwned(appRef, element.Path{}, false); err != nil {
		return nil, err
	}

	return element.NewSnapshot(pid, time.Now(), w.elems), nil
}

type walker struct {
	shim    ax.Shim
	ctx     context.Context
	visited map[uint64]struct{}
	elems   []element.Element
	max     int
}

// visit consumes ownership of ref and always releases it.
func (w *walker) visit(ref ax.ElemRef, path element.Path) error {
	defer w.shim.Release(ref)
	return w.visitOwned(ref, path, true)
}

// visitOwned walks one node without releasing it. The first node of a
// traversal must fail loudly (a dead or permission-blocked target is an
// error, not an empty snapshot); everything below degrades gracefully.
func (w *walker) visitOwned(ref ax.ElemRef, path element.Path, tolerant bool) error {
	if err := w.ctx.Err(); err != nil {
		return axerr.DeadlineExceeded("traversal cancelled at %q", path.String())
	}
	if len(w.elems) >= w.max {
		return nil
	}

	token := w.shim.RefToken(ref)
	if _, seen := w.visited[token]; seen {
		return nil
	}
	w.visited[token] = struct{}{}

	attrs, err := w.shim.Attrs(ref, ax.TraversalAttrs)
	if err != nil {
		if !tolerant || axerr.IsKind(err, axerr.KindPermissionDenied) {
			return err
		}
		// Partial failure below the root: log, omit attributes, keep going.
		log.Debug(log.CatTraverse, "attribute read failed", "path", path.String(), "error", err)
		attrs = map[string]string{}
	}

	frame, err := w.shim.Frame(ref)
	if err != nil {
		log.Debug(log.CatTraverse, "frame read failed", "path", path.String(), "error", err)
	}

	actions, err := w.shim.Actions(ref)
	if err != nil {
		log.Debug(log.CatTraverse, "action list failed", "path", path.String(), "error", err)
	}

	w.elems = append(w.elems, element.Element{
		Role:        attrs[ax.AttrRole],
		Subrole:     attrs[ax.AttrSubrole],
		Title:       attrs[ax.AttrTitle],
		Value:       attrs[ax.AttrValue],
		Description: attrs[ax.AttrDescription],
		Help:        attrs[ax.AttrHelp],
		Identifier:  attrs[ax.AttrIdentifier],
		Enabled:     attrs[ax.AttrEnabled] == "true",
		Focused:     attrs[ax.AttrFocused] == "true",
		Selected:    attrs[ax.AttrSelected] == "true",
		Bounds:      frame,
		Actions:     actions,
		Path:        path,
	})

	// Windows first with negative indices, then the reserved main-window
	// slot, then regular children. The visited set keeps a window that
	// appears in more than one list from being emitted twice.
	if windows, werr := w.shim.WindowsOf(ref); werr == nil {
		for i, win := range windows {
			if err := w.visit(win, path.Child(-(i + 1))); err != nil {
				w.releaseAll(windows[i+1:])
				return err
			}
		}
	}

	if main, merr := w.shim.MainWindowOf(ref); merr == nil && main != nil {
		if err := w.visit(main, path.Child(element.MainWindowIndex)); err != nil {
			return err
		}
	}

	children, cerr := w.shim.Children(ref)
	if cerr != nil {
		log.Debug(log.CatTraverse, "children read failed", "path", path.String(), "error", cerr)
		return nil
	}
	for i, child := range children {
		if err := w.visit(child, path.Child(i)); err != nil {
			w.releaseAll(children[i+1:])
			return err
		}
	}
	return nil
}

func (w *walker) releaseAll(refs []ax.ElemRef) {
	for _, ref := range refs {
		w.shim.Release(ref)
	}
}
