package coordinator

import (
	"context"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/selector"
	"github.com/zjrosen/axd/internal/traversal"
)

// Traverse captures a snapshot of the target through the serialized queue.
// Passive traversals never disturb focus; active traversals may activate
// once when allowActivation is set.
func (c *Coordinator) Traverse(ctx context.Context, pid int, mode traversal.Mode, allowActivation bool) (*element.Snapshot, error) {
	res, err := c.Perform(ctx, Job{
		PID:       pid,
		Kind:      KindTraversal,
		Retryable: true,
		Run: func(ctx context.Context, _ *Result) (any, error) {
			activating := mode == traversal.ModeActive && allowActivation
			wasFront := -1
			if activating {
				wasFront, _ = c.shim.FrontmostPID()
			}
			snap, err := c.engine.Traverse(ctx, pid, mode, allowActivation)
			// An active traversal that actually changed the foreground is a
			// self-activation the circuit breaker must see.
			if activating && wasFront != pid {
				if now, ferr := c.shim.FrontmostPID(); ferr == nil && now == pid {
					c.noteSelfActivation()
				}
			}
			return snap, err
		},
	})
	if err != nil {
		return nil, err
	}
	snap, ok := res.Output.(*element.Snapshot)
	if !ok {
		return nil, axerr.Internal("traversal produced no snapshot")
	}
	return snap, nil
}

// TypeText synthesizes the keystrokes for text against the target. The
// target must be frontmost; without AllowActivation that is a precondition,
// not something the coordinator arranges silently.
func (c *Coordinator) TypeText(ctx context.Context, pid int, text string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:                pid,
		Kind:               KindInput,
		RequiresActivation: true,
		Options:            opts,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return nil, c.shim.TypeText(text)
		},
	})
}

// KeyStroke synthesizes one key chord against the target.
func (c *Coordinator) KeyStroke(ctx context.Context, pid int, key string, modifiers []string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:                pid,
		Kind:               KindInput,
		RequiresActivation: true,
		Options:            opts,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return nil, c.shim.KeyStroke(key, modifiers)
		},
	})
}

// GlobalKeyStroke synthesizes a key chord with no target application, going
// to whatever currently has focus. Explicitly global, so no activation
// guard applies.
func (c *Coordinator) GlobalKeyStroke(ctx context.Context, key string, modifiers []string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		Kind:    KindInput,
		Options: opts,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return nil, c.shim.KeyStroke(key, modifiers)
		},
	})
}

// GlobalTypeText types into whatever currently has focus.
func (c *Coordinator) GlobalTypeText(ctx context.Context, text string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		Kind:    KindInput,
		Options: opts,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return nil, c.shim.TypeText(text)
		},
	})
}

// Click synthesizes a mouse click at a global display coordinate.
func (c *Coordinator) Click(ctx context.Context, x, y float64, right bool, clicks int, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		Kind:    KindInput,
		Options: opts,
		Run: func(_ context.Context, res *Result) (any, error) {
			res.Highlight = element.Bounds{X: x - 12, Y: y - 12, W: 24, H: 24}
			return nil, c.shim.Click(x, y, right, clicks)
		},
	})
}

// ElementAction performs a named accessibility action on the unique element
// matching sel. The element is located against the pre-snapshot when one
// was requested, otherwise against a fresh passive snapshot, and then
// re-resolved to a live handle by path.
func (c *Coordinator) ElementAction(ctx context.Context, pid int, sel selector.Selector, action string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:       pid,
		Kind:      KindAXAction,
		Options:   opts,
		Retryable: true,
		Run: func(ctx context.Context, res *Result) (any, error) {
			elem, ref, err := c.locate(ctx, pid, sel, res)
			if err != nil {
				return nil, err
			}
			defer c.shim.Release(ref)

			if err := c.shim.Perform(ref, action); err != nil {
				return nil, err
			}
			res.Highlight = elem.Bounds
			return elem, nil
		},
	})
}

// SetElementValue writes the AXValue of the unique element matching sel.
func (c *Coordinator) SetElementValue(ctx context.Context, pid int, sel selector.Selector, value string, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:       pid,
		Kind:      KindAXAction,
		Options:   opts,
		Retryable: true,
		Run: func(ctx context.Context, res *Result) (any, error) {
			elem, ref, err := c.locate(ctx, pid, sel, res)
			if err != nil {
				return nil, err
			}
			defer c.shim.Release(ref)

			if err := c.shim.SetAttr(ref, ax.AttrValue, value); err != nil {
				return nil, err
			}
			res.Highlight = elem.Bounds
			return elem, nil
		},
	})
}

// locate resolves sel to a unique element and a live handle. Runs on the UI
// thread.
func (c *Coordinator) locate(ctx context.Context, pid int, sel selector.Selector, res *Result) (element.Element, ax.ElemRef, error) {
	snap := res.Before
	if snap == nil {
		var err error
		snap, err = c.engine.Traverse(ctx, pid, traversal.ModePassive, false)
		if err != nil {
			return element.Element{}, nil, err
		}
	}

	elem, err := selector.FindElement(snap, sel)
	if err != nil {
		return element.Element{}, nil, err
	}

	appRef, err := c.shim.AppElement(pid)
	if err != nil {
		return element.Element{}, nil, err
	}
	defer c.shim.Release(appRef)

	ref, err := traversal.Resolve(c.shim, appRef, elem.Path)
	if err != nil {
		return element.Element{}, nil, err
	}
	return elem, ref, nil
}

// Activate brings the target application to the foreground. This is the
// explicit opt-in path; AllowActivation is implied.
func (c *Coordinator) Activate(ctx context.Context, pid int, opts Options) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:     pid,
		Kind:    KindActivate,
		Options: opts,
		Run: func(_ context.Context, _ *Result) (any, error) {
			if err := c.shim.Activate(pid); err != nil {
				return nil, err
			}
			c.noteSelfActivation()
			return nil, nil
		},
	})
}

// ReadClipboard reads the shared pasteboard through the queue: the
// clipboard is shared with the user, so even reads are sequenced.
func (c *Coordinator) ReadClipboard(ctx context.Context) (string, error) {
	res, err := c.Perform(ctx, Job{
		Kind: KindClipboard,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return c.shim.ReadClipboard()
		},
	})
	if err != nil {
		return "", err
	}
	s, _ := res.Output.(string)
	return s, nil
}

// WriteClipboard replaces the shared pasteboard contents.
func (c *Coordinator) WriteClipboard(ctx context.Context, text string) error {
	_, err := c.Perform(ctx, Job{
		Kind: KindClipboard,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return nil, c.shim.WriteClipboard(text)
		},
	})
	return err
}
