package coordinator

import (
	"context"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/winreg"
)

// GetWindow re-reads the accessibility-authority fields fresh and returns
// the hybrid record. Sequenced through the queue like every accessibility
// touch.
func (c *Coordinator) GetWindow(ctx context.Context, pid int, windowID uint32) (winreg.Record, error) {
	res, err := c.Perform(ctx, Job{
		PID:       pid,
		Kind:      KindWindow,
		Retryable: true,
		Run: func(_ context.Context, _ *Result) (any, error) {
			return c.windows.Get(pid, windowID)
		},
	})
	if err != nil {
		return winreg.Record{}, err
	}
	rec, ok := res.Output.(winreg.Record)
	if !ok {
		return winreg.Record{}, axerr.Internal("window lookup produced no record")
	}
	return rec, nil
}

// withWindow runs fn against the resolved live window handle and returns
// the freshly re-read record afterwards.
func (c *Coordinator) withWindow(ctx context.Context, pid int, windowID uint32, requiresActivation bool, opts Options, fn func(res *winreg.Resolved) error) (*Result, error) {
	return c.Perform(ctx, Job{
		PID:                pid,
		Kind:               KindWindow,
		RequiresActivation: requiresActivation,
		Options:            opts,
		Retryable:          true,
		Run: func(_ context.Context, jobRes *Result) (any, error) {
			resolved, err := c.windows.Resolve(pid, windowID)
			if err != nil {
				return nil, err
			}
			defer c.shim.Release(resolved.Ref)

			if err := fn(resolved); err != nil {
				return nil, err
			}
			jobRes.Highlight = resolved.Record.Bounds

			// Re-read so callers see the post-mutation state. A window
			// that no longer exists (close) reports its last known record.
			rec, gerr := c.windows.Get(pid, windowID)
			if gerr != nil {
				return resolved.Record, nil
			}
			return rec, nil
		},
	})
}

// FocusWindow raises the window and makes its application frontmost.
// Focusing inherently steals focus, so it carries the activation opt-in
// implicitly: AllowActivation is forced on whatever the caller passed.
func (c *Coordinator) FocusWindow(ctx context.Context, pid int, windowID uint32, opts Options) (*Result, error) {
	opts.AllowActivation = true
	return c.withWindow(ctx, pid, windowID, true, opts, func(res *winreg.Resolved) error {
		return c.windows.Raise(res)
	})
}

// MoveWindow repositions the window, preserving its size.
func (c *Coordinator) MoveWindow(ctx context.Context, pid int, windowID uint32, x, y float64, opts Options) (*Result, error) {
	return c.withWindow(ctx, pid, windowID, false, opts, func(res *winreg.Resolved) error {
		b := res.Record.Bounds
		return c.windows.SetBounds(res, element.Bounds{X: x, Y: y, W: b.W, H: b.H})
	})
}

// ResizeWindow sets the window's full bounds.
func (c *Coordinator) ResizeWindow(ctx context.Context, pid int, windowID uint32, b element.Bounds, opts Options) (*Result, error) {
	if b.W <= 0 || b.H <= 0 {
		return nil, axerr.InvalidArgument("window bounds must have positive width and height")
	}
	return c.withWindow(ctx, pid, windowID, false, opts, func(res *winreg.Resolved) error {
		return c.windows.SetBounds(res, b)
	})
}

// MinimizeWindow minimizes the window.
func (c *Coordinator) MinimizeWindow(ctx context.Context, pid int, windowID uint32, opts Options) (*Result, error) {
	return c.withWindow(ctx, pid, windowID, false, opts, func(res *winreg.Resolved) error {
		return c.windows.SetMinimized(res, true)
	})
}

// RestoreWindow un-minimizes the window.
func (c *Coordinator) RestoreWindow(ctx context.Context, pid int, windowID uint32, opts Options) (*Result, error) {
	return c.withWindow(ctx, pid, windowID, false, opts, func(res *winreg.Resolved) error {
		return c.windows.SetMinimized(res, false)
	})
}

// CloseWindow closes the window via its close button.
func (c *Coordinator) CloseWindow(ctx context.Context, pid int, windowID uint32, opts Options) (*Result, error) {
	return c.withWindow(ctx, pid, windowID, false, opts, func(res *winreg.Resolved) error {
		return c.windows.Close(res)
	})
}
