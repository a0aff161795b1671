package traversal

import (
	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

// Resolve walks live handles from an application root to the element at
// path, following the same index semantics traversal uses to assign paths:
// negative indices select windows, the reserved index selects the main
// window, non-negative indices select regular children.
//
// The returned handle is owned by the caller. appRef is borrowed, never
// released. A path that no longer resolves (the UI moved underneath the
// snapshot) fails with NotFound.
func Resolve(shim ax.Shim, appRef ax.ElemRef, path element.Path) (ax.ElemRef, error) {
	cur := appRef
	owned := false

	release := func() {
		if owned {
			shim.Release(cur)
		}
	}

	for depth, idx := range path {
		var next ax.ElemRef
		var err error

		switch {
		case idx == element.MainWindowIndex:
			next, err = shim.MainWindowOf(cur)
			if err == nil && next == nil {
				err = axerr.NotFound("path %q: application has no main window", path.String())
			}
		case idx < 0:
			var windows []ax.ElemRef
			windows, err = shim.WindowsOf(cur)
			if err == nil {
				i := -idx - 1
				if i >= len(windows) {
					releaseAll(shim, windows)
					err = axerr.NotFound("path %q: window index %d out of range at depth %d", path.String(), idx, depth)
				} else {
					next = windows[i]
					for j, w := range windows {
						if j != i {
							shim.Release(w)
						}
					}
				}
			}
		default:
			var children []ax.ElemRef
			children, err = shim.Children(cur)
			if err == nil {
				if idx >= len(children) {
					releaseAll(shim, children)
					err = axerr.NotFound("path %q: child index %d out of range at depth %d", path.String(), idx, depth)
				} else {
					next = children[idx]
					for j, c := range children {
						if j != idx {
							shim.Release(c)
						}
					}
				}
			}
		}

		if err != nil {
			release()
			return nil, err
		}
		release()
		cur = next
		owned = true
	}

	if !owned {
		// The empty path names the application root, which we do not own;
		// hand back an owned handle by re-creating it is the caller's
		// concern. Refuse instead of aliasing.
		return nil, axerr.InvalidArgument("cannot resolve the empty path to an owned handle")
	}
	return cur, nil
}

func releaseAll(shim ax.Shim, refs []ax.ElemRef) {
	for _, ref := range refs {
		shim.Release(ref)
	}
}
