// Package winreg maintains the canonical window view by reconciling two
// APIs that do not interoperate: the global read-only enumeration list and
// the per-process accessibility windows.
//
// Authority split: enumeration owns identity and stacking (windowId,
// ownerPid, zIndex, isOnScreen); accessibility owns geometry and visibility
// (title, bounds, minimized, hidden, focused) and is re-read fresh on every
// get and mutation.
package winreg

import (
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/log"
)

// Record is the hybrid-authority view of one window.
type Record struct {
	// Enumeration authority.
	WindowID uint32 `json:"windowId"`
	OwnerPID int    `json:"ownerPid"`
	BundleID string `json:"bundleId,omitempty"`
	ZIndex   int    `json:"zIndex"`
	OnScreen bool   `json:"isOnScreen"`

	// Accessibility authority, read fresh on get/mutation paths. List
	// fills Title and Bounds from enumeration and leaves the rest unset.
	Title     string         `json:"title,omitempty"`
	Bounds    element.Bounds `json:"bounds"`
	Minimized bool           `json:"minimized"`
	Hidden    bool           `json:"hidden"`
	Focused   bool           `json:"focused"`

	// Derived: isOnScreen && !minimized && !hidden when accessibility
	// interaction succeeded, isOnScreen alone otherwise.
	Visible bool `json:"visible"`
	// AXAvailable records whether the accessibility fields are live.
	AXAvailable bool `json:"axAvailable"`
}

const (
	// enumerationTTL bounds how stale the cached enumeration list may be.
	// The list itself is eventually consistent on the order of tens of
	// milliseconds, so caching harder buys nothing.
	enumerationTTL = 50 * time.Millisecond

	// matchDistance is the maximum center-plus-size distance, in points,
	// for the heuristic bridge between an accessibility window and an
	// enumeration record.
	matchDistance = 40.0

	// titleBonus rewards exact title equality during heuristic matching.
	titleBonus = 30.0
)

// Registry reconciles the two window authorities. Methods that touch
// accessibility must run on the UI thread; the coordinator owns dispatch.
type Registry struct {
	shim  ax.Shim
	cache *gocache.Cache
}

// NewRegistry creates a window registry over the shim.
func NewRegistry(shim ax.Shim) *Registry {
	return &Registry{
		shim:  shim,
		cache: gocache.New(enumerationTTL, time.Minute),
	}
}

const enumCacheKey = "enumeration"

// List returns the enumeration-authority fields for every on-screen
// window. Fast and read-only; accessibility is never consulted. Title and
// Bounds hold the enumeration list's values; Minimized, Hidden and Focused
// stay unset and AXAvailable is false.
func (r *Registry) List() ([]Record, error) {
	if cached, ok := r.cache.Get(enumCacheKey); ok {
		return cached.([]Record), nil
	}

	infos, err := r.shim.ListWindows()
	if err != nil {
		return nil, err
	}

	bundles := r.bundlesByPID()
	out := make([]Record, 0, len(infos))
	for _, info := range infos {
		out = append(out, Record{
			WindowID: info.WindowID,
			OwnerPID: info.OwnerPID,
			BundleID: bundles[info.OwnerPID],
			ZIndex:   info.ZIndex,
			OnScreen: info.OnScreen,
			Title:    info.Title,
			Bounds:   info.Bounds,
			Visible:  info.OnScreen,
		})
	}
	r.cache.Set(enumCacheKey, out, gocache.DefaultExpiration)
	return out, nil
}

// ListForPID filters List down to one owner.
func (r *Registry) ListForPID(pid int) ([]Record, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range all {
		if rec.OwnerPID == pid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Invalidate drops the enumeration cache, forcing the next List to re-read.
func (r *Registry) Invalidate() {
	r.cache.Delete(enumCacheKey)
}

func (r *Registry) bundlesByPID() map[int]string {
	apps, err := r.shim.RunningApps()
	if err != nil {
		return nil
	}
	out := make(map[int]string, len(apps))
	for _, app := range apps {
		out[app.PID] = app.BundleID
	}
	return out
}

// Resolved pairs a live accessibility window handle with its hybrid record.
// The caller owns the handle and must release it.
type Resolved struct {
	Ref    ax.ElemRef
	Record Record
}

// Resolve looks up a window by enumeration id and returns its live
// accessibility handle plus a record with both authorities populated.
// Must run on the UI thread.
//
// The enumeration side is eventually consistent: if no accessibility window
// matches the enumeration bounds within tolerance, the accessibility
// windows are re-read once and rematched by title before giving up.
func (r *Registry) Resolve(pid int, windowID uint32) (*Resolved, error) {
	enum, err := r.enumRecord(pid, windowID)
	if err != nil {
		return nil, err
	}

	appRef, err := r.shim.AppElement(pid)
	if err != nil {
		return nil, err
	}
	defer r.shim.Release(appRef)

	ref, err := r.matchWindow(appRef, enum)
	if err != nil {
		// Staleness race: enumeration bounds may describe a window that
		// has since moved. Re-read and retry on title alone.
		r.Invalidate()
		log.Debug(log.CatWinReg, "window match retry", "pid", pid, "windowId", windowID)
		ref, err = r.matchWindowByTitle(appRef, enum)
		if err != nil {
			return nil, err
		}
	}

	rec := r.readAX(ref, enum)
	return &Resolved{Ref: ref, Record: rec}, nil
}

// Get returns the hybrid record for one window, re-reading the
// accessibility fields fresh. Must run on the UI thread.
func (r *Registry) Get(pid int, windowID uint32) (Record, error) {
	resolved, err := r.Resolve(pid, windowID)
	if err != nil {
		// Accessibility unavailable: fall back to enumeration authority
		// alone when the window at least exists there.
		if enum, enumErr := r.enumRecord(pid, windowID); enumErr == nil &&
			axerr.KindOf(err) != axerr.KindNotFound {
			enum.Visible = enum.OnScreen
			return enum, nil
		}
		return Record{}, err
	}
	defer r.shim.Release(resolved.Ref)
	return resolved.Record, nil
}

func (r *Registry) enumRecord(pid int, windowID uint32) (Record, error) {
	records, err := r.ListForPID(pid)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.WindowID == windowID {
			return rec, nil
		}
	}
	// The cache may predate the window; force one fresh read.
	r.Invalidate()
	records, err = r.ListForPID(pid)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.WindowID == windowID {
			return rec, nil
		}
	}
	return Record{}, axerr.NotFound("window %d not found for pid %d", windowID, pid)
}

// matchWindow bridges an enumeration record to a live accessibility window.
// The private id symbol wins when present; otherwise the heuristic scores
// title equality plus bounding-box proximity. Strict bounds-only matching
// is deliberately not used because enumeration data lags.
func (r *Registry) matchWindow(appRef ax.ElemRef, enum Record) (ax.ElemRef, error) {
	windows, err := r.shim.WindowsOf(appRef)
	if err != nil {
		return nil, err
	}

	// Private symbol path: exact id equality.
	for i, w := range windows {
		if id, ok := r.shim.WindowID(w); ok && id == enum.WindowID {
			r.releaseExcept(windows, i)
			return w, nil
		}
	}

	// Heuristic path: proximity with a title-equality bonus.
	best := -1
	bestScore := math.Inf(1)
	for i, w := range windows {
		score := r.heuristicScore(w, enum)
		if score < bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 && bestScore <= matchDistance {
		r.releaseExcept(windows, best)
		return windows[best], nil
	}

	r.releaseExcept(windows, -1)
	return nil, axerr.NotFound("no accessibility window matches enumeration window %d", enum.WindowID)
}

func (r *Registry) matchWindowByTitle(appRef ax.ElemRef, enum Record) (ax.ElemRef, error) {
	if enum.Title == "" {
		return nil, axerr.NotFound("window %d: enumeration stale and no title to rematch", enum.WindowID)
	}
	windows, err := r.shim.WindowsOf(appRef)
	if err != nil {
		return nil, err
	}
	for i, w := range windows {
		title, _ := r.shim.Attr(w, ax.AttrTitle)
		if title == enum.Title {
			r.releaseExcept(windows, i)
			return w, nil
		}
	}
	r.releaseExcept(windows, -1)
	return nil, axerr.NotFound("window %d: no accessibility window matches by title", enum.WindowID)
}

func (r *Registry) heuristicScore(w ax.ElemRef, enum Record) float64 {
	frame, err := r.shim.Frame(w)
	if err != nil {
		return math.Inf(1)
	}
	dx := (frame.X + frame.W/2) - (enum.Bounds.X + enum.Bounds.W/2)
	dy := (frame.Y + frame.H/2) - (enum.Bounds.Y + enum.Bounds.H/2)
	dw := frame.W - enum.Bounds.W
	dh := frame.H - enum.Bounds.H
	score := math.Sqrt(dx*dx+dy*dy) + math.Abs(dw) + math.Abs(dh)

	if enum.Title != "" {
		if title, terr := r.shim.Attr(w, ax.AttrTitle); terr == nil && title == enum.Title {
			score -= titleBonus
			if score < 0 {
				score = 0
			}
		}
	}
	return score
}

func (r *Registry) releaseExcept(refs []ax.ElemRef, keep int) {
	for i, ref := range refs {
		if i != keep {
			r.shim.Release(ref)
		}
	}
}

// readAX populates the accessibility-authority fields on top of an
// enumeration record.
func (r *Registry) readAX(ref ax.ElemRef, enum Record) Record {
	rec := enum
	attrs, err := r.shim.Attrs(ref, []string{
		ax.AttrTitle, ax.AttrMinimized, ax.AttrHidden, ax.AttrFocused, ax.AttrMain,
	})
	if err != nil {
		rec.Visible = rec.OnScreen
		return rec
	}

	rec.AXAvailable = true
	if t, ok := attrs[ax.AttrTitle]; ok {
		rec.Title = t
	}
	rec.Minimized = attrs[ax.AttrMinimized] == "true"
	rec.Hidden = attrs[ax.AttrHidden] == "true"
	rec.Focused = attrs[ax.AttrFocused] == "true" || attrs[ax.AttrMain] == "true"
	if frame, ferr := r.shim.Frame(ref); ferr == nil {
		rec.Bounds = frame
	}
	rec.Visible = rec.OnScreen && !rec.Minimized && !rec.Hidden
	return rec
}

// Mutation helpers. All must run on the UI thread inside a coordinator job.

// SetBounds moves and resizes the window.
func (r *Registry) SetBounds(res *Resolved, b element.Bounds) error {
	if err := r.shim.SetFrame(res.Ref, b); err != nil {
		return fmt.Errorf("resize window %d: %w", res.Record.WindowID, err)
	}
	r.Invalidate()
	return nil
}

// SetMinimized minimizes or restores the window.
func (r *Registry) SetMinimized(res *Resolved, minimized bool) error {
	v := "false"
	if minimized {
		v = "true"
	}
	if err := r.shim.SetAttr(res.Ref, ax.AttrMinimized, v); err != nil {
		return fmt.Errorf("set minimized on window %d: %w", res.Record.WindowID, err)
	}
	r.Invalidate()
	return nil
}

// Raise brings the window to the front of its application and marks it
// main. Application activation is the coordinator's decision, not ours.
func (r *Registry) Raise(res *Resolved) error {
	if err := r.shim.Perform(res.Ref, "AXRaise"); err != nil {
		return fmt.Errorf("raise window %d: %w", res.Record.WindowID, err)
	}
	if err := r.shim.SetAttr(res.Ref, ax.AttrMain, "true"); err != nil {
		log.Debug(log.CatWinReg, "set AXMain failed", "windowId", res.Record.WindowID, "error", err)
	}
	r.Invalidate()
	return nil
}

// Close presses the window's close button.
func (r *Registry) Close(res *Resolved) error {
	btn, err := r.shim.AttrRef(res.Ref, "AXCloseButton")
	if err != nil {
		return fmt.Errorf("close window %d: %w", res.Record.WindowID, err)
	}
	if btn == nil {
		return axerr.Unavailable("window %d exposes no close button", res.Record.WindowID)
	}
	defer r.shim.Release(btn)
	if err := r.shim.Perform(btn, "AXPress"); err != nil {
		return fmt.Errorf("close window %d: %w", res.Record.WindowID, err)
	}
	r.Invalidate()
	return nil
}
