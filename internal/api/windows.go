package api

import (
	"net/http"
	"strconv"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/pagination"
	"github.com/zjrosen/axd/internal/winreg"
)

// ListWindowsResponse pages over enumeration-authority window records.
type ListWindowsResponse struct {
	Windows       []winreg.Record `json:"windows"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Enumeration only: fast, read-only, may lag accessibility by tens of
	// milliseconds. Get re-reads fresh.
	records, err := h.coord.Windows().ListForPID(app.PID)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := pagination.Paginate(records, size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListWindowsResponse{
		Windows:       page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	pid, windowID, err := h.windowFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.coord.GetWindow(r.Context(), pid, windowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// WindowMutationRequest parameterizes move/resize; the other mutations take
// only options.
type WindowMutationRequest struct {
	// move
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	// resize
	Bounds *element.Bounds `json:"bounds,omitempty"`

	Options wireOptions `json:"options"`
}

func (h *Handler) windowMutation(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, windowID, err := h.windowFromPath(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req WindowMutationRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		opts, err := req.Options.toOptions()
		if err != nil {
			writeError(w, err)
			return
		}

		var res *coordinator.Result
		ctx := r.Context()
		switch verb {
		case "focus":
			res, err = h.coord.FocusWindow(ctx, pid, windowID, opts)
		case "move":
			res, err = h.coord.MoveWindow(ctx, pid, windowID, req.X, req.Y, opts)
		case "resize":
			if req.Bounds == nil {
				writeError(w, axerr.InvalidArgument("resize requires bounds"))
				return
			}
			res, err = h.coord.ResizeWindow(ctx, pid, windowID, *req.Bounds, opts)
		case "minimize":
			res, err = h.coord.MinimizeWindow(ctx, pid, windowID, opts)
		case "restore":
			res, err = h.coord.RestoreWindow(ctx, pid, windowID, opts)
		case "close":
			res, err = h.coord.CloseWindow(ctx, pid, windowID, opts)
		}

		resource := windowResource(pid, windowID)
		h.record(r, "window."+verb, resource, err)
		if err != nil {
			writeError(w, err)
			return
		}

		rec, _ := res.Output.(winreg.Record)
		writeJSON(w, http.StatusOK, struct {
			Window winreg.Record          `json:"window"`
			Diff   *element.TraversalDiff `json:"diff,omitempty"`
		}{Window: rec, Diff: res.Diff})
	}
}

func windowResource(pid int, windowID uint32) string {
	return "applications/" + strconv.Itoa(pid) + "/windows/" + strconv.FormatUint(uint64(windowID), 10)
}

func (h *Handler) windowFromPath(r *http.Request) (int, uint32, error) {
	app, err := h.appFromPath(r)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseUint(r.PathValue("windowId"), 10, 32)
	if err != nil {
		return 0, 0, axerr.InvalidArgument("windowId path segment must be an unsigned integer")
	}
	return app.PID, uint32(id), nil
}
