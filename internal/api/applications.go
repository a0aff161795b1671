package api

import (
	"net/http"
	"strconv"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/pagination"
	"github.com/zjrosen/axd/internal/selector"
	"github.com/zjrosen/axd/internal/store"
	"github.com/zjrosen/axd/internal/traversal"
)

// OpenApplicationRequest opens (or adopts) an application by bundle id or
// filesystem path.
type OpenApplicationRequest struct {
	// BundleID is the bundle identifier or absolute application path.
	// Required.
	BundleID string `json:"bundleId"`
}

func (h *Handler) OpenApplication(w http.ResponseWriter, r *http.Request) {
	var req OpenApplicationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.BundleID == "" {
		writeError(w, axerr.InvalidArgument("bundleId is required"))
		return
	}

	info, err := h.coord.OpenApplication(r.Context(), req.BundleID)
	h.record(r, "application.open", req.BundleID, err)
	if err != nil {
		writeError(w, err)
		return
	}

	app, err := h.store.PutApplication(store.Application{
		PID:         info.PID,
		BundleID:    info.BundleID,
		DisplayName: info.Name,
		LaunchedAt:  info.LaunchedAt,
		Frontmost:   info.Frontmost,
		Alive:       true,
	})
	if axerr.IsKind(err, axerr.KindAlreadyExists) {
		// Reopening a tracked target is idempotent.
		app, err = h.store.GetApplication(store.ApplicationName(info.PID))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.refreshApplication(app))
}

// ListApplicationsResponse pages over tracked applications.
type ListApplicationsResponse struct {
	Applications  []store.Application `json:"applications"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	apps := h.store.ListApplications()
	for i := range apps {
		apps[i] = h.refreshApplication(apps[i])
	}
	page, err := pagination.Paginate(apps, size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListApplicationsResponse{
		Applications:  page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.refreshApplication(app))
}

func (h *Handler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = h.store.DeleteApplication(app.Name)
	h.record(r, "application.delete", app.Name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	h.observe.CancelByPID(app.PID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// TraverseRequest captures a snapshot of the target.
type TraverseRequest struct {
	// Mode is "passive" (default) or "active".
	Mode string `json:"mode,omitempty"`
	// AllowActivation opts in to a single activation in active mode.
	AllowActivation bool `json:"allowActivation,omitempty"`
}

// TraverseResponse returns the captured snapshot.
type TraverseResponse struct {
	Snapshot *element.Snapshot `json:"snapshot"`
}

func (h *Handler) Traverse(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req TraverseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.coord.Traverse(r.Context(), app.PID, mode, req.AllowActivation)
	if mode == traversal.ModeActive {
		h.record(r, "application.traverse.active", app.Name, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TraverseResponse{Snapshot: snap})
}

func parseMode(s string) (traversal.Mode, error) {
	switch s {
	case "", string(traversal.ModePassive):
		return traversal.ModePassive, nil
	case string(traversal.ModeActive):
		return traversal.ModeActive, nil
	default:
		return "", axerr.InvalidArgument("mode must be %q or %q", traversal.ModePassive, traversal.ModeActive)
	}
}

// FindElementsRequest resolves a selector against a fresh passive snapshot.
type FindElementsRequest struct {
	// Selector is required.
	Selector  selector.Spec `json:"selector"`
	PageSize  int           `json:"pageSize,omitempty"`
	PageToken string        `json:"pageToken,omitempty"`
}

// FindElementsResponse pages over matches in deterministic path order.
type FindElementsResponse struct {
	Elements      []element.Element `json:"elements"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

func (h *Handler) FindElements(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req FindElementsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sel, err := req.Selector.Compile()
	if err != nil {
		writeError(w, err)
		return
	}
	pageReq, err := pagination.ParseRequest(req.PageSize, req.PageToken, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.coord.Traverse(r.Context(), app.PID, traversal.ModePassive, false)
	if err != nil {
		writeError(w, err)
		return
	}

	// Over-fetch by one so the page token appears exactly when more
	// matches exist.
	matches := selector.FindElements(snap, sel, pageReq.FetchLimit)
	page := pagination.Slice(pageReq, matches)
	writeJSON(w, http.StatusOK, FindElementsResponse{
		Elements:      page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) appFromPath(r *http.Request) (store.Application, error) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		return store.Application{}, axerr.InvalidArgument("pid path segment must be a positive integer")
	}
	return h.store.GetApplication(store.ApplicationName(pid))
}

// refreshApplication overlays live process state on the stored record. A
// dead target stays tracked; Alive goes false until the entry is deleted.
func (h *Handler) refreshApplication(app store.Application) store.Application {
	alive := h.coord.IsAlive(app.PID)
	if alive != app.Alive {
		_ = h.store.UpdateApplication(app.Name, func(a *store.Application) { a.Alive = alive })
		app.Alive = alive
	}
	return app
}
