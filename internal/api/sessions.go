package api

import (
	"net/http"

	"github.com/zjrosen/axd/internal/pagination"
	"github.com/zjrosen/axd/internal/store"
)

// CreateSessionRequest mints a client-scoped session.
type CreateSessionRequest struct {
	// PollInterval overrides the daemon default for observations created
	// under this session. Duration string.
	PollInterval string `json:"pollInterval,omitempty"`
	// PageSize is stored on the session and returned to clients; list
	// endpoints do not apply it and read pageSize from each request.
	PageSize int `json:"pageSize,omitempty"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	interval, err := parseDuration(req.PollInterval, "pollInterval")
	if err != nil {
		writeError(w, err)
		return
	}

	sess := h.store.CreateSession(store.SessionOverrides{
		PollInterval: interval,
		PageSize:     req.PageSize,
	})
	h.record(r, "session.create", sess.Name, nil)
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessionsResponse pages over sessions.
type ListSessionsResponse struct {
	Sessions      []store.Session `json:"sessions"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := pagination.Paginate(h.store.ListSessions(), size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions:      page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(sessionName(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession removes the session; its observations are cancelled via
// the store's cascade hook.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	name := sessionName(r)
	err := h.store.DeleteSession(name)
	h.record(r, "session.delete", name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func sessionName(r *http.Request) string {
	return "sessions/" + r.PathValue("id")
}
