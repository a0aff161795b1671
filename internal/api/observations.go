package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/log"
	"github.com/zjrosen/axd/internal/observe"
	"github.com/zjrosen/axd/internal/pagination"
	"github.com/zjrosen/axd/internal/store"
)

// CreateObservationRequest starts periodic passive observation of a target.
type CreateObservationRequest struct {
	// Application is the target resource name (applications/{pid}).
	// Required.
	Application string `json:"application"`
	// PollInterval is a duration string; the configured default applies
	// when absent. Session overrides win over the daemon default.
	PollInterval string `json:"pollInterval,omitempty"`
	// Mode is recorded on the observation; polling is always passive.
	Mode string `json:"mode,omitempty"`
	// Session optionally assigns ownership; deleting the session cancels
	// the observation.
	Session string `json:"session,omitempty"`
}

func (h *Handler) CreateObservation(w http.ResponseWriter, r *http.Request) {
	var req CreateObservationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pid, err := store.ParseApplicationName(req.Application)
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := h.store.GetApplication(req.Application)
	if err != nil {
		writeError(w, err)
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	interval, err := parseDuration(req.PollInterval, "pollInterval")
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Session != "" {
		sess, serr := h.store.GetSession(req.Session)
		if serr != nil {
			writeError(w, serr)
			return
		}
		if interval == 0 && sess.Overrides.PollInterval > 0 {
			interval = sess.Overrides.PollInterval
		}
	}

	obs, err := h.observe.Create(observe.Spec{
		PID:      pid,
		Session:  req.Session,
		Interval: interval,
		Mode:     mode,
	})
	h.record(r, "observation.create", req.Application, err)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.AttachObservationToApp(app.Name, obs.Name); err != nil {
		log.Debug(log.CatAPI, "observation back-reference failed", "error", err)
	}
	if req.Session != "" {
		if err := h.store.AttachObservationToSession(req.Session, obs.Name); err != nil {
			log.Debug(log.CatAPI, "session back-reference failed", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, obs)
}

// ListObservationsResponse pages over observations.
type ListObservationsResponse struct {
	Observations  []observe.Observation `json:"observations"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListObservations(w http.ResponseWriter, r *http.Request) {
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := pagination.Paginate(h.observe.List(), size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListObservationsResponse{
		Observations:  page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) GetObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := h.observe.Get(observationName(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (h *Handler) CancelObservation(w http.ResponseWriter, r *http.Request) {
	name := observationName(r)
	obs, err := h.observe.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}

	err = h.observe.Delete(name)
	h.record(r, "observation.cancel", name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	h.store.DetachObservationFromApp(obs.Application, name)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) ResumeObservation(w http.ResponseWriter, r *http.Request) {
	name := observationName(r)
	err := h.observe.Resume(name)
	h.record(r, "observation.resume", name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	obs, err := h.observe.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// ListObservationEventsResponse pages over the bounded event ring.
type ListObservationEventsResponse struct {
	Events        []observe.Event `json:"events"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListObservationEvents(w http.ResponseWriter, r *http.Request) {
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.observe.Events(observationName(r))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := pagination.Paginate(events, size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListObservationEventsResponse{
		Events:        page.Items,
		NextPageToken: page.NextPageToken,
	})
}

// WatchObservation streams events as SSE until the client disconnects or
// the observation's stream closes.
func (h *Handler) WatchObservation(w http.ResponseWriter, r *http.Request) {
	name := observationName(r)
	stream, err := h.observe.Subscribe(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, axerr.Internal("streaming unsupported by this connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-stream:
			if !open {
				// Stream closed: cancelled, failed (after its error
				// event), or engine shutdown.
				return
			}
			payload, merr := json.Marshal(ev.Payload)
			if merr != nil {
				log.Debug(log.CatAPI, "event marshal failed", "error", merr)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Payload.Type, payload)
			flusher.Flush()
		}
	}
}

func observationName(r *http.Request) string {
	return "observations/" + r.PathValue("id")
}
