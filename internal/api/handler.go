// Package api exposes the daemon's resource-oriented REST surface and the
// SSE watch stream. It is glue: every mutating call lands in the action
// coordinator, every read lands in the store or the registries.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zjrosen/axd/internal/audit"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/config"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/log"
	"github.com/zjrosen/axd/internal/observe"
	"github.com/zjrosen/axd/internal/store"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	cfg     config.Config
	store   *store.Store
	coord   *coordinator.Coordinator
	observe *observe.Engine
	journal *audit.Journal

	limiter *rateLimiter
}

// NewHandler wires the API over the core subsystems.
func NewHandler(cfg config.Config, st *store.Store, coord *coordinator.Coordinator, obs *observe.Engine, journal *audit.Journal) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   st,
		coord:   coord,
		observe: obs,
		journal: journal,
		limiter: newRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

// Routes returns the fully assembled handler with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Applications
	mux.HandleFunc("POST /v1/applications/open", h.OpenApplication)
	mux.HandleFunc("GET /v1/applications", h.ListApplications)
	mux.HandleFunc("GET /v1/applications/{pid}", h.GetApplication)
	mux.HandleFunc("DELETE /v1/applications/{pid}", h.DeleteApplication)
	mux.HandleFunc("POST /v1/applications/{pid}/traverse", h.Traverse)
	mux.HandleFunc("POST /v1/applications/{pid}/find", h.FindElements)
	mux.HandleFunc("POST /v1/applications/{pid}/actions", h.PerformAction)

	// Windows
	mux.HandleFunc("GET /v1/applications/{pid}/windows", h.ListWindows)
	mux.HandleFunc("GET /v1/applications/{pid}/windows/{windowId}", h.GetWindow)
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/focus", h.windowMutation("focus"))
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/move", h.windowMutation("move"))
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/resize", h.windowMutation("resize"))
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/minimize", h.windowMutation("minimize"))
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/restore", h.windowMutation("restore"))
	mux.HandleFunc("POST /v1/applications/{pid}/windows/{windowId}/close", h.windowMutation("close"))

	// Global input
	mux.HandleFunc("POST /v1/input/execute", h.ExecuteGlobalInput)

	// Clipboard
	mux.HandleFunc("GET /v1/clipboard", h.ReadClipboard)
	mux.HandleFunc("PUT /v1/clipboard", h.WriteClipboard)

	// Observations
	mux.HandleFunc("POST /v1/observations", h.CreateObservation)
	mux.HandleFunc("GET /v1/observations", h.ListObservations)
	mux.HandleFunc("GET /v1/observations/{id}", h.GetObservation)
	mux.HandleFunc("DELETE /v1/observations/{id}", h.CancelObservation)
	mux.HandleFunc("POST /v1/observations/{id}/resume", h.ResumeObservation)
	mux.HandleFunc("GET /v1/observations/{id}/events", h.ListObservationEvents)
	mux.HandleFunc("GET /v1/observations/{id}/watch", h.WatchObservation)

	// Sessions
	mux.HandleFunc("POST /v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.DeleteSession)

	// Macros
	mux.HandleFunc("POST /v1/macros", h.CreateMacro)
	mux.HandleFunc("GET /v1/macros", h.ListMacros)
	mux.HandleFunc("GET /v1/macros/{id}", h.GetMacro)
	mux.HandleFunc("DELETE /v1/macros/{id}", h.DeleteMacro)
	mux.HandleFunc("POST /v1/macros/{id}/run", h.RunMacro)

	// Health
	mux.HandleFunc("GET /health", h.Health)

	return h.withMiddleware(mux)
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Debug(log.CatAPI, "response encode failed", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := axerr.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), ErrorResponse{Error: err.Error(), Code: kind.String()})
}

func decodeBody(r *http.Request, into any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return axerr.InvalidArgument("malformed request body: %v", err)
	}
	return nil
}

// wireOptions is the JSON form of coordinator.Options; durations come in as
// Go duration strings.
type wireOptions struct {
	TraverseBefore    bool   `json:"traverseBefore,omitempty"`
	TraverseAfter     bool   `json:"traverseAfter,omitempty"`
	ShowDiff          bool   `json:"showDiff,omitempty"`
	DelayAfterAction  string `json:"delayAfterAction,omitempty"`
	ShowAnimation     bool   `json:"showAnimation,omitempty"`
	AnimationDuration string `json:"animationDuration,omitempty"`
	AllowActivation   bool   `json:"allowActivation,omitempty"`
}

func (o wireOptions) toOptions() (coordinator.Options, error) {
	opts := coordinator.Options{
		TraverseBefore:  o.TraverseBefore,
		TraverseAfter:   o.TraverseAfter,
		ShowDiff:        o.ShowDiff,
		ShowAnimation:   o.ShowAnimation,
		AllowActivation: o.AllowActivation,
	}
	var err error
	if opts.DelayAfterAction, err = parseDuration(o.DelayAfterAction, "delayAfterAction"); err != nil {
		return opts, err
	}
	if opts.AnimationDuration, err = parseDuration(o.AnimationDuration, "animationDuration"); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, axerr.InvalidArgument("%s: %q is not a duration", field, s)
	}
	return d, nil
}

// Health reports liveness plus permission and registry state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status       string `json:"status"`
		Trusted      bool   `json:"accessibilityTrusted"`
		Applications int    `json:"applications"`
		Observations int    `json:"observations"`
		Sessions     int    `json:"sessions"`
	}
	writeJSON(w, http.StatusOK, health{
		Status:       "ok",
		Trusted:      h.coord.Trusted(),
		Applications: len(h.store.ListApplications()),
		Observations: len(h.observe.List()),
		Sessions:     len(h.store.ListSessions()),
	})
}

func (h *Handler) record(r *http.Request, op, resource string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = axerr.KindOf(err).String()
	}
	h.journal.Record(r.Context(), audit.Entry{
		Operation: op,
		Resource:  resource,
		Actor:     r.RemoteAddr,
		Outcome:   outcome,
	})
}

// pageParams pulls pageSize/pageToken off the query string.
func pageParams(r *http.Request) (int, string, error) {
	q := r.URL.Query()
	size := 0
	if s := q.Get("pageSize"); s != "" {
		var err error
		size, err = strconv.Atoi(s)
		if err != nil {
			return 0, "", axerr.InvalidArgument("pageSize: %q is not an integer", s)
		}
	}
	return size, q.Get("pageToken"), nil
}
