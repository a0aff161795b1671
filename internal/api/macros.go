package api

import (
	"encoding/json"
	"net/http"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/pagination"
	"github.com/zjrosen/axd/internal/store"
)

// CreateMacroRequest stores a named sequence of operations. The core
// replays steps opaquely; each step is a performAction-shaped payload plus
// its target application.
type CreateMacroRequest struct {
	DisplayName string            `json:"displayName,omitempty"`
	Steps       []store.MacroStep `json:"steps"`
}

func (h *Handler) CreateMacro(w http.ResponseWriter, r *http.Request) {
	var req CreateMacroRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.store.CreateMacro(req.DisplayName, req.Steps)
	h.record(r, "macro.create", m.Name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMacrosResponse pages over macros.
type ListMacrosResponse struct {
	Macros        []store.Macro `json:"macros"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (h *Handler) ListMacros(w http.ResponseWriter, r *http.Request) {
	size, token, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := pagination.Paginate(h.store.ListMacros(), size, token, h.cfg.Pagination.DefaultPageSize, h.cfg.Pagination.MaxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListMacrosResponse{
		Macros:        page.Items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *Handler) GetMacro(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMacro(macroName(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteMacro(w http.ResponseWriter, r *http.Request) {
	name := macroName(r)
	err := h.store.DeleteMacro(name)
	h.record(r, "macro.delete", name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// macroStepParams is the replayable payload of one step: a performAction
// request bound to a target application.
type macroStepParams struct {
	Application string      `json:"application"`
	Action      ActionSpec  `json:"action"`
	Options     wireOptions `json:"options"`
}

// RunMacroResponse reports per-step outcomes in order.
type RunMacroResponse struct {
	Results []PerformActionResponse `json:"results"`
}

// RunMacro replays the macro's steps in order through the coordinator.
// Execution stops at the first failing step.
func (h *Handler) RunMacro(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMacro(macroName(r))
	if err != nil {
		writeError(w, err)
		return
	}

	var out RunMacroResponse
	for i, step := range m.Steps {
		var params macroStepParams
		if err := json.Unmarshal(step.Params, &params); err != nil {
			writeError(w, axerr.InvalidArgument("macro step %d: malformed params: %v", i, err))
			return
		}
		pid, err := store.ParseApplicationName(params.Application)
		if err != nil {
			writeError(w, axerr.InvalidArgument("macro step %d: %v", i, err))
			return
		}
		opts, err := params.Options.toOptions()
		if err != nil {
			writeError(w, axerr.InvalidArgument("macro step %d: %v", i, err))
			return
		}

		res, err := h.dispatchAction(r, pid, params.Action, opts)
		h.record(r, "macro.step."+params.Action.Type, m.Name, err)
		if err != nil {
			writeError(w, err)
			return
		}
		out.Results = append(out.Results, PerformActionResponse{
			Output: res.Output,
			Before: res.Before,
			After:  res.After,
			Diff:   res.Diff,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func macroName(r *http.Request) string {
	return "macros/" + r.PathValue("id")
}
