package api

import (
	"net/http"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/selector"
)

// ActionSpec describes one action. Exactly one action type is implied by
// the Type field; the remaining fields parameterize it.
type ActionSpec struct {
	// Type is one of: typeText, keyStroke, press, setValue, click,
	// activate. Required.
	Type string `json:"type"`

	// typeText
	Text string `json:"text,omitempty"`

	// keyStroke
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`

	// press / setValue target selection
	Selector *selector.Spec `json:"selector,omitempty"`
	// press
	Action string `json:"action,omitempty"`
	// setValue
	Value string `json:"value,omitempty"`

	// click (Global Display Coordinates)
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Right  bool    `json:"right,omitempty"`
	Clicks int     `json:"clicks,omitempty"`
}

// PerformActionRequest brackets one action with optional snapshots.
type PerformActionRequest struct {
	Action  ActionSpec  `json:"action"`
	Options wireOptions `json:"options"`
}

// PerformActionResponse carries the action output and the bracket.
type PerformActionResponse struct {
	Output any                    `json:"output,omitempty"`
	Before *element.Snapshot      `json:"before,omitempty"`
	After  *element.Snapshot      `json:"after,omitempty"`
	Diff   *element.TraversalDiff `json:"diff,omitempty"`
}

func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	app, err := h.appFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req PerformActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.dispatchAction(r, app.PID, req.Action, opts)
	h.record(r, "action."+req.Action.Type, app.Name, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PerformActionResponse{
		Output: res.Output,
		Before: res.Before,
		After:  res.After,
		Diff:   res.Diff,
	})
}

func (h *Handler) dispatchAction(r *http.Request, pid int, spec ActionSpec, opts coordinator.Options) (*coordinator.Result, error) {
	ctx := r.Context()
	switch spec.Type {
	case "typeText":
		if spec.Text == "" {
			return nil, axerr.InvalidArgument("typeText requires text")
		}
		return h.coord.TypeText(ctx, pid, spec.Text, opts)

	case "keyStroke":
		if spec.Key == "" {
			return nil, axerr.InvalidArgument("keyStroke requires key")
		}
		return h.coord.KeyStroke(ctx, pid, spec.Key, spec.Modifiers, opts)

	case "press":
		sel, err := compileTarget(spec)
		if err != nil {
			return nil, err
		}
		action := spec.Action
		if action == "" {
			action = "AXPress"
		}
		return h.coord.ElementAction(ctx, pid, sel, action, opts)

	case "setValue":
		sel, err := compileTarget(spec)
		if err != nil {
			return nil, err
		}
		return h.coord.SetElementValue(ctx, pid, sel, spec.Value, opts)

	case "click":
		clicks := spec.Clicks
		if clicks == 0 {
			clicks = 1
		}
		return h.coord.Click(ctx, spec.X, spec.Y, spec.Right, clicks, opts)

	case "activate":
		return h.coord.Activate(ctx, pid, opts)

	default:
		return nil, axerr.InvalidArgument("unknown action type %q", spec.Type)
	}
}

func compileTarget(spec ActionSpec) (selector.Selector, error) {
	if spec.Selector == nil {
		return nil, axerr.InvalidArgument("%s requires a selector", spec.Type)
	}
	return spec.Selector.Compile()
}

// GlobalInputRequest executes input with no target application: keystrokes
// and clicks go to whatever has focus.
type GlobalInputRequest struct {
	Events  []ActionSpec `json:"events"`
	Options wireOptions  `json:"options"`
}

func (h *Handler) ExecuteGlobalInput(w http.ResponseWriter, r *http.Request) {
	var req GlobalInputRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, axerr.InvalidArgument("events must not be empty"))
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		writeError(w, err)
		return
	}

	for _, ev := range req.Events {
		var err error
		switch ev.Type {
		case "typeText":
			_, err = h.coord.GlobalTypeText(r.Context(), ev.Text, opts)
		case "keyStroke":
			_, err = h.coord.GlobalKeyStroke(r.Context(), ev.Key, ev.Modifiers, opts)
		case "click":
			clicks := ev.Clicks
			if clicks == 0 {
				clicks = 1
			}
			_, err = h.coord.Click(r.Context(), ev.X, ev.Y, ev.Right, clicks, opts)
		default:
			err = axerr.InvalidArgument("global input does not support action type %q", ev.Type)
		}
		h.record(r, "input."+ev.Type, "", err)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// ReadClipboard returns the pasteboard contents.
func (h *Handler) ReadClipboard(w http.ResponseWriter, r *http.Request) {
	text, err := h.coord.ReadClipboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// WriteClipboard replaces the pasteboard contents.
func (h *Handler) WriteClipboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := h.coord.WriteClipboard(r.Context(), req.Text)
	h.record(r, "clipboard.write", "", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
