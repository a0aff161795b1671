// Package store holds the process-wide registries: tracked applications,
// sessions, and macros. Each registry has its own lock, reads return
// copies, and no lock is ever held across a coordinator call - cascade
// hooks run after the registry lock is released.
package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/log"
)

// Application is a tracked target. A target may outlive its process; a dead
// PID is reflected in responses until the entry is explicitly deleted.
type Application struct {
	Name         string    `json:"name"` // applications/{pid}
	PID          int       `json:"pid"`
	BundleID     string    `json:"bundleId,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	LaunchedAt   time.Time `json:"launchTime,omitzero"`
	Frontmost    bool      `json:"frontmost"`
	Alive        bool      `json:"alive"`
	CreatedAt    time.Time `json:"createTime"`
	Observations []string  `json:"observations,omitempty"`
}

// ApplicationName renders the resource name for a PID.
func ApplicationName(pid int) string {
	return fmt.Sprintf("applications/%d", pid)
}

// ParseApplicationName extracts the PID from an application resource name.
func ParseApplicationName(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, "applications/")
	if !ok {
		return 0, axerr.InvalidArgument("%q is not an application resource name", name)
	}
	pid, err := strconv.Atoi(rest)
	if err != nil || pid <= 0 {
		return 0, axerr.InvalidArgument("%q is not an application resource name", name)
	}
	return pid, nil
}

// SessionOverrides are per-session configuration overrides.
type SessionOverrides struct {
	PollInterval time.Duration `json:"pollInterval,omitempty"`
	PageSize     int           `json:"pageSize,omitempty"`
}

// Session groups client-scoped resources. Deleting a session cancels the
// observations it owns.
type Session struct {
	Name         string           `json:"name"` // sessions/{id}
	CreatedAt    time.Time        `json:"createTime"`
	Overrides    SessionOverrides `json:"overrides"`
	Observations []string         `json:"observations,omitempty"`
}

// MacroStep is one opaque scripted operation. The core replays steps; it
// does not interpret them beyond the operation name.
type MacroStep struct {
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Macro is a named sequence of core operations.
type Macro struct {
	Name        string      `json:"name"` // macros/{id}
	DisplayName string      `json:"displayName,omitempty"`
	Steps       []MacroStep `json:"steps"`
	CreatedAt   time.Time   `json:"createTime"`
}

// Store owns the registries.
type Store struct {
	appsMu sync.RWMutex
	apps   map[string]*Application

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	macrosMu sync.RWMutex
	macros   map[string]*Macro

	// OnCascadeObservations is invoked after a parent deletion, outside
	// every registry lock, with the orphaned observation names.
	OnCascadeObservations func(names []string)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		apps:     make(map[string]*Application),
		sessions: make(map[string]*Session),
		macros:   make(map[string]*Macro),
	}
}

// === Applications ===

// PutApplication registers a target. Resource names are unique.
func (s *Store) PutApplication(app Application) (Application, error) {
	if app.PID <= 0 {
		return Application{}, axerr.InvalidArgument("application requires a positive pid")
	}
	app.Name = ApplicationName(app.PID)
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}

	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	if _, exists := s.apps[app.Name]; exists {
		return Application{}, axerr.AlreadyExists("application %q is already tracked", app.Name)
	}
	stored := app
	s.apps[app.Name] = &stored
	log.Debug(log.CatStore, "application tracked", "name", app.Name)
	return app, nil
}

// GetApplication returns a copy of the tracked application.
func (s *Store) GetApplication(name string) (Application, error) {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	app, ok := s.apps[name]
	if !ok {
		return Application{}, axerr.NotFound("unknown application %q", name)
	}
	return copyApplication(app), nil
}

// ListApplications returns copies sorted by resource name.
func (s *Store) ListApplications() []Application {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	out := make([]Application, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, copyApplication(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateApplication atomically mutates a tracked application.
func (s *Store) UpdateApplication(name string, fn func(*Application)) error {
	if fn == nil {
		return axerr.InvalidArgument("update function cannot be nil")
	}
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	app, ok := s.apps[name]
	if !ok {
		return axerr.NotFound("unknown application %q", name)
	}
	fn(app)
	return nil
}

// DeleteApplication removes the entry and cascades to its observations.
func (s *Store) DeleteApplication(name string) error {
	s.appsMu.Lock()
	app, ok := s.apps[name]
	if !ok {
		s.appsMu.Unlock()
		return axerr.NotFound("unknown application %q", name)
	}
	orphans := slices.Clone(app.Observations)
	delete(s.apps, name)
	s.appsMu.Unlock()

	s.cascade(orphans)
	log.Debug(log.CatStore, "application deleted", "name", name, "orphans", len(orphans))
	return nil
}

// AttachObservationToApp records a back-reference.
func (s *Store) AttachObservationToApp(appName, obsName string) error {
	return s.UpdateApplication(appName, func(app *Application) {
		if !slices.Contains(app.Observations, obsName) {
			app.Observations = append(app.Observations, obsName)
		}
	})
}

// DetachObservationFromApp drops a back-reference. Unknown names are a
// no-op: detach races deletion by design.
func (s *Store) DetachObservationFromApp(appName, obsName string) {
	_ = s.UpdateApplication(appName, func(app *Application) {
		app.Observations = slices.DeleteFunc(slices.Clone(app.Observations), func(n string) bool {
			return n == obsName
		})
	})
}

func copyApplication(app *Application) Application {
	out := *app
	out.Observations = slices.Clone(app.Observations)
	return out
}

// === Sessions ===

// CreateSession mints a new session.
func (s *Store) CreateSession(overrides SessionOverrides) Session {
	sess := Session{
		Name:      "sessions/" + uuid.New().String(),
		CreatedAt: time.Now(),
		Overrides: overrides,
	}
	s.sessionsMu.Lock()
	stored := sess
	s.sessions[sess.Name] = &stored
	s.sessionsMu.Unlock()
	log.Debug(log.CatStore, "session created", "name", sess.Name)
	return sess
}

// GetSession returns a copy of the session.
func (s *Store) GetSession(name string) (Session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[name]
	if !ok {
		return Session{}, axerr.NotFound("unknown session %q", name)
	}
	return copySession(sess), nil
}

// ListSessions returns copies sorted by resource name.
func (s *Store) ListSessions() []Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AttachObservationToSession records session ownership of an observation.
func (s *Store) AttachObservationToSession(sessionName, obsName string) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[sessionName]
	if !ok {
		return axerr.NotFound("unknown session %q", sessionName)
	}
	if !slices.Contains(sess.Observations, obsName) {
		sess.Observations = append(sess.Observations, obsName)
	}
	return nil
}

// DeleteSession removes the session and cancels its observations.
func (s *Store) DeleteSession(name string) error {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[name]
	if !ok {
		s.sessionsMu.Unlock()
		return axerr.NotFound("unknown session %q", name)
	}
	orphans := slices.Clone(sess.Observations)
	delete(s.sessions, name)
	s.sessionsMu.Unlock()

	s.cascade(orphans)
	log.Debug(log.CatStore, "session deleted", "name", name, "orphans", len(orphans))
	return nil
}

func copySession(sess *Session) Session {
	out := *sess
	out.Observations = slices.Clone(sess.Observations)
	return out
}

// === Macros ===

// CreateMacro stores a named step sequence.
func (s *Store) CreateMacro(displayName string, steps []MacroStep) (Macro, error) {
	if len(steps) == 0 {
		return Macro{}, axerr.InvalidArgument("macro requires at least one step")
	}
	m := Macro{
		Name:        "macros/" + uuid.New().String(),
		DisplayName: displayName,
		Steps:       slices.Clone(steps),
		CreatedAt:   time.Now(),
	}
	s.macrosMu.Lock()
	stored := m
	s.macros[m.Name] = &stored
	s.macrosMu.Unlock()
	return m, nil
}

// GetMacro returns a copy of the macro.
func (s *Store) GetMacro(name string) (Macro, error) {
	s.macrosMu.RLock()
	defer s.macrosMu.RUnlock()
	m, ok := s.macros[name]
	if !ok {
		return Macro{}, axerr.NotFound("unknown macro %q", name)
	}
	return copyMacro(m), nil
}

// ListMacros returns copies sorted by resource name.
func (s *Store) ListMacros() []Macro {
	s.macrosMu.RLock()
	defer s.macrosMu.RUnlock()
	out := make([]Macro, 0, len(s.macros))
	for _, m := range s.macros {
		out = append(out, copyMacro(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteMacro removes the macro.
func (s *Store) DeleteMacro(name string) error {
	s.macrosMu.Lock()
	defer s.macrosMu.Unlock()
	if _, ok := s.macros[name]; !ok {
		return axerr.NotFound("unknown macro %q", name)
	}
	delete(s.macros, name)
	return nil
}

func copyMacro(m *Macro) Macro {
	out := *m
	out.Steps = slices.Clone(m.Steps)
	return out
}

// cascade hands orphaned observation names to the hook, outside all locks.
func (s *Store) cascade(names []string) {
	if len(names) == 0 || s.OnCascadeObservations == nil {
		return
	}
	s.OnCascadeObservations(names)
}
