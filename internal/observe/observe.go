// Package observe runs long-lived, per-target pollers that emit structured
// diffs without disturbing user focus. Every poll is a passive traversal
// submitted through the action coordinator; the circuit breaker pauses any
// observation implicated in a self-induced activation.
package observe

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/log"
	"github.com/zjrosen/axd/internal/pubsub"
	"github.com/zjrosen/axd/internal/traversal"
)

// State is the lifecycle state of an observation.
//
// Valid transitions:
//
//	Pending   -> Running, Cancelled, Failed
//	Running   -> Paused, Cancelled, Failed
//	Paused    -> Running, Cancelled, Failed
//	Cancelled -> (terminal)
//	Failed    -> (terminal)
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:   true,
		StateCancelled: true,
		StateFailed:    true,
	},
	StateRunning: {
		StatePaused:    true,
		StateCancelled: true,
		StateFailed:    true,
	},
	StatePaused: {
		StateRunning:   true,
		StateCancelled: true,
		StateFailed:    true,
	},
	StateCancelled: {},
	StateFailed:    {},
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateFailed
}

// CanTransitionTo validates a transition against the state machine.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := validTransitions[s]
	return ok && allowed[target]
}

// EventType labels entries on an observation's stream.
type EventType string

const (
	// EventDiff carries a non-empty snapshot delta.
	EventDiff EventType = "diff"
	// EventDiagnostic carries breaker trips and other advisories.
	EventDiagnostic EventType = "diagnostic"
	// EventError is the final event before a stream closes on failure.
	EventError EventType = "error"
)

// Event is one entry in an observation's history and stream.
type Event struct {
	Type      EventType              `json:"type"`
	Revision  int64                  `json:"revision"`
	Timestamp time.Time              `json:"timestamp"`
	Diff      *element.TraversalDiff `json:"diff,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// Observation is the externally visible view of one tracked target.
// Returned values are copies; the engine owns the live record.
type Observation struct {
	Name        string        `json:"name"`
	Application string        `json:"application"`
	Session     string        `json:"session,omitempty"`
	PID         int           `json:"pid"`
	Interval    time.Duration `json:"pollInterval"`
	Mode        string        `json:"mode"`
	State       State         `json:"state"`
	Revision    int64         `json:"revision"`
	CreatedAt   time.Time     `json:"createTime"`
	LastDiffAt  time.Time     `json:"lastDiffTime,omitzero"`
	FailureMsg  string        `json:"failureMessage,omitempty"`
}

// Spec describes a new observation.
type Spec struct {
	PID      int
	Session  string
	Interval time.Duration
	Mode     traversal.Mode
}

// Config tunes the engine.
type Config struct {
	// MaxConcurrent bounds live (non-terminal) observations.
	MaxConcurrent int
	// DefaultInterval applies when a spec omits one.
	DefaultInterval time.Duration
	// MinInterval rejects abusive poll rates.
	MinInterval time.Duration
	// RingSize bounds per-observation event history.
	RingSize int
	// BreakerWindow is how close a self-activation must be to a passive
	// poll to trip that observation's circuit breaker.
	BreakerWindow time.Duration
	// JitterFrac spreads ticks by ±frac of the interval so concurrent
	// observations do not poll in synchronized bursts.
	JitterFrac float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   32,
		DefaultInterval: time.Second,
		MinInterval:     50 * time.Millisecond,
		RingSize:        64,
		BreakerWindow:   2 * time.Second,
		JitterFrac:      0.1,
	}
}

type record struct {
	obs    Observation
	ring   []Event
	broker *pubsub.Broker[Event]
	cancel context.CancelFunc
}

// Engine owns every observation runner. Runners hold only the observation
// name and re-read the record under the engine lock each tick.
type Engine struct {
	coord *coordinator.Coordinator
	cfg   Config

	mu   sync.Mutex
	recs map[string]*record

	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates the engine. Close must be called on shutdown.
func NewEngine(coord *coordinator.Coordinator, cfg Config) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		coord:  coord,
		cfg:    cfg,
		recs:   make(map[string]*record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create registers an observation and starts its poller.
func (e *Engine) Create(spec Spec) (Observation, error) {
	if spec.PID <= 0 {
		return Observation{}, axerr.InvalidArgument("observation requires a target pid")
	}
	if spec.Interval == 0 {
		spec.Interval = e.cfg.DefaultInterval
	}
	if spec.Interval < e.cfg.MinInterval {
		return Observation{}, axerr.InvalidArgument("pollInterval %s is below the %s minimum", spec.Interval, e.cfg.MinInterval)
	}
	mode := spec.Mode
	if mode == "" {
		mode = traversal.ModePassive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	live := 0
	for _, r := range e.recs {
		if !r.obs.State.IsTerminal() {
			live++
		}
	}
	if live >= e.cfg.MaxConcurrent {
		return Observation{}, axerr.FailedPrecondition("observation limit reached (%d live)", e.cfg.MaxConcurrent)
	}

	name := "observations/" + uuid.New().String()
	runCtx, cancel := context.WithCancel(e.ctx)
	rec := &record{
		obs: Observation{
			Name:        name,
			Application: fmt.Sprintf("applications/%d", spec.PID),
			Session:     spec.Session,
			PID:         spec.PID,
			Interval:    spec.Interval,
			Mode:        string(mode),
			State:       StatePending,
			CreatedAt:   time.Now(),
		},
		broker: pubsub.NewBroker[Event](),
		cancel: cancel,
	}
	e.recs[name] = rec

	e.group.Go(func() error {
		e.run(runCtx, name)
		return nil
	})

	log.Info(log.CatObserve, "observation created", "name", name, "pid", spec.PID, "interval", spec.Interval)
	return rec.obs, nil
}

// Get returns a copy of the observation.
func (e *Engine) Get(name string) (Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return Observation{}, axerr.NotFound("unknown observation %q", name)
	}
	return rec.obs, nil
}

// List returns copies of all observations in name order.
func (e *Engine) List() []Observation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Observation, 0, len(e.recs))
	for _, rec := range e.recs {
		out = append(out, rec.obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Events returns a copy of the observation's recent event ring, oldest
// first.
func (e *Engine) Events(name string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return nil, axerr.NotFound("unknown observation %q", name)
	}
	return append([]Event(nil), rec.ring...), nil
}

// Subscribe streams events for one observation until ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, name string) (<-chan pubsub.Event[Event], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return nil, axerr.NotFound("unknown observation %q", name)
	}
	return rec.broker.Subscribe(ctx), nil
}

// Cancel transitions the observation to cancelled and stops its poller.
func (e *Engine) Cancel(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(name)
}

func (e *Engine) cancelLocked(name string) error {
	rec, ok := e.recs[name]
	if !ok {
		return axerr.NotFound("unknown observation %q", name)
	}
	if rec.obs.State.IsTerminal() {
		return nil
	}
	rec.obs.State = StateCancelled
	rec.cancel()
	rec.broker.Close()
	log.Info(log.CatObserve, "observation cancelled", "name", name)
	return nil
}

// Delete cancels and removes the observation.
func (e *Engine) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cancelLocked(name); err != nil {
		return err
	}
	delete(e.recs, name)
	return nil
}

// Resume restarts a paused (circuit-broken) observation.
func (e *Engine) Resume(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return axerr.NotFound("unknown observation %q", name)
	}
	if rec.obs.State != StatePaused {
		return axerr.FailedPrecondition("observation %q is %s, only paused observations resume", name, rec.obs.State)
	}
	rec.obs.State = StateRunning

	runCtx, cancel := context.WithCancel(e.ctx)
	rec.cancel = cancel
	e.group.Go(func() error {
		e.run(runCtx, name)
		return nil
	})
	log.Info(log.CatObserve, "observation resumed", "name", name)
	return nil
}

// CancelBySession cancels every observation owned by the session.
func (e *Engine) CancelBySession(session string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, rec := range e.recs {
		if rec.obs.Session == session {
			_ = e.cancelLocked(name)
		}
	}
}

// CancelByPID cancels every observation of the given target.
func (e *Engine) CancelByPID(pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, rec := range e.recs {
		if rec.obs.PID == pid {
			_ = e.cancelLocked(name)
		}
	}
}

// Close cancels everything and waits for the pollers to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	for name := range e.recs {
		_ = e.cancelLocked(name)
	}
	e.mu.Unlock()

	e.cancel()
	_ = e.group.Wait()
}

// run is one observation's polling loop. It holds no direct reference to
// the record: state is re-read by name each tick so cancellation and
// external transitions always win.
func (e *Engine) run(ctx context.Context, name string) {
	var prev *element.Snapshot
	prevPoll := time.Now()

	for {
		obs, ok := e.snapshotState(name)
		if !ok || obs.State.IsTerminal() {
			return
		}
		if obs.State == StatePaused {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(obs.Interval, e.cfg.JitterFrac)):
		}

		pollStart := time.Now()
		snap, err := e.coord.Traverse(ctx, obs.PID, traversal.ModePassive, false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(name, err)
			return
		}

		// First successful poll moves pending to running.
		e.markRunning(name)

		// Circuit breaker: a self-originated activation close to a passive
		// poll means something in this process is disturbing focus. Stop
		// polling before the loop can amplify itself.
		if e.coord.SelfActivationSince(pollStart.Add(-e.cfg.BreakerWindow)) {
			e.trip(name)
			return
		}

		if prev != nil {
			diff := element.Diff(prev, snap)
			if e.coord.SelfActivationSince(prevPoll) {
				// Focus flips caused by this process's own activations are
				// ours, not the target's; reporting them would feed the
				// very loop the breaker exists to stop.
				diff = stripFocusFlips(diff)
			}
			if !diff.Empty() {
				e.emitDiff(name, diff)
			}
		}
		prev = snap
		prevPoll = pollStart
	}
}

// stripFocusFlips drops focused-attribute transitions from a diff, removing
// modified entries that carried nothing else.
func stripFocusFlips(diff *element.TraversalDiff) *element.TraversalDiff {
	out := &element.TraversalDiff{Added: diff.Added, Removed: diff.Removed}
	for _, m := range diff.Modified {
		var kept []element.AttributeChange
		for _, ch := range m.Changes {
			if ch.Name != "focused" {
				kept = append(kept, ch)
			}
		}
		if len(kept) > 0 {
			out.Modified = append(out.Modified, element.ModifiedElement{Element: m.Element, Changes: kept})
		}
	}
	return out
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := float64(d) * frac
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

func (e *Engine) snapshotState(name string) (Observation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return Observation{}, false
	}
	return rec.obs, true
}

func (e *Engine) markRunning(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.recs[name]
	if !ok {
		return
	}
	if rec.obs.State.CanTransitionTo(StateRunning) {
		rec.obs.State = StateRunning
	}
}

func (e *Engine) emitDiff(name string, diff *element.TraversalDiff) {
	e.mu.Lock()
	rec, ok := e.recs[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	rec.obs.Revision++
	rec.obs.LastDiffAt = time.Now()
	ev := Event{
		Type:      EventDiff,
		Revision:  rec.obs.Revision,
		Timestamp: rec.obs.LastDiffAt,
		Diff:      diff,
	}
	e.appendRingLocked(rec, ev)
	broker := rec.broker
	e.mu.Unlock()

	broker.Publish(pubsub.UpdatedEvent, ev)
}

func (e *Engine) trip(name string) {
	e.mu.Lock()
	rec, ok := e.recs[name]
	if !ok || !rec.obs.State.CanTransitionTo(StatePaused) {
		e.mu.Unlock()
		return
	}
	rec.obs.State = StatePaused
	ev := Event{
		Type:      EventDiagnostic,
		Revision:  rec.obs.Revision,
		Timestamp: time.Now(),
		Message:   "circuit breaker tripped: self-induced activation detected near a passive poll; polling paused until resumed",
	}
	e.appendRingLocked(rec, ev)
	broker := rec.broker
	e.mu.Unlock()

	log.Warn(log.CatObserve, "circuit breaker tripped", "name", name)
	broker.Publish(pubsub.UpdatedEvent, ev)
}

func (e *Engine) fail(name string, cause error) {
	e.mu.Lock()
	rec, ok := e.recs[name]
	if !ok || !rec.obs.State.CanTransitionTo(StateFailed) {
		e.mu.Unlock()
		return
	}
	rec.obs.State = StateFailed
	rec.obs.FailureMsg = cause.Error()
	ev := Event{
		Type:      EventError,
		Revision:  rec.obs.Revision,
		Timestamp: time.Now(),
		Message:   cause.Error(),
	}
	e.appendRingLocked(rec, ev)
	broker := rec.broker
	e.mu.Unlock()

	log.ErrorErr(log.CatObserve, "observation failed", cause, "name", name)
	// The error event reaches subscribers before their stream closes.
	broker.Publish(pubsub.UpdatedEvent, ev)
	broker.Close()
}

func (e *Engine) appendRingLocked(rec *record, ev Event) {
	rec.ring = append(rec.ring, ev)
	if over := len(rec.ring) - e.cfg.RingSize; over > 0 {
		rec.ring = append(rec.ring[:0], rec.ring[over:]...)
	}
}
