// Package coordinator is the single-writer authority over the OS. Every
// operation with user-visible side effects - activation, input synthesis,
// accessibility actions, window mutation, traversal - is serialized through
// one dispatcher whose OS work runs on the UI thread loop.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/ax/mainthread"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/log"
	"github.com/zjrosen/axd/internal/traversal"
	"github.com/zjrosen/axd/internal/winreg"
)

// Kind labels what a job does, for logs and tracing.
type Kind string

const (
	KindActivate  Kind = "activate"
	KindInput     Kind = "input"
	KindAXAction  Kind = "ax_action"
	KindWindow    Kind = "window_mutation"
	KindTraversal Kind = "traversal"
	KindOpenApp   Kind = "open_application"
	KindClipboard Kind = "clipboard"
)

// Options bracket a job with snapshots and pacing.
type Options struct {
	// TraverseBefore captures a passive snapshot before the action.
	TraverseBefore bool
	// TraverseAfter captures a passive snapshot after the action.
	TraverseAfter bool
	// ShowDiff implies TraverseBefore and TraverseAfter and computes the
	// delta between them.
	ShowDiff bool
	// DelayAfterAction pauses between the action and the post-snapshot.
	DelayAfterAction time.Duration
	// ShowAnimation draws a transient highlight over the acted-on bounds.
	ShowAnimation bool
	// AnimationDuration overrides the default highlight lifetime.
	AnimationDuration time.Duration
	// AllowActivation permits bringing the target to the foreground. When
	// false (the default) an action that would require activation fails
	// with FailedPrecondition instead of stealing focus.
	AllowActivation bool
}

func (o *Options) normalize(maxDelay time.Duration) error {
	if o.DelayAfterAction < 0 {
		return axerr.InvalidArgument("delayAfterAction must be non-negative")
	}
	if o.DelayAfterAction > maxDelay {
		return axerr.InvalidArgument("delayAfterAction exceeds the %s maximum", maxDelay)
	}
	if o.ShowDiff {
		o.TraverseBefore = true
		o.TraverseAfter = true
	}
	if o.AnimationDuration <= 0 {
		o.AnimationDuration = defaultAnimationDuration
	}
	return nil
}

// Result carries a job's output plus its bracketing snapshots.
type Result struct {
	Output any
	Before *element.Snapshot
	After  *element.Snapshot
	Diff   *element.TraversalDiff

	// Highlight is set by actions that know what bounds they touched.
	Highlight element.Bounds
}

// Job is one unit of serialized work.
type Job struct {
	PID  int
	Kind Kind
	// RequiresActivation marks actions that only make sense against the
	// frontmost application (keyboard input into a target).
	RequiresActivation bool
	// Run executes on the UI thread. It may read res.Before and set
	// res.Highlight. A nil Run is a pure traversal bracket.
	Run func(ctx context.Context, res *Result) (any, error)
	// Retryable marks the job safe to retry on transient failures.
	Retryable bool

	Options Options
}

// Config tunes the coordinator.
type Config struct {
	// QueueSize bounds pending submissions.
	QueueSize int
	// OSCallTimeout is the generous upper bound on any one OS phase.
	OSCallTimeout time.Duration
	// MaxDelayAfterAction bounds Options.DelayAfterAction.
	MaxDelayAfterAction time.Duration
	// RetryMaxTries bounds transient-failure retries per action.
	RetryMaxTries int
	// RetryInitialInterval seeds the exponential backoff.
	RetryInitialInterval time.Duration
	// BoundsTolerance feeds the diff matcher.
	BoundsTolerance float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:            64,
		OSCallTimeout:        10 * time.Second,
		MaxDelayAfterAction:  10 * time.Second,
		RetryMaxTries:        3,
		RetryInitialInterval: 50 * time.Millisecond,
		BoundsTolerance:      element.DefaultBoundsTolerance,
	}
}

const defaultAnimationDuration = 800 * time.Millisecond

type submission struct {
	ctx    context.Context
	job    Job
	result chan outcome
}

type outcome struct {
	res *Result
	err error
}

// Coordinator owns the dispatcher and the UI thread loop. It holds no
// long-lived domain state: jobs come in, results go out.
type Coordinator struct {
	shim    ax.Shim
	engine  *traversal.Engine
	windows *winreg.Registry
	loop    *mainthread.Loop
	cfg     Config

	queue chan *submission
	quit  chan struct{}
	wg    sync.WaitGroup

	vis *visTracker

	mu             sync.Mutex
	lastActivation time.Time
}

// New starts a coordinator. Close must be called on shutdown.
func New(shim ax.Shim, engine *traversal.Engine, windows *winreg.Registry, cfg Config) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg = DefaultConfig()
	}
	c := &Coordinator{
		shim:    shim,
		engine:  engine,
		windows: windows,
		loop:    mainthread.NewLoop(cfg.QueueSize),
		cfg:     cfg,
		queue:   make(chan *submission, cfg.QueueSize),
		quit:    make(chan struct{}),
		vis:     newVisTracker(),
	}
	c.wg.Add(1)
	go c.dispatch()
	return c
}

// Windows exposes the registry for read-only listing paths that bypass the
// queue (enumeration only, never accessibility).
func (c *Coordinator) Windows() *winreg.Registry { return c.windows }

// Trusted probes accessibility permission. Read-only and thread-safe, so it
// does not ride the queue.
func (c *Coordinator) Trusted() bool { return c.shim.Trusted() }

// IsAlive reports whether the PID names a live process. Read-only.
func (c *Coordinator) IsAlive(pid int) bool { return c.shim.IsAlive(pid) }

// Perform submits a job and waits for its result. Submission order equals
// execution order; jobs against the same target complete in the order their
// callers submitted them.
func (c *Coordinator) Perform(ctx context.Context, job Job) (*Result, error) {
	if err := job.Options.normalize(c.cfg.MaxDelayAfterAction); err != nil {
		return nil, err
	}

	sub := &submission{ctx: ctx, job: job, result: make(chan outcome, 1)}
	select {
	case c.queue <- sub:
	case <-ctx.Done():
		return nil, axerr.DeadlineExceeded("coordinator queue full past deadline")
	case <-c.quit:
		return nil, axerr.Unavailable("coordinator is shut down")
	}

	select {
	case out := <-sub.result:
		return out.res, out.err
	case <-ctx.Done():
		// The in-flight OS call cannot be interrupted; the job is marked
		// cancelled and its result discarded when it lands.
		log.Debug(log.CatCoord, "job cancelled by caller", "kind", job.Kind, "pid", job.PID)
		return nil, axerr.DeadlineExceeded("job cancelled before completion")
	}
}

// Close drains the queue, flushes pending visualizations, and stops the UI
// thread loop.
func (c *Coordinator) Close() {
	close(c.quit)
	c.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.vis.Flush(flushCtx)

	c.loop.Close()
}

func (c *Coordinator) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case sub := <-c.queue:
			c.execute(sub)
		case <-c.quit:
			// Fail whatever is still queued instead of leaving callers
			// hanging.
			for {
				select {
				case sub := <-c.queue:
					sub.result <- outcome{err: axerr.Unavailable("coordinator is shut down")}
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) execute(sub *submission) {
	ctx := sub.ctx
	job := sub.job

	if ctx.Err() != nil {
		sub.result <- outcome{err: axerr.DeadlineExceeded("job cancelled before execution")}
		return
	}

	ctx, span := otel.Tracer("axd").Start(ctx, "coordinator.perform")
	span.SetAttributes(attribute.String("kind", string(job.Kind)), attribute.Int("pid", job.PID))
	defer span.End()

	res := &Result{}

	if job.RequiresActivation {
		if err := c.ensureFrontmost(ctx, job.PID, job.Options.AllowActivation); err != nil {
			sub.result <- outcome{err: err}
			return
		}
	}

	if job.Options.TraverseBefore {
		snap, err := c.traverseOnUI(ctx, job.PID, traversal.ModePassive, false)
		if err != nil {
			sub.result <- outcome{err: err}
			return
		}
		res.Before = snap
	}

	if job.Run != nil {
		out, err := c.runAction(ctx, job, res)
		if err != nil {
			sub.result <- outcome{err: err}
			return
		}
		res.Output = out
	}

	if job.Options.DelayAfterAction > 0 {
		// Cooperative pause; the UI thread stays free for other processes.
		select {
		case <-time.After(job.Options.DelayAfterAction):
		case <-ctx.Done():
			sub.result <- outcome{err: axerr.DeadlineExceeded("cancelled during post-action delay")}
			return
		}
	}

	if job.Options.TraverseAfter {
		snap, err := c.traverseOnUI(ctx, job.PID, traversal.ModePassive, false)
		if err != nil {
			sub.result <- outcome{err: err}
			return
		}
		res.After = snap
	}

	if job.Options.ShowDiff && res.Before != nil && res.After != nil {
		res.Diff = element.DiffWithTolerance(res.Before, res.After, c.cfg.BoundsTolerance)
	}

	if job.Options.ShowAnimation && !res.Highlight.IsZero() {
		c.showHighlight(ctx, res.Highlight, job.Options.AnimationDuration)
	}

	sub.result <- outcome{res: res}
}

// ensureFrontmost enforces the no-implicit-focus-steal invariant: the
// target is brought forward only under an explicit opt-in, otherwise the
// job fails before touching anything.
func (c *Coordinator) ensureFrontmost(ctx context.Context, pid int, allowActivation bool) error {
	var front int
	var ferr error
	if err := c.onUI(ctx, func() { front, ferr = c.shim.FrontmostPID() }); err != nil {
		return err
	}
	if ferr == nil && front == pid {
		return nil
	}
	if !allowActivation {
		return axerr.FailedPrecondition("action requires activating pid %d but allowActivation is false", pid)
	}

	var aerr error
	if err := c.onUI(ctx, func() { aerr = c.shim.Activate(pid) }); err != nil {
		return err
	}
	if aerr != nil {
		return aerr
	}
	c.noteSelfActivation()
	return nil
}

// runAction executes the job body with bounded retries on transient
// failures.
func (c *Coordinator) runAction(ctx context.Context, job Job, res *Result) (any, error) {
	attempt := func() (any, error) {
		var out any
		var err error
		if uerr := c.onUI(ctx, func() { out, err = job.Run(ctx, res) }); uerr != nil {
			return nil, backoff.Permanent(uerr)
		}
		if err != nil && !(job.Retryable && retryable(err)) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitialInterval

	out, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.cfg.RetryMaxTries)))
	if err != nil {
		log.ErrorErr(log.CatCoord, "job action failed", err, "kind", job.Kind, "pid", job.PID)
	}
	return out, err
}

// retryable: only not-yet-ready targets and unexpected accessibility
// hiccups are worth a second attempt.
func retryable(err error) bool {
	switch axerr.KindOf(err) {
	case axerr.KindUnavailable, axerr.KindInternal:
		return true
	default:
		return false
	}
}

// onUI runs fn on the UI thread with the per-phase timeout applied.
func (c *Coordinator) onUI(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OSCallTimeout)
	defer cancel()
	return c.loop.Do(ctx, fn)
}

// traverseOnUI runs a whole traversal as one UI-thread job.
func (c *Coordinator) traverseOnUI(ctx context.Context, pid int, mode traversal.Mode, allowActivation bool) (*element.Snapshot, error) {
	var snap *element.Snapshot
	var err error
	if uerr := c.onUI(ctx, func() {
		snap, err = c.engine.Traverse(ctx, pid, mode, allowActivation)
	}); uerr != nil {
		return nil, uerr
	}
	return snap, err
}

func (c *Coordinator) showHighlight(ctx context.Context, b element.Bounds, d time.Duration) {
	c.vis.track(d)
	if err := c.onUI(ctx, func() { _ = c.shim.ShowHighlight(b, d) }); err != nil {
		log.Debug(log.CatCoord, "highlight dropped", "error", err)
	}
}

// noteSelfActivation records that this process changed the foreground app.
func (c *Coordinator) noteSelfActivation() {
	c.mu.Lock()
	c.lastActivation = time.Now()
	c.mu.Unlock()
}

// SelfActivationSince reports whether the coordinator activated anything at
// or after t. The observation engine's circuit breaker keys off this.
func (c *Coordinator) SelfActivationSince(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastActivation.IsZero() && !c.lastActivation.Before(t)
}
