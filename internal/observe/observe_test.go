package observe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/ax/axtest"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/traversal"
	"github.com/zjrosen/axd/internal/winreg"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultInterval = 10 * time.Millisecond
	cfg.MinInterval = time.Millisecond
	cfg.BreakerWindow = 500 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, fake *axtest.Fake) (*Engine, *coordinator.Coordinator) {
	t.Helper()
	ccfg := coordinator.DefaultConfig()
	ccfg.RetryInitialInterval = time.Millisecond
	coord := coordinator.New(fake, traversal.NewEngine(fake), winreg.NewRegistry(fake), ccfg)
	engine := NewEngine(coord, testConfig())
	t.Cleanup(func() {
		engine.Close()
		coord.Close()
	})
	return engine, coord
}

func TestCreate_Validation(t *testing.T) {
	fake := axtest.NewFake()
	engine, _ := newTestEngine(t, fake)

	_, err := engine.Create(Spec{PID: 0})
	require.Error(t, err)
	assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))

	_, err = engine.Create(Spec{PID: 1, Interval: time.Microsecond})
	require.Error(t, err)
	assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))
}

func TestObservation_EmitsDiffs(t *testing.T) {
	fake := axtest.NewFake()
	app := axtest.NewCalculatorApp(101)
	fake.AddApp(app)
	engine, _ := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := engine.Subscribe(ctx, obs.Name)
	require.NoError(t, err)

	// Wait for the first poll, then change the display.
	require.Eventually(t, func() bool {
		got, gerr := engine.Get(obs.Name)
		return gerr == nil && got.State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	display := app.Root.Windows[0].Children[0]
	fake.SetNodeAttr(display, ax.AttrValue, "42")

	select {
	case ev := <-stream:
		assert.Equal(t, EventDiff, ev.Payload.Type)
		require.NotNil(t, ev.Payload.Diff)
		require.NotEmpty(t, ev.Payload.Diff.Modified)
		assert.Equal(t, "42", ev.Payload.Diff.Modified[0].Element.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no diff event received")
	}

	got, err := engine.Get(obs.Name)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Revision, int64(1))
	assert.False(t, got.LastDiffAt.IsZero())
}

func TestObservation_PassiveNeverActivates(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	textedit := axtest.NewCalculatorApp(202)
	textedit.Info.Name = "TextEdit"
	textedit.Info.BundleID = "com.apple.TextEdit"
	fake.AddApp(textedit)
	fake.SetFrontmost(202)

	engine, _ := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	// Several ticks pass; the frontmost application never changes and no
	// activation is ever issued.
	time.Sleep(100 * time.Millisecond)

	front, err := fake.FrontmostPID()
	require.NoError(t, err)
	assert.Equal(t, 202, front)
	assert.Empty(t, fake.Activations)

	got, err := engine.Get(obs.Name)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
}

func TestObservation_CircuitBreaker(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	engine, coord := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := engine.Get(obs.Name)
		return gerr == nil && got.State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	// A self-originated activation lands next to the passive polls.
	_, err = coord.Activate(context.Background(), 101, coordinator.Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := engine.Get(obs.Name)
		return gerr == nil && got.State == StatePaused
	}, 2*time.Second, 5*time.Millisecond, "breaker must pause the observation within a tick")

	events, err := engine.Events(obs.Name)
	require.NoError(t, err)
	var sawDiagnostic bool
	for _, ev := range events {
		if ev.Type == EventDiagnostic {
			sawDiagnostic = true
		}
	}
	assert.True(t, sawDiagnostic, "breaker trip must emit a diagnostic event")
}

func TestObservation_ResumeAfterBreaker(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	engine, coord := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := engine.Get(obs.Name)
		return got.State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	_, err = coord.Activate(context.Background(), 101, coordinator.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := engine.Get(obs.Name)
		return got.State == StatePaused
	}, 2*time.Second, 5*time.Millisecond)

	// Resuming inside the breaker window re-trips; wait it out first.
	time.Sleep(600 * time.Millisecond)
	require.NoError(t, engine.Resume(obs.Name))

	require.Eventually(t, func() bool {
		got, _ := engine.Get(obs.Name)
		return got.State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestObservation_TargetDisappearanceFails(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	engine, _ := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := engine.Subscribe(ctx, obs.Name)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := engine.Get(obs.Name)
		return got.State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	fake.RemoveApp(101)

	// The error event arrives before the stream closes.
	var sawError bool
	deadline := time.After(3 * time.Second)
	for !sawError {
		select {
		case ev, ok := <-stream:
			if !ok {
				t.Fatal("stream closed without an error event")
			}
			if ev.Payload.Type == EventError {
				sawError = true
			}
		case <-deadline:
			t.Fatal("no error event after target death")
		}
	}

	got, err := engine.Get(obs.Name)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.NotEmpty(t, got.FailureMsg)
}

func TestObservation_MaxConcurrent(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))

	ccfg := coordinator.DefaultConfig()
	coord := coordinator.New(fake, traversal.NewEngine(fake), winreg.NewRegistry(fake), ccfg)
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	engine := NewEngine(coord, cfg)
	t.Cleanup(func() {
		engine.Close()
		coord.Close()
	})

	_, err := engine.Create(Spec{PID: 101})
	require.NoError(t, err)
	_, err = engine.Create(Spec{PID: 101})
	require.NoError(t, err)

	_, err = engine.Create(Spec{PID: 101})
	require.Error(t, err)
	assert.Equal(t, axerr.KindFailedPrecondition, axerr.KindOf(err))
}

func TestObservation_CancelBySession(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	engine, _ := newTestEngine(t, fake)

	a, err := engine.Create(Spec{PID: 101, Session: "sessions/s1"})
	require.NoError(t, err)
	b, err := engine.Create(Spec{PID: 101, Session: "sessions/s2"})
	require.NoError(t, err)

	engine.CancelBySession("sessions/s1")

	gotA, err := engine.Get(a.Name)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, gotA.State)

	gotB, err := engine.Get(b.Name)
	require.NoError(t, err)
	assert.NotEqual(t, StateCancelled, gotB.State)
}

func TestObservation_Delete(t *testing.T) {
	fake := axtest.NewFake()
	fake.AddApp(axtest.NewCalculatorApp(101))
	engine, _ := newTestEngine(t, fake)

	obs, err := engine.Create(Spec{PID: 101})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(obs.Name))
	_, err = engine.Get(obs.Name)
	require.Error(t, err)
	assert.Equal(t, axerr.KindNotFound, axerr.KindOf(err))
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StatePending.CanTransitionTo(StateRunning))
	assert.True(t, StateRunning.CanTransitionTo(StatePaused))
	assert.True(t, StatePaused.CanTransitionTo(StateRunning))
	assert.False(t, StateCancelled.CanTransitionTo(StateRunning))
	assert.False(t, StateFailed.CanTransitionTo(StateRunning))
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
}

func TestStripFocusFlips(t *testing.T) {
	diff := &element.TraversalDiff{
		Modified: []element.ModifiedElement{
			{
				Element: element.Element{Role: "AXButton", Path: element.Path{-1, 0}},
				Changes: []element.AttributeChange{{Name: "focused", Before: "false", After: "true"}},
			},
			{
				Element: element.Element{Role: "AXStaticText", Path: element.Path{-1, 1}},
				Changes: []element.AttributeChange{
					{Name: "focused", Before: "true", After: "false"},
					{Name: "value", Before: "1", After: "2"},
				},
			},
		},
	}

	got := stripFocusFlips(diff)

	require.Len(t, got.Modified, 1, "focused-only entries are dropped entirely")
	require.Len(t, got.Modified[0].Changes, 1)
	assert.Equal(t, "value", got.Modified[0].Changes[0].Name)
}
