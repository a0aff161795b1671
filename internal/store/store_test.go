package store

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/axd/internal/axerr"
)

func TestParseApplicationName(t *testing.T) {
	pid, err := ParseApplicationName("applications/123")
	require.NoError(t, err)
	assert.Equal(t, 123, pid)

	for _, bad := range []string{"applications/", "applications/abc", "apps/1", "applications/-5", "123"} {
		_, err := ParseApplicationName(bad)
		require.Error(t, err, "input %q", bad)
		assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))
	}
}

func TestPutApplication_UniqueNames(t *testing.T) {
	s := New()

	app, err := s.PutApplication(Application{PID: 42, DisplayName: "Calculator"})
	require.NoError(t, err)
	assert.Equal(t, "applications/42", app.Name)

	_, err = s.PutApplication(Application{PID: 42})
	require.Error(t, err)
	assert.Equal(t, axerr.KindAlreadyExists, axerr.KindOf(err))
}

func TestGetApplication_ReturnsCopy(t *testing.T) {
	s := New()
	_, err := s.PutApplication(Application{PID: 42})
	require.NoError(t, err)
	require.NoError(t, s.AttachObservationToApp("applications/42", "observations/a"))

	got, err := s.GetApplication("applications/42")
	require.NoError(t, err)
	got.Observations[0] = "mutated"

	again, err := s.GetApplication("applications/42")
	require.NoError(t, err)
	assert.Equal(t, "observations/a", again.Observations[0], "reads must be copy-on-write")
}

func TestDeleteApplication_CascadesObservations(t *testing.T) {
	s := New()
	var cascaded []string
	s.OnCascadeObservations = func(names []string) { cascaded = names }

	_, err := s.PutApplication(Application{PID: 42})
	require.NoError(t, err)
	require.NoError(t, s.AttachObservationToApp("applications/42", "observations/a"))
	require.NoError(t, s.AttachObservationToApp("applications/42", "observations/b"))

	require.NoError(t, s.DeleteApplication("applications/42"))
	assert.Equal(t, []string{"observations/a", "observations/b"}, cascaded)

	_, err = s.GetApplication("applications/42")
	assert.Equal(t, axerr.KindNotFound, axerr.KindOf(err))
}

func TestDeleteSession_CascadesObservations(t *testing.T) {
	s := New()
	var cascaded []string
	s.OnCascadeObservations = func(names []string) { cascaded = names }

	sess := s.CreateSession(SessionOverrides{})
	require.NoError(t, s.AttachObservationToSession(sess.Name, "observations/x"))

	require.NoError(t, s.DeleteSession(sess.Name))
	assert.Equal(t, []string{"observations/x"}, cascaded)
}

func TestCascadeHook_RunsOutsideLocks(t *testing.T) {
	s := New()
	s.OnCascadeObservations = func(names []string) {
		// Re-entering the registry here deadlocks if the lock were held
		// across the hook.
		_ = s.ListApplications()
		_ = s.ListSessions()
	}

	_, err := s.PutApplication(Application{PID: 1})
	require.NoError(t, err)
	require.NoError(t, s.AttachObservationToApp("applications/1", "observations/a"))
	require.NoError(t, s.DeleteApplication("applications/1"))

	sess := s.CreateSession(SessionOverrides{})
	require.NoError(t, s.AttachObservationToSession(sess.Name, "observations/b"))
	require.NoError(t, s.DeleteSession(sess.Name))
}

func TestMacros_CRUD(t *testing.T) {
	s := New()

	_, err := s.CreateMacro("empty", nil)
	require.Error(t, err)
	assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))

	m, err := s.CreateMacro("arithmetic", []MacroStep{
		{Op: "typeText", Params: json.RawMessage(`{"text":"12+30="}`)},
	})
	require.NoError(t, err)

	got, err := s.GetMacro(m.Name)
	require.NoError(t, err)
	assert.Equal(t, "arithmetic", got.DisplayName)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "typeText", got.Steps[0].Op)

	assert.Len(t, s.ListMacros(), 1)
	require.NoError(t, s.DeleteMacro(m.Name))
	assert.Empty(t, s.ListMacros())
}

func TestListApplications_SortedByName(t *testing.T) {
	s := New()
	for _, pid := range []int{30, 10, 20} {
		_, err := s.PutApplication(Application{PID: pid})
		require.NoError(t, err)
	}

	apps := s.ListApplications()
	require.Len(t, apps, 3)
	for i := 1; i < len(apps); i++ {
		assert.Less(t, apps[i-1].Name, apps[i].Name)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			_, _ = s.PutApplication(Application{PID: pid})
			_ = s.ListApplications()
			_, _ = s.GetApplication(ApplicationName(pid))
			_ = s.DeleteApplication(ApplicationName(pid))
		}(i)
	}
	wg.Wait()
	assert.Empty(t, s.ListApplications())
}

// Property: the registry behaves like a map under arbitrary put/delete
// interleavings.
func TestApplications_RegistryModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		model := map[int]bool{}

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			pid := rapid.IntRange(1, 9).Draw(t, "pid")
			if rapid.Bool().Draw(t, "put") {
				_, err := s.PutApplication(Application{PID: pid})
				if model[pid] {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
					model[pid] = true
				}
			} else {
				err := s.DeleteApplication(ApplicationName(pid))
				if model[pid] {
					require.NoError(t, err)
					delete(model, pid)
				} else {
					require.Error(t, err)
				}
			}
		}

		require.Len(t, s.ListApplications(), len(model))
	})
}
