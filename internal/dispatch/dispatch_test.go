package dispatch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDecideFavorsWorkerForCoderRole(t *testing.T) {
	st := newTestStore(t)
	d := New(st, []string{"test_runner.py", "git_manager.py"})

	b := &briefing.Briefing{TaskID: "t1", RoleRequired: briefing.RoleCoder, Objective: "implement the billing endpoint"}
	dec, err := d.Decide(b)
	require.NoError(t, err)
	require.Equal(t, ExecutorWorker, dec.Executor)
	require.Greater(t, dec.Confidence, 0.0)
}

func TestDecideFavorsUtilityWhenKeywordsDominateAndScriptRegistered(t *testing.T) {
	st := newTestStore(t)
	d := New(st, []string{"test_runner.py"})

	b := &briefing.Briefing{TaskID: "t2", RoleRequired: briefing.RoleSupervisor, Objective: "run the test suite and report coverage"}
	dec, err := d.Decide(b)
	require.NoError(t, err)
	require.Equal(t, ExecutorUtility, dec.Executor)
	require.Equal(t, "test_runner.py", dec.UtilityScript)
}

func TestDecideFallsBackToWorkerWhenUtilityNotRegistered(t *testing.T) {
	st := newTestStore(t)
	d := New(st, nil) // no utilities available

	b := &briefing.Briefing{TaskID: "t3", RoleRequired: briefing.RoleSupervisor, Objective: "run the test suite and report coverage"}
	dec, err := d.Decide(b)
	require.NoError(t, err)
	require.Equal(t, ExecutorWorker, dec.Executor)
}

func TestDecidePersistsDecision(t *testing.T) {
	st := newTestStore(t)
	d := New(st, []string{"git_manager.py"})

	b := &briefing.Briefing{TaskID: "t4", RoleRequired: briefing.RoleCoder, Objective: "commit the changes and merge the branch"}
	_, err := d.Decide(b)
	require.NoError(t, err)

	data, found, err := st.Read(store.Key("supervisor", "dispatch", "decisions", "t4"))
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, string(data), "t4")
}
