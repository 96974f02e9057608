package procmgr

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

func newTestManager(t *testing.T, cfg config.ProcessConfig) (*Manager, store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mgr := New(st, cfg, telemetry.NewLogger("TEST"), telemetry.NewMetrics(nil))
	return mgr, st
}

func waitTerminal(t *testing.T, mgr *Manager, processID string) Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec, err := mgr.CheckStatus(processID)
		require.NoError(t, err)
		if rec.Status.Terminal() {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("process %s never reached a terminal state", processID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSpawnCompletesSuccessfully(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{MaxWorkers: 3, MaxUtilities: 5, TerminateGrace: time.Second})

	rec, err := mgr.Spawn("t1", "Coder", KindWorker, []string{"sh", "-c", "echo hello; exit 0"})
	require.NoError(t, err)

	final := waitTerminal(t, mgr, rec.ProcessID)
	require.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, 0, *final.ExitCode)

	stdout, _, err := mgr.GetOutput(rec.ProcessID)
	require.NoError(t, err)
	require.Contains(t, stdout, "hello")
}

func TestSpawnRecordsNonZeroExit(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{MaxWorkers: 3, MaxUtilities: 5, TerminateGrace: time.Second})

	rec, err := mgr.Spawn("t2", "Adversary", KindWorker, []string{"sh", "-c", "exit 7"})
	require.NoError(t, err)

	final := waitTerminal(t, mgr, rec.ProcessID)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, 7, *final.ExitCode)
}

func TestSpawnEnforcesConcurrencyCap(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{MaxWorkers: 1, MaxUtilities: 5, TerminateGrace: time.Second})

	_, err := mgr.Spawn("t3", "Coder", KindWorker, []string{"sh", "-c", "sleep 2"})
	require.NoError(t, err)

	_, err = mgr.Spawn("t4", "Coder", KindWorker, []string{"sh", "-c", "echo x"})
	require.Error(t, err)
	require.True(t, apexerr.Is(err, apexerr.ResourceExhausted))
}

func TestSpawnTimesOutAndTerminates(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{
		MaxWorkers: 3, MaxUtilities: 5,
		WorkerTimeout:  100 * time.Millisecond,
		TerminateGrace: 50 * time.Millisecond,
	})

	rec, err := mgr.Spawn("t5", "Coder", KindWorker, []string{"sh", "-c", "sleep 10"})
	require.NoError(t, err)

	final := waitTerminal(t, mgr, rec.ProcessID)
	require.Equal(t, StatusTimeout, final.Status)
}

func TestTerminateStopsRunningProcess(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{MaxWorkers: 3, MaxUtilities: 5, TerminateGrace: 50 * time.Millisecond})

	rec, err := mgr.Spawn("t6", "Coder", KindWorker, []string{"sh", "-c", "sleep 10"})
	require.NoError(t, err)

	require.NoError(t, mgr.Terminate(rec.ProcessID))
	final := waitTerminal(t, mgr, rec.ProcessID)
	require.True(t, final.Status == StatusFailed || final.Status == StatusTimeout)
}

func TestOnExitCallbackFires(t *testing.T) {
	mgr, _ := newTestManager(t, config.ProcessConfig{MaxWorkers: 3, MaxUtilities: 5, TerminateGrace: time.Second})

	fired := make(chan Record, 1)
	mgr.OnExit = func(rec Record) { fired <- rec }

	rec, err := mgr.Spawn("t7", "Coder", KindWorker, []string{"sh", "-c", "exit 0"})
	require.NoError(t, err)

	select {
	case got := <-fired:
		require.Equal(t, rec.ProcessID, got.ProcessID)
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit never fired")
	}
}
