package recovery

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/briefgen"
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/dispatch"
	"github.com/nibzard/apex/internal/orchestrator"
	"github.com/nibzard/apex/internal/planner"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

// fakeCommands spawns a long-sleeping shell process so an invoked
// task stays active for the duration of a test, letting tests capture
// and restore an in-flight checkpoint deterministically.
type fakeCommands struct{}

func (fakeCommands) Worker(b *briefing.Briefing, model, mcpConfigPath string, allowedTools []string) []string {
	return []string{"sh", "-c", "sleep 5"}
}

func (fakeCommands) Utility(script string, b *briefing.Briefing, storePath string) []string {
	return []string{"sh", "-c", "sleep 5"}
}

func newTestManager(t *testing.T, now time.Time) (*orchestrator.Orchestrator, store.Store, *Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bs := briefing.NewStore(st)
	pl := planner.New(st, bs, func() time.Time { return now })
	gen := briefgen.New(st)
	disp := dispatch.New(st, nil)
	errs := telemetry.NewErrorLog(st)
	log := telemetry.NewLogger("TEST")
	met := telemetry.NewMetrics(prometheus.NewRegistry())

	procCfg := config.ProcessConfig{
		MaxWorkers: 3, MaxUtilities: 5,
		WorkerTimeout: 5 * time.Second, UtilityTimeout: 5 * time.Second,
		TerminateGrace: 500 * time.Millisecond,
	}
	procs := procmgr.New(st, procCfg, log, met)
	orchCfg := config.OrchestratorConfig{MaxTicks: 30, MaxTaskRetries: 2, StageTimeout: time.Minute, CompletionFraction: 0.9}
	mcpCfg := config.MCPConfig{AllowedTools: []string{"read", "write", "delete", "list", "scan"}}

	o := orchestrator.New(st, bs, pl, gen, procs, disp, errs, orchCfg, procCfg, mcpCfg, nil,
		"/tmp/.mcp.json", filepath.Join(t.TempDir(), "apex.db"), log, met)
	o.Commands = fakeCommands{}

	recCfg := config.RecoveryConfig{CheckpointInterval: 30 * time.Minute, RetainCheckpoints: 10, RetainDays: 30, AutoRecoverAfter: 3}
	mgr := New(st, errs, met, log, recCfg)
	return o, st, mgr
}

func TestCheckpointCapturesEveryKey(t *testing.T) {
	o, st, mgr := newTestManager(t, time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC))
	_, err := o.NewSession("proj-ckpt", "fix bug in the parser")
	require.NoError(t, err)
	_, err = o.RunCycle()
	require.NoError(t, err)

	id, err := mgr.Checkpoint("proj-ckpt")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, found, err := mgr.loadSnapshot(id)
	require.NoError(t, err)
	require.True(t, found)

	allKeys, err := st.ListKeys(store.Prefix())
	require.NoError(t, err)
	// The checkpoint itself was written after the scan it captured, so
	// every captured key must still be present, plus the checkpoint's
	// own key now appears too.
	require.Len(t, allKeys, len(snap.Keys)+1)
}

func TestRestoreDemotesActiveTasksToFailed(t *testing.T) {
	o, st, mgr := newTestManager(t, time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC))
	_, err := o.NewSession("proj-restore", "fix bug in the parser")
	require.NoError(t, err)
	_, err = o.RunCycle()
	require.NoError(t, err)
	require.NotEmpty(t, o.State().ActiveOrder)
	activeTask := o.State().ActiveOrder[0]

	ckptID, err := mgr.Checkpoint("proj-restore")
	require.NoError(t, err)

	// Simulate further, now-discarded progress after the checkpoint.
	require.NoError(t, st.Write(store.Key("tasks", "briefings", "post-checkpoint-noise"), []byte("x")))

	restored, err := mgr.Restore("proj-restore", ckptID)
	require.NoError(t, err)
	require.Empty(t, restored.ActiveTasks)
	require.Empty(t, restored.ActiveOrder)
	require.Contains(t, restored.FailedTasks, activeTask)
}

func TestRestoreUnknownCheckpointIsNotFound(t *testing.T) {
	_, _, mgr := newTestManager(t, time.Now())
	_, err := mgr.Restore("proj-x", "checkpoint-does-not-exist")
	require.Error(t, err)
	require.True(t, apexerr.Is(err, apexerr.NotFound))
}

func TestCleanupRetainsTopKAndYoungCheckpoints(t *testing.T) {
	_, _, mgr := newTestManager(t, time.Now())
	now := time.Now()

	ages := []int{0, 1, 2, 3, 4, 15, 20}
	for _, days := range ages {
		id := fmt.Sprintf("checkpoint-age%02d", days)
		snap := Snapshot{
			ID: id, ProjectID: "proj1",
			CreatedAt: now.Add(-time.Duration(days) * 24 * time.Hour),
			Keys:      map[string][]byte{"k": []byte("v")},
		}
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		require.NoError(t, mgr.st.Write(checkpointKey(id), data))
	}
	// A checkpoint belonging to a different project, old enough to be
	// deleted on age alone, must never be touched by proj1's cleanup.
	other := Snapshot{ID: "checkpoint-other", ProjectID: "proj2", CreatedAt: now.Add(-100 * 24 * time.Hour), Keys: map[string][]byte{"k": []byte("v")}}
	data, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, mgr.st.Write(checkpointKey(other.ID), data))

	deleted, err := mgr.Cleanup("proj1", 3, 10*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, deleted) // age15 and age20 only; age3/age4 are beyond top-3 but still younger than the 10-day cutoff

	remaining, err := mgr.st.ListKeys(store.Prefix("snapshots"))
	require.NoError(t, err)
	require.Len(t, remaining, 6) // 5 of proj1's + proj2's untouched checkpoint
}

func TestCheckHealthFlagsCriticalErrors(t *testing.T) {
	o, _, mgr := newTestManager(t, time.Now())
	_, err := o.NewSession("proj-health", "a quiet goal")
	require.NoError(t, err)

	hs := mgr.CheckHealth(o)
	require.True(t, hs.Healthy)
	require.Contains(t, hs.Warnings, "no task graph available")

	_, err = mgr.errs.Record("worker", "invoke", "subprocess", apexerr.New(apexerr.Critical, "worker", "invoke", nil))
	require.NoError(t, err)

	hs = mgr.CheckHealth(o)
	require.False(t, hs.Healthy)
	require.NotEmpty(t, hs.Issues)
}

func TestAutoRecoverResumesWhenHealthy(t *testing.T) {
	o, _, mgr := newTestManager(t, time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC))
	_, err := o.NewSession("proj-auto", "fix bug in the parser")
	require.NoError(t, err)
	_, err = o.RunCycle()
	require.NoError(t, err)

	report, err := mgr.AutoRecover(o)
	require.NoError(t, err)
	require.NotEmpty(t, report.CheckpointID)
	require.Equal(t, "resumed", report.Outcome)
	require.True(t, report.Success)
}
