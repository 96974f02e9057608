package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/briefgen"
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/dispatch"
	"github.com/nibzard/apex/internal/planner"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

// fakeCommands replaces the real claude/python invocations with a
// short-lived shell process, so tests exercise the full spawn/monitor/
// integrate pipeline without needing either binary installed.
type fakeCommands struct{ sleep string }

func (f fakeCommands) Worker(b *briefing.Briefing, model, mcpConfigPath string, allowedTools []string) []string {
	return []string{"sh", "-c", "sleep " + f.sleep}
}

func (f fakeCommands) Utility(script string, b *briefing.Briefing, storePath string) []string {
	return []string{"sh", "-c", "sleep " + f.sleep}
}

func newTestOrchestrator(t *testing.T, now time.Time) (*Orchestrator, store.Store, *briefing.Store) {
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

	orchCfg := config.OrchestratorConfig{
		MaxTicks: 30, MaxTaskRetries: 2, StageTimeout: time.Minute, CompletionFraction: 0.9,
	}
	mcpCfg := config.MCPConfig{AllowedTools: []string{"read", "write", "delete", "list", "scan"}}

	o := New(st, bs, pl, gen, procs, disp, errs, orchCfg, procCfg, mcpCfg, nil, "/tmp/.mcp.json", filepath.Join(t.TempDir(), "apex.db"), log, met)
	o.Commands = fakeCommands{sleep: "0.2"}
	return o, st, bs
}

func writeDeliverables(t *testing.T, st store.Store, bs *briefing.Store, o *Orchestrator) {
	t.Helper()
	for tid := range o.State().ActiveTasks {
		b, err := bs.Get(tid)
		require.NoError(t, err)
		for _, d := range b.Deliverables {
			if !d.Required {
				continue
			}
			key := []byte("/" + d.OutputKey)
			if _, found, _ := st.Read(key); !found {
				require.NoError(t, st.Write(key, []byte("ok")))
			}
		}
	}
}

func TestHappyPathThreeBriefingsComplete(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	o, st, bs := newTestOrchestrator(t, fixed)
	_, err := o.NewSession("proj1", "fix bug in the parser")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		more, err := o.RunCycle()
		require.NoError(t, err)
		writeDeliverables(t, st, bs, o)
		if !more {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}

	require.Len(t, o.State().CompletedTasks, 3)
	require.Empty(t, o.State().FailedTasks)
	require.Equal(t, StageIdle, o.State().CurrentStage)
}

func TestCapEnforcementNeverExceedsMaxWorkers(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	o, _, bs := newTestOrchestrator(t, fixed)
	o.procCfg.MaxWorkers = 1
	o.procCfg.MaxUtilities = 0
	// Tighten the live Process Manager's cap too, since Orchestrator
	// uses a separately-constructed procmgr.Manager under the hood.
	o.procs = procmgr.New(o.st, o.procCfg, telemetry.NewLogger("TEST"), o.met)

	_, err := o.NewSession("proj2", "fix bug in the parser")
	require.NoError(t, err)

	maxSeen := 0
	for i := 0; i < 30; i++ {
		more, err := o.RunCycle()
		require.NoError(t, err)
		if n := len(o.State().ActiveTasks); n > maxSeen {
			maxSeen = n
		}
		writeDeliverables(t, o.st, bs, o)
		if !more {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	require.LessOrEqual(t, maxSeen, 1)
}
