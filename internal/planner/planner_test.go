package planner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/store"
)

func newTestPlanner(t *testing.T, now time.Time) (*Planner, store.Store, *briefing.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bs := briefing.NewStore(st)
	return New(st, bs, func() time.Time { return now }), st, bs
}

func TestTemplateForClassification(t *testing.T) {
	name, _ := TemplateFor("fix bug in parser")
	require.Equal(t, "bug-fix", name)

	name, _ = TemplateFor("implement add two numbers")
	require.Equal(t, "implementation", name)

	name, _ = TemplateFor("investigate the weird latency spikes")
	require.Equal(t, "generic", name)
}

func TestPlanCreatesThreeChainedBriefings(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	p, _, bs := newTestPlanner(t, fixed)

	graph, err := p.Plan("proj1", "implement add two numbers")
	require.NoError(t, err)
	require.Equal(t, "implementation", graph.TemplateName)
	require.Len(t, graph.Tasks, 3)

	for i, task := range graph.Tasks {
		b, err := bs.Get(task.TaskID)
		require.NoError(t, err)
		require.Equal(t, briefing.StatusPendingInvocation, b.Status)
		if i == 0 {
			require.Empty(t, b.Dependencies)
		} else {
			require.Len(t, b.Dependencies, 1)
			require.Equal(t, graph.Tasks[i-1].TaskID, b.Dependencies[0].TaskID)
			require.Equal(t, briefing.Blocks, b.Dependencies[0].Kind)
		}
	}
}

func TestLoadRoundTrips(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	p, _, _ := newTestPlanner(t, fixed)

	graph, err := p.Plan("proj1", "fix bug in parser")
	require.NoError(t, err)

	loaded, found, err := p.Load("proj1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, graph.Tasks, loaded.Tasks)
}

func TestUpdateAppendsRetryStepsPreservingIDs(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	p, _, _ := newTestPlanner(t, fixed)

	graph, err := p.Plan("proj1", "fix bug in parser")
	require.NoError(t, err)
	original := graph.Tasks[1].TaskID

	updated, err := p.Update("proj1", "fix bug in parser", nil, []string{original})
	require.NoError(t, err)
	require.Len(t, updated.Tasks, 4)
	require.Equal(t, original, updated.Tasks[1].TaskID)
	require.Contains(t, updated.Tasks[3].StepName, "retry")
}
