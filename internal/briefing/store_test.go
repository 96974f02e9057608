package briefing

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewStore(st)
}

func sampleBriefing(tid string) *Briefing {
	return &Briefing{
		TaskID:       tid,
		RoleRequired: RoleCoder,
		Objective:    "implement the thing",
		Priority:     PriorityHigh,
		Deliverables: []Deliverable{
			{Type: "code", Description: "patch", OutputKey: "tasks/outputs/" + tid + "/patch.diff", Required: true},
		},
	}
}

func TestCreateGetAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	b := sampleBriefing("t1")
	require.NoError(t, s.Create(b))

	got, err := s.Get("t1")
	require.NoError(t, err)
	require.Equal(t, StatusPendingCreation, got.Status)

	err = s.Create(sampleBriefing("t1"))
	require.Error(t, err)
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	b := sampleBriefing("t1")
	require.NoError(t, s.Create(b))

	got, err := s.Get("t1")
	require.NoError(t, err)
	got.Status = StatusCompleted // pending_creation -> completed is not allowed
	err = s.Update(got)
	require.Error(t, err)

	got.Status = StatusPendingInvocation
	require.NoError(t, s.Update(got))
}

func TestReadySet(t *testing.T) {
	s := newTestStore(t)

	parent := sampleBriefing("parent")
	parent.Status = StatusPendingInvocation
	require.NoError(t, s.Create(parent))

	child := sampleBriefing("child")
	child.Status = StatusPendingInvocation
	child.Dependencies = []Dependency{{TaskID: "parent", Kind: Blocks}}
	require.NoError(t, s.Create(child))

	ready, err := s.Ready(map[string]bool{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "parent", ready[0].TaskID)

	ready, err = s.Ready(map[string]bool{"parent": true})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, b := range ready {
		ids[b.TaskID] = true
	}
	require.True(t, ids["parent"])
	require.True(t, ids["child"])
}

func TestListOrderingByPriorityThenCreatedAt(t *testing.T) {
	s := newTestStore(t)

	low := sampleBriefing("low")
	low.Priority = PriorityLow
	low.Status = StatusPendingInvocation
	require.NoError(t, s.Create(low))

	crit := sampleBriefing("crit")
	crit.Priority = PriorityCritical
	crit.Status = StatusPendingInvocation
	require.NoError(t, s.Create(crit))

	entries, err := s.List(Filter{Status: StatusPendingInvocation})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "crit", entries[0].TaskID)
	require.Equal(t, "low", entries[1].TaskID)
}

func TestCleanupDeletesOldCompleted(t *testing.T) {
	s := newTestStore(t)
	b := sampleBriefing("done")
	require.NoError(t, s.Create(b))
	got, _ := s.Get("done")
	got.Status = StatusPendingInvocation
	require.NoError(t, s.Update(got))
	got.Status = StatusInProgress
	require.NoError(t, s.Update(got))
	completedAt := time.Now().Add(-48 * time.Hour)
	got.Status = StatusCompleted
	got.CompletedAt = &completedAt
	require.NoError(t, s.Update(got))

	n, err := s.Cleanup(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get("done")
	require.Error(t, err)
}

func TestDeliverablesSatisfied(t *testing.T) {
	s := newTestStore(t)
	b := sampleBriefing("t1")
	require.NoError(t, s.Create(b))

	ok, missing, err := DeliverablesSatisfied(s.st, b)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "tasks/outputs/t1/patch.diff", missing)

	require.NoError(t, s.st.Write([]byte("/tasks/outputs/t1/patch.diff"), []byte("diff")))

	ok, _, err = DeliverablesSatisfied(s.st, b)
	require.NoError(t, err)
	require.True(t, ok)
}
