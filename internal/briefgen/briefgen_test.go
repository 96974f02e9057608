package briefgen

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

func TestGenerateIncludesBaseContextWhenPresent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Write(store.Key("projects", "p1", "config"), []byte(`{"name":"demo"}`)))

	g := New(st)
	b := g.Generate("p1", Spec{TaskID: "t1", Role: briefing.RoleCoder, Type: TypeImplementation, Description: "implement the api endpoint"})

	_, ok := b.ContextPointers["project_config"]
	require.True(t, ok)
}

func TestGenerateImplementationDeliverablesIncludeIntegrationForAPIWork(t *testing.T) {
	st := newTestStore(t)
	g := New(st)
	b := g.Generate("p1", Spec{TaskID: "t1", Role: briefing.RoleCoder, Type: TypeImplementation, Description: "implement the api endpoint"})

	var types []string
	for _, d := range b.Deliverables {
		types = append(types, d.Type)
	}
	require.Contains(t, types, "integration_test")
	require.Contains(t, types, "status_report") // Coder role deliverable
}

func TestGenerateAdversaryDeliverablesAndQuality(t *testing.T) {
	st := newTestStore(t)
	g := New(st)
	b := g.Generate("p1", Spec{TaskID: "t2", Role: briefing.RoleAdversary, Type: TypeSecurityReview, Description: "security review of auth"})

	var types []string
	for _, d := range b.Deliverables {
		types = append(types, d.Type)
	}
	require.Contains(t, types, "issue_report")
	require.Contains(t, types, "recommendation")
	require.Contains(t, b.QualityCriteria, "Thorough security analysis conducted")
	require.Contains(t, b.QualityCriteria, "All security domains reviewed (authentication, authorization, input validation, etc.)")
}

func TestEnsureUniqueOutputKeysAppendsSuffix(t *testing.T) {
	deliverables := []briefing.Deliverable{
		{OutputKey: "tasks/outputs/t1/issues.json"},
		{OutputKey: "tasks/outputs/t1/issues.json"},
		{OutputKey: "tasks/outputs/t1/fix/"},
		{OutputKey: "tasks/outputs/t1/fix/"},
	}
	ensureUniqueOutputKeys(deliverables)

	require.Equal(t, "tasks/outputs/t1/issues.json", deliverables[0].OutputKey)
	require.Equal(t, "tasks/outputs/t1/issues_1.json", deliverables[1].OutputKey)
	require.Equal(t, "tasks/outputs/t1/fix/", deliverables[2].OutputKey)
	require.Equal(t, "tasks/outputs/t1/fix_1", deliverables[3].OutputKey)
}

func TestRelatedCodeContextScoresByObjectiveWords(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Write(store.Key("projects", "p1", "memory", "code", "billing_service.go"), []byte("x")))
	require.NoError(t, st.Write(store.Key("projects", "p1", "memory", "code", "unrelated.go"), []byte("x")))

	g := New(st)
	b := g.Generate("p1", Spec{TaskID: "t3", Role: briefing.RoleCoder, Type: TypeImplementation, Description: "implement billing service charges"})

	found := false
	for name, ptr := range b.ContextPointers {
		if name == "related_code_0" {
			found = true
			require.Contains(t, ptr.Key, "billing_service")
		}
	}
	require.True(t, found)
}
