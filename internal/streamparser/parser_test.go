package streamparser

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConsumeClassifiesAndPersists(t *testing.T) {
	st := newTestStore(t)
	p := New(st, "sess-1")

	lines := strings.NewReader(strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","content":"working on it"}`,
		`{"type":"tool_use","name":"Edit"}`,
		`not json at all`,
		`{"type":"tool_result","output":"ok"}`,
		`{"type":"assistant","content":"done, TASK COMPLETE"}`,
	}, "\n"))

	require.NoError(t, p.Consume(lines))
	require.True(t, p.TaskComplete())

	events, err := Events(st, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.True(t, IsGapFree(events))
	require.Equal(t, KindSystem, events[0].Kind)
	require.Equal(t, KindAssistant, events[1].Kind)
	require.Equal(t, KindToolUse, events[2].Kind)
	require.Equal(t, KindToolResult, events[3].Kind)
	require.Equal(t, KindAssistant, events[4].Kind)
}

func TestConsumeSkipsMalformedLinesWithoutGaps(t *testing.T) {
	st := newTestStore(t)
	p := New(st, "sess-2")

	lines := strings.NewReader("garbage\n{\"type\":\"system\"}\nmore garbage\n{\"type\":\"assistant\",\"content\":\"hi\"}\n")
	require.NoError(t, p.Consume(lines))

	events, err := Events(st, "sess-2")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, IsGapFree(events))
}
