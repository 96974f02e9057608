package mcpserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.MCPConfig{
		AllowedTools: []string{"read", "write", "delete", "list", "scan"},
		WatchMinPoll: 10 * time.Millisecond, WatchMaxPoll: 50 * time.Millisecond,
	}
	return New(st, cfg, telemetry.NewLogger("TEST")), st
}

func decodeLines(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		resps = append(resps, resp)
	}
	return resps
}

func TestServeInitializeAndToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Serve(in, &out))

	resps := decodeLines(t, &out)
	require.Len(t, resps, 2)
	require.Nil(t, resps[0].Error)
	require.Nil(t, resps[1].Error)
}

func TestServeWriteThenReadRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	value := base64.StdEncoding.EncodeToString([]byte("hello"))

	writeReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"write","arguments":{"key":"/tasks/briefings/t1","value_base64":%q}}}`, value)
	readReq := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read","arguments":{"key":"/tasks/briefings/t1"}}}`

	in := strings.NewReader(writeReq + "\n" + readReq + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Serve(in, &out))

	resps := decodeLines(t, &out)
	require.Len(t, resps, 2)
	require.Nil(t, resps[0].Error)
	require.Nil(t, resps[1].Error)

	readResult := resps[1].Result.(map[string]any)
	content := readResult["content"].([]any)[0].(map[string]any)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(content["text"].(string)), &body))
	require.True(t, body["found"].(bool))
	decoded, err := base64.StdEncoding.DecodeString(body["value_base64"].(string))
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded))
}

func TestServeMalformedLineDoesNotStopTheLoop(t *testing.T) {
	srv, _ := newTestServer(t)
	in := strings.NewReader(
		"not json at all\n" +
			`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Serve(in, &out))

	resps := decodeLines(t, &out)
	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	require.Nil(t, resps[1].Error)
}

func TestServeUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Serve(in, &out))

	resps := decodeLines(t, &out)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	require.Equal(t, codeMethodNotFound, resps[0].Error.Code)
}

func TestWatchDetectsCreatedKey(t *testing.T) {
	srv, st := newTestServer(t)

	done := make(chan Response, 1)
	go func() {
		in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"watch","arguments":{"prefix":"/tasks/","timeout_seconds":2}}}` + "\n")
		var out bytes.Buffer
		_ = srv.Serve(in, &out)
		resps := decodeLines(t, &out)
		if len(resps) == 1 {
			done <- resps[0]
		}
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, st.Write([]byte("/tasks/briefings/new-one"), []byte("x")))

	select {
	case resp := <-done:
		require.Nil(t, resp.Error)
		result := resp.Result.(map[string]any)
		content := result["content"].([]any)[0].(map[string]any)
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(content["text"].(string)), &body))
		require.False(t, body["timed_out"].(bool))
		created := body["created"].([]any)
		require.Contains(t, created, "/tasks/briefings/new-one")
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not return within the timeout")
	}
}
