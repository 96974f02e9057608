package mcpserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/store"
)

// ToolHandler processes one tool call's arguments and returns a
// JSON-marshalable result, mirroring the teacher's
// internal/mcp.ToolHandler but dropping the agentID parameter: a
// stdio MCP server serves exactly one worker process per instance, so
// there is nothing to disambiguate by.
type ToolHandler func(params map[string]any) (any, error)

// ToolDefinition describes one registered tool, per the teacher's
// internal/mcp.ToolDefinition.
type ToolDefinition struct {
	Name        string
	Description string
	Handler     ToolHandler
}

// ToolRegistry holds every tool a Server exposes.
type ToolRegistry struct {
	tools map[string]ToolDefinition
}

func newToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDefinition)}
}

func (r *ToolRegistry) register(t ToolDefinition) { r.tools[t.Name] = t }

// List returns every tool's name/description, for the tools/list
// response, per the teacher's ToolRegistry.List.
func (r *ToolRegistry) List() []map[string]any {
	var out []map[string]any
	for _, t := range r.tools {
		out = append(out, map[string]any{"name": t.Name, "description": t.Description})
	}
	return out
}

// Execute runs a tool by name, per the teacher's ToolRegistry.Execute.
func (r *ToolRegistry) Execute(name string, params map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return t.Handler(params)
}

func stringParam(params map[string]any, name string) (string, bool) {
	v, ok := params[name].(string)
	return v, ok
}

func decodeValue(params map[string]any) ([]byte, error) {
	encoded, ok := stringParam(params, "value_base64")
	if !ok {
		return nil, fmt.Errorf("value_base64 is required")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// registerStoreTools wires read/write/delete/list/scan/transaction/
// watch/project_status directly onto st, per spec §4.B's tool list.
func registerStoreTools(r *ToolRegistry, st store.Store, cfg config.MCPConfig) {
	r.register(ToolDefinition{
		Name: "read", Description: "Read the value at a key.",
		Handler: func(params map[string]any) (any, error) {
			key, ok := stringParam(params, "key")
			if !ok {
				return nil, fmt.Errorf("key is required")
			}
			value, found, err := st.Read([]byte(key))
			if err != nil {
				return nil, err
			}
			return map[string]any{"found": found, "value_base64": base64.StdEncoding.EncodeToString(value)}, nil
		},
	})

	r.register(ToolDefinition{
		Name: "write", Description: "Write a value at a key.",
		Handler: func(params map[string]any) (any, error) {
			key, ok := stringParam(params, "key")
			if !ok {
				return nil, fmt.Errorf("key is required")
			}
			value, err := decodeValue(params)
			if err != nil {
				return nil, err
			}
			if err := st.Write([]byte(key), value); err != nil {
				return nil, err
			}
			return map[string]any{"committed": true}, nil
		},
	})

	r.register(ToolDefinition{
		Name: "delete", Description: "Delete the value at a key.",
		Handler: func(params map[string]any) (any, error) {
			key, ok := stringParam(params, "key")
			if !ok {
				return nil, fmt.Errorf("key is required")
			}
			if err := st.Delete([]byte(key)); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	})

	r.register(ToolDefinition{
		Name: "list", Description: "List every key under a prefix.",
		Handler: func(params map[string]any) (any, error) {
			prefix, _ := stringParam(params, "prefix")
			keys, err := st.ListKeys([]byte(prefix))
			if err != nil {
				return nil, err
			}
			out := make([]string, len(keys))
			for i, k := range keys {
				out[i] = string(k)
			}
			return map[string]any{"keys": out}, nil
		},
	})

	r.register(ToolDefinition{
		Name: "scan", Description: "Scan an ordered (key,value) range.",
		Handler: func(params map[string]any) (any, error) {
			start, _ := stringParam(params, "start")
			end, _ := stringParam(params, "end")
			limit := 0
			if l, ok := params["limit"].(float64); ok {
				limit = int(l)
			}
			rows, err := st.Scan([]byte(start), []byte(end), limit)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, len(rows))
			for i, kv := range rows {
				items[i] = map[string]any{"key": string(kv.Key), "value_base64": base64.StdEncoding.EncodeToString(kv.Value)}
			}
			return map[string]any{"items": items}, nil
		},
	})

	r.register(ToolDefinition{
		Name: "transaction", Description: "Execute an all-or-nothing batch of read/write/delete ops.",
		Handler: func(params map[string]any) (any, error) {
			rawOps, _ := params["ops"].([]any)
			ops := make([]store.Op, 0, len(rawOps))
			for _, raw := range rawOps {
				m, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("each op must be an object")
				}
				kind, _ := stringParam(m, "op")
				key, _ := stringParam(m, "key")
				op := store.Op{Kind: store.OpKind(kind), Key: []byte(key)}
				if v, ok := stringParam(m, "value_base64"); ok {
					decoded, err := base64.StdEncoding.DecodeString(v)
					if err != nil {
						return nil, err
					}
					op.Value = decoded
				}
				ops = append(ops, op)
			}
			results, err := st.Transact(ops)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, len(results))
			for i, res := range results {
				out[i] = map[string]any{"found": res.Found, "value_base64": base64.StdEncoding.EncodeToString(res.Value)}
			}
			return map[string]any{"results": out}, nil
		},
	})

	r.register(ToolDefinition{
		Name:        "watch",
		Description: "Poll a key prefix for created/modified/deleted keys, with exponential back-off, until a change or timeout.",
		Handler:     watchHandler(st, cfg),
	})

	r.register(ToolDefinition{
		Name:        "project_status",
		Description: "Aggregate: project config plus task counts bucketed by status.",
		Handler:     projectStatusHandler(st),
	})
}

// watchHandler implements spec §4.B's watch(prefix, timeout_seconds):
// capture the current value-set under prefix, then poll for
// differences with exponential back-off starting at WatchMinPoll (100
// ms) up to WatchMaxPoll (2 s), returning the first detected
// {created, modified, deleted} set or on timeout. It is cooperative,
// not push-based, per spec §9 Open Question (c).
func watchHandler(st store.Store, cfg config.MCPConfig) ToolHandler {
	minPoll := cfg.WatchMinPoll
	if minPoll <= 0 {
		minPoll = 100 * time.Millisecond
	}
	maxPoll := cfg.WatchMaxPoll
	if maxPoll <= 0 {
		maxPoll = 2 * time.Second
	}

	return func(params map[string]any) (any, error) {
		prefix, _ := stringParam(params, "prefix")
		timeoutSeconds, _ := params["timeout_seconds"].(float64)
		if timeoutSeconds <= 0 {
			timeoutSeconds = 10
		}
		deadline := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))

		before, err := snapshotPrefix(st, prefix)
		if err != nil {
			return nil, err
		}

		backoff := minPoll
		for {
			if time.Now().After(deadline) {
				return map[string]any{"timed_out": true}, nil
			}
			time.Sleep(backoff)

			after, err := snapshotPrefix(st, prefix)
			if err != nil {
				return nil, err
			}
			created, modified, deleted := diffSnapshots(before, after)
			if len(created) > 0 || len(modified) > 0 || len(deleted) > 0 {
				return map[string]any{
					"timed_out": false,
					"created":   created,
					"modified":  modified,
					"deleted":   deleted,
				}, nil
			}

			backoff *= 2
			if backoff > maxPoll {
				backoff = maxPoll
			}
		}
	}
}

func snapshotPrefix(st store.Store, prefix string) (map[string][]byte, error) {
	p := []byte(prefix)
	rows, err := st.Scan(p, store.PrefixEnd(p), 0)
	if err != nil {
		return nil, err
	}
	snap := make(map[string][]byte, len(rows))
	for _, kv := range rows {
		snap[string(kv.Key)] = kv.Value
	}
	return snap, nil
}

func diffSnapshots(before, after map[string][]byte) (created, modified, deleted []string) {
	for k, v := range after {
		bv, existed := before[k]
		if !existed {
			created = append(created, k)
		} else if string(bv) != string(v) {
			modified = append(modified, k)
		}
	}
	for k := range before {
		if _, stillThere := after[k]; !stillThere {
			deleted = append(deleted, k)
		}
	}
	return created, modified, deleted
}

// projectStatusHandler implements spec §4.B's project_status(project_id):
// reads config, counts keys under tasks/briefings/ bucketed by status.
func projectStatusHandler(st store.Store) ToolHandler {
	return func(params map[string]any) (any, error) {
		projectID, _ := stringParam(params, "project_id")

		var cfgObj any
		if data, found, err := st.Read(store.Key("projects", projectID, "config")); err != nil {
			return nil, err
		} else if found {
			if err := json.Unmarshal(data, &cfgObj); err != nil {
				return nil, err
			}
		}

		prefix := store.Prefix("tasks", "briefings")
		rows, err := st.Scan(prefix, store.PrefixEnd(prefix), 0)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, kv := range rows {
			if strings.Contains(string(kv.Key), "/index/") {
				continue
			}
			var b briefing.Briefing
			if err := json.Unmarshal(kv.Value, &b); err != nil {
				continue
			}
			counts[string(b.Status)]++
		}

		return map[string]any{"project_id": projectID, "config": cfgObj, "task_counts": counts}, nil
	}
}
