package mcpserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

// Server is a stateless adapter exposing the store over line-delimited
// JSON on an arbitrary reader/writer pair (ordinarily a worker
// subprocess's stdin/stdout), per spec §4.B.
type Server struct {
	tools *ToolRegistry
	log   *telemetry.Logger
}

// New constructs a Server with the standard store tool set registered.
func New(st store.Store, cfg config.MCPConfig, log *telemetry.Logger) *Server {
	tools := newToolRegistry()
	registerStoreTools(tools, st, cfg)
	return &Server{tools: tools, log: log.With("mcp")}
}

// Serve reads one JSON request per line from r, dispatches it, and
// writes one JSON response per line to w, until r is exhausted. A
// malformed line never terminates the loop -- it only yields a parse
// error response for that one line -- per spec §4.B's stateless,
// always-available adapter contract.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := enc.Encode(errorResponse(nil, codeParseError, "Parse error")); werr != nil {
				return werr
			}
			continue
		}

		resp := s.handle(&req)
		if req.ID == nil {
			continue // notification: no response expected
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// handle dispatches one request, per the teacher's
// Server.handleRequest / handleInitialize / handleToolsList /
// handleToolsCall.
func (s *Server) handle(req *Request) Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.tools.List()})
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) Response {
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]string{"name": "apex-mcp", "version": "1.0.0"},
		"capabilities":    map[string]any{"tools": map[string]bool{"listChanged": false}},
	})
}

func (s *Server) handleToolsCall(req *Request) Response {
	params, ok := req.Params.(map[string]any)
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params")
	}
	name, _ := params["name"].(string)
	if name == "" {
		return errorResponse(req.ID, codeInvalidParams, "Tool name required")
	}
	args, _ := params["arguments"].(map[string]any)

	result, err := s.tools.Execute(name, args)
	if err != nil {
		return errorResponse(req.ID, codeToolError, err.Error())
	}

	resultJSON, merr := json.Marshal(result)
	if merr != nil {
		return errorResponse(req.ID, codeToolError, merr.Error())
	}
	return resultResponse(req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(resultJSON)}},
	})
}
