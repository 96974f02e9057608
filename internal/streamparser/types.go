// Package streamparser consumes a worker's stdout line-delimited JSON
// stream, classifies events, and persists them via the key-value
// store at agents/events/{sid}/{seq}, per spec §4.C. The forgiving,
// buffer-until-decodable style is grounded on the teacher's
// ReportParser.parseReportMap in internal/supervisor/parser.go.
package streamparser

import "time"

// Kind classifies a decoded stdout line.
type Kind string

const (
	KindSystem     Kind = "system"
	KindAssistant  Kind = "assistant"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
)

// Event is the parsed, persisted form of one stdout line.
type Event struct {
	SessionID string                 `json:"session_id"`
	Seq       int64                  `json:"seq"`
	Kind      Kind                   `json:"kind"`
	Raw       map[string]interface{} `json:"raw"`
	Timestamp time.Time              `json:"timestamp"`
}

// taskCompleteSentinel is the text a worker prints in assistant
// content to hint it considers the task done (spec §4.C, §6).
const taskCompleteSentinel = "TASK COMPLETE"
