// Package telemetry carries the ambient logging and metrics concerns
// shared by every APEX component: a small tag-prefixed logger in the
// style the teacher uses throughout its process-lifecycle code
// ("[SPAWNER]", "[NATS]", "[MCP]"), and a prometheus registry for the
// Orchestrator and Process Manager counters.
package telemetry

import (
	"log"
	"os"
)

// Logger is a tag-prefixed wrapper over the standard logger, matching
// the "[TAG] message" convention used throughout the teacher's
// internal/agents and internal/nats packages.
type Logger struct {
	tag    string
	std    *log.Logger
}

// NewLogger returns a Logger that prefixes every line with "[tag]".
func NewLogger(tag string) *Logger {
	return &Logger{
		tag: tag,
		std: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf("[%s] "+format, append([]interface{}{l.tag}, args...)...)
}

func (l *Logger) Println(args ...interface{}) {
	all := append([]interface{}{"[" + l.tag + "]"}, args...)
	l.std.Println(all...)
}

// With returns a child logger with a sub-tag, e.g. ORCH.With("plan")
// logs as "[ORCH:plan]".
func (l *Logger) With(subtag string) *Logger {
	return NewLogger(l.tag + ":" + subtag)
}
