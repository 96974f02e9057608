package streamparser

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

// Parser consumes a worker's stdout and persists classified events in
// source order. It is synchronous with respect to the store: there is
// no internal queue, so back-pressure comes from storage latency
// rather than from a buffer filling up, per spec §4.C.
type Parser struct {
	st        store.Store
	sessionID string
	log       *telemetry.Logger

	nextSeq int64

	// taskComplete is set once the sentinel has been observed in an
	// assistant event.
	taskComplete bool
}

func New(st store.Store, sessionID string) *Parser {
	return &Parser{
		st:        st,
		sessionID: sessionID,
		log:       telemetry.NewLogger("STREAM"),
	}
}

// Consume reads r line by line until EOF, parsing and persisting every
// well-formed JSON object. Non-JSON or partial lines are silently
// skipped, matching spec §4.C's "on failure... silently accumulates"
// (bufio.Scanner already buffers a partial final line internally, so
// the only extra handling needed is tolerating a failed Unmarshal).
func (p *Parser) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := p.handleLine(line); err != nil {
			p.log.Printf("skipping malformed line: %v", err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return apexerr.New(apexerr.IOFailure, "streamparser", "Consume", err)
	}
	return nil
}

func (p *Parser) handleLine(line []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return err
	}

	kind := classify(raw)
	ev := Event{
		SessionID: p.sessionID,
		Seq:       p.nextSeq,
		Kind:      kind,
		Raw:       raw,
		Timestamp: time.Now(),
	}
	p.nextSeq++

	if kind == KindAssistant && containsSentinel(raw) {
		p.taskComplete = true
	}

	return p.persist(ev)
}

// classify dispatches by the object's "type" field into one of the
// four semantic events, per spec §4.C.
func classify(raw map[string]interface{}) Kind {
	t, _ := raw["type"].(string)
	switch t {
	case "system":
		return KindSystem
	case "assistant":
		return KindAssistant
	case "tool_use":
		return KindToolUse
	case "tool_result":
		return KindToolResult
	default:
		return KindSystem
	}
}

func containsSentinel(raw map[string]interface{}) bool {
	content, ok := raw["content"].(string)
	if ok && strings.Contains(content, taskCompleteSentinel) {
		return true
	}
	// stream-json assistant events nest content as a list of blocks.
	if blocks, ok := raw["content"].([]interface{}); ok {
		for _, b := range blocks {
			if m, ok := b.(map[string]interface{}); ok {
				if text, ok := m["text"].(string); ok && strings.Contains(text, taskCompleteSentinel) {
					return true
				}
			}
		}
	}
	return false
}

func (p *Parser) persist(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return apexerr.New(apexerr.IOFailure, "streamparser", "persist", err)
	}
	key := store.Key("agents", "events", p.sessionID, seqString(ev.Seq))
	return p.st.Write(key, data)
}

// TaskComplete reports whether the sentinel has been observed so far.
func (p *Parser) TaskComplete() bool { return p.taskComplete }

// NextSeq exposes the sequence counter so a caller resuming a parser
// across multiple Consume calls (e.g. across stdout reconnects) can
// preserve gap-freedom per spec invariant 5.
func (p *Parser) NextSeq() int64 { return p.nextSeq }

// SetNextSeq restores the sequence counter, used when resuming.
func (p *Parser) SetNextSeq(n int64) { p.nextSeq = n }
