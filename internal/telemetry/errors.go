package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/store"
)

// ErrorRecord is the persisted form of a handled error, written to
// errors/{err_id}/context per §3.1/§7.
type ErrorRecord struct {
	ErrID            string          `json:"err_id"`
	Component        string          `json:"component"`
	Operation        string          `json:"operation"`
	Kind             apexerr.Kind    `json:"kind"`
	Severity         apexerr.Severity `json:"severity"`
	Category         string          `json:"category"`
	Strategy         apexerr.Strategy `json:"strategy"`
	RetryCount       int             `json:"retry_count"`
	Message          string          `json:"message"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Resolved         bool            `json:"resolved"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
}

// ErrorLog persists handled errors under errors/{err_id}/context and
// supports the severity/category reduce used for error summaries.
type ErrorLog struct {
	st store.Store
}

func NewErrorLog(st store.Store) *ErrorLog {
	return &ErrorLog{st: st}
}

// Record writes a new ErrorRecord for err and returns its id.
func (l *ErrorLog) Record(component, operation, category string, err error) (string, error) {
	id := uuid.New().String()
	rec := ErrorRecord{
		ErrID:      id,
		Component:  component,
		Operation:  operation,
		Kind:       apexerr.KindOf(err),
		Category:   category,
		Message:    err.Error(),
		OccurredAt: time.Now(),
	}
	var ae *apexerr.Error
	if e, ok := err.(*apexerr.Error); ok {
		ae = e
	}
	if ae != nil {
		rec.Severity = ae.Severity
		rec.Strategy = ae.Strategy
	}

	data, jerr := json.Marshal(rec)
	if jerr != nil {
		return "", jerr
	}
	key := store.Key("errors", id, "context")
	if werr := l.st.Write(key, data); werr != nil {
		return "", werr
	}
	return id, nil
}

// Resolve marks an error record resolved with notes.
func (l *ErrorLog) Resolve(errID, notes string) error {
	key := store.Key("errors", errID, "context")
	value, found, err := l.st.Read(key)
	if err != nil {
		return err
	}
	if !found {
		return apexerr.New(apexerr.NotFound, "telemetry", "Resolve", nil)
	}
	var rec ErrorRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return err
	}
	now := time.Now()
	rec.Resolved = true
	rec.ResolvedAt = &now
	rec.ResolutionNotes = notes
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.st.Write(key, data)
}

// Summary reduces every error record into counts bucketed by
// severity and category, per §7's "error summary is a reduce over
// that key-range".
type Summary struct {
	BySeverity map[apexerr.Severity]int `json:"by_severity"`
	ByCategory map[string]int          `json:"by_category"`
	Total      int                     `json:"total"`
	Unresolved int                     `json:"unresolved"`
}

func (l *ErrorLog) Summary() (*Summary, error) {
	prefix := store.Prefix("errors")
	rows, err := l.st.Scan(prefix, store.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		BySeverity: make(map[apexerr.Severity]int),
		ByCategory: make(map[string]int),
	}
	for _, kv := range rows {
		var rec ErrorRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		sum.Total++
		sum.BySeverity[rec.Severity]++
		sum.ByCategory[rec.Category]++
		if !rec.Resolved {
			sum.Unresolved++
		}
	}
	return sum, nil
}
