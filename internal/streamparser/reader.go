package streamparser

import (
	"encoding/json"
	"sort"

	"github.com/nibzard/apex/internal/store"
)

// Events returns every persisted event for sessionID in seq order.
// Used by tests and by Recovery's gap-free invariant checks.
func Events(st store.Store, sessionID string) ([]Event, error) {
	prefix := store.Prefix("agents", "events", sessionID)
	rows, err := st.Scan(prefix, store.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))
	for _, kv := range rows {
		var ev Event
		if err := json.Unmarshal(kv.Value, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// IsGapFree reports whether events forms a contiguous 0..N sequence,
// per spec §8's "Event gap-free" property.
func IsGapFree(events []Event) bool {
	for i, ev := range events {
		if ev.Seq != int64(i) {
			return false
		}
	}
	return true
}
