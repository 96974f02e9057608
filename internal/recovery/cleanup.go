package recovery

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/store"
)

// Cleanup retains the most recent keepCount checkpoints for projectID
// plus any younger than maxAge, deleting the rest, per spec §4.I and
// recovery.py's cleanup_old_checkpoints: a checkpoint is only ever
// deleted if it is BOTH beyond the top-keepCount newest AND older than
// the cutoff -- an old checkpoint still within the retained newest-K
// is never deleted.
func (m *Manager) Cleanup(projectID string, keepCount int, maxAge time.Duration) (int, error) {
	prefix := store.Prefix("snapshots")
	rows, err := m.st.Scan(prefix, store.PrefixEnd(prefix), 0)
	if err != nil {
		return 0, apexerr.New(apexerr.IOFailure, component, "Cleanup", err)
	}

	type entry struct {
		key       []byte
		createdAt time.Time
	}
	var entries []entry
	for _, kv := range rows {
		var snap Snapshot
		if err := json.Unmarshal(kv.Value, &snap); err != nil {
			continue
		}
		if snap.ProjectID != projectID {
			continue
		}
		entries = append(entries, entry{key: kv.Key, createdAt: snap.CreatedAt})
	}

	if len(entries) <= keepCount {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].createdAt.After(entries[j].createdAt) })

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, e := range entries[keepCount:] {
		if e.createdAt.Before(cutoff) {
			if err := m.st.Delete(e.key); err != nil {
				return deleted, apexerr.New(apexerr.IOFailure, component, "Cleanup", err)
			}
			deleted++
		}
	}
	return deleted, nil
}
