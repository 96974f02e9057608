package briefing

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/store"
)

// Store is the typed wrapper over the key-value store implementing
// the briefing operations of spec §4.E.
type Store struct {
	st store.Store
}

func NewStore(st store.Store) *Store {
	return &Store{st: st}
}

func briefingKey(tid string) []byte { return store.Key("tasks", "briefings", tid) }
func indexKey(tid string) []byte    { return store.Key("tasks", "briefings", "index", tid) }

// Create writes a new briefing and its index row. Fails with
// AlreadyExists if tid collides with an existing briefing.
func (s *Store) Create(b *Briefing) error {
	_, found, err := s.st.Read(briefingKey(b.TaskID))
	if err != nil {
		return err
	}
	if found {
		return apexerr.New(apexerr.AlreadyExists, "briefing", "Create", nil)
	}

	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = StatusPendingCreation
	}

	return s.write(b)
}

// Get reads and validates a briefing by id.
func (s *Store) Get(tid string) (*Briefing, error) {
	data, found, err := s.st.Read(briefingKey(tid))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apexerr.New(apexerr.NotFound, "briefing", "Get", nil)
	}
	var b Briefing
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, apexerr.New(apexerr.IOFailure, "briefing", "Get", err)
	}
	return &b, nil
}

// Update rewrites a briefing, refusing any status transition outside
// the allowed set unless the status hasn't changed.
func (s *Store) Update(b *Briefing) error {
	existing, err := s.Get(b.TaskID)
	if err != nil {
		return err
	}
	if existing.Status != b.Status && !CanTransition(existing.Status, b.Status) {
		return apexerr.New(apexerr.InvalidInput, "briefing", "Update", nil)
	}
	b.UpdatedAt = time.Now()
	return s.write(b)
}

func (s *Store) write(b *Briefing) error {
	data, err := json.Marshal(b)
	if err != nil {
		return apexerr.New(apexerr.IOFailure, "briefing", "write", err)
	}
	idxData, err := json.Marshal(b.ToIndexEntry())
	if err != nil {
		return apexerr.New(apexerr.IOFailure, "briefing", "write", err)
	}

	_, err = s.st.Transact([]store.Op{
		{Kind: store.OpWrite, Key: briefingKey(b.TaskID), Value: data},
		{Kind: store.OpWrite, Key: indexKey(b.TaskID), Value: idxData},
	})
	return err
}

// Filter narrows List's result set; zero values mean "no filter".
type Filter struct {
	Status Status
	Role   Role
}

// List scans the index and applies filters; result is ordered by
// (priority-rank ascending, created_at ascending) per spec §4.H's
// tie-break rule, reused here since both the Orchestrator's ready set
// and general listing share the same ordering.
func (s *Store) List(f Filter) ([]IndexEntry, error) {
	prefix := store.Prefix("tasks", "briefings", "index")
	rows, err := s.st.Scan(prefix, store.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	for _, kv := range rows {
		var e IndexEntry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Role != "" && e.Role != f.Role {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ready returns every pending_invocation briefing whose blocks-type
// dependencies are all present in completedTIDs.
func (s *Store) Ready(completedTIDs map[string]bool) ([]*Briefing, error) {
	entries, err := s.List(Filter{Status: StatusPendingInvocation})
	if err != nil {
		return nil, err
	}

	var ready []*Briefing
	for _, e := range entries {
		b, err := s.Get(e.TaskID)
		if err != nil {
			continue
		}
		if allBlocksSatisfied(b, completedTIDs) {
			ready = append(ready, b)
		}
	}
	return ready, nil
}

func allBlocksSatisfied(b *Briefing, completedTIDs map[string]bool) bool {
	for _, dep := range b.Dependencies {
		if dep.Kind != Blocks {
			continue
		}
		if !completedTIDs[dep.TaskID] {
			return false
		}
	}
	return true
}

// Cleanup deletes completed briefings (and their index rows) whose
// CompletedAt is older than olderThan.
func (s *Store) Cleanup(olderThan time.Time) (int, error) {
	entries, err := s.List(Filter{Status: StatusCompleted})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		b, err := s.Get(e.TaskID)
		if err != nil {
			continue
		}
		if b.CompletedAt == nil || !b.CompletedAt.Before(olderThan) {
			continue
		}
		if _, err := s.st.Transact([]store.Op{
			{Kind: store.OpDelete, Key: briefingKey(b.TaskID)},
			{Kind: store.OpDelete, Key: indexKey(b.TaskID)},
		}); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// OutputPrefix is the key prefix under which a briefing's worker
// writes deliverables, per spec §3 "Deliverable output".
func OutputPrefix(tid string) []byte {
	return store.Prefix("tasks", "outputs", tid)
}

// outputKeyBytes turns a Deliverable.OutputKey into store key bytes.
// OutputKey is already namespace-relative ("tasks/outputs/{tid}/...");
// every store key carries a leading "/", so this only adds the one
// that store.Key would have added -- it never re-applies the
// "tasks/outputs/{tid}" segments OutputKey already contains.
func outputKeyBytes(outputKey string) []byte {
	if strings.HasPrefix(outputKey, "/") {
		return []byte(outputKey)
	}
	return []byte("/" + outputKey)
}

// DeliverablesSatisfied checks that every required deliverable's
// output_key exists under the task's output prefix, per spec §3
// invariant 3. output_key (built by internal/briefgen as
// "tasks/outputs/{tid}/...") is already the full key relative to the
// store's namespace -- it must be read literally, never re-prefixed
// with the same "tasks/outputs/{tid}" segments it already carries.
func DeliverablesSatisfied(st store.Store, b *Briefing) (bool, string, error) {
	for _, d := range b.Deliverables {
		if !d.Required {
			continue
		}
		_, found, err := st.Read(outputKeyBytes(d.OutputKey))
		if err != nil {
			return false, "", err
		}
		if !found {
			return false, d.OutputKey, nil
		}
	}
	return true, "", nil
}
