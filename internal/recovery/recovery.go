// Package recovery implements checkpoint/restore, auto-recovery, and
// checkpoint retention for the Orchestrator, per spec §4.I. Grounded
// on original_source/src/apex/core/recovery.py's
// OrchestrationRecoveryManager, reworked from its asyncio coroutines
// into plain synchronous methods the caller (typically a periodic
// goroutine, see RunPeriodic) drives on its own schedule, matching
// orchestrator.Orchestrator's own cooperative-scheduling shape.
package recovery

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/orchestrator"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

const component = "recovery"

// Snapshot is the immutable capture spec §3 names: every key in the
// store at the instant the checkpoint was taken. Restoring it is a
// literal replay of those (key, value) pairs, which is what makes the
// spec §8 round-trip property (`restore(snapshot(s)) = s`) hold by
// construction rather than by reconstructing state field-by-field.
type Snapshot struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	CreatedAt time.Time         `json:"created_at"`
	Keys      map[string][]byte `json:"keys"`
}

// Manager creates, restores, and prunes checkpoints, and drives
// auto-recovery, for one store.
type Manager struct {
	st   store.Store
	errs *telemetry.ErrorLog
	met  *telemetry.Metrics
	log  *telemetry.Logger
	cfg  config.RecoveryConfig

	mu                 sync.Mutex
	consecutiveFailures int
}

// New constructs a Manager.
func New(st store.Store, errs *telemetry.ErrorLog, met *telemetry.Metrics, log *telemetry.Logger, cfg config.RecoveryConfig) *Manager {
	return &Manager{st: st, errs: errs, met: met, log: log.With("recovery"), cfg: cfg}
}

func checkpointKey(id string) []byte {
	return store.Key("snapshots", id)
}

// checkpointID mirrors recovery.py's "checkpoint-{YYYYMMDD-HHMMSS}"
// naming; a uuid suffix is appended so two checkpoints in the same
// second (common in tests) never collide.
func checkpointID(now time.Time) string {
	return "checkpoint-" + now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Checkpoint captures every key currently in the store -- the
// SupervisorState, task graph, briefings, outputs, everything -- into
// one Snapshot written at snapshots/checkpoint-{ts}, per spec §4.I.
func (m *Manager) Checkpoint(projectID string) (string, error) {
	all := store.Prefix()
	rows, err := m.st.Scan(all, store.PrefixEnd(all), 0)
	if err != nil {
		return "", apexerr.New(apexerr.IOFailure, component, "Checkpoint", err)
	}

	now := time.Now()
	snap := Snapshot{
		ID:        checkpointID(now),
		ProjectID: projectID,
		CreatedAt: now,
		Keys:      make(map[string][]byte, len(rows)),
	}
	for _, kv := range rows {
		snap.Keys[string(kv.Key)] = kv.Value
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	if err := m.st.Write(checkpointKey(snap.ID), data); err != nil {
		return "", apexerr.New(apexerr.IOFailure, component, "Checkpoint", err)
	}
	if m.met != nil {
		m.met.CheckpointsTaken.Inc()
	}
	m.log.Printf("checkpoint %s written (%d keys)", snap.ID, len(snap.Keys))
	return snap.ID, nil
}

// loadSnapshot reads a checkpoint by id.
func (m *Manager) loadSnapshot(id string) (*Snapshot, bool, error) {
	data, found, err := m.st.Read(checkpointKey(id))
	if err != nil || !found {
		return nil, found, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, true, err
	}
	return &snap, true, nil
}

// Restore replays every (key, value) pair a checkpoint captured back
// into the store, then loads and returns the project's SupervisorState
// with every task that was active at checkpoint time demoted to
// failed -- their subprocesses no longer exist, so they are never
// revived, per spec §4.I. The standard retry policy (Orchestrator's
// INTEGRATE stage) then decides whether each demoted task gets
// retried or is permanently failed.
func (m *Manager) Restore(projectID, checkpointID string) (*orchestrator.State, error) {
	snap, found, err := m.loadSnapshot(checkpointID)
	if err != nil {
		return nil, apexerr.New(apexerr.IOFailure, component, "Restore", err)
	}
	if !found {
		return nil, apexerr.New(apexerr.NotFound, component, "Restore", nil)
	}

	for k, v := range snap.Keys {
		if err := m.st.Write([]byte(k), v); err != nil {
			return nil, apexerr.New(apexerr.IOFailure, component, "Restore", err)
		}
	}

	state, found, err := orchestrator.LoadState(m.st, projectID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apexerr.New(apexerr.NotFound, component, "Restore", nil)
	}

	demoted := len(state.ActiveTasks)
	orchestrator.DemoteActiveTasks(state)
	if err := orchestrator.SaveState(m.st, state); err != nil {
		return nil, apexerr.New(apexerr.IOFailure, component, "Restore", err)
	}

	m.log.Printf("restored %s from %s (%d active tasks demoted to failed)", projectID, checkpointID, demoted)
	return state, nil
}
