// Package orchestrator implements the Supervisor's 5-stage
// orchestration loop of spec §4.H: PLAN -> CONSTRUCT -> INVOKE ->
// MONITOR -> INTEGRATE. Grounded on
// original_source/src/apex/supervisor/engine.py's SupervisorEngine /
// SupervisorState / OrchestrationStage / OrchestrationEvent classes,
// reworked from Python's async/await single-process model into a
// synchronous, single-goroutine RunCycle the caller drives on its own
// schedule (spec §5: "Orchestrator runs cooperatively single-logical-
// task").
package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/planner"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/store"
)

// Stage names a phase of the orchestration loop.
type Stage string

const (
	StagePlan      Stage = "plan"
	StageConstruct Stage = "construct"
	StageInvoke    Stage = "invoke"
	StageMonitor   Stage = "monitor"
	StageIntegrate Stage = "integrate"
	StageIdle      Stage = "idle"
)

// EventType names one of the events the Supervisor logs to its
// ring-buffered event log, per engine.py's OrchestrationEvent enum.
type EventType string

const (
	EventStageStarted            EventType = "stage_started"
	EventStageCompleted          EventType = "stage_completed"
	EventTaskCreated             EventType = "task_created"
	EventTaskStarted             EventType = "task_started"
	EventTaskCompleted           EventType = "task_completed"
	EventTaskFailed              EventType = "task_failed"
	EventWorkerSpawned           EventType = "worker_spawned"
	EventWorkerTerminated        EventType = "worker_terminated"
	EventErrorOccurred           EventType = "error_occurred"
	EventUserInterventionRequired EventType = "user_intervention_required"
)

// Event is one ring-buffered log entry.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"event_type"`
	SessionID string            `json:"session_id"`
	Stage     Stage             `json:"stage"`
	Data      map[string]any    `json:"data"`
}

const maxEventLog = 1000

// ActiveTask is the Supervisor's bookkeeping entry for one in-flight
// task, tracking the briefing and subprocess it spawned.
type ActiveTask struct {
	TaskID     string          `json:"task_id"`
	Role       briefing.Role   `json:"role"`
	ProcessID  string          `json:"process_id"`
	Kind       procmgr.Kind    `json:"kind"`
	StartedAt  time.Time       `json:"started_at"`
}

// Metrics mirrors engine.py's SupervisorState.metrics dict.
type Metrics struct {
	TasksCreated    int       `json:"tasks_created"`
	TasksCompleted  int       `json:"tasks_completed"`
	TasksFailed     int       `json:"tasks_failed"`
	WorkersSpawned  int       `json:"workers_spawned"`
	StageCycles     int       `json:"stage_cycles"`
	SessionStart    time.Time `json:"session_start"`
}

// State is the full persistent Supervisor state for one session,
// persisted at projects/{pid}/supervisor/state, per engine.py's
// SupervisorState and its _update_project_state.
type State struct {
	ProjectID     string                 `json:"project_id"`
	SessionID     string                 `json:"session_id"`
	Goal          string                 `json:"goal"`
	CurrentStage  Stage                  `json:"current_stage"`
	Graph         *planner.Graph         `json:"task_graph,omitempty"`
	ActiveTasks   map[string]ActiveTask  `json:"active_tasks"`
	// ActiveOrder preserves insertion order for the same-pass
	// completion tie-break spec §4.H names.
	ActiveOrder   []string               `json:"active_order"`
	CompletedTasks []string              `json:"completed_tasks"`
	FailedTasks    []string              `json:"failed_tasks"`
	// Integrated marks task ids INTEGRATE has already finalized
	// (deliverables validated, or permanently failed), so repeated
	// cycles don't redo that work for the same id.
	Integrated     map[string]bool       `json:"integrated"`
	EventLog       []Event               `json:"event_log"`
	Metrics        Metrics               `json:"metrics"`
	Paused         bool                  `json:"paused"`
	StopRequested  bool                  `json:"stop_requested"`
}

func newState(projectID, goal string) *State {
	return &State{
		ProjectID:    projectID,
		SessionID:    uuid.NewString(),
		Goal:         goal,
		CurrentStage: StageIdle,
		ActiveTasks:  make(map[string]ActiveTask),
		Integrated:   make(map[string]bool),
		Metrics:      Metrics{SessionStart: time.Now()},
	}
}

func (s *State) logEvent(evType EventType, data map[string]any) {
	s.EventLog = append(s.EventLog, Event{
		Timestamp: time.Now(),
		Type:      evType,
		SessionID: s.SessionID,
		Stage:     s.CurrentStage,
		Data:      data,
	})
	if len(s.EventLog) > maxEventLog {
		s.EventLog = s.EventLog[len(s.EventLog)-maxEventLog:]
	}
}

func stateKey(projectID string) []byte {
	return store.Key("projects", projectID, "supervisor", "state")
}

func sessionKey(projectID, sessionID string) []byte {
	return store.Key("projects", projectID, "supervisor", "sessions", sessionID)
}

func (o *Orchestrator) persistState() error {
	data, err := json.Marshal(o.state)
	if err != nil {
		return err
	}
	return o.st.Write(stateKey(o.state.ProjectID), data)
}

// SaveState persists s at its project's canonical state key, for
// callers (e.g. recovery.Manager) that mutate a State loaded outside
// of a live Orchestrator.
func SaveState(st store.Store, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.Write(stateKey(s.ProjectID), data)
}

// LoadState reads a previously persisted State for projectID, if any.
func LoadState(st store.Store, projectID string) (*State, bool, error) {
	data, found, err := st.Read(stateKey(projectID))
	if err != nil || !found {
		return nil, found, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, true, err
	}
	return &s, true, nil
}
