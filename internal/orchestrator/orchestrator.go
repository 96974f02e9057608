package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/briefgen"
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/dispatch"
	"github.com/nibzard/apex/internal/planner"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

const component = "orchestrator"

// Spawner is the subset of procmgr.Manager's surface the Orchestrator
// needs; satisfied directly by *procmgr.Manager and by
// *procmgr.SpawnBreaker, which wraps it with a per-kind circuit
// breaker.
type Spawner interface {
	Spawn(taskID, role string, kind procmgr.Kind, cmdLine []string) (procmgr.Record, error)
	CheckStatus(processID string) (procmgr.Record, error)
	Terminate(processID string) error
}

// Models maps a required role to the CLI model identifier its worker
// invocation should use.
type Models map[briefing.Role]string

// DefaultModels returns a reasonable default model per role; the
// Adversary gets the same tier as the Coder since both are full
// worker roles, the Supervisor a higher tier for planning-adjacent
// work it might itself perform.
func DefaultModels() Models {
	return Models{
		briefing.RoleCoder:      "claude-sonnet",
		briefing.RoleAdversary:  "claude-sonnet",
		briefing.RoleSupervisor: "claude-opus",
	}
}

// Orchestrator drives the PLAN/CONSTRUCT/INVOKE/MONITOR/INTEGRATE
// cycle for one project session, per spec §4.H.
type Orchestrator struct {
	st    store.Store
	bs    *briefing.Store
	pl    *planner.Planner
	gen   *briefgen.Generator
	procs Spawner
	disp  *dispatch.Dispatcher
	errs  *telemetry.ErrorLog

	cfg     config.OrchestratorConfig
	procCfg config.ProcessConfig
	mcpCfg  config.MCPConfig
	models  Models

	mcpConfigPath string
	storePath     string

	log *telemetry.Logger
	met *telemetry.Metrics

	// Commands builds worker/utility command lines; overridable so
	// tests can substitute a harmless stand-in process.
	Commands CommandBuilder

	state *State
}

// New constructs an Orchestrator. mcpConfigPath/storePath are passed
// through to worker/utility command lines verbatim, per spec §6.
func New(
	st store.Store, bs *briefing.Store, pl *planner.Planner, gen *briefgen.Generator,
	procs Spawner, disp *dispatch.Dispatcher, errs *telemetry.ErrorLog,
	cfg config.OrchestratorConfig, procCfg config.ProcessConfig, mcpCfg config.MCPConfig,
	models Models, mcpConfigPath, storePath string,
	log *telemetry.Logger, met *telemetry.Metrics,
) *Orchestrator {
	if models == nil {
		models = DefaultModels()
	}
	return &Orchestrator{
		st: st, bs: bs, pl: pl, gen: gen, procs: procs, disp: disp, errs: errs,
		cfg: cfg, procCfg: procCfg, mcpCfg: mcpCfg, models: models,
		mcpConfigPath: mcpConfigPath, storePath: storePath,
		log: log.With("orch"), met: met,
		Commands: defaultCommands{},
	}
}

// NewSession starts a fresh orchestration session for projectID/goal,
// per engine.py's initialize_session.
func (o *Orchestrator) NewSession(projectID, goal string) (string, error) {
	o.state = newState(projectID, goal)

	session := map[string]any{
		"session_id": o.state.SessionID,
		"project_id": projectID,
		"goal":       goal,
		"started_at": time.Now().Format(time.RFC3339),
		"status":     "active",
	}
	data, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	if err := o.st.Write(sessionKey(projectID, o.state.SessionID), data); err != nil {
		return "", err
	}

	o.state.logEvent(EventStageStarted, map[string]any{"stage": "initialization", "goal": goal})
	return o.state.SessionID, nil
}

// Resume reattaches to a previously persisted State, demoting every
// still-active task to failed since no live process record survives a
// process restart, per spec §4.I's restore semantics.
func (o *Orchestrator) Resume(projectID string) (bool, error) {
	s, found, err := LoadState(o.st, projectID)
	if err != nil || !found {
		return found, err
	}
	DemoteActiveTasks(s)
	o.state = s
	return true, nil
}

// Adopt installs s as the live state, e.g. after recovery.Manager
// restores it from a checkpoint.
func (o *Orchestrator) Adopt(s *State) { o.state = s }

// DemoteActiveTasks moves every active task into the failed list,
// clearing the active set; no live process record survives a restart
// or checkpoint restore, so every in-flight task is treated as having
// failed and is left for the standard retry policy to pick up on the
// next INTEGRATE stage, per spec §4.I.
func DemoteActiveTasks(s *State) {
	for _, tid := range s.ActiveOrder {
		s.FailedTasks = append(s.FailedTasks, tid)
	}
	s.ActiveTasks = make(map[string]ActiveTask)
	s.ActiveOrder = nil
	s.Paused = false
	s.StopRequested = false
}

// RecoverFailedTasks re-attempts every currently failed task whose
// blocks-dependencies are still satisfied, resetting it to
// pending_invocation regardless of how many retries it has already
// used. This is the Recovery component's more aggressive sibling of
// the Integrate stage's bounded retry policy, meant to be invoked
// explicitly after an auto-recovery checkpoint, per spec §4.I.
func (o *Orchestrator) RecoverFailedTasks() (recovered, stillFailed int, err error) {
	completed := o.completedSet()
	var remaining []string
	for _, tid := range o.state.FailedTasks {
		b, gerr := o.bs.Get(tid)
		if gerr != nil {
			stillFailed++
			remaining = append(remaining, tid)
			continue
		}
		if !dependenciesSatisfied(b, completed) {
			stillFailed++
			remaining = append(remaining, tid)
			continue
		}
		if b.Status == briefing.StatusInProgress {
			b.Status = briefing.StatusFailed
			if uerr := o.bs.Update(b); uerr != nil {
				stillFailed++
				remaining = append(remaining, tid)
				continue
			}
		}
		b.Status = briefing.StatusPendingInvocation
		b.RetryCount++
		if uerr := o.bs.Update(b); uerr != nil {
			stillFailed++
			remaining = append(remaining, tid)
			continue
		}
		delete(o.state.Integrated, tid)
		recovered++
	}
	o.state.FailedTasks = remaining
	return recovered, stillFailed, nil
}

func dependenciesSatisfied(b *briefing.Briefing, completed map[string]bool) bool {
	for _, dep := range b.Dependencies {
		if dep.Kind != briefing.Blocks {
			continue
		}
		if !completed[dep.TaskID] {
			return false
		}
	}
	return true
}

// State returns the current (in-memory) Supervisor state.
func (o *Orchestrator) State() *State { return o.state }

// Pause blocks the next stage from starting; any already-running
// subprocesses continue.
func (o *Orchestrator) Pause() {
	o.state.Paused = true
	o.state.logEvent(EventUserInterventionRequired, map[string]any{"action": "paused"})
}

// ResumeFromPause clears a previously set pause.
func (o *Orchestrator) ResumeFromPause() {
	o.state.Paused = false
	o.state.logEvent(EventStageStarted, map[string]any{"action": "resumed"})
}

// Stop requests a graceful stop: the in-flight cycle finishes its
// current stage, then every active process is terminated and no
// further cycles run.
func (o *Orchestrator) Stop() {
	o.state.StopRequested = true
	for _, tid := range o.state.ActiveOrder {
		at := o.state.ActiveTasks[tid]
		if err := o.procs.Terminate(at.ProcessID); err != nil {
			o.log.Printf("terminate %s on stop: %v", at.ProcessID, err)
		}
	}
	o.state.logEvent(EventStageCompleted, map[string]any{"action": "stopped", "final_metrics": o.state.Metrics})
}

// RunCycle executes one PLAN->CONSTRUCT->INVOKE->MONITOR->INTEGRATE
// pass. It returns false when there is no state, once stopped, once
// the goal is achieved (state.CurrentStage == StageIdle), or when a
// stage fails with a Critical error; true otherwise.
func (o *Orchestrator) RunCycle() (bool, error) {
	if o.state == nil {
		return false, apexerr.New(apexerr.InvalidInput, component, "RunCycle", nil)
	}
	if o.state.StopRequested {
		return false, nil
	}
	if o.state.Paused {
		return true, nil
	}

	o.state.Metrics.StageCycles++
	if o.met != nil {
		o.met.TicksRun.Inc()
	}
	cycleStart := time.Now()

	if err := o.runStages(); err != nil {
		o.state.logEvent(EventErrorOccurred, map[string]any{"error": err.Error(), "stage": string(o.state.CurrentStage)})
		if id, rerr := o.errs.Record(component, string(o.state.CurrentStage), "orchestration_cycle", err); rerr != nil {
			o.log.Printf("record error: %v", rerr)
		} else {
			o.log.Printf("recorded error %s for stage %s", id, o.state.CurrentStage)
		}
		_ = o.persistState()
		if apexerr.Is(err, apexerr.Critical) {
			return false, err
		}
		return true, err
	}

	o.state.logEvent(EventStageCompleted, map[string]any{
		"stage":           "full_cycle",
		"duration_seconds": time.Since(cycleStart).Seconds(),
		"active_tasks":    len(o.state.ActiveTasks),
		"completed_tasks": len(o.state.CompletedTasks),
	})
	if err := o.persistState(); err != nil {
		return true, err
	}
	return o.state.CurrentStage != StageIdle, nil
}

func (o *Orchestrator) runStages() error {
	if done, err := o.stagePlan(); err != nil {
		return err
	} else if done {
		return nil
	}
	if err := o.stageConstruct(); err != nil {
		return err
	}
	if err := o.stageInvoke(); err != nil {
		return err
	}
	if err := o.stageMonitor(); err != nil {
		return err
	}
	if err := o.stageIntegrate(); err != nil {
		return err
	}
	return nil
}

// RunUntilIdle drives RunCycle up to cfg.MaxTicks times (the safety
// cap of spec §4.H), stopping early once it returns false.
func (o *Orchestrator) RunUntilIdle() error {
	maxTicks := o.cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = 20
	}
	for i := 0; i < maxTicks; i++ {
		more, err := o.RunCycle()
		if err != nil && apexerr.Is(err, apexerr.Critical) {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) completedSet() map[string]bool {
	set := make(map[string]bool, len(o.state.CompletedTasks))
	for _, tid := range o.state.CompletedTasks {
		set[tid] = true
	}
	return set
}
