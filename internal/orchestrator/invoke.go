package orchestrator

import (
	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/store"
)

// stageInvoke is stage 3: spawn a worker or utility subprocess for
// every already-constructed ready briefing, up to the concurrency
// cap, per engine.py's _execute_invoke_stage. Worker-vs-utility
// selection is delegated to the Utility Dispatcher (spec §4.J).
func (o *Orchestrator) stageInvoke() error {
	o.state.CurrentStage = StageInvoke
	o.state.logEvent(EventStageStarted, map[string]any{"stage": "invoke"})

	ready, err := o.bs.Ready(o.completedSet())
	if err != nil {
		return err
	}

	slotCap := o.procCfg.MaxWorkers + o.procCfg.MaxUtilities
	spawned := 0
	for _, b := range ready {
		if len(o.state.ActiveTasks) >= slotCap {
			break
		}
		if len(b.Deliverables) == 0 {
			continue // not constructed yet
		}

		dec, err := o.disp.Decide(b)
		if err != nil {
			return err
		}

		var kind procmgr.Kind
		var cmdLine []string
		switch dec.Executor {
		case "utility":
			kind = procmgr.KindUtility
			cmdLine = o.Commands.Utility(dec.UtilityScript, b, o.storePath)
		default:
			kind = procmgr.KindWorker
			model := o.models[b.RoleRequired]
			allowed := procmgr.WorkerAllowedTools(o.mcpCfg.AllowedTools, string(b.RoleRequired))
			cmdLine = o.Commands.Worker(b, model, o.mcpConfigPath, allowed)
		}

		rec, err := o.procs.Spawn(b.TaskID, string(b.RoleRequired), kind, cmdLine)
		if err != nil {
			if apexerr.Is(err, apexerr.ResourceExhausted) {
				break // cap reached; retry next cycle
			}
			return err
		}

		b.Status = briefing.StatusInProgress
		now := rec.StartedAt
		b.StartedAt = &now
		if b.OrchestrationMetadata == nil {
			b.OrchestrationMetadata = make(map[string]string)
		}
		b.OrchestrationMetadata["process_id"] = rec.ProcessID
		b.OrchestrationMetadata["worker_type"] = string(dec.Executor)
		if err := o.bs.Update(b); err != nil {
			return err
		}

		o.state.ActiveTasks[b.TaskID] = ActiveTask{
			TaskID: b.TaskID, Role: b.RoleRequired, ProcessID: rec.ProcessID, Kind: kind, StartedAt: rec.StartedAt,
		}
		o.state.ActiveOrder = append(o.state.ActiveOrder, b.TaskID)

		o.state.logEvent(EventTaskStarted, map[string]any{
			"task_id": b.TaskID, "worker_type": string(dec.Executor), "process_id": rec.ProcessID,
		})
		spawned++
		o.state.Metrics.WorkersSpawned++
	}

	o.state.logEvent(EventStageCompleted, map[string]any{
		"stage": "invoke", "workers_spawned": spawned, "active_tasks": len(o.state.ActiveTasks),
	})
	return nil
}

// briefingKey mirrors the unexported key briefing.Store uses
// (tasks/briefings/{tid}) so a worker's prompt can name the exact
// location it must read to retrieve its briefing, per spec §6.
func briefingKey(tid string) []byte {
	return store.Key("tasks", "briefings", tid)
}
