package orchestrator

import "github.com/nibzard/apex/internal/procmgr"

// stageMonitor is stage 4: poll every active task's process status and
// move terminal ones off the active set, per engine.py's
// _execute_monitor_stage. Timeout is treated as a failure (spec §7);
// the deadline itself is enforced by the Process Manager's monitor
// goroutine, not here.
func (o *Orchestrator) stageMonitor() error {
	o.state.CurrentStage = StageMonitor
	o.state.logEvent(EventStageStarted, map[string]any{"stage": "monitor"})

	var completed, failed []string

	for _, tid := range o.state.ActiveOrder {
		at := o.state.ActiveTasks[tid]
		rec, err := o.procs.CheckStatus(at.ProcessID)
		if err != nil {
			failed = append(failed, tid)
			o.state.logEvent(EventTaskFailed, map[string]any{"task_id": tid, "error": err.Error()})
			continue
		}

		switch rec.Status {
		case procmgr.StatusCompleted:
			exitCode := 0
			if rec.ExitCode != nil {
				exitCode = *rec.ExitCode
			}
			if exitCode == 0 {
				completed = append(completed, tid)
				o.state.logEvent(EventTaskCompleted, map[string]any{"task_id": tid, "exit_code": exitCode})
			} else {
				failed = append(failed, tid)
				o.state.logEvent(EventTaskFailed, map[string]any{"task_id": tid, "exit_code": exitCode})
			}
		case procmgr.StatusFailed, procmgr.StatusTerminated:
			failed = append(failed, tid)
			o.state.logEvent(EventTaskFailed, map[string]any{"task_id": tid, "reason": string(rec.Status)})
		case procmgr.StatusTimeout:
			failed = append(failed, tid)
			o.state.logEvent(EventTaskFailed, map[string]any{"task_id": tid, "reason": "timeout"})
		default:
			// still running/starting: leave active
		}
	}

	o.removeFromActive(completed)
	o.removeFromActive(failed)
	o.state.CompletedTasks = append(o.state.CompletedTasks, completed...)
	o.state.FailedTasks = append(o.state.FailedTasks, failed...)
	o.state.Metrics.TasksCompleted += len(completed)
	o.state.Metrics.TasksFailed += len(failed)
	if o.met != nil {
		for range completed {
			o.met.TasksCompleted.Inc()
		}
		for range failed {
			o.met.TasksFailed.Inc()
		}
	}

	o.state.logEvent(EventStageCompleted, map[string]any{
		"stage": "monitor", "completed_tasks": len(completed), "failed_tasks": len(failed),
		"still_active": len(o.state.ActiveTasks),
	})
	return nil
}

func (o *Orchestrator) removeFromActive(tids []string) {
	if len(tids) == 0 {
		return
	}
	remove := make(map[string]bool, len(tids))
	for _, tid := range tids {
		remove[tid] = true
		delete(o.state.ActiveTasks, tid)
	}
	kept := o.state.ActiveOrder[:0]
	for _, tid := range o.state.ActiveOrder {
		if !remove[tid] {
			kept = append(kept, tid)
		}
	}
	o.state.ActiveOrder = kept
}
