package orchestrator

import (
	"time"

	"github.com/nibzard/apex/internal/briefing"
)

// stageIntegrate is stage 5: validate deliverables for completed
// tasks, apply the retry policy to failed tasks, and persist state,
// per engine.py's _execute_integrate_stage /
// _integrate_task_results / _handle_failed_task. Unlike the Python
// original (which logs a warning and leaves the briefing's status
// untouched when a deliverable is missing), a completed task whose
// required deliverables are absent is routed into the same retry
// pipeline as a process failure -- a deliverable never silently
// vanishes into neither list.
func (o *Orchestrator) stageIntegrate() error {
	o.state.CurrentStage = StageIntegrate
	o.state.logEvent(EventStageStarted, map[string]any{"stage": "integrate"})

	integrated := 0
	var stillCompleted []string
	for _, tid := range o.state.CompletedTasks {
		if o.state.Integrated[tid] {
			stillCompleted = append(stillCompleted, tid)
			continue
		}
		b, err := o.bs.Get(tid)
		if err != nil {
			stillCompleted = append(stillCompleted, tid)
			continue
		}
		ok, missing, err := briefing.DeliverablesSatisfied(o.st, b)
		if err != nil {
			return err
		}
		if !ok {
			o.log.Printf("task %s missing required deliverable %s", tid, missing)
			o.state.FailedTasks = append(o.state.FailedTasks, tid)
			continue
		}
		b.Status = briefing.StatusCompleted
		now := time.Now()
		b.CompletedAt = &now
		if err := o.bs.Update(b); err != nil {
			return err
		}
		o.state.Integrated[tid] = true
		integrated++
		stillCompleted = append(stillCompleted, tid)
	}
	o.state.CompletedTasks = stillCompleted

	var stillFailed []string
	for _, tid := range o.state.FailedTasks {
		retried, err := o.handleFailedTask(tid)
		if err != nil {
			return err
		}
		if !retried {
			stillFailed = append(stillFailed, tid)
		}
	}
	o.state.FailedTasks = stillFailed

	if o.cfg.CleanupAfter > 0 {
		if _, err := o.bs.Cleanup(time.Now().Add(-o.cfg.CleanupAfter)); err != nil {
			o.log.Printf("cleanup: %v", err)
		}
	}

	o.state.logEvent(EventStageCompleted, map[string]any{
		"stage": "integrate", "integrated_results": integrated,
		"total_completed": len(o.state.CompletedTasks), "total_failed": len(o.state.FailedTasks),
	})
	return nil
}

// handleFailedTask applies the retry policy: a task under
// MaxTaskRetries goes back to pending_invocation with its retry count
// incremented, everything else becomes permanently failed, per spec
// §4.H's retry semantics (max_task_retries default 2, no backoff).
// It returns true if the task was sent back for retry.
func (o *Orchestrator) handleFailedTask(tid string) (retried bool, err error) {
	if o.state.Integrated[tid] {
		return false, nil
	}
	b, err := o.bs.Get(tid)
	if err != nil {
		o.state.Integrated[tid] = true
		return false, nil
	}

	if b.Status != briefing.StatusFailed {
		b.Status = briefing.StatusFailed
		now := time.Now()
		b.FailedAt = &now
		if err := o.bs.Update(b); err != nil {
			return false, err
		}
	}

	if b.RetryCount < o.cfg.MaxTaskRetries {
		b.Status = briefing.StatusPendingInvocation
		b.RetryCount++
		if b.OrchestrationMetadata == nil {
			b.OrchestrationMetadata = make(map[string]string)
		}
		b.OrchestrationMetadata["last_failure"] = time.Now().Format(time.RFC3339)
		if err := o.bs.Update(b); err != nil {
			return false, err
		}
		if o.met != nil {
			o.met.TasksRetried.Inc()
		}
		return true, nil
	}

	o.state.Integrated[tid] = true
	return false, nil
}
