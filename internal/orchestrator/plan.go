package orchestrator

// stagePlan is stage 1: refresh the task graph and decide whether the
// goal has already been achieved, per engine.py's _execute_plan_stage
// / _is_goal_achieved. Returns done=true when the session should go
// idle without running the remaining stages this cycle.
func (o *Orchestrator) stagePlan() (done bool, err error) {
	o.state.CurrentStage = StagePlan
	o.state.logEvent(EventStageStarted, map[string]any{"stage": "plan"})

	if o.isGoalAchieved() {
		o.state.CurrentStage = StageIdle
		return true, nil
	}

	if o.state.Graph == nil {
		graph, err := o.pl.Plan(o.state.ProjectID, o.state.Goal)
		if err != nil {
			return false, err
		}
		o.state.Graph = graph
	} else {
		graph, err := o.pl.Update(o.state.ProjectID, o.state.Goal, o.state.CompletedTasks, o.state.FailedTasks)
		if err != nil {
			return false, err
		}
		o.state.Graph = graph
	}

	ready, err := o.bs.Ready(o.completedSet())
	if err != nil {
		return false, err
	}

	o.state.logEvent(EventStageCompleted, map[string]any{
		"stage":               "plan",
		"ready_tasks_count":   len(ready),
		"total_tasks_in_graph": len(o.state.Graph.Tasks),
	})
	return false, nil
}

// isGoalAchieved mirrors engine.py's 90%-completion-and-no-actives
// heuristic, using the configured completion fraction.
func (o *Orchestrator) isGoalAchieved() bool {
	if o.state.Graph == nil || len(o.state.Graph.Tasks) == 0 {
		return false
	}
	total := len(o.state.Graph.Tasks)
	completed := len(o.state.CompletedTasks)
	ratio := float64(completed) / float64(total)
	return ratio >= o.cfg.CompletionFraction && len(o.state.ActiveTasks) == 0
}
