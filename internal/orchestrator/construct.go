package orchestrator

import (
	"strings"

	"github.com/nibzard/apex/internal/briefgen"
)

// stageConstruct is stage 2: enrich every ready-but-unconstructed
// briefing (the Planner leaves each step as a skeleton with no
// deliverables/context/quality criteria) with the Briefing
// Generator's output, up to the concurrency cap, per engine.py's
// _execute_construct_stage.
func (o *Orchestrator) stageConstruct() error {
	o.state.CurrentStage = StageConstruct
	o.state.logEvent(EventStageStarted, map[string]any{"stage": "construct"})

	ready, err := o.bs.Ready(o.completedSet())
	if err != nil {
		return err
	}

	constructed := 0
	slotCap := o.procCfg.MaxWorkers + o.procCfg.MaxUtilities
	for _, b := range ready {
		if len(o.state.ActiveTasks) >= slotCap {
			break
		}
		if len(b.Deliverables) > 0 {
			continue // already constructed in a prior cycle
		}

		stepName := o.stepNameFor(b.TaskID)
		spec := briefgen.Spec{
			TaskID:       b.TaskID,
			Role:         b.RoleRequired,
			Type:         taskTypeForStep(stepName),
			Description:  b.Objective,
			Priority:     b.Priority,
			Dependencies: b.Dependencies,
		}
		enriched := o.gen.Generate(o.state.ProjectID, spec)

		b.ContextPointers = enriched.ContextPointers
		b.Deliverables = enriched.Deliverables
		b.QualityCriteria = enriched.QualityCriteria
		if err := o.bs.Update(b); err != nil {
			return err
		}

		o.state.logEvent(EventTaskCreated, map[string]any{
			"task_id":   b.TaskID,
			"role":      string(b.RoleRequired),
			"objective": b.Objective,
		})
		constructed++
		o.state.Metrics.TasksCreated++
	}

	o.state.logEvent(EventStageCompleted, map[string]any{"stage": "construct", "briefings_constructed": constructed})
	return nil
}

// stepNameFor looks up the task graph step name for tid, falling back
// to tid itself when the graph has no matching entry (e.g. a
// retry task appended outside the original template).
func (o *Orchestrator) stepNameFor(tid string) string {
	if o.state.Graph != nil {
		for _, t := range o.state.Graph.Tasks {
			if t.TaskID == tid {
				return t.StepName
			}
		}
	}
	return tid
}

// taskTypeForStep classifies a Planner step name into a briefgen
// TaskType, grounded on the same keyword style as
// planner.TemplateFor, applied to the narrower step vocabulary the
// three templates actually produce (investigation, bug_fix,
// verification, research, implementation, testing, analysis, review).
func taskTypeForStep(stepName string) briefgen.TaskType {
	lower := strings.ToLower(stepName)
	switch {
	case strings.Contains(lower, "bug"):
		return briefgen.TypeBugFix
	case strings.Contains(lower, "security"):
		return briefgen.TypeSecurityReview
	case strings.Contains(lower, "test"), strings.Contains(lower, "verification"):
		return briefgen.TypeTesting
	case strings.Contains(lower, "research"), strings.Contains(lower, "investigation"), strings.Contains(lower, "analysis"):
		return briefgen.TypeResearch
	default:
		return briefgen.TypeImplementation
	}
}
