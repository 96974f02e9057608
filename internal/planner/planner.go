// Package planner turns a free-text goal into a small, ordered task
// graph using a fixed set of templates, per spec §4.F. Grounded on the
// teacher's internal/supervisor/planner.go keyword-categorization
// approach (categorizeTask), generalized from a single-pass task
// category count into an ordered multi-step template.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/store"
)

// Step is one template step: a role assignment with an expected
// duration, chained to its predecessor by a Blocks dependency.
type Step struct {
	Name            string
	Role            briefing.Role
	DurationMinutes int
}

var bugFixTemplate = []Step{
	{"investigation", briefing.RoleAdversary, 30},
	{"bug_fix", briefing.RoleCoder, 60},
	{"verification", briefing.RoleAdversary, 30},
}

var implementationTemplate = []Step{
	{"research", briefing.RoleCoder, 30},
	{"implementation", briefing.RoleCoder, 90},
	{"testing", briefing.RoleAdversary, 45},
}

var genericTemplate = []Step{
	{"analysis", briefing.RoleCoder, 30},
	{"implementation", briefing.RoleCoder, 90},
	{"review", briefing.RoleAdversary, 30},
}

var bugFixKeywords = []string{"fix", "bug", "error", "issue", "repair"}
var implementationKeywords = []string{"implement", "add", "create", "build", "develop"}

// TemplateFor classifies goal into one of the three fixed templates by
// keyword class, per spec §4.F's table.
func TemplateFor(goal string) (name string, steps []Step) {
	lower := strings.ToLower(goal)
	for _, kw := range bugFixKeywords {
		if strings.Contains(lower, kw) {
			return "bug-fix", bugFixTemplate
		}
	}
	for _, kw := range implementationKeywords {
		if strings.Contains(lower, kw) {
			return "implementation", implementationTemplate
		}
	}
	return "generic", genericTemplate
}

// Task is one node of the produced task graph.
type Task struct {
	TaskID       string        `json:"task_id"`
	StepName     string        `json:"step_name"`
	Role         briefing.Role `json:"role"`
	Objective    string        `json:"objective"`
	DependsOn    string        `json:"depends_on,omitempty"`
	DurationMins int           `json:"duration_minutes"`
}

// Graph is the produced, ordered task graph, persisted to
// projects/{pid}/supervisor/task_graph.
type Graph struct {
	ProjectID    string    `json:"project_id"`
	Goal         string    `json:"goal"`
	TemplateName string    `json:"template_name"`
	Tasks        []Task    `json:"tasks"`
	CreatedAt    time.Time `json:"created_at"`
}

// Planner builds and persists task graphs and their briefings.
type Planner struct {
	st store.Store
	bs *briefing.Store
	// now is overridden in tests; task ids embed a timestamp so
	// production code must not call time.Now() directly here.
	now func() time.Time
}

// New constructs a Planner writing task graphs and briefings through st.
func New(st store.Store, bs *briefing.Store, now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{st: st, bs: bs, now: now}
}

func graphKey(projectID string) []byte {
	return store.Key("projects", projectID, "supervisor", "task_graph")
}

func taskID(now time.Time, stepName string) string {
	return fmt.Sprintf("task-%s-%s", now.Format("20060102-1504"), stepName)
}

// Plan classifies goal, builds the task graph, persists it, and
// creates a pending_invocation briefing for every step. Each step
// depends (Blocks) on its predecessor.
func (p *Planner) Plan(projectID, goal string) (*Graph, error) {
	templateName, steps := TemplateFor(goal)
	now := p.now()

	graph := &Graph{
		ProjectID:    projectID,
		Goal:         goal,
		TemplateName: templateName,
		CreatedAt:    now,
	}

	var prevID string
	for _, step := range steps {
		tid := taskID(now, step.Name)
		graph.Tasks = append(graph.Tasks, Task{
			TaskID:       tid,
			StepName:     step.Name,
			Role:         step.Role,
			Objective:    fmt.Sprintf("%s: %s (%s step for goal %q)", step.Name, step.Role, templateName, goal),
			DependsOn:    prevID,
			DurationMins: step.DurationMinutes,
		})

		b := &briefing.Briefing{
			TaskID:       tid,
			RoleRequired: step.Role,
			Objective:    fmt.Sprintf("%s: %s", step.Name, goal),
			Status:       briefing.StatusPendingInvocation,
			Priority:     briefing.PriorityMedium,
		}
		if prevID != "" {
			b.Dependencies = []briefing.Dependency{{TaskID: prevID, Kind: briefing.Blocks}}
		}
		if err := p.bs.Create(b); err != nil {
			return nil, err
		}
		prevID = tid
	}

	if err := p.persist(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func (p *Planner) persist(graph *Graph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return err
	}
	return p.st.Write(graphKey(graph.ProjectID), data)
}

// Load reads the persisted task graph for a project, if any.
func (p *Planner) Load(projectID string) (*Graph, bool, error) {
	data, found, err := p.st.Read(graphKey(projectID))
	if err != nil || !found {
		return nil, found, err
	}
	var graph Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, true, err
	}
	return &graph, true, nil
}

// Update rewrites the graph between orchestration cycles: it appends a
// fresh retry step for every task in failed (reusing its role) and
// leaves tasks in completed untouched, preserving their ids, per spec
// §4.F's "preserving completed tasks' ids".
func (p *Planner) Update(projectID, goal string, completed, failed []string) (*Graph, error) {
	graph, found, err := p.Load(projectID)
	if err != nil {
		return nil, err
	}
	if !found {
		return p.Plan(projectID, goal)
	}

	failedSet := make(map[string]bool, len(failed))
	for _, tid := range failed {
		failedSet[tid] = true
	}

	byID := make(map[string]Task, len(graph.Tasks))
	for _, t := range graph.Tasks {
		byID[t.TaskID] = t
	}

	now := p.now()
	for _, tid := range failed {
		orig, ok := byID[tid]
		if !ok {
			continue
		}
		retryID := taskID(now, orig.StepName+"-retry")
		graph.Tasks = append(graph.Tasks, Task{
			TaskID:       retryID,
			StepName:     orig.StepName + "-retry",
			Role:         orig.Role,
			Objective:    orig.Objective,
			DependsOn:    orig.DependsOn,
			DurationMins: orig.DurationMins,
		})
	}

	if err := p.persist(graph); err != nil {
		return nil, err
	}
	return graph, nil
}
