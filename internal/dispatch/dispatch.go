// Package dispatch implements the Utility Dispatcher of spec §4.J: a
// pure rule table scoring whether a ready task should run as an LLM
// worker or as a deterministic utility subprocess. Grounded on two
// sources: the teacher's internal/supervisor/decision.go
// (DecisionEngine, a rule-driven recommender over severity-classified
// findings, generalized here from "findings -> agent recommendation"
// to "task -> executor"), and
// original_source/src/apex/supervisor/engine.py's
// _determine_worker_type plus orchestrator.py's
// _determine_utility_script keyword table, which supplies the
// utility-capability keyword sets below.
package dispatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/store"
)

// Executor names which kind of subprocess a Decision selects.
type Executor string

const (
	ExecutorWorker  Executor = "worker"
	ExecutorUtility Executor = "utility"
)

// Rule scores a task toward one of the two executors. A non-empty
// Role or TaskType must equal the task's; beyond that, a rule with
// Keywords matches only if one of them appears in the task's
// description, and a rule without Keywords matches only if it sets a
// Role or TaskType. A matching rule contributes Confidence*Priority to
// its Favors bucket, per spec §4.J.
type Rule struct {
	Name          string
	Favors        Executor
	Keywords      []string
	Role          briefing.Role // empty matches any role
	TaskType      string        // empty matches any type
	Confidence    float64       // 0..1
	Priority      int           // higher contributes more weight
	UtilityScript string        // only meaningful when Favors == ExecutorUtility
}

func (r Rule) matches(desc string, role briefing.Role, taskType string) bool {
	if r.Role != "" && r.Role != role {
		return false
	}
	if r.TaskType != "" && r.TaskType != taskType {
		return false
	}
	if len(r.Keywords) == 0 {
		return r.Role != "" || r.TaskType != ""
	}
	lower := strings.ToLower(desc)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (r Rule) weight() float64 { return r.Confidence * float64(r.Priority) }

// Rules is the fixed rule table. Role rules establish the baseline
// (Coder/Adversary favor Worker, matching engine.py's
// _determine_worker_type); keyword rules favor Utility for the five
// deterministic tool categories orchestrator.py's
// _determine_utility_script recognizes.
var Rules = []Rule{
	{Name: "coder_role", Favors: ExecutorWorker, Role: briefing.RoleCoder, Confidence: 0.9, Priority: 10},
	{Name: "adversary_role", Favors: ExecutorWorker, Role: briefing.RoleAdversary, Confidence: 0.9, Priority: 10},
	{Name: "supervisor_role", Favors: ExecutorWorker, Role: briefing.RoleSupervisor, Confidence: 0.6, Priority: 5},

	{Name: "archive", Favors: ExecutorUtility, Keywords: []string{"summarize", "archive", "compress"},
		Confidence: 0.9, Priority: 9, UtilityScript: "archivist.py"},
	{Name: "test_runner", Favors: ExecutorUtility, Keywords: []string{"test", "coverage", "benchmark"},
		Confidence: 0.85, Priority: 9, UtilityScript: "test_runner.py"},
	{Name: "git_manager", Favors: ExecutorUtility, Keywords: []string{"git", "commit", "merge", "branch"},
		Confidence: 0.85, Priority: 9, UtilityScript: "git_manager.py"},
	{Name: "code_formatter", Favors: ExecutorUtility, Keywords: []string{"format", "lint", "style"},
		Confidence: 0.8, Priority: 8, UtilityScript: "code_formatter.py"},
	{Name: "analyzer", Favors: ExecutorUtility, Keywords: []string{"analyze", "metrics", "profile"},
		Confidence: 0.75, Priority: 8, UtilityScript: "analyzer.py"},
}

// Decision is one dispatch verdict, persisted at
// supervisor/dispatch/decisions/{tid} per SPEC_FULL.md §3.2.
type Decision struct {
	TaskID        string   `json:"task_id"`
	Executor      Executor `json:"executor"`
	UtilityScript string   `json:"utility_script,omitempty"`
	Confidence    float64  `json:"confidence"`
	MatchedRules  []string `json:"matched_rules"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Dispatcher evaluates the rule table against ready briefings and
// persists every decision it makes.
type Dispatcher struct {
	st    store.Store
	rules []Rule
	// registeredUtilities is the set of utility scripts known to be
	// available; a rule favoring utility only wins if its script is
	// registered, otherwise the task falls back to a worker, per spec
	// §4.J's "at least one registered utility's declared capability
	// matches".
	registeredUtilities map[string]bool
}

// New constructs a Dispatcher using the default Rules table and the
// given set of available utility script names.
func New(st store.Store, availableUtilities []string) *Dispatcher {
	avail := make(map[string]bool, len(availableUtilities))
	for _, u := range availableUtilities {
		avail[u] = true
	}
	return &Dispatcher{st: st, rules: Rules, registeredUtilities: avail}
}

// Decide scores b against the rule table and persists the resulting
// Decision, per spec §4.J.
func (d *Dispatcher) Decide(b *briefing.Briefing) (Decision, error) {
	var workerScore, utilityScore float64
	var matched []string
	var bestUtility Rule
	haveUtility := false

	for _, r := range d.rules {
		if !r.matches(b.Objective, b.RoleRequired, "") {
			continue
		}
		matched = append(matched, r.Name)
		w := r.weight()
		switch r.Favors {
		case ExecutorWorker:
			workerScore += w
		case ExecutorUtility:
			utilityScore += w
			if !haveUtility || w > bestUtility.weight() {
				bestUtility, haveUtility = r, true
			}
		}
	}

	total := workerScore + utilityScore
	dec := Decision{TaskID: b.TaskID, MatchedRules: matched, DecidedAt: time.Now()}

	useUtility := haveUtility && utilityScore > workerScore && d.registeredUtilities[bestUtility.UtilityScript]
	if useUtility {
		dec.Executor = ExecutorUtility
		dec.UtilityScript = bestUtility.UtilityScript
		if total > 0 {
			dec.Confidence = utilityScore / total
		} else {
			dec.Confidence = bestUtility.Confidence
		}
	} else {
		dec.Executor = ExecutorWorker
		if total > 0 {
			dec.Confidence = workerScore / total
		} else {
			dec.Confidence = 1.0
		}
	}

	if err := d.persist(dec); err != nil {
		return dec, err
	}
	return dec, nil
}

func (d *Dispatcher) persist(dec Decision) error {
	data, err := json.Marshal(dec)
	if err != nil {
		return err
	}
	return d.st.Write(store.Key("supervisor", "dispatch", "decisions", dec.TaskID), data)
}
