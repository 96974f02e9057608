// Package briefgen is the pure (state x spec) -> briefing function of
// spec §4.G, grounded on original_source/src/apex/supervisor/briefing.py's
// ContextCollector / DeliverableSpecifier / QualityCriteriaGenerator
// trio, reworked from the Python MCP-client context collector into a
// store.Store-backed Go equivalent. The generator never spawns a
// process or mutates a briefing's status; it only builds the value the
// caller then persists via briefing.Store.
package briefgen

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/stringutils"
)

// TaskType names the category used to select task-specific context
// and deliverables, independent of the Planner's step names.
type TaskType string

const (
	TypeResearch       TaskType = "research"
	TypeImplementation TaskType = "implementation"
	TypeTesting        TaskType = "testing"
	TypeBugFix         TaskType = "bug_fix"
	TypeSecurityReview TaskType = "security_review"
)

// Spec is the task specification the generator consumes.
type Spec struct {
	TaskID       string
	Role         briefing.Role
	Type         TaskType
	Description  string
	Priority     briefing.Priority
	Dependencies []briefing.Dependency
	Constraints  map[string]string
}

// Generator builds briefings by reading context candidates out of st.
type Generator struct {
	st store.Store
}

func New(st store.Store) *Generator {
	return &Generator{st: st}
}

// Generate builds a complete briefing from spec, per spec §4.G steps 1-5.
func (g *Generator) Generate(projectID string, spec Spec) *briefing.Briefing {
	objective := spec.Description
	if stringutils.IsEmpty(objective) {
		objective = "Objective unspecified: " + string(spec.Type)
	}
	b := &briefing.Briefing{
		TaskID:          spec.TaskID,
		RoleRequired:    spec.Role,
		Objective:       objective,
		Status:          briefing.StatusPendingInvocation,
		Priority:        nonEmptyPriority(spec.Priority),
		ContextPointers: g.collectContext(projectID, spec),
		Dependencies:    spec.Dependencies,
		Constraints:     spec.Constraints,
	}
	b.Deliverables = g.specifyDeliverables(spec)
	b.QualityCriteria = qualityCriteria(spec)
	return b
}

func nonEmptyPriority(p briefing.Priority) briefing.Priority {
	if p == "" {
		return briefing.PriorityMedium
	}
	return p
}

// --- Context collection (step 1 + 2) ---

func (g *Generator) collectContext(projectID string, spec Spec) map[string]briefing.ContextPointer {
	pointers := make(map[string]briefing.ContextPointer)

	g.addIfPresent(pointers, "project_config", store.Key("projects", projectID, "config"),
		"Project configuration and metadata", "json")
	g.addIfPresent(pointers, "coding_standards", store.Key("projects", projectID, "docs", "coding_standards.md"),
		"Project coding standards and style guide", "markdown")
	g.addIfPresent(pointers, "architecture", store.Key("projects", projectID, "docs", "architecture.md"),
		"System architecture documentation", "markdown")

	switch spec.Type {
	case TypeImplementation:
		g.addRelatedCode(pointers, projectID, spec.Description)
	case TypeBugFix:
		g.addBugContext(pointers, projectID)
	case TypeTesting:
		g.addTestingContext(pointers, projectID)
	case TypeSecurityReview:
		g.addSecurityContext(pointers, projectID)
	}

	return pointers
}

func (g *Generator) addIfPresent(pointers map[string]briefing.ContextPointer, name string, key []byte, desc, contentType string) {
	data, found, err := g.st.Read(key)
	if err != nil || !found {
		return
	}
	pointers[name] = briefing.ContextPointer{Key: string(key), Description: desc, ContentType: contentType, Size: len(data)}
}

// addRelatedCode scores code-memory files by how many objective words
// appear in their key, keeping the top 5, per the Python
// ContextCollector._add_related_code_context relevance scoring.
func (g *Generator) addRelatedCode(pointers map[string]briefing.ContextPointer, projectID, objective string) {
	prefix := store.Prefix("projects", projectID, "memory", "code")
	keys, err := g.st.ListKeys(prefix)
	if err != nil {
		return
	}
	words := strings.Fields(strings.ToLower(objective))

	type scored struct {
		score int
		key   []byte
	}
	var candidates []scored
	limit := len(keys)
	if limit > 20 {
		limit = 20
	}
	for _, k := range keys[:limit] {
		lower := strings.ToLower(string(k))
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{score, k})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	for i, c := range candidates {
		data, found, _ := g.st.Read(c.key)
		if !found {
			continue
		}
		name := "related_code_" + strconv.Itoa(i)
		pointers[name] = briefing.ContextPointer{
			Key:         string(c.key),
			Description: "Related code file: " + string(c.key),
			ContentType: "code",
			Size:        len(data),
		}
	}
}

func (g *Generator) addBugContext(pointers map[string]briefing.ContextPointer, projectID string) {
	today := time.Now().Format("2006-01-02")
	g.addIfPresent(pointers, "recent_errors", store.Key("projects", projectID, "logs", "errors", today),
		"Recent error logs from today", "logs")

	issuesPrefix := store.Prefix("projects", projectID, "memory", "issues")
	keys, err := g.st.ListKeys(issuesPrefix)
	if err != nil {
		return
	}
	limit := 3
	if len(keys) < limit {
		limit = len(keys)
	}
	for i, k := range keys[:limit] {
		data, found, _ := g.st.Read(k)
		if !found {
			continue
		}
		pointers["open_issue_"+strconv.Itoa(i)] = briefing.ContextPointer{
			Key: string(k), Description: "Open issue #" + strconv.Itoa(i+1), ContentType: "json", Size: len(data),
		}
	}
}

func (g *Generator) addTestingContext(pointers map[string]briefing.ContextPointer, projectID string) {
	g.addIfPresent(pointers, "test_config", store.Key("projects", projectID, "config", "test_config.json"),
		"Test configuration and framework settings", "json")

	prefix := store.Prefix("projects", projectID, "memory", "code")
	keys, err := g.st.ListKeys(prefix)
	if err != nil {
		return
	}
	found := 0
	for _, k := range keys {
		if !strings.Contains(strings.ToLower(string(k)), "test") {
			continue
		}
		data, ok, _ := g.st.Read(k)
		if !ok {
			continue
		}
		pointers["example_test_"+strconv.Itoa(found)] = briefing.ContextPointer{
			Key: string(k), Description: "Example test file: " + string(k), ContentType: "code", Size: len(data),
		}
		found++
		if found >= 3 {
			break
		}
	}
}

func (g *Generator) addSecurityContext(pointers map[string]briefing.ContextPointer, projectID string) {
	g.addIfPresent(pointers, "security_policy", store.Key("projects", projectID, "docs", "security_policy.md"),
		"Project security policies and guidelines", "markdown")

	prefix := store.Prefix("projects", projectID, "memory", "security")
	keys, err := g.st.ListKeys(prefix)
	if err != nil {
		return
	}
	limit := 2
	if len(keys) < limit {
		limit = len(keys)
	}
	for i, k := range keys[:limit] {
		data, found, _ := g.st.Read(k)
		if !found {
			continue
		}
		pointers["security_report_"+strconv.Itoa(i)] = briefing.ContextPointer{
			Key: string(k), Description: "Previous security report #" + strconv.Itoa(i+1), ContentType: "json", Size: len(data),
		}
	}
}
