package briefgen

import (
	"strconv"
	"strings"

	"github.com/nibzard/apex/internal/briefing"
)

// specifyDeliverables builds the deliverable list for spec by
// (role, type), then enforces output_key uniqueness, per spec §4.G
// step 3. Grounded on DeliverableSpecifier.specify_deliverables.
func (g *Generator) specifyDeliverables(spec Spec) []briefing.Deliverable {
	prefix := "tasks/outputs/" + spec.TaskID

	var out []briefing.Deliverable
	switch spec.Role {
	case briefing.RoleCoder:
		out = append(out, briefing.Deliverable{
			Type: "status_report", Description: "Status report on task completion and decisions made",
			OutputKey: prefix + "/status_report.md", Required: true,
			ValidationCriteria: []string{"Clear summary of work done", "Decisions and rationale documented"},
		})
	case briefing.RoleAdversary:
		out = append(out,
			briefing.Deliverable{
				Type: "issue_report", Description: "Issues and vulnerabilities found during review",
				OutputKey: prefix + "/issues.json", Required: true,
				ValidationCriteria: []string{"Issues categorized by severity", "Clear reproduction steps"},
			},
			briefing.Deliverable{
				Type: "recommendation", Description: "Recommendations for improvements",
				OutputKey: prefix + "/recommendations.md", Required: true,
				ValidationCriteria: []string{"Actionable recommendations", "Priority levels assigned"},
			},
		)
	}

	switch spec.Type {
	case TypeResearch:
		out = append(out,
			briefing.Deliverable{
				Type: "analysis", Description: "Research findings and analysis",
				OutputKey: prefix + "/research_analysis.md", Required: true,
				ValidationCriteria: []string{"Comprehensive research conducted", "Key findings summarized", "Sources cited"},
			},
			briefing.Deliverable{
				Type: "recommendation", Description: "Technical approach recommendations",
				OutputKey: prefix + "/technical_approach.md", Required: true,
				ValidationCriteria: []string{"Multiple approaches considered", "Recommended approach justified"},
			},
		)
	case TypeImplementation:
		out = append(out,
			briefing.Deliverable{
				Type: "code", Description: "Core implementation code",
				OutputKey: prefix + "/code/", Required: true,
				ValidationCriteria: []string{"Code follows project standards", "Proper error handling", "Clear documentation"},
			},
			briefing.Deliverable{
				Type: "unit_test", Description: "Unit tests for implemented functionality",
				OutputKey: prefix + "/tests/unit/", Required: true,
				ValidationCriteria: []string{"Adequate test coverage", "Edge cases tested", "Tests pass"},
			},
			briefing.Deliverable{
				Type: "documentation", Description: "Implementation documentation",
				OutputKey: prefix + "/docs/implementation.md", Required: true,
				ValidationCriteria: []string{"API documented", "Usage examples provided", "Configuration explained"},
			},
		)
		if containsAny(strings.ToLower(spec.Description), "api", "endpoint", "service", "integration") {
			out = append(out, briefing.Deliverable{
				Type: "integration_test", Description: "Integration tests for the implementation",
				OutputKey: prefix + "/tests/integration/", Required: false,
				ValidationCriteria: []string{"End-to-end scenarios tested", "Integration points verified"},
			})
		}
	case TypeTesting:
		out = append(out,
			briefing.Deliverable{
				Type: "unit_test", Description: "Comprehensive unit tests",
				OutputKey: prefix + "/tests/unit/", Required: true,
				ValidationCriteria: []string{"High code coverage", "Edge cases covered", "All tests pass"},
			},
			briefing.Deliverable{
				Type: "analysis", Description: "Test coverage and quality report",
				OutputKey: prefix + "/coverage_report.json", Required: true,
				ValidationCriteria: []string{"Coverage metrics included", "Quality assessment provided"},
			},
			briefing.Deliverable{
				Type: "documentation", Description: "Test documentation and usage guide",
				OutputKey: prefix + "/test_docs.md", Required: false,
				ValidationCriteria: []string{"Test strategy explained", "How to run tests documented"},
			},
		)
	case TypeBugFix:
		out = append(out,
			briefing.Deliverable{
				Type: "code", Description: "Bug fix implementation",
				OutputKey: prefix + "/fix/", Required: true,
				ValidationCriteria: []string{"Bug root cause addressed", "Minimal code changes", "No regression introduced"},
			},
			briefing.Deliverable{
				Type: "unit_test", Description: "Tests to verify bug fix and prevent regression",
				OutputKey: prefix + "/regression_tests/", Required: true,
				ValidationCriteria: []string{"Bug scenario reproduced in test", "Fix verified", "Regression prevention"},
			},
			briefing.Deliverable{
				Type: "analysis", Description: "Bug analysis and fix explanation",
				OutputKey: prefix + "/bug_analysis.md", Required: true,
				ValidationCriteria: []string{"Root cause identified", "Fix approach explained", "Impact assessment provided"},
			},
		)
	case TypeSecurityReview:
		out = append(out,
			briefing.Deliverable{
				Type: "issue_report", Description: "Security vulnerabilities and issues found",
				OutputKey: prefix + "/security_issues.json", Required: true,
				ValidationCriteria: []string{"CVSS scores provided", "Exploitation scenarios described", "Remediation steps included"},
			},
			briefing.Deliverable{
				Type: "unit_test", Description: "Security tests to verify protections",
				OutputKey: prefix + "/security_tests/", Required: true,
				ValidationCriteria: []string{"Attack scenarios tested", "Security controls verified", "Input validation tested"},
			},
			briefing.Deliverable{
				Type: "analysis", Description: "Overall security assessment",
				OutputKey: prefix + "/security_assessment.md", Required: true,
				ValidationCriteria: []string{"Risk assessment provided", "Security posture evaluated", "Compliance checked"},
			},
		)
	}

	ensureUniqueOutputKeys(out)
	return out
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ensureUniqueOutputKeys appends _1, _2, ... on collision, splitting on
// the last "." to preserve an extension, per the Python
// DeliverableSpecifier._ensure_unique_output_keys.
func ensureUniqueOutputKeys(deliverables []briefing.Deliverable) {
	seen := make(map[string]bool)
	for i := range deliverables {
		d := &deliverables[i]
		original := d.OutputKey
		counter := 1
		for seen[d.OutputKey] {
			base, ext := splitExt(original)
			if ext != "" {
				d.OutputKey = base + "_" + strconv.Itoa(counter) + "." + ext
			} else {
				d.OutputKey = base + "_" + strconv.Itoa(counter)
			}
			counter++
		}
		seen[d.OutputKey] = true
	}
}

func splitExt(key string) (base, ext string) {
	trimmed := strings.TrimSuffix(key, "/")
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 || strings.Contains(trimmed[idx:], "/") {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx+1:]
}
