package briefgen

import "github.com/nibzard/apex/internal/briefing"

// qualityCriteria builds the checklist drawn from a fixed set indexed
// by (role, type), per spec §4.G step 4. Grounded on
// QualityCriteriaGenerator.generate_quality_criteria.
func qualityCriteria(spec Spec) []string {
	criteria := []string{
		"Task objective fully achieved",
		"All required deliverables provided",
		"Work follows project coding standards",
		"Clear documentation provided",
	}

	switch spec.Role {
	case briefing.RoleCoder:
		criteria = append(criteria,
			"Code is well-structured and maintainable",
			"Proper error handling implemented",
			"Security best practices followed",
			"Performance considerations addressed",
		)
	case briefing.RoleAdversary:
		criteria = append(criteria,
			"Thorough security analysis conducted",
			"Edge cases and error conditions tested",
			"Potential vulnerabilities identified",
			"Quality of implementation assessed",
		)
	}

	switch spec.Type {
	case TypeImplementation:
		criteria = append(criteria,
			"Implementation meets functional requirements",
			"Code integrates properly with existing system",
			"Unit tests provide adequate coverage",
			"API contracts properly defined",
		)
	case TypeTesting:
		criteria = append(criteria,
			"Test coverage meets or exceeds 80%",
			"Tests cover happy path and edge cases",
			"Performance tests included where appropriate",
			"Tests are maintainable and readable",
		)
	case TypeBugFix:
		criteria = append(criteria,
			"Root cause properly identified and addressed",
			"Fix is minimal and targeted",
			"No regression introduced",
			"Bug reproduction test included",
		)
	case TypeSecurityReview:
		criteria = append(criteria,
			"All security domains reviewed (authentication, authorization, input validation, etc.)",
			"Security issues properly categorized by severity",
			"Remediation steps are actionable",
			"Compliance requirements considered",
		)
	}

	return criteria
}
