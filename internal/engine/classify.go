// Package engine implements the guided conversation orchestration
// engine: step routing, prompt construction, response interpretation,
// and the meeting-booking gate.
package engine

import (
	"strings"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// classifierRules are tested in order; the first matching category
// wins. The classifier backstops the completion service when it does
// not label its own output, so it must stay total and deterministic.
var classifierRules = []struct {
	resource domain.ResourceType
	keywords []string
}{
	{domain.ResourceLessonPlan, []string{"lesson", "plan", "activity"}},
	{domain.ResourceRubric, []string{"rubric", "grading", "assess"}},
	{domain.ResourceQuiz, []string{"quiz", "test"}},
	{domain.ResourceEmail, []string{"email", "parent"}},
}

// ClassifyResource maps free text to a deliverable category using
// case-insensitive substring matching. Unmatched text yields summary.
func ClassifyResource(text string) domain.ResourceType {
	lower := strings.ToLower(text)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.resource
			}
		}
	}
	return domain.ResourceSummary
}

// mentionsContent reports whether text names something the assistant
// knows how to generate. Used by the step-3 direct-generation branch.
func mentionsContent(text string) bool {
	lower := strings.ToLower(text)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	for _, kw := range []string{"worksheet", "handout", "summary", "newsletter"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
