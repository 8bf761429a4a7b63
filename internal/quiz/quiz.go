// Package quiz generates fallback learning quizzes from a change summary
// when the caller supplies none, and fills in missing reasoning fields.
package quiz

import (
	"strings"

	"github.com/kokistudios/sidecar/internal/record"
)

// ChangeType classifies a change summary for template selection.
type ChangeType string

const (
	Bugfix      ChangeType = "bugfix"
	Performance ChangeType = "performance"
	Refactor    ChangeType = "refactor"
	Security    ChangeType = "security"
	Docs        ChangeType = "docs"
	Test        ChangeType = "test"
	Feature     ChangeType = "feature"
)

var changeKeywords = []struct {
	kind     ChangeType
	keywords []string
}{
	{Bugfix, []string{"fix", "bug", "issue", "error", "crash", "repair", "patch", "resolve"}},
	{Performance, []string{"performance", "optimize", "speed", "faster", "cache", "efficient", "memory"}},
	{Refactor, []string{"refactor", "restructure", "reorganize", "clean", "simplify", "rename"}},
	{Security, []string{"security", "vulnerab", "auth", "permission", "sanitize", "escape", "inject"}},
	{Docs, []string{"document", "readme", "comment", "docstring", "doc"}},
	{Test, []string{"test", "spec", "coverage", "assert", "mock"}},
}

// DetectChangeType classifies a summary by keyword, first match wins.
// Anything unrecognized is a feature.
func DetectChangeType(summary string) ChangeType {
	lower := strings.ToLower(summary)
	for _, ck := range changeKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				return ck.kind
			}
		}
	}
	return Feature
}

var templates = map[ChangeType][]record.Quiz{
	Bugfix: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) New feature", "D) Refactoring"},
			Answer:      "B",
			Explanation: "Based on the summary, this is a bug fix to resolve an existing issue.",
		},
		{
			Question:    "What is most important when verifying a bug fix?",
			Options:     []string{"A) The bug no longer occurs", "B) No regression in related features", "C) Root cause is addressed, not just symptoms", "D) All of the above"},
			Answer:      "D",
			Explanation: "A complete bug fix verification includes all these aspects.",
		},
		{
			Question:    "What documentation should accompany a bug fix?",
			Options:     []string{"A) Steps to reproduce the original issue", "B) Root cause analysis", "C) Prevention measures for similar issues", "D) All of the above"},
			Answer:      "D",
			Explanation: "Good bug fix documentation helps prevent similar issues in the future.",
		},
	},
	Performance: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) New feature", "D) Refactoring"},
			Answer:      "A",
			Explanation: "Based on the summary, this is a performance optimization.",
		},
		{
			Question:    "How should performance improvements be validated?",
			Options:     []string{"A) Before/after benchmarks", "B) Memory profiling", "C) Load testing", "D) All of the above"},
			Answer:      "D",
			Explanation: "Comprehensive performance validation uses multiple measurement methods.",
		},
		{
			Question:    "What is a common risk with performance optimizations?",
			Options:     []string{"A) Reduced code readability", "B) Increased complexity", "C) Potential correctness issues", "D) All of the above"},
			Answer:      "D",
			Explanation: "Performance optimizations often introduce trade-offs that need careful consideration.",
		},
	},
	Refactor: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) New feature", "D) Refactoring"},
			Answer:      "D",
			Explanation: "Based on the summary, this is a code refactoring for better structure or maintainability.",
		},
		{
			Question:    "What is the key principle of refactoring?",
			Options:     []string{"A) Change behavior and structure together", "B) Change structure without changing behavior", "C) Always add new features while refactoring", "D) Refactor without tests"},
			Answer:      "B",
			Explanation: "Refactoring should improve code structure while preserving existing behavior.",
		},
		{
			Question:    "What should you ensure before refactoring?",
			Options:     []string{"A) Adequate test coverage exists", "B) Changes are incremental and reversible", "C) Each step can be verified", "D) All of the above"},
			Answer:      "D",
			Explanation: "Safe refactoring requires tests, incremental changes, and verification at each step.",
		},
	},
	Security: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Security enhancement", "C) New feature", "D) Refactoring"},
			Answer:      "B",
			Explanation: "Based on the summary, this change addresses security concerns.",
		},
		{
			Question:    "What should security changes always include?",
			Options:     []string{"A) Threat model documentation", "B) Security testing", "C) Review by security-aware team members", "D) All of the above"},
			Answer:      "D",
			Explanation: "Security changes require comprehensive documentation, testing, and review.",
		},
		{
			Question:    "What is critical after deploying security fixes?",
			Options:     []string{"A) Monitor for exploitation attempts", "B) Verify the fix in production", "C) Update security documentation", "D) All of the above"},
			Answer:      "D",
			Explanation: "Post-deployment security verification is crucial for ensuring the fix is effective.",
		},
	},
	Docs: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) Documentation update", "D) Refactoring"},
			Answer:      "C",
			Explanation: "Based on the summary, this is a documentation improvement.",
		},
		{
			Question:    "What makes documentation effective?",
			Options:     []string{"A) Clear examples", "B) Up-to-date with code", "C) Easy to navigate", "D) All of the above"},
			Answer:      "D",
			Explanation: "Effective documentation combines clarity, accuracy, and usability.",
		},
		{
			Question:    "When should documentation be updated?",
			Options:     []string{"A) After major releases only", "B) Whenever code behavior changes", "C) Only when users complain", "D) Once a year"},
			Answer:      "B",
			Explanation: "Documentation should stay synchronized with code changes.",
		},
	},
	Test: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) Test improvement", "D) Refactoring"},
			Answer:      "C",
			Explanation: "Based on the summary, this change improves test coverage or quality.",
		},
		{
			Question:    "What makes a good test?",
			Options:     []string{"A) Tests one specific behavior", "B) Fast and deterministic", "C) Clear failure messages", "D) All of the above"},
			Answer:      "D",
			Explanation: "Good tests are focused, reliable, and provide clear feedback on failures.",
		},
		{
			Question:    "What should tests NOT do?",
			Options:     []string{"A) Test implementation details", "B) Depend on external services", "C) Have flaky/random failures", "D) All of the above"},
			Answer:      "D",
			Explanation: "Tests should be stable, isolated, and test behavior rather than implementation.",
		},
	},
	Feature: {
		{
			Question:    "What is the main purpose of this change?",
			Options:     []string{"A) Performance improvement", "B) Bug fix", "C) New feature", "D) Refactoring"},
			Answer:      "C",
			Explanation: "Based on the summary, this appears to be a new feature or enhancement.",
		},
		{
			Question:    "What should you verify after adding a new feature?",
			Options:     []string{"A) Feature works as specified", "B) No regression in existing features", "C) Edge cases are handled", "D) All of the above"},
			Answer:      "D",
			Explanation: "New feature verification should cover functionality, regression, and edge cases.",
		},
		{
			Question:    "What is the potential risk of adding new features?",
			Options:     []string{"A) Breaking existing functionality", "B) Increased maintenance burden", "C) Scope creep", "D) All of the above"},
			Answer:      "D",
			Explanation: "New features introduce various risks that need careful management.",
		},
	},
}

// Defaults returns the quiz set for a summary's detected change type.
func Defaults(summary string) []record.Quiz {
	qs := templates[DetectChangeType(summary)]
	out := make([]record.Quiz, len(qs))
	copy(out, qs)
	return out
}

// NormalizeReasoning fills empty reasoning fields so the UI never renders
// blank sections. A nil reasoning stays nil.
func NormalizeReasoning(r *record.Reasoning) *record.Reasoning {
	if r == nil {
		return nil
	}
	fill := func(s *string) {
		if strings.TrimSpace(*s) == "" {
			*s = "Not provided"
		}
	}
	fill(&r.Goal)
	fill(&r.Trigger)
	fill(&r.Mechanism)
	fill(&r.Alternatives)
	fill(&r.Risks)
	return r
}
