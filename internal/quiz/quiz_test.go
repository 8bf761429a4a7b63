package quiz

import (
	"testing"

	"github.com/kokistudios/sidecar/internal/record"
)

func TestDetectChangeType(t *testing.T) {
	cases := []struct {
		summary string
		want    ChangeType
	}{
		{"Fix crash when config is missing", Bugfix},
		{"Optimize cache lookup path", Performance},
		{"Refactor session storage into two packages", Refactor},
		{"Sanitize user input in search endpoint", Security},
		{"Update README with install steps", Docs},
		{"Add coverage for timeout path", Test},
		{"Add dark mode toggle", Feature},
		{"", Feature},
	}
	for _, tc := range cases {
		if got := DetectChangeType(tc.summary); got != tc.want {
			t.Errorf("DetectChangeType(%q) = %s, want %s", tc.summary, got, tc.want)
		}
	}
}

func TestDetectChangeTypePriority(t *testing.T) {
	// Bugfix keywords win over later categories when both appear
	if got := DetectChangeType("fix slow cache performance"); got != Bugfix {
		t.Errorf("expected bugfix priority, got %s", got)
	}
}

func TestDefaultsAreValidQuizzes(t *testing.T) {
	for _, summary := range []string{
		"Fix null pointer in parser",
		"Speed up index rebuild",
		"Something entirely unclassifiable",
	} {
		qs := Defaults(summary)
		if len(qs) != 3 {
			t.Fatalf("Defaults(%q) returned %d quizzes, want 3", summary, len(qs))
		}
		for i := range qs {
			if err := qs[i].Validate(); err != nil {
				t.Errorf("Defaults(%q)[%d] invalid: %v", summary, i, err)
			}
		}
	}
}

func TestDefaultsReturnsCopy(t *testing.T) {
	a := Defaults("fix bug")
	a[0].Question = "mutated"
	b := Defaults("fix bug")
	if b[0].Question == "mutated" {
		t.Error("Defaults must not share backing storage between calls")
	}
}

func TestNormalizeReasoning(t *testing.T) {
	if NormalizeReasoning(nil) != nil {
		t.Error("nil reasoning should stay nil")
	}

	r := NormalizeReasoning(&record.Reasoning{Goal: "ship it", Risks: "  "})
	if r.Goal != "ship it" {
		t.Errorf("provided field overwritten: %q", r.Goal)
	}
	if r.Risks != "Not provided" || r.Trigger != "Not provided" {
		t.Errorf("empty fields not filled: %+v", r)
	}
}
