package record

import (
	"strings"
	"testing"
)

func TestDebugRecordValidate(t *testing.T) {
	cases := []struct {
		name    string
		rec     DebugRecord
		wantErr string
	}{
		{"valid", DebugRecord{ErrorType: "ImportError", ErrorMessage: "No module named foo"}, ""},
		{"missing type", DebugRecord{ErrorMessage: "boom"}, "error_type"},
		{"missing message", DebugRecord{ErrorType: "TypeError"}, "error_message"},
		{"negative line", DebugRecord{ErrorType: "E", ErrorMessage: "m", Line: -1}, "line"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tc.wantErr)
			}
			if !IsValidation(err) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	terminal := []SessionStatus{StatusCompleted, StatusCancelled, StatusTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionStatus{StatusWaiting, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestLearningSessionValidate(t *testing.T) {
	sess := LearningSession{
		Summary: "Refactored the auth flow",
		Quizzes: []Quiz{{
			Question:    "What changed?",
			Options:     []string{"A", "B", "C", "D"},
			Answer:      "B",
			Explanation: "because",
		}},
		FocusAreas: []string{"logic", "security"},
	}
	if err := sess.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	sess.FocusAreas = []string{"astrology"}
	if err := sess.Validate(); err == nil {
		t.Fatal("expected error for unknown focus area")
	}

	sess.FocusAreas = nil
	sess.Quizzes[0].Options = []string{"A", "B"}
	if err := sess.Validate(); err == nil {
		t.Fatal("expected error for quiz with 2 options")
	}
}

func TestClampTimeout(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 600},
		{1, 60},
		{60, 60},
		{600, 600},
		{7200, 7200},
		{99999, 7200},
	}
	for _, tc := range cases {
		if got := ClampTimeout(tc.in); got != tc.want {
			t.Errorf("ClampTimeout(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 5},
		{-3, 1},
		{1, 1},
		{20, 20},
		{9999, 20},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
