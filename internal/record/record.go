package record

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind discriminates the record variants the sidecar stores. Each kind has a
// fixed schema validated at the store boundary.
type Kind string

const (
	KindDebug   Kind = "debug"
	KindSession Kind = "session"
)

// DebugRecord is one recorded debugging experience. Records are immutable
// after creation — there is no update path by design.
type DebugRecord struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`

	ErrorType    string   `json:"error_type"`
	ErrorMessage string   `json:"error_message"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Cause        string   `json:"cause"`
	Solution     string   `json:"solution"`
	Tags         []string `json:"tags,omitempty"`
}

// Validate checks the fields required for a debug record to be stored.
func (r *DebugRecord) Validate() error {
	if strings.TrimSpace(r.ErrorType) == "" {
		return &ValidationError{Field: "error_type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.ErrorMessage) == "" {
		return &ValidationError{Field: "error_message", Reason: "must not be empty"}
	}
	if r.Line < 0 {
		return &ValidationError{Field: "line", Reason: "must not be negative"}
	}
	return nil
}

// SessionStatus is a learning session lifecycle state.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
	StatusTimedOut   SessionStatus = "timed_out"
)

// Terminal reports whether no further transition is defined from the status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Reasoning is the structured five-why block attached to a learning session.
type Reasoning struct {
	Goal         string `json:"goal"`
	Trigger      string `json:"trigger"`
	Mechanism    string `json:"mechanism"`
	Alternatives string `json:"alternatives"`
	Risks        string `json:"risks"`
}

// Quiz is a single multiple-choice question with exactly four options.
type Quiz struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// Validate checks quiz shape.
func (q *Quiz) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if len(q.Options) != 4 {
		return &ValidationError{Field: "options", Reason: "must contain exactly 4 options"}
	}
	if strings.TrimSpace(q.Answer) == "" {
		return &ValidationError{Field: "answer", Reason: "must not be empty"}
	}
	return nil
}

// FocusAreas allowed on a learning session.
var FocusAreas = map[string]bool{
	"logic":        true,
	"security":     true,
	"performance":  true,
	"architecture": true,
	"syntax":       true,
}

// LearningSession is one interactive review and its lifecycle state.
// Score and Answers stay nil until the session completes.
type LearningSession struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`

	Status         SessionStatus `json:"status"`
	Summary        string        `json:"summary"`
	Reasoning      *Reasoning    `json:"reasoning,omitempty"`
	Quizzes        []Quiz        `json:"quizzes"`
	FocusAreas     []string      `json:"focus_areas,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds"`

	Score   *int     `json:"score,omitempty"`
	Answers []string `json:"answers,omitempty"`
}

// Validate checks the fields required for a session to be created.
func (s *LearningSession) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return &ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	for i := range s.Quizzes {
		if err := s.Quizzes[i].Validate(); err != nil {
			return err
		}
	}
	for _, fa := range s.FocusAreas {
		if !FocusAreas[fa] {
			return &ValidationError{Field: "focus_areas", Reason: "unknown focus area: " + fa}
		}
	}
	return nil
}

// NewID generates an opaque, time-ordered record id. Ids are never reused.
func NewID() string {
	return ulid.Make().String()
}

// Now returns the current time as epoch seconds, the timestamp format used
// across all stored records.
func Now() int64 {
	return time.Now().Unix()
}

// ClampTimeout bounds a session timeout to [60s, 7200s], defaulting to 600s
// when unset. Out-of-range values are clamped, not rejected.
func ClampTimeout(seconds int) int {
	if seconds == 0 {
		return 600
	}
	if seconds < 60 {
		return 60
	}
	if seconds > 7200 {
		return 7200
	}
	return seconds
}

// ClampLimit bounds a search result limit to [1, 20], defaulting to 5.
func ClampLimit(limit int) int {
	if limit == 0 {
		return 5
	}
	if limit < 1 {
		return 1
	}
	if limit > 20 {
		return 20
	}
	return limit
}
