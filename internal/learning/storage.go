package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/store"
)

// IndexEntry is one row in the sessions index, kept for completed sessions
// so listings and statistics never need to open individual session files.
// On disk it uses compact keys; rows written by older releases used verbose
// keys and still parse.
type IndexEntry struct {
	SessionID      string
	Filename       string
	SavedAt        int64
	QuizScore      int
	TimeSpent      int64
	SummaryPreview string
}

type indexEntryJSON struct {
	SID string `json:"sid,omitempty"`
	FN  string `json:"fn,omitempty"`
	TS  any    `json:"ts,omitempty"`
	QS  *int   `json:"qs,omitempty"`
	T   *int64 `json:"t,omitempty"`
	SP  string `json:"sp,omitempty"`

	// Legacy verbose keys.
	SessionID      string `json:"session_id,omitempty"`
	Filename       string `json:"filename,omitempty"`
	SavedAt        any    `json:"saved_at,omitempty"`
	QuizScore      *int   `json:"quiz_score,omitempty"`
	TimeSpent      *int64 `json:"time_spent,omitempty"`
	SummaryPreview string `json:"summary_preview,omitempty"`
}

func (e IndexEntry) MarshalJSON() ([]byte, error) {
	qs, t := e.QuizScore, e.TimeSpent
	return json.Marshal(indexEntryJSON{
		SID: e.SessionID,
		FN:  e.Filename,
		TS:  e.SavedAt,
		QS:  &qs,
		T:   &t,
		SP:  e.SummaryPreview,
	})
}

func (e *IndexEntry) UnmarshalJSON(data []byte) error {
	var raw indexEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.SessionID = firstNonEmpty(raw.SID, raw.SessionID)
	e.Filename = firstNonEmpty(raw.FN, raw.Filename)
	e.SummaryPreview = firstNonEmpty(raw.SP, raw.SummaryPreview)
	ts := raw.TS
	if ts == nil {
		ts = raw.SavedAt
	}
	e.SavedAt = parseEpoch(ts)
	if raw.QS != nil {
		e.QuizScore = *raw.QS
	} else if raw.QuizScore != nil {
		e.QuizScore = *raw.QuizScore
	}
	if raw.T != nil {
		e.TimeSpent = *raw.T
	} else if raw.TimeSpent != nil {
		e.TimeSpent = *raw.TimeSpent
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func parseEpoch(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case string:
		// Legacy ISO timestamps, best effort
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Unix()
			}
		}
	}
	return 0
}

// Statistics aggregates completed sessions.
type Statistics struct {
	TotalSessions  int   `json:"total_sessions"`
	TotalQuizScore int   `json:"total_quiz_score"`
	TotalTimeSpent int64 `json:"total_time_spent"`
}

// AverageScore returns the mean quiz score, zero when no sessions exist.
func (s Statistics) AverageScore() float64 {
	if s.TotalSessions == 0 {
		return 0
	}
	return float64(s.TotalQuizScore) / float64(s.TotalSessions)
}

type sessionIndex struct {
	Version    int          `json:"version"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at,omitempty"`
	Sessions   []IndexEntry `json:"sessions"`
	Statistics Statistics   `json:"statistics"`
}

// Storage persists learning sessions: one JSON file per session through its
// whole lifecycle, plus an index of completed sessions.
type Storage struct {
	scope *store.Store
}

// NewStorage returns session storage rooted at the scope's sessions dir.
func NewStorage(scope *store.Store) *Storage {
	return &Storage{scope: scope}
}

func (st *Storage) sessionPath(id string) string {
	return st.scope.Path("sessions", id+".json")
}

func (st *Storage) indexPath() string {
	return st.scope.Path("sessions", "index.json")
}

// Save writes the session file atomically. Every state transition goes
// through here before any waiter or subscriber learns about it.
func (st *Storage) Save(sess *record.LearningSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("cannot encode session: %w", err)
	}
	return store.WriteFileAtomic(st.sessionPath(sess.ID), data)
}

// Load reads a session by id.
func (st *Storage) Load(id string) (*record.LearningSession, error) {
	data, err := os.ReadFile(st.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("cannot read session %s: %w", id, err)
	}
	var sess record.LearningSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", id, err)
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return &sess, nil
}

// All returns every stored session, newest first. Unreadable files are
// skipped with a log line.
func (st *Storage) All() []*record.LearningSession {
	entries, err := os.ReadDir(st.scope.Path("sessions"))
	if err != nil {
		return nil
	}
	var sessions []*record.LearningSession
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "index.json" || strings.HasPrefix(name, "._") || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := st.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			log.Warn("skipping unreadable session", "file", name, "err", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt != sessions[j].CreatedAt {
			return sessions[i].CreatedAt > sessions[j].CreatedAt
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions
}

func (st *Storage) loadIndex() *sessionIndex {
	data, err := os.ReadFile(st.indexPath())
	if err == nil {
		var idx sessionIndex
		if err := json.Unmarshal(data, &idx); err == nil {
			return &idx
		}
		log.Warn("sessions index is corrupt, starting fresh", "err", err)
	}
	return &sessionIndex{Version: 1, CreatedAt: record.Now(), Sessions: []IndexEntry{}}
}

func (st *Storage) saveIndex(idx *sessionIndex) error {
	idx.UpdatedAt = record.Now()
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("cannot encode sessions index: %w", err)
	}
	return store.WriteFileAtomic(st.indexPath(), data)
}

// RecordCompletion adds a completed session to the index and updates the
// running statistics. Called once per session, on the completed transition.
func (st *Storage) RecordCompletion(sess *record.LearningSession) error {
	idx := st.loadIndex()
	score := 0
	if sess.Score != nil {
		score = *sess.Score
	}
	preview := sess.Summary
	if runes := []rune(preview); len(runes) > 100 {
		preview = string(runes[:100])
	}
	idx.Sessions = append(idx.Sessions, IndexEntry{
		SessionID:      sess.ID,
		Filename:       sess.ID + ".json",
		SavedAt:        record.Now(),
		QuizScore:      score,
		TimeSpent:      sess.UpdatedAt - sess.CreatedAt,
		SummaryPreview: preview,
	})
	idx.Statistics.TotalSessions++
	idx.Statistics.TotalQuizScore += score
	idx.Statistics.TotalTimeSpent += sess.UpdatedAt - sess.CreatedAt
	return st.saveIndex(idx)
}

// ListCompleted returns up to limit completed-session index rows, newest
// first.
func (st *Storage) ListCompleted(limit int) []IndexEntry {
	idx := st.loadIndex()
	entries := idx.Sessions
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]IndexEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// GetStatistics returns the aggregate statistics for completed sessions.
func (st *Storage) GetStatistics() Statistics {
	return st.loadIndex().Statistics
}

// Cleanup deletes the oldest completed sessions beyond maxKept and returns
// how many were removed. Sessions still waiting or in progress are never
// touched.
func (st *Storage) Cleanup(maxKept int) int {
	if maxKept < 1 {
		return 0
	}
	idx := st.loadIndex()
	if len(idx.Sessions) <= maxKept {
		return 0
	}
	drop := idx.Sessions[:len(idx.Sessions)-maxKept]
	for _, e := range drop {
		os.Remove(st.scope.Path("sessions", e.Filename))
		idx.Statistics.TotalSessions--
		idx.Statistics.TotalQuizScore -= e.QuizScore
		idx.Statistics.TotalTimeSpent -= e.TimeSpent
	}
	idx.Sessions = idx.Sessions[len(idx.Sessions)-maxKept:]
	if err := st.saveIndex(idx); err != nil {
		log.Warn("cleanup could not rewrite sessions index", "err", err)
	}
	log.Info("cleaned up old sessions", "removed", len(drop))
	return len(drop)
}

// Export writes all completed sessions plus statistics to a single JSON
// file and returns how many sessions it contains.
func (st *Storage) Export(outputPath string) (int, error) {
	idx := st.loadIndex()
	var sessions []*record.LearningSession
	for _, e := range idx.Sessions {
		sess, err := st.Load(e.SessionID)
		if err != nil {
			log.Warn("skipping session during export", "id", e.SessionID, "err", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	export := struct {
		Version    int                       `json:"version"`
		ExportedAt int64                     `json:"exported_at"`
		Statistics Statistics                `json:"statistics"`
		Sessions   []*record.LearningSession `json:"sessions"`
	}{
		Version:    1,
		ExportedAt: record.Now(),
		Statistics: idx.Statistics,
		Sessions:   sessions,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("cannot encode export: %w", err)
	}
	if err := store.WriteFileAtomic(outputPath, data); err != nil {
		return 0, err
	}
	return len(sessions), nil
}
