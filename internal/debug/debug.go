package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/store"
)

// indexLocks serializes index writers per index path. Records land in
// separate detail files and never contend; the index is the single shared
// file, so every read-modify-write cycle of it holds this lock. Keyed by
// path so distinct scopes opened in one process do not block each other.
var indexLocks sync.Map // string -> *sync.Mutex

func lockIndex(path string) *sync.Mutex {
	mu, _ := indexLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store is the debug record store for one scope: per-record detail files
// plus the shared index.json with its posting tables.
type Store struct {
	scope *store.Store
}

// NewStore returns a debug store rooted at the scope's debug directory.
func NewStore(scope *store.Store) *Store {
	return &Store{scope: scope}
}

func (s *Store) dir() string       { return s.scope.Path("debug") }
func (s *Store) indexPath() string { return s.scope.Path("debug", "index.json") }

func (s *Store) recordPath(id string) string {
	return s.scope.Path("debug", id+".json")
}

func (s *Store) minTokenLen() int {
	return s.scope.Config.Search.MinTokenLen
}

// keywordText is the text keyword postings are derived from: everything
// searchable, which includes cause and solution even though those fields
// themselves never enter the index.
func keywordText(r *record.DebugRecord) string {
	return strings.Join([]string{
		r.ErrorType, r.ErrorMessage, r.Cause, r.Solution, strings.Join(r.Tags, " "),
	}, " ")
}

// Put validates and persists a new debug record, then indexes it. The
// detail file is written before the index: a crash in between leaves an
// orphan detail file (invisible until rebuild, harmless) rather than an
// index entry pointing at nothing.
func (s *Store) Put(r *record.DebugRecord) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	r.ID = record.NewID()
	r.CreatedAt = record.Now()
	r.UpdatedAt = r.CreatedAt

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("cannot encode record: %w", err)
	}
	if err := store.WriteFileAtomic(s.recordPath(r.ID), data); err != nil {
		return "", err
	}

	mu := lockIndex(s.indexPath())
	mu.Lock()
	defer mu.Unlock()

	idx := LoadIndex(s.indexPath())
	tags := r.Tags
	if len(tags) > 5 {
		tags = tags[:5]
	}
	idx.add(Entry{
		ID:        r.ID,
		UpdatedAt: r.UpdatedAt,
		ErrorType: r.ErrorType,
		Tags:      tags,
	}, keywordText(r), s.minTokenLen())

	if err := s.saveIndex(idx); err != nil {
		return "", err
	}
	log.Debug("debug record stored", "id", r.ID, "error_type", r.ErrorType)
	return r.ID, nil
}

func (s *Store) saveIndex(idx *Index) error {
	idx.UpdatedAt = record.Now()
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("cannot encode index: %w", err)
	}
	return store.WriteFileAtomic(s.indexPath(), data)
}

// Get loads the full record for id, including cause and solution.
func (s *Store) Get(id string) (*record.DebugRecord, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("cannot read record %s: %w", id, err)
	}
	var r record.DebugRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("record %s is corrupt: %w", id, err)
	}
	if r.ID == "" {
		r.ID = id
	}
	return &r, nil
}

// Summary is the index-level view of a record: enough to decide whether to
// fetch the full record, nothing more. Cause and solution are deliberately
// absent.
type Summary struct {
	ID        string   `json:"id"`
	UpdatedAt int64    `json:"updated_at"`
	ErrorType string   `json:"error_type"`
	Tags      []string `json:"tags,omitempty"`
}

func toSummary(e Entry) Summary {
	return Summary{ID: e.ID, UpdatedAt: e.UpdatedAt, ErrorType: e.ErrorType, Tags: e.Tags}
}

// ListSummaries returns up to limit summaries, newest first.
func (s *Store) ListSummaries(limit int) []Summary {
	idx := LoadIndex(s.indexPath())
	entries := make([]Entry, len(idx.Records))
	copy(entries, idx.Records)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt != entries[j].UpdatedAt {
			return entries[i].UpdatedAt > entries[j].UpdatedAt
		}
		return entries[i].ID > entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = toSummary(e)
	}
	return out
}

// Count returns the number of indexed records.
func (s *Store) Count() int {
	return len(LoadIndex(s.indexPath()).Records)
}

// Index loads the current index. Absent or corrupt files come back empty;
// callers on the query path treat that as zero results.
func (s *Store) Index() *Index {
	return LoadIndex(s.indexPath())
}

// RebuildStats reports what a full rebuild processed.
type RebuildStats struct {
	Records  int `json:"records"`
	Keywords int `json:"keywords"`
	Tags     int `json:"tags"`
	Errors   int `json:"errors"`
}

// RebuildIndex reconstructs the entire index from the detail files. The
// detail files are the source of truth; the index is a derived artifact,
// so a corrupt or stale index is always recoverable this way. Unreadable
// detail files are counted and skipped.
func (s *Store) RebuildIndex() (RebuildStats, error) {
	mu := lockIndex(s.indexPath())
	mu.Lock()
	defer mu.Unlock()

	old := LoadIndex(s.indexPath())
	idx := NewIndex()
	if old.CreatedAt != 0 {
		idx.CreatedAt = old.CreatedAt
	}
	idx.RebuiltAt = record.Now()

	var stats RebuildStats
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return stats, fmt.Errorf("cannot read debug directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "index.json" || strings.HasPrefix(name, "._") || filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		id := strings.TrimSuffix(name, ".json")
		r, err := s.Get(id)
		if err != nil {
			log.Warn("skipping unreadable record during rebuild", "id", id, "err", err)
			stats.Errors++
			continue
		}
		tags := r.Tags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		idx.add(Entry{
			ID:        r.ID,
			UpdatedAt: r.UpdatedAt,
			ErrorType: r.ErrorType,
			Tags:      tags,
		}, keywordText(r), s.minTokenLen())
		stats.Records++
		stats.Tags += len(tags)
	}
	stats.Keywords = len(idx.Keywords)

	if err := s.saveIndex(idx); err != nil {
		return stats, err
	}
	log.Info("debug index rebuilt", "records", stats.Records, "keywords", stats.Keywords, "errors", stats.Errors)
	return stats, nil
}

// RebuildKeywords repopulates only the keyword postings from the index rows
// already present. Cheaper than a full rebuild after a CompactIndex: no
// detail files are read, so keywords cover error types and tags only until
// the next full rebuild.
func (s *Store) RebuildKeywords() (int, error) {
	mu := lockIndex(s.indexPath())
	mu.Lock()
	defer mu.Unlock()

	idx := LoadIndex(s.indexPath())
	idx.Keywords = map[string][]string{}
	for _, e := range idx.Records {
		text := e.ErrorType + " " + strings.Join(e.Tags, " ")
		for _, kw := range Tokenize(text, s.minTokenLen()) {
			addPosting(idx.Keywords, kw, e.ID)
		}
	}
	if err := s.saveIndex(idx); err != nil {
		return 0, err
	}
	log.Info("keyword postings rebuilt", "keywords", len(idx.Keywords))
	return len(idx.Keywords), nil
}

// CompactStats reports what a compaction removed.
type CompactStats struct {
	KeywordsRemoved int `json:"keywords_removed"`
	RecordsKept     int `json:"records_kept"`
}

// CompactIndex drops the keyword postings, the bulkiest table in the index.
// Keyword search degrades until RebuildKeywords or RebuildIndex runs; tag
// and error-type lookups are unaffected.
func (s *Store) CompactIndex() (CompactStats, error) {
	mu := lockIndex(s.indexPath())
	mu.Lock()
	defer mu.Unlock()

	idx := LoadIndex(s.indexPath())
	stats := CompactStats{
		KeywordsRemoved: len(idx.Keywords),
		RecordsKept:     len(idx.Records),
	}
	idx.Keywords = map[string][]string{}
	if err := s.saveIndex(idx); err != nil {
		return stats, err
	}
	log.Info("debug index compacted", "keywords_removed", stats.KeywordsRemoved)
	return stats, nil
}
