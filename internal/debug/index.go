package debug

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/sidecar/internal/record"
)

const indexVersion = 3

// Entry is one compact index row. The on-disk form uses short keys to keep
// the index small; rows written by older releases used verbose keys and must
// keep parsing, so decoding goes through a raw form that accepts both.
type Entry struct {
	ID        string
	UpdatedAt int64
	ErrorType string
	Tags      []string
}

type entryJSON struct {
	ID string `json:"id"`
	TS any    `json:"ts,omitempty"`
	ET string `json:"et,omitempty"`

	// Legacy verbose keys.
	Timestamp any    `json:"timestamp,omitempty"`
	ErrType   string `json:"error_type,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		ID:   e.ID,
		TS:   e.UpdatedAt,
		ET:   e.ErrorType,
		Tags: e.Tags,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Tags = raw.Tags

	e.ErrorType = raw.ET
	if e.ErrorType == "" {
		e.ErrorType = raw.ErrType
	}
	if e.ErrorType == "" {
		e.ErrorType = "Unknown"
	}

	ts := raw.TS
	if ts == nil {
		ts = raw.Timestamp
	}
	e.UpdatedAt = parseTimestamp(ts)
	return nil
}

// parseTimestamp accepts the current epoch-seconds form and the legacy
// ISO-8601 string form. Unparseable values normalize to zero, which ranks
// the entry last rather than failing the whole index.
func parseTimestamp(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Unix()
			}
		}
	}
	return 0
}

// Index is the debug index file: compact per-record rows plus three inverted
// posting tables. Detailed content (cause, solution) never enters the index;
// it lives only in the per-record detail files.
type Index struct {
	Version   int   `json:"version"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
	RebuiltAt int64 `json:"rebuilt_at,omitempty"`

	Records    []Entry             `json:"records"`
	Tags       map[string][]string `json:"tags"`
	Keywords   map[string][]string `json:"keywords"`
	ErrorTypes map[string][]string `json:"error_types"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		Version:    indexVersion,
		CreatedAt:  record.Now(),
		Records:    []Entry{},
		Tags:       map[string][]string{},
		Keywords:   map[string][]string{},
		ErrorTypes: map[string][]string{},
	}
}

// LoadIndex reads the index at path. A missing or unparseable file yields a
// fresh empty index: readers degrade to empty results and writers start a
// new index, so corruption never propagates as an error here. Corruption is
// logged so a later rebuild can be prompted.
func LoadIndex(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewIndex()
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Warn("debug index is corrupt, treating as empty", "path", path, "err", err)
		return NewIndex()
	}
	if idx.Tags == nil {
		idx.Tags = map[string][]string{}
	}
	if idx.Keywords == nil {
		idx.Keywords = map[string][]string{}
	}
	if idx.ErrorTypes == nil {
		idx.ErrorTypes = map[string][]string{}
	}
	return &idx
}

func addPosting(table map[string][]string, token, id string) {
	for _, existing := range table[token] {
		if existing == id {
			return
		}
	}
	table[token] = append(table[token], id)
}

// add appends a record to the index and updates all posting tables.
// keywordText is the searchable text the keyword postings are built from.
func (idx *Index) add(e Entry, keywordText string, minTokenLen int) {
	idx.Records = append(idx.Records, e)

	for _, tag := range e.Tags {
		addPosting(idx.Tags, strings.ToLower(tag), e.ID)
	}
	addPosting(idx.ErrorTypes, strings.ToLower(e.ErrorType), e.ID)
	for _, kw := range Tokenize(keywordText, minTokenLen) {
		addPosting(idx.Keywords, kw, e.ID)
	}
}

// PostingsFor returns the union of ids carrying the token in any posting
// table. Lookup is exact-token only.
func (idx *Index) PostingsFor(token string) []string {
	var ids []string
	ids = append(ids, idx.Keywords[token]...)
	ids = append(ids, idx.Tags[token]...)
	ids = append(ids, idx.ErrorTypes[token]...)
	return ids
}

// Entry returns the index row for id, or nil.
func (idx *Index) Entry(id string) *Entry {
	for i := range idx.Records {
		if idx.Records[i].ID == id {
			return &idx.Records[i]
		}
	}
	return nil
}

