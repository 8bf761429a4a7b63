// Package retrieval answers debug searches from the inverted index alone.
// It returns summaries, never full records: the caller decides which hits
// are worth a follow-up fetch.
package retrieval

import (
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/sidecar/internal/debug"
	"github.com/kokistudios/sidecar/internal/record"
)

// Query is one search request. Text is tokenized and OR-matched against the
// posting tables; ErrorType and Tags narrow the candidate set afterwards.
type Query struct {
	Text      string
	ErrorType string
	Tags      []string
	Limit     int
}

// Search runs a query against the store's index. Matching is OR across
// tokens (any token hit makes a candidate), filters then narrow, and
// candidates rank by recency. An empty query with no filters returns the
// most recent records. An absent or corrupt index yields zero results;
// Search never rebuilds anything.
func Search(s *debug.Store, q Query, minTokenLen int) []debug.Summary {
	limit := record.ClampLimit(q.Limit)
	idx := s.Index()
	if len(idx.Records) == 0 {
		return []debug.Summary{}
	}

	tokens := debug.ExpandSynonyms(debug.Tokenize(q.Text, minTokenLen))

	var candidates []debug.Entry
	if len(tokens) == 0 {
		// No usable tokens: the whole corpus is the candidate set and the
		// filters plus ranking do the work.
		candidates = idx.Records
	} else {
		hit := make(map[string]bool)
		for _, tok := range tokens {
			for _, id := range idx.PostingsFor(tok) {
				hit[id] = true
			}
		}
		for _, e := range idx.Records {
			if hit[e.ID] {
				candidates = append(candidates, e)
			}
		}
	}

	filtered := candidates[:0:0]
	for _, e := range candidates {
		if !matchesFilters(e, q) {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].UpdatedAt != filtered[j].UpdatedAt {
			return filtered[i].UpdatedAt > filtered[j].UpdatedAt
		}
		return filtered[i].ID > filtered[j].ID
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]debug.Summary, len(filtered))
	for i, e := range filtered {
		out[i] = debug.Summary{ID: e.ID, UpdatedAt: e.UpdatedAt, ErrorType: e.ErrorType, Tags: e.Tags}
	}
	log.Debug("debug search", "tokens", len(tokens), "candidates", len(candidates), "results", len(out))
	return out
}

// matchesFilters applies the structured post-filters: error type must match
// exactly (case-insensitive), and when tags are given at least one must be
// present on the record.
func matchesFilters(e debug.Entry, q Query) bool {
	if q.ErrorType != "" && !strings.EqualFold(e.ErrorType, q.ErrorType) {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, want := range q.Tags {
			for _, have := range e.Tags {
				if strings.EqualFold(have, want) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
