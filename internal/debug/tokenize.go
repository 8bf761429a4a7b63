package debug

import "strings"

// Generic stop words dropped during tokenization. Debug vocabulary such as
// "error", "exception" and "bug" is deliberately absent: those words carry
// most of the signal in this corpus.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true,
	"and": true, "or": true, "not": true, "no": true, "as": true,
	"it": true, "this": true, "that": true, "none": true,
	"true": true, "false": true, "can": true, "could": true,
	"would": true, "should": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true,
	"will": true, "may": true,
}

// Synonyms expand query tokens for better recall. Applied at query time
// only; postings always hold literal tokens.
var Synonyms = map[string][]string{
	"bug":        {"error", "exception", "issue", "problem", "fault", "defect"},
	"error":      {"bug", "exception", "issue", "problem", "fault"},
	"exception":  {"error", "bug", "issue", "problem"},
	"fix":        {"solve", "resolve", "repair", "patch", "solution"},
	"permission": {"access", "denied", "forbidden", "unauthorized"},
	"import":     {"module", "package", "dependency", "require"},
	"type":       {"typeerror", "typing", "typecheck", "cast"},
	"null":       {"none", "nil", "undefined", "empty"},
	"crash":      {"failure", "abort", "terminate", "halt"},
}

const maxTokensPerText = 30

// Tokenize splits text into index tokens: lowercase, split on any
// non-alphanumeric rune (underscore survives, so identifiers like
// database_url stay whole), drop tokens shorter than minLen and generic
// stop words, dedupe, cap at 30. The same function serves indexing and
// query parsing so both sides agree on token boundaries.
func Tokenize(text string, minLen int) []string {
	if minLen < 1 {
		minLen = 3
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '_':
			return false
		}
		return true
	})

	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minLen || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
		if len(tokens) >= maxTokensPerText {
			break
		}
	}
	return tokens
}

// ExpandSynonyms returns tokens plus their synonyms, originals first,
// without duplicates.
func ExpandSynonyms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tokens {
		for _, syn := range Synonyms[t] {
			if !seen[syn] {
				seen[syn] = true
				out = append(out, syn)
			}
		}
	}
	return out
}
