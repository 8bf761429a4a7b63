package retrieval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kokistudios/sidecar/internal/debug"
	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/store"
)

func setupStore(t *testing.T) *debug.Store {
	t.Helper()
	scope, err := store.Open(filepath.Join(t.TempDir(), ".sidecar"))
	if err != nil {
		t.Fatalf("Open scope: %v", err)
	}
	return debug.NewStore(scope)
}

func put(t *testing.T, s *debug.Store, errType, msg, cause string, tags ...string) string {
	t.Helper()
	id, err := s.Put(&record.DebugRecord{
		ErrorType:    errType,
		ErrorMessage: msg,
		Cause:        cause,
		Solution:     "fixed it",
		Tags:         tags,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return id
}

func TestSearchKeywordUnion(t *testing.T) {
	s := setupStore(t)
	idImport := put(t, s, "ImportError", "No module named requests", "missing dependency", "python")
	idType := put(t, s, "TypeError", "unsupported operand", "wrong types", "python")
	put(t, s, "OSError", "disk full", "no space left", "infra")

	// "module" only hits the import record; "operand" only the type record.
	// OR semantics: both come back.
	got := Search(s, Query{Text: "module operand"}, 3)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[idImport] || !ids[idType] {
		t.Errorf("union missing expected records: %v", ids)
	}
}

func TestSearchSynonymExpansion(t *testing.T) {
	s := setupStore(t)
	// Record text contains "exception" but never "bug"
	id := put(t, s, "RuntimeError", "unhandled exception in worker", "race during shutdown")

	got := Search(s, Query{Text: "bug"}, 3)
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("synonym expansion failed: %v", got)
	}
}

func TestSearchFilters(t *testing.T) {
	s := setupStore(t)
	idA := put(t, s, "ImportError", "no module named foo", "deps", "python", "ci")
	put(t, s, "ImportError", "no module named bar", "deps", "node")
	put(t, s, "TypeError", "no module resolution", "deps", "python")

	// error_type filter is exact, not substring
	got := Search(s, Query{Text: "module", ErrorType: "ImportError", Tags: []string{"ci"}}, 3)
	if len(got) != 1 || got[0].ID != idA {
		t.Fatalf("filters not applied: %v", got)
	}

	// Exact match required: a prefix of the type matches nothing
	got = Search(s, Query{Text: "module", ErrorType: "Import"}, 3)
	if len(got) != 0 {
		t.Errorf("expected no results for partial error_type, got %d", len(got))
	}
}

func TestSearchRecencyOrder(t *testing.T) {
	s := setupStore(t)
	put(t, s, "KeyError", "missing key alpha", "")
	put(t, s, "KeyError", "missing key beta", "")
	put(t, s, "KeyError", "missing key gamma", "")

	got := Search(s, Query{Text: "missing key"}, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].UpdatedAt < got[i].UpdatedAt {
			t.Fatal("results not sorted by recency")
		}
		if got[i-1].UpdatedAt == got[i].UpdatedAt && got[i-1].ID < got[i].ID {
			t.Fatal("id tiebreak not applied")
		}
	}
}

func TestSearchLimitClamped(t *testing.T) {
	s := setupStore(t)
	for i := 0; i < 30; i++ {
		put(t, s, "ValueError", "overflow in batch", "")
	}

	if got := Search(s, Query{Text: "overflow", Limit: 100}, 3); len(got) != 20 {
		t.Errorf("limit not clamped to 20, got %d", len(got))
	}
	if got := Search(s, Query{Text: "overflow", Limit: -5}, 3); len(got) != 1 {
		t.Errorf("negative limit should clamp to 1, got %d", len(got))
	}
	if got := Search(s, Query{Text: "overflow"}, 3); len(got) != 5 {
		t.Errorf("zero limit should default to 5, got %d", len(got))
	}
}

func TestSearchEmptyQueryReturnsRecent(t *testing.T) {
	s := setupStore(t)
	put(t, s, "AError", "one", "")
	put(t, s, "BError", "two", "")

	got := Search(s, Query{}, 3)
	if len(got) != 2 {
		t.Fatalf("empty query should return recent records, got %d", len(got))
	}
}

func TestSearchCorruptIndexYieldsEmpty(t *testing.T) {
	scope, err := store.Open(filepath.Join(t.TempDir(), ".sidecar"))
	if err != nil {
		t.Fatal(err)
	}
	s := debug.NewStore(scope)
	put(t, s, "OSError", "something", "")

	os.WriteFile(scope.Path("debug", "index.json"), []byte("{broken"), 0644)

	got := Search(s, Query{Text: "something"}, 3)
	if len(got) != 0 {
		t.Errorf("corrupt index should yield empty results, got %d", len(got))
	}
	// And no rebuild happened behind our back
	data, _ := os.ReadFile(scope.Path("debug", "index.json"))
	if string(data) != "{broken" {
		t.Error("search must not rewrite the index")
	}
}

func TestSearchReturnsSummariesOnly(t *testing.T) {
	s := setupStore(t)
	put(t, s, "ImportError", "no module named foo", "secret cause", "python")

	got := Search(s, Query{Text: "module"}, 3)
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].ErrorType != "ImportError" || len(got[0].Tags) == 0 {
		t.Errorf("summary fields missing: %+v", got[0])
	}
	// Summary carries no cause/solution by construction; the full record
	// needs an explicit Get
	full, err := s.Get(got[0].ID)
	if err != nil {
		t.Fatalf("Get after search: %v", err)
	}
	if full.Cause != "secret cause" {
		t.Errorf("detail fetch broken: %+v", full)
	}
}
