package learning

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/store"
)

func openScope(t *testing.T) *store.Store {
	t.Helper()
	scope, err := store.Open(filepath.Join(t.TempDir(), ".sidecar"))
	if err != nil {
		t.Fatalf("Open scope: %v", err)
	}
	return scope
}

func TestRegistrySharesCoordinatorPerScope(t *testing.T) {
	r := NewRegistry()
	scope := openScope(t)

	a := r.For(scope)
	b := r.For(scope)
	if a != b {
		t.Error("same scope root must yield the same coordinator")
	}

	other := r.For(openScope(t))
	if other == a {
		t.Error("distinct scope roots must not share a coordinator")
	}
	if got := len(r.All()); got != 2 {
		t.Errorf("All() = %d coordinators, want 2", got)
	}
}

func TestRegistrySubscribeSpansScopes(t *testing.T) {
	r := NewRegistry()
	events, cancel := r.Subscribe()
	defer cancel()

	// One coordinator exists before the subscription, one is opened after;
	// both must reach the subscriber
	first := r.For(openScope(t))
	id1, err := first.Create(newSession("first scope"))
	if err != nil {
		t.Fatal(err)
	}
	second := r.For(openScope(t))
	id2, err := second.Create(newSession("second scope"))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]record.SessionStatus{
		id1: record.StatusWaiting,
		id2: record.StatusWaiting,
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			status, ok := want[ev.SessionID]
			if !ok {
				t.Fatalf("unexpected event for session %s", ev.SessionID)
			}
			if ev.Status != status {
				t.Errorf("event status = %s, want %s", ev.Status, status)
			}
			delete(want, ev.SessionID)
		case <-time.After(time.Second):
			t.Fatalf("missing events for %d session(s)", len(want))
		}
	}
}
