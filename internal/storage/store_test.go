package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, out := range []string{"first\n", "second\n", "third\n"} {
		err := store.RecordExecution(ctx, session.Execution{
			Session:   "demo",
			Script:    "script_a.py",
			Output:    out,
			Success:   true,
			Duration:  125 * time.Millisecond,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}
	if err := store.RecordExecution(ctx, session.Execution{Session: "other", StartedAt: base}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	recs, err := store.ListBySession(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	// Newest first.
	if recs[0].Output != "third\n" {
		t.Errorf("first record output = %q", recs[0].Output)
	}
	if recs[0].DurationMS != 125 {
		t.Errorf("duration_ms = %d", recs[0].DurationMS)
	}
}

func TestListBySession_Limit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.RecordExecution(ctx, session.Execution{
			Session:   "demo",
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	recs, err := store.ListBySession(ctx, "demo", 2)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

func TestHealth(t *testing.T) {
	store := openTestStore(t)
	if err := store.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
