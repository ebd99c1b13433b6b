package badger

import (
	"context"
	"testing"
	"time"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/conditions/storetest"
	"conditionsdb/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) conditions.Store {
		return newTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Logger = logging.Discard()

	s1, err := Open(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	sd, versions := storetest.Seed(t, "DET1",
		storetest.Cond("temp", `{"v":1}`, "2020-01-01"),
		storetest.Cond("temp", `{"v":2}`, "2020-06-01"),
	)
	if err := s1.CreateSubdetector(ctx, sd, versions); err != nil {
		t.Fatalf("CreateSubdetector: %v", err)
	}
	rev, _ := s1.Revision(ctx)
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if got, _ := s2.Revision(ctx); got != rev {
		t.Errorf("revision: expected %d after reopen, got %d", rev, got)
	}
	h, err := s2.GetConditionVersions(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("GetConditionVersions: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(h))
	}
	if h[0].ID != versions[0].ID {
		t.Errorf("ID: expected %s, got %s", versions[0].ID, h[0].ID)
	}
	if h[0].ValidFrom.Location() != time.UTC {
		t.Errorf("ValidFrom not decoded as UTC: %v", h[0].ValidFrom)
	}
}

func TestKeysDoNotCollide(t *testing.T) {
	// The separator keeps subdetector and condition boundaries distinct.
	if string(historyKey("DET", "1x")) == string(historyKey("DET1", "x")) {
		t.Fatal("history keys collide")
	}
	if string(subdetectorKey("x")) == string(tagKey("x")) {
		t.Fatal("subdetector and tag keys share a namespace")
	}
}
