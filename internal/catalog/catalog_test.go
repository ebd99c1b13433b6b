package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/conditions/memory"
	"conditionsdb/internal/conditions/storetest"
)

func day(s string) *time.Time {
	d := storetest.Day(s)
	return &d
}

func newService(t *testing.T, now string) (*Service, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(storetest.Day(now))
	return New(Options{Store: store, Clock: clock}), store, clock
}

func addDET1(t *testing.T, s *Service) {
	t.Helper()
	_, err := s.AddSubdetector(context.Background(), conditions.NewSubdetector{
		Name:        "DET1",
		Description: "tracker",
		Conditions: []conditions.ConditionInput{
			{Name: "temp", Payload: json.RawMessage(`{"v":1}`), ValidFrom: day("2020-01-01")},
		},
	})
	if err != nil {
		t.Fatalf("AddSubdetector: %v", err)
	}
}

func snapshotPayload(t *testing.T, snap conditions.Snapshot, sd, cond string) string {
	t.Helper()
	v, ok := snap.For(sd)[cond]
	if !ok {
		t.Fatalf("%s/%s missing from snapshot %+v", sd, cond, snap.Entries)
	}
	return string(v.Payload)
}

func TestRoundTrip(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()
	addDET1(t, s)

	if _, err := s.AppendCondition(ctx, AppendRequest{
		Subdetector: "DET1", Condition: "temp",
		Payload: json.RawMessage(`{"v":2}`), ValidFrom: day("2020-06-01"),
	}); err != nil {
		t.Fatalf("AppendCondition: %v", err)
	}

	snap, err := s.GetSnapshot(ctx, SnapshotRequest{At: day("2020-03-01"), Subdetectors: []string{"DET1"}})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got := snapshotPayload(t, snap, "DET1", "temp"); got != `{"v":1}` {
		t.Errorf("2020-03-01: expected {\"v\":1}, got %s", got)
	}

	snap, err = s.GetSnapshot(ctx, SnapshotRequest{At: day("2020-07-01"), Subdetectors: []string{"DET1"}})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got := snapshotPayload(t, snap, "DET1", "temp"); got != `{"v":2}` {
		t.Errorf("2020-07-01: expected {\"v\":2}, got %s", got)
	}
}

func TestTagFreeze(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()
	addDET1(t, s)

	tag, err := s.CreateGlobalTag(ctx, "TAG1", day("2020-03-01"))
	if err != nil {
		t.Fatalf("CreateGlobalTag: %v", err)
	}
	if tag.Name != "TAG1" || !tag.Reference.Equal(storetest.Day("2020-03-01")) {
		t.Errorf("unexpected tag: %+v", tag)
	}

	if _, err := s.AppendCondition(ctx, AppendRequest{
		Subdetector: "DET1", Condition: "temp",
		Payload: json.RawMessage(`{"v":2}`), ValidFrom: day("2020-06-01"),
	}); err != nil {
		t.Fatalf("AppendCondition: %v", err)
	}

	snap, err := s.ShowConditionsByTag(ctx, "DET1", "TAG1")
	if err != nil {
		t.Fatalf("ShowConditionsByTag: %v", err)
	}
	if got := snapshotPayload(t, snap, "DET1", "temp"); got != `{"v":1}` {
		t.Errorf("expected frozen {\"v\":1}, got %s", got)
	}

	// The tag wins over an explicit date.
	snap, err = s.GetSnapshot(ctx, SnapshotRequest{At: day("2020-07-01"), Tag: "TAG1"})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got := snapshotPayload(t, snap, "DET1", "temp"); got != `{"v":1}` {
		t.Errorf("tagged snapshot: expected {\"v\":1}, got %s", got)
	}

	names, err := s.ListGlobalTags(ctx)
	if err != nil || len(names) != 1 || names[0] != "TAG1" {
		t.Errorf("ListGlobalTags: %v, %v", names, err)
	}
	got, err := s.GetGlobalTag(ctx, "TAG1")
	if err != nil || len(got.Entries) != 1 {
		t.Errorf("GetGlobalTag: %+v, %v", got, err)
	}
}

func TestOverlapLeavesStoreUnchanged(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()
	addDET1(t, s)

	if _, err := s.AppendCondition(ctx, AppendRequest{
		Subdetector: "DET1", Condition: "temp",
		Payload: json.RawMessage(`{"v":2}`), ValidFrom: day("2020-06-01"),
	}); err != nil {
		t.Fatalf("AppendCondition: %v", err)
	}
	_, err := s.AppendCondition(ctx, AppendRequest{
		Subdetector: "DET1", Condition: "temp",
		Payload: json.RawMessage(`{"v":3}`), ValidFrom: day("2020-03-01"),
	})
	if !errors.Is(err, conditions.ErrOverlapViolation) {
		t.Fatalf("expected ErrOverlapViolation, got %v", err)
	}

	h, err := s.ConditionHistory(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ConditionHistory: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(h))
	}
}

func TestDuplicateSubdetector(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()
	addDET1(t, s)

	_, err := s.AddSubdetector(ctx, conditions.NewSubdetector{
		Name:       "DET1",
		Conditions: []conditions.ConditionInput{{Name: "other", Payload: json.RawMessage(`{}`)}},
	})
	if !errors.Is(err, conditions.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	sd, err := s.ShowSubdetector(ctx, "DET1")
	if err != nil {
		t.Fatalf("ShowSubdetector: %v", err)
	}
	if sd.Description != "tracker" || len(sd.Conditions) != 1 {
		t.Errorf("existing record mutated: %+v", sd)
	}
}

func TestInvalidPayload(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()

	tests := []struct {
		name string
		in   conditions.NewSubdetector
	}{
		{"no name", conditions.NewSubdetector{}},
		{"condition without name", conditions.NewSubdetector{Name: "X", Conditions: []conditions.ConditionInput{{Payload: json.RawMessage(`{}`)}}}},
		{"missing payload", conditions.NewSubdetector{Name: "X", Conditions: []conditions.ConditionInput{{Name: "c"}}}},
		{"null payload", conditions.NewSubdetector{Name: "X", Conditions: []conditions.ConditionInput{{Name: "c", Payload: json.RawMessage(`null`)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddSubdetector(ctx, tt.in); !errors.Is(err, conditions.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
	if names, _ := s.ListSubdetectors(ctx); len(names) != 0 {
		t.Errorf("invalid input created subdetectors: %v", names)
	}
}

func TestDefaultsUseClock(t *testing.T) {
	s, _, clock := newService(t, "2024-01-01")
	ctx := context.Background()

	sd, err := s.AddSubdetector(ctx, conditions.NewSubdetector{
		Name:       "DET1",
		Conditions: []conditions.ConditionInput{{Name: "temp", Payload: json.RawMessage(`{"v":1}`)}},
	})
	if err != nil {
		t.Fatalf("AddSubdetector: %v", err)
	}
	if !sd.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt: expected %v, got %v", clock.Now(), sd.CreatedAt)
	}

	h, err := s.ConditionHistory(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ConditionHistory: %v", err)
	}
	if !h[0].ValidFrom.Equal(clock.Now()) {
		t.Errorf("ValidFrom: expected %v, got %v", clock.Now(), h[0].ValidFrom)
	}

	// Resolving "now" before the clock moves sees the version.
	snap, err := s.GetSnapshot(ctx, SnapshotRequest{})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(snap.Entries) != 1 {
		t.Errorf("expected 1 entry at now, got %+v", snap.Entries)
	}
}

func TestShowCondition(t *testing.T) {
	s, _, clock := newService(t, "2020-03-01")
	ctx := context.Background()
	addDET1(t, s)

	if _, err := s.AppendCondition(ctx, AppendRequest{
		Subdetector: "DET1", Condition: "temp",
		Payload: json.RawMessage(`{"v":2}`), ValidFrom: day("2020-06-01"),
	}); err != nil {
		t.Fatalf("AppendCondition: %v", err)
	}

	v, err := s.ShowCondition(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ShowCondition: %v", err)
	}
	if string(v.Payload) != `{"v":1}` {
		t.Errorf("expected version valid now {\"v\":1}, got %s", v.Payload)
	}

	clock.Advance(365 * 24 * time.Hour)
	v, err = s.ShowCondition(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ShowCondition: %v", err)
	}
	if string(v.Payload) != `{"v":2}` {
		t.Errorf("after advancing: expected {\"v\":2}, got %s", v.Payload)
	}

	if _, err := s.ShowCondition(ctx, "DET1", "missing"); !errors.Is(err, conditions.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestShowConditionFallsBackToLatest(t *testing.T) {
	s, _, _ := newService(t, "2019-01-01")
	ctx := context.Background()
	addDET1(t, s)

	v, err := s.ShowCondition(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ShowCondition: %v", err)
	}
	if string(v.Payload) != `{"v":1}` {
		t.Errorf("expected latest {\"v\":1}, got %s", v.Payload)
	}
}

// blockingStore waits for the context on every list call.
type blockingStore struct {
	conditions.Store
}

func (blockingStore) ListSubdetectorNames(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("list: %w", ctx.Err())
}

// brokenStore fails every read with a backend error.
type brokenStore struct {
	conditions.Store
}

func (brokenStore) GetSubdetector(context.Context, string) (*conditions.Subdetector, error) {
	return nil, errors.New("disk unplugged")
}

func TestErrorsAreClassified(t *testing.T) {
	ctx := context.Background()

	slow := New(Options{Store: blockingStore{memory.NewStore()}, Timeout: 10 * time.Millisecond})
	if _, err := slow.ListSubdetectors(ctx); !errors.Is(err, conditions.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	broken := New(Options{Store: brokenStore{memory.NewStore()}})
	_, err := broken.ShowSubdetector(ctx, "DET1")
	if !errors.Is(err, conditions.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Error("cause was dropped")
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	s, _, _ := newService(t, "2024-01-01")
	ctx := context.Background()
	addDET1(t, s)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Go(func() {
			from := storetest.Day("2020-01-01").AddDate(0, i, 0)
			_, err := s.AppendCondition(ctx, AppendRequest{
				Subdetector: "DET1", Condition: "temp",
				Payload: json.RawMessage(fmt.Sprintf(`{"v":%d}`, i)), ValidFrom: &from,
			})
			if err != nil && !errors.Is(err, conditions.ErrOverlapViolation) {
				t.Errorf("append %d: %v", i, err)
			}
		})
	}
	wg.Wait()

	h, err := s.ConditionHistory(ctx, "DET1", "temp")
	if err != nil {
		t.Fatalf("ConditionHistory: %v", err)
	}
	if err := conditions.CheckHistory(h); err != nil {
		t.Errorf("history invariant broken: %v", err)
	}
}
