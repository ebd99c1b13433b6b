// Package storetest provides a shared conformance test suite for
// conditions.Store implementations. Each backend (memory, sqlite, badger,
// raft) wires this suite to verify it satisfies the full Store contract.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"conditionsdb/internal/conditions"
)

// Day parses a YYYY-MM-DD date in UTC. Panics on malformed input.
func Day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// Seed prepares a subdetector from a compact condition → (payload, from) list.
func Seed(t *testing.T, name string, conds ...conditions.ConditionInput) (conditions.Subdetector, []conditions.Version) {
	t.Helper()
	sd, versions, err := conditions.PrepareSubdetector(conditions.NewSubdetector{
		Name:        name,
		Description: "test subdetector " + name,
		Conditions:  conds,
	}, Day("2024-01-01"))
	if err != nil {
		t.Fatalf("PrepareSubdetector: %v", err)
	}
	return sd, versions
}

// Cond builds a condition input valid from the given day.
func Cond(name, payload, from string) conditions.ConditionInput {
	f := Day(from)
	return conditions.ConditionInput{Name: name, Payload: json.RawMessage(payload), ValidFrom: &f}
}

// NewVersion builds an appendable version for key sd/cond.
func NewVersion(t *testing.T, sd, cond, payload, from string) conditions.Version {
	t.Helper()
	f := Day(from)
	v, err := conditions.PrepareVersion(sd, cond, json.RawMessage(payload), &f, nil, Day("2024-01-01"))
	if err != nil {
		t.Fatalf("PrepareVersion: %v", err)
	}
	return v
}

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) conditions.Store) {
	t.Run("Empty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		names, err := s.ListSubdetectorNames(ctx)
		if err != nil {
			t.Fatalf("ListSubdetectorNames: %v", err)
		}
		if len(names) != 0 {
			t.Fatalf("expected no subdetectors, got %v", names)
		}
		all, err := s.ListSubdetectors(ctx)
		if err != nil {
			t.Fatalf("ListSubdetectors: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected no subdetectors, got %d", len(all))
		}
		tags, err := s.ListGlobalTagNames(ctx)
		if err != nil {
			t.Fatalf("ListGlobalTagNames: %v", err)
		}
		if len(tags) != 0 {
			t.Fatalf("expected no tags, got %v", tags)
		}
	})

	t.Run("CreateGetSubdetector", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1",
			Cond("temp", `{"v":1}`, "2020-01-01"),
			Cond("gain", `{"g":[1,2,3]}`, "2020-02-01"),
		)
		sd.Metadata = map[string]string{"site": "north"}
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}

		got, err := s.GetSubdetector(ctx, "DET1")
		if err != nil {
			t.Fatalf("GetSubdetector: %v", err)
		}
		if got.Name != "DET1" {
			t.Errorf("Name: expected %q, got %q", "DET1", got.Name)
		}
		if got.Description != sd.Description {
			t.Errorf("Description: expected %q, got %q", sd.Description, got.Description)
		}
		if got.Metadata["site"] != "north" {
			t.Errorf("Metadata: expected site=north, got %v", got.Metadata)
		}
		if len(got.Conditions) != 2 || got.Conditions[0] != "gain" || got.Conditions[1] != "temp" {
			t.Errorf("Conditions: expected [gain temp], got %v", got.Conditions)
		}
		if !got.CreatedAt.Equal(sd.CreatedAt) {
			t.Errorf("CreatedAt: expected %v, got %v", sd.CreatedAt, got.CreatedAt)
		}

		h, err := s.GetConditionVersions(ctx, "DET1", "temp")
		if err != nil {
			t.Fatalf("GetConditionVersions: %v", err)
		}
		if len(h) != 1 {
			t.Fatalf("expected 1 version, got %d", len(h))
		}
		assertVersion(t, h[0], versions[1])
	})

	t.Run("GetSubdetectorNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSubdetector(context.Background(), "nope")
		if !errors.Is(err, conditions.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreateDuplicateSubdetector", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}

		dup, dupVersions := Seed(t, "DET1", Cond("other", `{"x":9}`, "2021-01-01"))
		err = s.CreateSubdetector(ctx, dup, dupVersions)
		if !errors.Is(err, conditions.ErrDuplicateName) {
			t.Fatalf("expected ErrDuplicateName, got %v", err)
		}

		got, err := s.GetSubdetector(ctx, "DET1")
		if err != nil {
			t.Fatalf("GetSubdetector: %v", err)
		}
		if len(got.Conditions) != 1 || got.Conditions[0] != "temp" {
			t.Errorf("existing record mutated: conditions %v", got.Conditions)
		}
		if _, err := s.GetConditionVersions(ctx, "DET1", "other"); !errors.Is(err, conditions.ErrNotFound) {
			t.Errorf("duplicate's condition leaked into store: %v", err)
		}
		after, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		if after != rev {
			t.Errorf("revision moved on failed create: %d -> %d", rev, after)
		}
	})

	t.Run("CreateRejectsBadHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		versions = append(versions, NewVersion(t, "DET1", "temp", `{"v":2}`, "2019-01-01"))
		err := s.CreateSubdetector(ctx, sd, versions)
		if !errors.Is(err, conditions.ErrOverlapViolation) {
			t.Fatalf("expected ErrOverlapViolation, got %v", err)
		}
		if _, err := s.GetSubdetector(ctx, "DET1"); !errors.Is(err, conditions.ErrNotFound) {
			t.Errorf("partial create visible: %v", err)
		}
	})

	t.Run("ListSubdetectorsOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"ECAL", "ANTI", "MUON"} {
			sd, versions := Seed(t, name, Cond("temp", `{"v":1}`, "2020-01-01"))
			if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
				t.Fatalf("CreateSubdetector %s: %v", name, err)
			}
		}

		names, err := s.ListSubdetectorNames(ctx)
		if err != nil {
			t.Fatalf("ListSubdetectorNames: %v", err)
		}
		want := []string{"ANTI", "ECAL", "MUON"}
		if fmt.Sprint(names) != fmt.Sprint(want) {
			t.Errorf("names: expected %v, got %v", want, names)
		}

		all, err := s.ListSubdetectors(ctx)
		if err != nil {
			t.Fatalf("ListSubdetectors: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3, got %d", len(all))
		}
		for i, sd := range all {
			if sd.Name != want[i] {
				t.Errorf("all[%d]: expected %q, got %q", i, want[i], sd.Name)
			}
		}
	})

	t.Run("GetConditionVersionsNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		if _, err := s.GetConditionVersions(ctx, "DET2", "temp"); !errors.Is(err, conditions.ErrNotFound) {
			t.Errorf("unknown subdetector: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetConditionVersions(ctx, "DET1", "pressure"); !errors.Is(err, conditions.ErrNotFound) {
			t.Errorf("unknown condition: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AppendClosesPrevious", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}

		v2 := NewVersion(t, "DET1", "temp", `{"v":2}`, "2020-06-01")
		added, err := s.AppendConditionVersion(ctx, v2)
		if err != nil {
			t.Fatalf("AppendConditionVersion: %v", err)
		}
		assertVersion(t, added, v2)

		h, err := s.GetConditionVersions(ctx, "DET1", "temp")
		if err != nil {
			t.Fatalf("GetConditionVersions: %v", err)
		}
		if len(h) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(h))
		}
		if h[0].ValidUntil == nil || !h[0].ValidUntil.Equal(Day("2020-06-01")) {
			t.Errorf("previous version not closed at 2020-06-01: %v", h[0].ValidUntil)
		}
		if h[1].ValidUntil != nil {
			t.Errorf("new version should be open-ended, got %v", h[1].ValidUntil)
		}
		if err := conditions.CheckHistory(h); err != nil {
			t.Errorf("history invariant broken: %v", err)
		}

		after, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		if after <= rev {
			t.Errorf("revision did not advance: %d -> %d", rev, after)
		}
	})

	t.Run("AppendOverlapLeavesStoreUnchanged", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1",
			Cond("temp", `{"v":1}`, "2020-01-01"),
			Cond("temp", `{"v":2}`, "2020-06-01"),
		)
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}

		// Strictly inside the closed [2020-01-01, 2020-06-01) interval.
		_, err = s.AppendConditionVersion(ctx, NewVersion(t, "DET1", "temp", `{"v":3}`, "2020-03-01"))
		if !errors.Is(err, conditions.ErrOverlapViolation) {
			t.Fatalf("expected ErrOverlapViolation, got %v", err)
		}

		h, err := s.GetConditionVersions(ctx, "DET1", "temp")
		if err != nil {
			t.Fatalf("GetConditionVersions: %v", err)
		}
		if len(h) != 2 {
			t.Fatalf("expected 2 versions after rejected append, got %d", len(h))
		}
		if h[1].ValidUntil != nil {
			t.Errorf("open version was closed by a rejected append: %v", h[1].ValidUntil)
		}
		after, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		if after != rev {
			t.Errorf("revision moved on rejected append: %d -> %d", rev, after)
		}
	})

	t.Run("AppendUnknownKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.AppendConditionVersion(ctx, NewVersion(t, "DET1", "temp", `{}`, "2020-01-01"))
		if !errors.Is(err, conditions.ErrNotFound) {
			t.Fatalf("unknown subdetector: expected ErrNotFound, got %v", err)
		}

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		_, err = s.AppendConditionVersion(ctx, NewVersion(t, "DET1", "pressure", `{}`, "2020-01-01"))
		if !errors.Is(err, conditions.ErrNotFound) {
			t.Fatalf("unknown condition: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentAppendsStayOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1",
			Cond("temp", `{"v":0}`, "2020-01-01"),
			Cond("gain", `{"v":0}`, "2020-01-01"),
		)
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		for _, cond := range []string{"temp", "gain"} {
			for i := 1; i <= n; i++ {
				wg.Go(func() {
					from := Day("2020-01-01").AddDate(0, 0, i)
					v, err := conditions.PrepareVersion("DET1", cond, json.RawMessage(fmt.Sprintf(`{"v":%d}`, i)), &from, nil, from)
					if err != nil {
						t.Errorf("PrepareVersion: %v", err)
						return
					}
					// Out-of-order arrivals are rejected; that is fine.
					if _, err := s.AppendConditionVersion(ctx, v); err != nil && !errors.Is(err, conditions.ErrOverlapViolation) {
						t.Errorf("append %s/%d: %v", cond, i, err)
					}
				})
			}
		}
		wg.Wait()

		for _, cond := range []string{"temp", "gain"} {
			h, err := s.GetConditionVersions(ctx, "DET1", cond)
			if err != nil {
				t.Fatalf("GetConditionVersions: %v", err)
			}
			if err := conditions.CheckHistory(h); err != nil {
				t.Errorf("%s: history invariant broken under concurrency: %v", cond, err)
			}
		}
	})

	t.Run("FarPastAndFutureRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		from := Day("0850-06-01")
		until := Day("9999-12-31")
		sd, versions, err := conditions.PrepareSubdetector(conditions.NewSubdetector{
			Name: "DET1",
			Conditions: []conditions.ConditionInput{
				{Name: "temp", Payload: json.RawMessage(`{"t":1}`), ValidFrom: &from, ValidUntil: &until},
			},
		}, Day("2024-01-01"))
		if err != nil {
			t.Fatalf("PrepareSubdetector: %v", err)
		}
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}

		h, err := s.GetConditionVersions(ctx, "DET1", "temp")
		if err != nil {
			t.Fatalf("GetConditionVersions: %v", err)
		}
		if len(h) != 1 {
			t.Fatalf("expected 1 version, got %d", len(h))
		}
		if !h[0].ValidFrom.Equal(from) || !timePtrEqual(h[0].ValidUntil, &until) {
			t.Errorf("interval: expected [%s, %s), got [%s, %v)", from, until, h[0].ValidFrom, h[0].ValidUntil)
		}
		if err := conditions.CheckHistory(h); err != nil {
			t.Errorf("history invalid after round trip: %v", err)
		}
		if _, ok := conditions.ValidAt(h, Day("2021-01-01")); !ok {
			t.Error("expected version valid in 2021")
		}

		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		tag := conditions.GlobalTag{
			Name:      "FOREVER",
			Reference: until,
			CreatedAt: Day("2024-01-01"),
			Entries:   []conditions.TagEntry{conditions.EntryFromVersion(h[0])},
		}
		if err := s.CreateGlobalTag(ctx, tag, rev); err != nil {
			t.Fatalf("CreateGlobalTag: %v", err)
		}
		got, err := s.GetGlobalTag(ctx, "FOREVER")
		if err != nil {
			t.Fatalf("GetGlobalTag: %v", err)
		}
		if !got.Reference.Equal(until) {
			t.Errorf("Reference: expected %s, got %s", until, got.Reference)
		}
		if len(got.Entries) != 1 || !got.Entries[0].ValidFrom.Equal(from) || !timePtrEqual(got.Entries[0].ValidUntil, &until) {
			t.Errorf("entry interval not preserved: %+v", got.Entries)
		}
	})

	t.Run("CreateGetGlobalTag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		tag := sampleTag("TAG1")
		if err := s.CreateGlobalTag(ctx, tag, rev); err != nil {
			t.Fatalf("CreateGlobalTag: %v", err)
		}

		got, err := s.GetGlobalTag(ctx, "TAG1")
		if err != nil {
			t.Fatalf("GetGlobalTag: %v", err)
		}
		if got.Name != "TAG1" {
			t.Errorf("Name: expected TAG1, got %q", got.Name)
		}
		if !got.Reference.Equal(tag.Reference) {
			t.Errorf("Reference: expected %v, got %v", tag.Reference, got.Reference)
		}
		if !got.CreatedAt.Equal(tag.CreatedAt) {
			t.Errorf("CreatedAt: expected %v, got %v", tag.CreatedAt, got.CreatedAt)
		}
		if len(got.Entries) != len(tag.Entries) {
			t.Fatalf("Entries: expected %d, got %d", len(tag.Entries), len(got.Entries))
		}
		for i, e := range got.Entries {
			want := tag.Entries[i]
			if e.Subdetector != want.Subdetector || e.Condition != want.Condition || e.VersionID != want.VersionID {
				t.Errorf("entry %d: expected %s/%s@%s, got %s/%s@%s", i,
					want.Subdetector, want.Condition, want.VersionID, e.Subdetector, e.Condition, e.VersionID)
			}
			if !jsonEqual(e.Payload, want.Payload) {
				t.Errorf("entry %d payload: expected %s, got %s", i, want.Payload, e.Payload)
			}
			if !e.ValidFrom.Equal(want.ValidFrom) {
				t.Errorf("entry %d ValidFrom: expected %v, got %v", i, want.ValidFrom, e.ValidFrom)
			}
			if !timePtrEqual(e.ValidUntil, want.ValidUntil) {
				t.Errorf("entry %d ValidUntil: expected %v, got %v", i, want.ValidUntil, e.ValidUntil)
			}
		}

		names, err := s.ListGlobalTagNames(ctx)
		if err != nil {
			t.Fatalf("ListGlobalTagNames: %v", err)
		}
		if len(names) != 1 || names[0] != "TAG1" {
			t.Errorf("names: expected [TAG1], got %v", names)
		}
	})

	t.Run("GlobalTagNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetGlobalTag(context.Background(), "missing")
		if !errors.Is(err, conditions.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DuplicateGlobalTag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rev, _ := s.Revision(ctx)
		if err := s.CreateGlobalTag(ctx, sampleTag("TAG1"), rev); err != nil {
			t.Fatalf("CreateGlobalTag: %v", err)
		}
		rev, _ = s.Revision(ctx)
		err := s.CreateGlobalTag(ctx, sampleTag("TAG1"), rev)
		if !errors.Is(err, conditions.ErrDuplicateName) {
			t.Fatalf("expected ErrDuplicateName, got %v", err)
		}
	})

	t.Run("GlobalTagStaleRevision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		rev, err := s.Revision(ctx)
		if err != nil {
			t.Fatalf("Revision: %v", err)
		}
		if _, err := s.AppendConditionVersion(ctx, NewVersion(t, "DET1", "temp", `{"v":2}`, "2020-06-01")); err != nil {
			t.Fatalf("AppendConditionVersion: %v", err)
		}

		err = s.CreateGlobalTag(ctx, sampleTag("TAG1"), rev)
		if !errors.Is(err, conditions.ErrStaleRevision) {
			t.Fatalf("expected ErrStaleRevision, got %v", err)
		}
		if _, err := s.GetGlobalTag(ctx, "TAG1"); !errors.Is(err, conditions.ErrNotFound) {
			t.Errorf("stale tag persisted: %v", err)
		}
	})

	t.Run("TagSurvivesLaterAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}
		rev, _ := s.Revision(ctx)
		tag := conditions.GlobalTag{
			Name:      "TAG1",
			Reference: Day("2020-03-01"),
			CreatedAt: Day("2024-01-02"),
			Entries:   []conditions.TagEntry{conditions.EntryFromVersion(versions[0])},
		}
		if err := s.CreateGlobalTag(ctx, tag, rev); err != nil {
			t.Fatalf("CreateGlobalTag: %v", err)
		}

		if _, err := s.AppendConditionVersion(ctx, NewVersion(t, "DET1", "temp", `{"v":2}`, "2020-02-01")); err != nil {
			t.Fatalf("AppendConditionVersion: %v", err)
		}

		got, err := s.GetGlobalTag(ctx, "TAG1")
		if err != nil {
			t.Fatalf("GetGlobalTag: %v", err)
		}
		if len(got.Entries) != 1 || !jsonEqual(got.Entries[0].Payload, json.RawMessage(`{"v":1}`)) {
			t.Fatalf("tag changed after append: %+v", got.Entries)
		}
		if got.Entries[0].ValidUntil != nil {
			t.Errorf("frozen entry picked up the closed interval: %v", got.Entries[0].ValidUntil)
		}
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sd, versions := Seed(t, "DET1", Cond("temp", `{"v":1}`, "2020-01-01"))
		if err := s.CreateSubdetector(ctx, sd, versions); err != nil {
			t.Fatalf("CreateSubdetector: %v", err)
		}

		got, _ := s.GetSubdetector(ctx, "DET1")
		got.Conditions[0] = "mutated"
		h, _ := s.GetConditionVersions(ctx, "DET1", "temp")
		h[0].Payload[0] = '['

		again, err := s.GetSubdetector(ctx, "DET1")
		if err != nil {
			t.Fatalf("GetSubdetector: %v", err)
		}
		if again.Conditions[0] != "temp" {
			t.Errorf("caller mutation leaked into store: %v", again.Conditions)
		}
		h2, err := s.GetConditionVersions(ctx, "DET1", "temp")
		if err != nil {
			t.Fatalf("GetConditionVersions: %v", err)
		}
		if !jsonEqual(h2[0].Payload, json.RawMessage(`{"v":1}`)) {
			t.Errorf("caller mutation leaked into payload: %s", h2[0].Payload)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := s.ListSubdetectorNames(ctx); err == nil {
			t.Error("expected error from canceled context")
		}
	})
}

func sampleTag(name string) conditions.GlobalTag {
	until := Day("2020-06-01")
	return conditions.GlobalTag{
		Name:      name,
		Reference: Day("2020-03-01"),
		CreatedAt: Day("2024-01-02").Add(1500 * time.Millisecond),
		Entries: []conditions.TagEntry{
			{
				Subdetector: "DET1",
				Condition:   "gain",
				VersionID:   conditions.NewVersionID(),
				Payload:     json.RawMessage(`{"g":1.5}`),
				ValidFrom:   Day("2020-01-01"),
				ValidUntil:  &until,
			},
			{
				Subdetector: "DET1",
				Condition:   "temp",
				VersionID:   conditions.NewVersionID(),
				Payload:     json.RawMessage(`{"v":1}`),
				ValidFrom:   Day("2020-02-01"),
			},
		},
	}
}

func assertVersion(t *testing.T, got, want conditions.Version) {
	t.Helper()
	if got.ID != want.ID {
		t.Errorf("ID: expected %s, got %s", want.ID, got.ID)
	}
	if got.Subdetector != want.Subdetector || got.Condition != want.Condition {
		t.Errorf("Key: expected %s, got %s", want.Key(), got.Key())
	}
	if !jsonEqual(got.Payload, want.Payload) {
		t.Errorf("Payload: expected %s, got %s", want.Payload, got.Payload)
	}
	if !got.ValidFrom.Equal(want.ValidFrom) {
		t.Errorf("ValidFrom: expected %v, got %v", want.ValidFrom, got.ValidFrom)
	}
	if !timePtrEqual(got.ValidUntil, want.ValidUntil) {
		t.Errorf("ValidUntil: expected %v, got %v", want.ValidUntil, got.ValidUntil)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt: expected %v, got %v", want.CreatedAt, got.CreatedAt)
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return fmt.Sprint(x) == fmt.Sprint(y)
}
