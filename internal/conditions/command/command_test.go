package command

import (
	"testing"
	"time"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/conditions/memory"
	"conditionsdb/internal/conditions/storetest"
)

func TestCreateSubdetectorRoundTrip(t *testing.T) {
	sd, versions := storetest.Seed(t, "DET1",
		storetest.Cond("temp", `{"v":1}`, "2020-01-01"),
		storetest.Cond("temp", `{"v":2}`, "2020-06-01"),
	)
	data, err := Marshal(NewCreateSubdetector(sd, versions))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Op != OpCreateSubdetector {
		t.Fatalf("Op: expected %s, got %s", OpCreateSubdetector, got.Op)
	}
	if got.Subdetector.Name != "DET1" || len(got.Versions) != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Versions[0].ID != versions[0].ID {
		t.Errorf("ID: expected %s, got %s", versions[0].ID, got.Versions[0].ID)
	}
	if got.Versions[0].ValidUntil == nil || !got.Versions[0].ValidUntil.Equal(storetest.Day("2020-06-01")) {
		t.Errorf("ValidUntil lost: %v", got.Versions[0].ValidUntil)
	}
	if got.Versions[1].ValidUntil != nil {
		t.Errorf("open-ended version gained ValidUntil: %v", got.Versions[1].ValidUntil)
	}
	if got.Versions[0].ValidFrom.Location() != time.UTC {
		t.Errorf("ValidFrom not UTC: %v", got.Versions[0].ValidFrom)
	}
}

func TestCreateGlobalTagCarriesRevision(t *testing.T) {
	tag := conditions.GlobalTag{
		Name:      "TAG1",
		Reference: storetest.Day("2020-03-01"),
		CreatedAt: storetest.Day("2024-01-02").Add(123 * time.Nanosecond),
	}
	data, err := Marshal(NewCreateGlobalTag(tag, 42))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Revision != 42 {
		t.Errorf("Revision: expected 42, got %d", got.Revision)
	}
	if !got.Tag.CreatedAt.Equal(tag.CreatedAt) {
		t.Errorf("CreatedAt: expected %v, got %v", tag.CreatedAt, got.Tag.CreatedAt)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
	}{
		{"unknown op", &Command{Op: 99}},
		{"append without version", &Command{Op: OpAppendVersion}},
		{"tag without tag", &Command{Op: OpCreateGlobalTag}},
		{"create without subdetector", &Command{Op: OpCreateSubdetector}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if _, err := Unmarshal(data); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Unmarshal([]byte{0xc1}); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	sd, versions := storetest.Seed(t, "DET1", storetest.Cond("temp", `{"v":1}`, "2020-01-01"))
	st := memory.State{
		Revision:     7,
		Subdetectors: []conditions.Subdetector{sd},
		Versions:     versions,
		Tags: []conditions.GlobalTag{{
			Name:      "TAG1",
			Reference: storetest.Day("2020-03-01"),
			Entries:   []conditions.TagEntry{conditions.EntryFromVersion(versions[0])},
		}},
	}

	data, err := MarshalSnapshot(st)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	got, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if got.Revision != 7 || len(got.Subdetectors) != 1 || len(got.Versions) != 1 || len(got.Tags) != 1 {
		t.Fatalf("unexpected snapshot shape: %+v", got)
	}
	if got.Tags[0].Entries[0].VersionID != versions[0].ID {
		t.Errorf("tag entry version: expected %s, got %s", versions[0].ID, got.Tags[0].Entries[0].VersionID)
	}
	if _, err := UnmarshalSnapshot([]byte("not zstd")); err == nil {
		t.Error("expected error for uncompressed input")
	}
}
