package conditions

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func version(cond, payload string, from time.Time, until *time.Time) Version {
	return Version{
		ID:          NewVersionID(),
		Subdetector: "DET1",
		Condition:   cond,
		Payload:     json.RawMessage(payload),
		ValidFrom:   from,
		ValidUntil:  until,
	}
}

func TestValidAt(t *testing.T) {
	history := []Version{
		version("temp", `{"v":1}`, day("2020-01-01"), ptr(day("2020-06-01"))),
		version("temp", `{"v":2}`, day("2020-06-01"), ptr(day("2020-09-01"))),
		version("temp", `{"v":3}`, day("2020-10-01"), nil),
	}

	tests := []struct {
		name string
		at   time.Time
		want string // payload, or "" for no match
	}{
		{"before first", day("2019-12-31"), ""},
		{"at first start", day("2020-01-01"), `{"v":1}`},
		{"inside first", day("2020-03-01"), `{"v":1}`},
		{"at boundary", day("2020-06-01"), `{"v":2}`},
		{"in gap", day("2020-09-15"), ""},
		{"at gap end", day("2020-09-01"), ""},
		{"open-ended", day("2030-01-01"), `{"v":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValidAt(history, tt.at)
			if tt.want == "" {
				if ok {
					t.Fatalf("expected no version, got %s", got.Payload)
				}
				return
			}
			if !ok {
				t.Fatalf("expected %s, got none", tt.want)
			}
			if string(got.Payload) != tt.want {
				t.Errorf("payload: expected %s, got %s", tt.want, got.Payload)
			}
		})
	}

	if _, ok := ValidAt(nil, day("2020-01-01")); ok {
		t.Error("expected no version in empty history")
	}
}

func TestPlanAppendClosesOpenVersion(t *testing.T) {
	history := []Version{version("temp", `{"v":1}`, day("2020-01-01"), nil)}

	res, err := PlanAppend(history, version("temp", `{"v":2}`, day("2020-06-01"), nil))
	if err != nil {
		t.Fatalf("PlanAppend: %v", err)
	}
	if res.Closed == nil {
		t.Fatal("expected previous version to be closed")
	}
	if !res.Closed.ValidUntil.Equal(day("2020-06-01")) {
		t.Errorf("closed until: expected 2020-06-01, got %v", res.Closed.ValidUntil)
	}
	if len(res.History) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(res.History))
	}
	if history[0].ValidUntil != nil {
		t.Error("input history was modified")
	}
	if err := CheckHistory(res.History); err != nil {
		t.Errorf("CheckHistory: %v", err)
	}
}

func TestPlanAppendAfterClosedVersion(t *testing.T) {
	history := []Version{version("temp", `{"v":1}`, day("2020-01-01"), ptr(day("2020-03-01")))}

	res, err := PlanAppend(history, version("temp", `{"v":2}`, day("2020-05-01"), nil))
	if err != nil {
		t.Fatalf("PlanAppend: %v", err)
	}
	if res.Closed != nil {
		t.Error("closed version should not be touched")
	}
	if !res.History[0].ValidUntil.Equal(day("2020-03-01")) {
		t.Errorf("closed interval rewritten: %v", res.History[0].ValidUntil)
	}
}

func TestPlanAppendRejects(t *testing.T) {
	closed := []Version{version("temp", `{"v":1}`, day("2020-01-01"), ptr(day("2020-06-01")))}
	open := []Version{version("temp", `{"v":1}`, day("2020-01-01"), nil)}

	tests := []struct {
		name    string
		history []Version
		v       Version
	}{
		{"inside closed interval", closed, version("temp", `{}`, day("2020-03-01"), nil)},
		{"same start", open, version("temp", `{}`, day("2020-01-01"), nil)},
		{"before history", open, version("temp", `{}`, day("2019-01-01"), nil)},
		{"inverted interval", nil, version("temp", `{}`, day("2020-02-01"), ptr(day("2020-01-01")))},
		{"empty interval", nil, version("temp", `{}`, day("2020-02-01"), ptr(day("2020-02-01")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlanAppend(tt.history, tt.v)
			if !errors.Is(err, ErrOverlapViolation) {
				t.Fatalf("expected ErrOverlapViolation, got %v", err)
			}
		})
	}
}

func TestCheckHistory(t *testing.T) {
	good := []Version{
		version("temp", `{}`, day("2020-01-01"), ptr(day("2020-02-01"))),
		version("temp", `{}`, day("2020-02-01"), nil),
	}
	if err := CheckHistory(good); err != nil {
		t.Fatalf("valid history rejected: %v", err)
	}

	overlapping := []Version{
		version("temp", `{}`, day("2020-01-01"), ptr(day("2020-03-01"))),
		version("temp", `{}`, day("2020-02-01"), nil),
	}
	if err := CheckHistory(overlapping); !errors.Is(err, ErrOverlapViolation) {
		t.Errorf("expected overlap, got %v", err)
	}

	openMiddle := []Version{
		version("temp", `{}`, day("2020-01-01"), nil),
		version("temp", `{}`, day("2020-02-01"), nil),
	}
	if err := CheckHistory(openMiddle); !errors.Is(err, ErrOverlapViolation) {
		t.Errorf("expected overlap for open-ended middle version, got %v", err)
	}
}

func TestValidatePayload(t *testing.T) {
	for _, bad := range []string{"", "   ", "null", "{", "not json"} {
		if err := ValidatePayload(json.RawMessage(bad)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("payload %q: expected ErrInvalidPayload, got %v", bad, err)
		}
	}
	for _, good := range []string{`{"v":1}`, `[1,2]`, `42`, `"x"`, `{}`} {
		if err := ValidatePayload(json.RawMessage(good)); err != nil {
			t.Errorf("payload %q: unexpected error %v", good, err)
		}
	}
}

func TestPrepareSubdetector(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	in := NewSubdetector{
		Name:        "DET1",
		Description: "muon chamber",
		Metadata:    map[string]string{"site": "north"},
		Conditions: []ConditionInput{
			{Name: "temp", Payload: json.RawMessage(`{"v":2}`), ValidFrom: ptr(day("2020-06-01"))},
			{Name: "gain", Payload: json.RawMessage(`{"g":1.5}`)},
			{Name: "temp", Payload: json.RawMessage(`{"v":1}`), ValidFrom: ptr(day("2020-01-01"))},
		},
	}

	sd, versions, err := PrepareSubdetector(in, now)
	if err != nil {
		t.Fatalf("PrepareSubdetector: %v", err)
	}
	if got := sd.Conditions; len(got) != 2 || got[0] != "gain" || got[1] != "temp" {
		t.Fatalf("conditions: expected [gain temp], got %v", got)
	}
	if sd.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt not normalized to UTC: %v", sd.CreatedAt)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}

	histories, err := GroupHistories(sd, versions)
	if err != nil {
		t.Fatalf("GroupHistories: %v", err)
	}
	gain := histories["gain"]
	if len(gain) != 1 || !gain[0].ValidFrom.Equal(now) {
		t.Errorf("gain: expected one version valid from now, got %+v", gain)
	}
	temp := histories["temp"]
	if len(temp) != 2 {
		t.Fatalf("temp: expected 2 versions, got %d", len(temp))
	}
	if string(temp[0].Payload) != `{"v":1}` || !temp[0].ValidUntil.Equal(day("2020-06-01")) {
		t.Errorf("temp[0]: expected v1 closed at 2020-06-01, got %s until %v", temp[0].Payload, temp[0].ValidUntil)
	}
	if temp[1].ValidUntil != nil {
		t.Errorf("temp[1]: expected open-ended, got %v", temp[1].ValidUntil)
	}
}

func TestPrepareSubdetectorInvalid(t *testing.T) {
	now := day("2024-01-01")
	tests := []struct {
		name string
		in   NewSubdetector
	}{
		{"missing subdetector name", NewSubdetector{}},
		{"missing condition name", NewSubdetector{Name: "D", Conditions: []ConditionInput{{Payload: json.RawMessage(`{}`)}}}},
		{"missing payload", NewSubdetector{Name: "D", Conditions: []ConditionInput{{Name: "c"}}}},
		{"null payload", NewSubdetector{Name: "D", Conditions: []ConditionInput{{Name: "c", Payload: json.RawMessage(`null`)}}}},
		{"control char in subdetector name", NewSubdetector{Name: "a\x00b"}},
		{"control char in condition name", NewSubdetector{Name: "a", Conditions: []ConditionInput{{Name: "b\x00c", Payload: json.RawMessage(`{}`)}}}},
		{"validFrom past year 9999", NewSubdetector{Name: "D", Conditions: []ConditionInput{
			{Name: "c", Payload: json.RawMessage(`{}`), ValidFrom: ptr(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))},
		}}},
		{"validUntil past year 9999", NewSubdetector{Name: "D", Conditions: []ConditionInput{
			{Name: "c", Payload: json.RawMessage(`{}`), ValidFrom: ptr(day("2020-01-01")), ValidUntil: ptr(MaxTime.Add(time.Nanosecond))},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := PrepareSubdetector(tt.in, now)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestPrepareSubdetectorDuplicateStart(t *testing.T) {
	in := NewSubdetector{
		Name: "D",
		Conditions: []ConditionInput{
			{Name: "c", Payload: json.RawMessage(`1`), ValidFrom: ptr(day("2020-01-01"))},
			{Name: "c", Payload: json.RawMessage(`2`), ValidFrom: ptr(day("2020-01-01"))},
		},
	}
	if _, _, err := PrepareSubdetector(in, day("2024-01-01")); !errors.Is(err, ErrOverlapViolation) {
		t.Fatalf("expected ErrOverlapViolation, got %v", err)
	}
}

func TestPrepareVersionAcceptsYearRangeBounds(t *testing.T) {
	until := day("9999-12-31")
	v, err := PrepareVersion("DET1", "temp", json.RawMessage(`{"t":1}`), ptr(MinTime), &until, day("2024-01-01"))
	if err != nil {
		t.Fatalf("PrepareVersion: %v", err)
	}
	if !v.ValidFrom.Equal(MinTime) || !v.ValidUntil.Equal(until) {
		t.Errorf("bounds changed: [%s, %s)", v.ValidFrom, v.ValidUntil)
	}
	if _, ok := ValidAt([]Version{v}, day("2021-01-01")); !ok {
		t.Error("expected version to be valid in 2021")
	}
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", "  ", "a\x00b", "tab\there", "new\nline"} {
		if err := ValidateName("condition", bad); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("ValidateName(%q): expected ErrInvalidPayload, got %v", bad, err)
		}
	}
	for _, good := range []string{"temp", "DET-1/hv", "µ-chamber"} {
		if err := ValidateName("condition", good); err != nil {
			t.Errorf("ValidateName(%q): %v", good, err)
		}
	}
}
