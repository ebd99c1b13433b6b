package conditions

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// NewVersionID returns a fresh, time-ordered version identifier.
func NewVersionID() uuid.UUID { return uuid.Must(uuid.NewV7()) }

// ValidAt returns the version of history whose interval contains at.
// history must be ordered by ValidFrom. It binary-searches for the greatest
// ValidFrom <= at and then checks the upper bound.
func ValidAt(history []Version, at time.Time) (Version, bool) {
	// First index whose ValidFrom is strictly after at.
	i := sort.Search(len(history), func(i int) bool {
		return history[i].ValidFrom.After(at)
	})
	if i == 0 {
		return Version{}, false
	}
	v := history[i-1]
	if v.ValidUntil != nil && !at.Before(*v.ValidUntil) {
		return Version{}, false
	}
	return v, true
}

// Latest returns the version with the greatest ValidFrom.
func Latest(history []Version) (Version, bool) {
	if len(history) == 0 {
		return Version{}, false
	}
	return history[len(history)-1], true
}

// Appended is the outcome of planning an append.
type Appended struct {
	// Closed is the previous version with its ValidUntil set to the new
	// version's ValidFrom. Nil when nothing had to be closed.
	Closed *Version
	// Added is the new version.
	Added Version
	// History is the full history after the append. It never aliases the
	// input slice.
	History []Version
}

// PlanAppend computes the history that results from appending v. history
// must be ordered and valid. The input is never modified.
//
// The append is rejected with ErrOverlapViolation when v has an empty or
// inverted interval, starts at or before the last version's ValidFrom, or
// starts inside the last version's closed interval.
func PlanAppend(history []Version, v Version) (Appended, error) {
	if v.ValidUntil != nil && !v.ValidUntil.After(v.ValidFrom) {
		return Appended{}, Errorf(CodeOverlapViolation,
			"%s: valid_until %s is not after valid_from %s",
			v.Key(), v.ValidUntil.Format(time.RFC3339Nano), v.ValidFrom.Format(time.RFC3339Nano))
	}

	out := make([]Version, len(history), len(history)+1)
	for i, h := range history {
		out[i] = h.Clone()
	}

	res := Appended{Added: v.Clone()}
	if n := len(out); n > 0 {
		last := &out[n-1]
		if !v.ValidFrom.After(last.ValidFrom) {
			return Appended{}, Errorf(CodeOverlapViolation,
				"%s: valid_from %s is not after latest version start %s",
				v.Key(), v.ValidFrom.Format(time.RFC3339Nano), last.ValidFrom.Format(time.RFC3339Nano))
		}
		switch {
		case last.ValidUntil == nil:
			until := v.ValidFrom
			last.ValidUntil = &until
			closed := last.Clone()
			res.Closed = &closed
		case v.ValidFrom.Before(*last.ValidUntil):
			return Appended{}, Errorf(CodeOverlapViolation,
				"%s: valid_from %s falls inside [%s, %s)",
				v.Key(), v.ValidFrom.Format(time.RFC3339Nano),
				last.ValidFrom.Format(time.RFC3339Nano), last.ValidUntil.Format(time.RFC3339Nano))
		}
	}

	res.History = append(out, res.Added.Clone())
	return res, nil
}

// CheckHistory verifies that history is ordered by ValidFrom and that its
// intervals are pairwise non-overlapping. Only the last version may be
// open-ended.
func CheckHistory(history []Version) error {
	for i, v := range history {
		if v.ValidUntil != nil && !v.ValidUntil.After(v.ValidFrom) {
			return Errorf(CodeOverlapViolation, "%s: version %d has an empty interval", v.Key(), i)
		}
		if i == 0 {
			continue
		}
		prev := history[i-1]
		if prev.ValidUntil == nil {
			return Errorf(CodeOverlapViolation, "%s: version %d is open-ended but not last", prev.Key(), i-1)
		}
		if v.ValidFrom.Before(*prev.ValidUntil) {
			return Errorf(CodeOverlapViolation, "%s: version %d overlaps version %d", v.Key(), i, i-1)
		}
	}
	return nil
}

// ValidatePayload rejects missing, null, or malformed payloads.
func ValidatePayload(p json.RawMessage) error {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 {
		return Errorf(CodeInvalidPayload, "payload is required")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return Errorf(CodeInvalidPayload, "payload must not be null")
	}
	if !json.Valid(trimmed) {
		return Errorf(CodeInvalidPayload, "payload is not valid JSON")
	}
	return nil
}

// Instants outside [MinTime, MaxTime] have no four-digit RFC 3339 form and
// are rejected on input.
var (
	MinTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 999_999_999, time.UTC)
)

// CheckInstant rejects t when it lies outside [MinTime, MaxTime].
func CheckInstant(what string, t time.Time) error {
	if t.Before(MinTime) || t.After(MaxTime) {
		return Errorf(CodeInvalidPayload, "%s %s is outside years 0001-9999", what, t.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

// ValidateName rejects empty names and names containing control characters.
// Backends use NUL as a key separator.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return Errorf(CodeInvalidPayload, "%s name is required", kind)
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return Errorf(CodeInvalidPayload, "%s name %q contains control characters", kind, name)
	}
	return nil
}

// PrepareVersion validates caller input and builds a version. A nil from
// defaults to now. All timestamps are normalized to UTC.
func PrepareVersion(subdetector, condition string, payload json.RawMessage, from, until *time.Time, now time.Time) (Version, error) {
	if err := ValidateName("subdetector", subdetector); err != nil {
		return Version{}, err
	}
	if err := ValidateName("condition", condition); err != nil {
		return Version{}, err
	}
	if err := ValidatePayload(payload); err != nil {
		return Version{}, Wrap(CodeInvalidPayload, "condition "+condition, err)
	}
	validFrom := now
	if from != nil {
		validFrom = *from
	}
	if err := CheckInstant("validFrom", validFrom); err != nil {
		return Version{}, err
	}
	if until != nil {
		if err := CheckInstant("validUntil", *until); err != nil {
			return Version{}, err
		}
	}
	v := Version{
		ID:          NewVersionID(),
		Subdetector: subdetector,
		Condition:   condition,
		Payload:     append(json.RawMessage(nil), bytes.TrimSpace(payload)...),
		ValidFrom:   validFrom,
		ValidUntil:  until,
		CreatedAt:   now,
	}
	return v.UTC(), nil
}

// PrepareSubdetector validates in and expands it into the subdetector record
// and its initial condition versions. Entries that share a condition name
// become successive versions of that condition.
func PrepareSubdetector(in NewSubdetector, now time.Time) (Subdetector, []Version, error) {
	if err := ValidateName("subdetector", in.Name); err != nil {
		return Subdetector{}, nil, err
	}
	now = now.UTC()

	prepared := make([]Version, 0, len(in.Conditions))
	for i, c := range in.Conditions {
		if strings.TrimSpace(c.Name) == "" {
			return Subdetector{}, nil, Errorf(CodeInvalidPayload, "condition %d: name is required", i)
		}
		v, err := PrepareVersion(in.Name, c.Name, c.Payload, c.ValidFrom, c.ValidUntil, now)
		if err != nil {
			return Subdetector{}, nil, err
		}
		prepared = append(prepared, v)
	}

	slices.SortStableFunc(prepared, func(a, b Version) int {
		if c := strings.Compare(a.Condition, b.Condition); c != 0 {
			return c
		}
		return a.ValidFrom.Compare(b.ValidFrom)
	})

	var (
		versions []Version
		names    []string
		history  []Version
	)
	for i, v := range prepared {
		if i == 0 || prepared[i-1].Condition != v.Condition {
			versions = append(versions, history...)
			history = nil
			names = append(names, v.Condition)
		}
		res, err := PlanAppend(history, v)
		if err != nil {
			return Subdetector{}, nil, err
		}
		history = res.History
	}
	versions = append(versions, history...)

	sd := Subdetector{
		Name:        in.Name,
		Description: in.Description,
		Conditions:  names,
		CreatedAt:   now,
	}
	if names == nil {
		sd.Conditions = []string{}
	}
	if len(in.Metadata) > 0 {
		sd.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			sd.Metadata[k] = v
		}
	}
	return sd, versions, nil
}

// GroupHistories splits versions into per-condition histories and checks
// each one. Backends call this on CreateSubdetector before persisting.
func GroupHistories(sd Subdetector, versions []Version) (map[string][]Version, error) {
	out := make(map[string][]Version, len(sd.Conditions))
	for _, name := range sd.Conditions {
		out[name] = nil
	}
	for _, v := range versions {
		if v.Subdetector != sd.Name {
			return nil, Errorf(CodeInvalidPayload, "version %s belongs to subdetector %q, not %q", v.ID, v.Subdetector, sd.Name)
		}
		if _, ok := out[v.Condition]; !ok {
			return nil, Errorf(CodeInvalidPayload, "version %s references undeclared condition %q", v.ID, v.Condition)
		}
		out[v.Condition] = append(out[v.Condition], v.Clone())
	}
	for name, h := range out {
		if len(h) == 0 {
			return nil, Errorf(CodeInvalidPayload, "condition %q has no versions", name)
		}
		if err := CheckHistory(h); err != nil {
			return nil, err
		}
	}
	return out, nil
}
