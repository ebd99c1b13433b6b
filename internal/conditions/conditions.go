// Package conditions defines the conditions data model and the Store
// contract that every persistence backend implements.
//
// A subdetector owns a set of named conditions. Each condition is an
// append-only history of versions, each valid over a half-open interval
// [ValidFrom, ValidUntil). A global tag freezes a copy of the versions that
// were valid at a reference instant when the tag was created.
//
// Store does not:
//   - Resolve snapshots (see package resolver)
//   - Decide tag contents (see package tags)
//   - Apply default timestamps or validate caller input (see PrepareSubdetector)
//
// Store does enforce the history invariants on every write, so a backend
// never persists overlapping intervals regardless of caller.
package conditions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStaleRevision is returned by Store.CreateGlobalTag when the store was
// mutated after the caller read the revision it passed in. It is a
// coordination signal between the tag manager and the store, not a domain
// error, and never reaches façade callers.
var ErrStaleRevision = errors.New("store revision changed")

// Store persists subdetectors, condition histories, and global tags.
//
// All methods are safe for concurrent use. Mutations are durable before they
// return. Returned values are copies; callers may modify them freely.
type Store interface {
	// CreateSubdetector atomically persists sd and its initial versions.
	// Fails with ErrDuplicateName if a subdetector with the same name exists.
	CreateSubdetector(ctx context.Context, sd Subdetector, versions []Version) error

	// GetSubdetector returns the named subdetector or ErrNotFound.
	GetSubdetector(ctx context.Context, name string) (*Subdetector, error)

	// ListSubdetectors returns all subdetectors ordered by name.
	ListSubdetectors(ctx context.Context) ([]Subdetector, error)

	// ListSubdetectorNames returns all subdetector names in order.
	ListSubdetectorNames(ctx context.Context) ([]string, error)

	// GetConditionVersions returns the history of one condition ordered by
	// ValidFrom. Fails with ErrNotFound if the subdetector or condition is unknown.
	GetConditionVersions(ctx context.Context, subdetector, condition string) ([]Version, error)

	// AppendConditionVersion appends v to the history of v's key, closing the
	// previous open-ended version. Fails with ErrOverlapViolation (store
	// unchanged) if v would break the non-overlap invariant, and with
	// ErrNotFound if the key is unknown. Returns the stored version.
	AppendConditionVersion(ctx context.Context, v Version) (Version, error)

	// CreateGlobalTag persists tag if the store is still at revision.
	// Fails with ErrDuplicateName if the name is taken, or ErrStaleRevision
	// if any mutation happened since revision was read.
	CreateGlobalTag(ctx context.Context, tag GlobalTag, revision uint64) error

	// GetGlobalTag returns the named tag or ErrNotFound.
	GetGlobalTag(ctx context.Context, name string) (*GlobalTag, error)

	// ListGlobalTagNames returns all tag names in order.
	ListGlobalTagNames(ctx context.Context) ([]string, error)

	// Revision returns a counter that increases on every successful mutation.
	Revision(ctx context.Context) (uint64, error)
}

// Key identifies a condition within the store.
type Key struct {
	Subdetector string `json:"subdetector"`
	Condition   string `json:"condition"`
}

func (k Key) String() string {
	return k.Subdetector + "/" + k.Condition
}

// Subdetector is a named detector subsystem owning a set of conditions.
// Conditions holds names only; versions live in the condition histories.
type Subdetector struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Conditions  []string          `json:"conditions"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Clone returns a deep copy of sd.
func (sd Subdetector) Clone() Subdetector {
	c := sd
	if sd.Metadata != nil {
		c.Metadata = make(map[string]string, len(sd.Metadata))
		for k, v := range sd.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Conditions = append([]string(nil), sd.Conditions...)
	return c
}

// Version is one immutable, interval-bounded instance of a condition payload.
// ValidUntil is nil while the version is open-ended.
type Version struct {
	ID          uuid.UUID       `json:"id"`
	Subdetector string          `json:"subdetector"`
	Condition   string          `json:"condition"`
	Payload     json.RawMessage `json:"payload"`
	ValidFrom   time.Time       `json:"validFrom"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Key returns the condition key the version belongs to.
func (v Version) Key() Key {
	return Key{Subdetector: v.Subdetector, Condition: v.Condition}
}

// Contains reports whether t falls within [ValidFrom, ValidUntil).
func (v Version) Contains(t time.Time) bool {
	if t.Before(v.ValidFrom) {
		return false
	}
	return v.ValidUntil == nil || t.Before(*v.ValidUntil)
}

// Clone returns a deep copy of v.
func (v Version) Clone() Version {
	c := v
	c.Payload = append(json.RawMessage(nil), v.Payload...)
	if v.ValidUntil != nil {
		u := *v.ValidUntil
		c.ValidUntil = &u
	}
	return c
}

// UTC returns a copy of v with every timestamp in UTC.
func (v Version) UTC() Version {
	c := v.Clone()
	c.ValidFrom = c.ValidFrom.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	if c.ValidUntil != nil {
		u := c.ValidUntil.UTC()
		c.ValidUntil = &u
	}
	return c
}

// TagEntry is one frozen version inside a global tag. It is a copy of the
// version as it was when the tag was created.
type TagEntry struct {
	Subdetector string          `json:"subdetector"`
	Condition   string          `json:"condition"`
	VersionID   uuid.UUID       `json:"versionId"`
	Payload     json.RawMessage `json:"payload"`
	ValidFrom   time.Time       `json:"validFrom"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
}

// Version converts the entry back into the version it was frozen from.
func (e TagEntry) Version() Version {
	v := Version{
		ID:          e.VersionID,
		Subdetector: e.Subdetector,
		Condition:   e.Condition,
		Payload:     append(json.RawMessage(nil), e.Payload...),
		ValidFrom:   e.ValidFrom,
	}
	if e.ValidUntil != nil {
		u := *e.ValidUntil
		v.ValidUntil = &u
	}
	return v
}

// EntryFromVersion freezes v into a tag entry.
func EntryFromVersion(v Version) TagEntry {
	c := v.Clone()
	return TagEntry{
		Subdetector: c.Subdetector,
		Condition:   c.Condition,
		VersionID:   c.ID,
		Payload:     c.Payload,
		ValidFrom:   c.ValidFrom,
		ValidUntil:  c.ValidUntil,
	}
}

// GlobalTag is a named, immutable set of condition versions frozen at
// CreatedAt by resolving all subdetectors at Reference.
type GlobalTag struct {
	Name      string     `json:"name"`
	Reference time.Time  `json:"reference"`
	CreatedAt time.Time  `json:"createdAt"`
	Entries   []TagEntry `json:"entries"`
}

// Clone returns a deep copy of t.
func (t GlobalTag) Clone() GlobalTag {
	c := t
	c.Entries = make([]TagEntry, len(t.Entries))
	for i, e := range t.Entries {
		c.Entries[i] = EntryFromVersion(e.Version())
	}
	return c
}

// UTC returns a copy of t with every timestamp in UTC.
func (t GlobalTag) UTC() GlobalTag {
	c := t.Clone()
	c.Reference = c.Reference.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	for i := range c.Entries {
		c.Entries[i] = EntryFromVersion(c.Entries[i].Version().UTC())
	}
	return c
}

// Entry is one resolved condition in a snapshot.
type Entry struct {
	Subdetector string  `json:"subdetector"`
	Condition   string  `json:"condition"`
	Version     Version `json:"version"`
}

// Snapshot is a transient resolution result. At is set for date queries,
// Tag for tagged queries. Entries are ordered by subdetector, then condition.
type Snapshot struct {
	At      *time.Time `json:"at,omitempty"`
	Tag     string     `json:"tag,omitempty"`
	Entries []Entry    `json:"entries"`
}

// For returns the condition name → version view for one subdetector.
func (s Snapshot) For(subdetector string) map[string]Version {
	out := make(map[string]Version)
	for _, e := range s.Entries {
		if e.Subdetector == subdetector {
			out[e.Condition] = e.Version
		}
	}
	return out
}

// Subdetectors returns the distinct subdetector names present in s, in order.
func (s Snapshot) Subdetectors() []string {
	var names []string
	for _, e := range s.Entries {
		if len(names) == 0 || names[len(names)-1] != e.Subdetector {
			names = append(names, e.Subdetector)
		}
	}
	return names
}

// NewSubdetector is the caller input for creating a subdetector with its
// initial conditions.
type NewSubdetector struct {
	Name        string
	Description string
	Metadata    map[string]string
	Conditions  []ConditionInput
}

// ConditionInput describes one initial condition version. A nil ValidFrom
// defaults to the operation timestamp.
type ConditionInput struct {
	Name       string
	Payload    json.RawMessage
	ValidFrom  *time.Time
	ValidUntil *time.Time
}
