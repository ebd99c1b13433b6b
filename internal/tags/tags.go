// Package tags creates and reads global tags.
//
// A tag is created by resolving every subdetector at a reference instant and
// persisting a copy of the result. The store revision is read before
// resolving and checked again on write; if anything was committed in
// between, the resolution is thrown away and redone. A tag therefore never
// mixes versions from before and after a concurrent append.
package tags

import (
	"context"
	"errors"
	"log/slog"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/jonboulle/clockwork"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/logging"
	"conditionsdb/internal/resolver"
)

// DefaultMaxAttempts is how many times Create resolves before giving up.
const DefaultMaxAttempts = 5

// Options configures a Manager.
type Options struct {
	Store    conditions.Store
	Resolver *resolver.Resolver // defaults to resolver.New(Store, Logger)
	Clock    clockwork.Clock    // defaults to the real clock
	Logger   *slog.Logger

	// MaxAttempts bounds the optimistic retry loop. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int
}

// Manager creates and reads global tags.
type Manager struct {
	store       conditions.Store
	resolver    *resolver.Resolver
	clock       clockwork.Clock
	logger      *slog.Logger
	maxAttempts int
	newName     func() string
}

// New creates a Manager.
func New(opts Options) *Manager {
	logger := logging.Default(opts.Logger)
	m := &Manager{
		store:       opts.Store,
		resolver:    opts.Resolver,
		clock:       opts.Clock,
		logger:      logger.With("component", "tags"),
		maxAttempts: opts.MaxAttempts,
		newName:     func() string { return petname.Generate(2, "-") },
	}
	if m.resolver == nil {
		m.resolver = resolver.New(opts.Store, logger)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	return m
}

// Create freezes the state of all subdetectors at reference (now when nil)
// under name. An empty name is replaced by a generated one.
func (m *Manager) Create(ctx context.Context, name string, reference *time.Time) (*conditions.GlobalTag, error) {
	if reference != nil {
		if err := conditions.CheckInstant("reference", *reference); err != nil {
			return nil, err
		}
	}
	if name == "" {
		generated, err := m.generateName(ctx)
		if err != nil {
			return nil, err
		}
		name = generated
	} else if err := conditions.ValidateName("global tag", name); err != nil {
		return nil, err
	} else if err := m.ensureFree(ctx, name); err != nil {
		return nil, err
	}

	ref := m.clock.Now().UTC()
	if reference != nil {
		ref = reference.UTC()
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		tag, err := m.attempt(ctx, name, ref)
		if errors.Is(err, conditions.ErrStaleRevision) {
			m.logger.Warn("store changed during tag resolution, retrying",
				"tag", name, "attempt", attempt, "max_attempts", m.maxAttempts)
			continue
		}
		if err != nil {
			return nil, err
		}
		m.logger.Info("global tag created", "tag", name, "reference", ref, "entries", len(tag.Entries))
		return tag, nil
	}
	return nil, conditions.Errorf(conditions.CodeTimeout,
		"global tag %q: store kept changing during %d resolution attempts", name, m.maxAttempts)
}

func (m *Manager) attempt(ctx context.Context, name string, ref time.Time) (*conditions.GlobalTag, error) {
	rev, err := m.store.Revision(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := m.resolver.Resolve(ctx, nil, ref, "")
	if err != nil {
		return nil, err
	}

	tag := conditions.GlobalTag{
		Name:      name,
		Reference: ref,
		CreatedAt: m.clock.Now().UTC(),
		Entries:   make([]conditions.TagEntry, 0, len(snap.Entries)),
	}
	for _, e := range snap.Entries {
		tag.Entries = append(tag.Entries, conditions.EntryFromVersion(e.Version))
	}
	if err := m.store.CreateGlobalTag(ctx, tag, rev); err != nil {
		return nil, err
	}
	return &tag, nil
}

func (m *Manager) ensureFree(ctx context.Context, name string) error {
	_, err := m.store.GetGlobalTag(ctx, name)
	switch {
	case err == nil:
		return conditions.Errorf(conditions.CodeDuplicateName, "global tag %q already exists", name)
	case errors.Is(err, conditions.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (m *Manager) generateName(ctx context.Context) (string, error) {
	var err error
	for range m.maxAttempts {
		name := m.newName()
		if err = m.ensureFree(ctx, name); err == nil {
			return name, nil
		}
		if !errors.Is(err, conditions.ErrDuplicateName) {
			return "", err
		}
	}
	return "", err
}

// List returns all tag names in order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.ListGlobalTagNames(ctx)
}

// Get returns the stored tag.
func (m *Manager) Get(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	return m.store.GetGlobalTag(ctx, name)
}

// Resolve returns the frozen snapshot of the named tag.
func (m *Manager) Resolve(ctx context.Context, name string) (conditions.Snapshot, error) {
	return m.resolver.Resolve(ctx, nil, time.Time{}, name)
}

// ResolveForSubdetector returns the frozen entries of one subdetector.
// Fails with ErrNotFound if the tag is unknown or holds nothing for it.
func (m *Manager) ResolveForSubdetector(ctx context.Context, name, subdetector string) (conditions.Snapshot, error) {
	tag, err := m.store.GetGlobalTag(ctx, name)
	if err != nil {
		return conditions.Snapshot{}, err
	}
	snap := conditions.Snapshot{Tag: tag.Name, Entries: []conditions.Entry{}}
	for _, e := range tag.Entries {
		if e.Subdetector == subdetector {
			snap.Entries = append(snap.Entries, conditions.Entry{
				Subdetector: e.Subdetector,
				Condition:   e.Condition,
				Version:     e.Version(),
			})
		}
	}
	if len(snap.Entries) == 0 {
		return conditions.Snapshot{}, conditions.Errorf(conditions.CodeNotFound,
			"global tag %q has no entries for subdetector %q", name, subdetector)
	}
	resolver.SortEntries(snap.Entries)
	return snap, nil
}
