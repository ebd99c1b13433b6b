// Package resolver computes point-in-time snapshots of condition versions.
//
// A date query binary-searches every condition history of the requested
// subdetectors. A tagged query reads the tag's frozen entries instead and
// ignores the date.
package resolver

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/logging"
)

// DefaultParallelism bounds how many subdetectors are read at once.
const DefaultParallelism = 8

// Resolver resolves snapshots against a Store.
type Resolver struct {
	store       conditions.Store
	logger      *slog.Logger
	parallelism int
}

// New creates a Resolver over store.
func New(store conditions.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:       store,
		logger:      logging.Default(logger).With("component", "resolver"),
		parallelism: DefaultParallelism,
	}
}

// Resolve returns the snapshot for subdetectors (all when empty) at the
// given instant, or the frozen contents of tag when tag is non-empty.
// Conditions without a version valid at the instant are omitted.
func (r *Resolver) Resolve(ctx context.Context, subdetectors []string, at time.Time, tag string) (conditions.Snapshot, error) {
	if tag != "" {
		if !at.IsZero() {
			r.logger.Debug("tag supersedes date", "tag", tag, "at", at)
		}
		return r.resolveTag(ctx, subdetectors, tag)
	}
	return r.resolveAt(ctx, subdetectors, at.UTC())
}

// names returns the requested names sorted and deduplicated, or every
// subdetector in the store when none were requested.
func (r *Resolver) names(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return r.store.ListSubdetectorNames(ctx)
	}
	names := slices.Clone(requested)
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (r *Resolver) resolveAt(ctx context.Context, requested []string, at time.Time) (conditions.Snapshot, error) {
	names, err := r.names(ctx, requested)
	if err != nil {
		return conditions.Snapshot{}, err
	}

	results := make([][]conditions.Entry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, name := range names {
		g.Go(func() error {
			entries, err := r.resolveSubdetector(gctx, name, at)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return conditions.Snapshot{}, err
	}

	snap := conditions.Snapshot{At: &at, Entries: []conditions.Entry{}}
	for _, entries := range results {
		snap.Entries = append(snap.Entries, entries...)
	}
	return snap, nil
}

func (r *Resolver) resolveSubdetector(ctx context.Context, name string, at time.Time) ([]conditions.Entry, error) {
	sd, err := r.store.GetSubdetector(ctx, name)
	if err != nil {
		return nil, err
	}
	var entries []conditions.Entry
	for _, cond := range sd.Conditions {
		history, err := r.store.GetConditionVersions(ctx, name, cond)
		if err != nil {
			return nil, err
		}
		v, ok := conditions.ValidAt(history, at)
		if !ok {
			continue
		}
		entries = append(entries, conditions.Entry{Subdetector: name, Condition: cond, Version: v})
	}
	return entries, nil
}

func (r *Resolver) resolveTag(ctx context.Context, requested []string, name string) (conditions.Snapshot, error) {
	tag, err := r.store.GetGlobalTag(ctx, name)
	if err != nil {
		return conditions.Snapshot{}, err
	}

	want := map[string]bool{}
	for _, sd := range requested {
		if _, err := r.store.GetSubdetector(ctx, sd); err != nil {
			return conditions.Snapshot{}, err
		}
		want[sd] = true
	}

	snap := conditions.Snapshot{Tag: tag.Name, Entries: []conditions.Entry{}}
	for _, e := range tag.Entries {
		if len(want) > 0 && !want[e.Subdetector] {
			continue
		}
		snap.Entries = append(snap.Entries, conditions.Entry{
			Subdetector: e.Subdetector,
			Condition:   e.Condition,
			Version:     e.Version(),
		})
	}
	SortEntries(snap.Entries)
	return snap, nil
}

// SortEntries orders entries by subdetector, then condition.
func SortEntries(entries []conditions.Entry) {
	slices.SortFunc(entries, func(a, b conditions.Entry) int {
		return cmp.Or(strings.Compare(a.Subdetector, b.Subdetector), strings.Compare(a.Condition, b.Condition))
	})
}
