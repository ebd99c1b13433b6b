// Package memory provides an in-memory conditions.Store implementation.
//
// It backs unit tests and the raft FSM, which replays its log into a fresh
// memory store. Nothing is persisted across restarts on its own.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"conditionsdb/internal/conditions"
)

// Store is an in-memory conditions.Store implementation.
type Store struct {
	mu           sync.RWMutex
	revision     uint64
	subdetectors map[string]conditions.Subdetector
	histories    map[conditions.Key][]conditions.Version
	tags         map[string]conditions.GlobalTag
}

var _ conditions.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		subdetectors: make(map[string]conditions.Subdetector),
		histories:    make(map[conditions.Key][]conditions.Version),
		tags:         make(map[string]conditions.GlobalTag),
	}
}

func (s *Store) CreateSubdetector(ctx context.Context, sd conditions.Subdetector, versions []conditions.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	histories, err := conditions.GroupHistories(sd, versions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subdetectors[sd.Name]; ok {
		return conditions.Errorf(conditions.CodeDuplicateName, "subdetector %q already exists", sd.Name)
	}
	sd = sd.Clone()
	slices.Sort(sd.Conditions)
	s.subdetectors[sd.Name] = sd
	for name, h := range histories {
		s.histories[conditions.Key{Subdetector: sd.Name, Condition: name}] = h
	}
	s.revision++
	return nil
}

func (s *Store) GetSubdetector(ctx context.Context, name string) (*conditions.Subdetector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sd, ok := s.subdetectors[name]
	if !ok {
		return nil, conditions.Errorf(conditions.CodeNotFound, "subdetector %q not found", name)
	}
	c := sd.Clone()
	return &c, nil
}

func (s *Store) ListSubdetectors(ctx context.Context) ([]conditions.Subdetector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]conditions.Subdetector, 0, len(s.subdetectors))
	for _, sd := range s.subdetectors {
		out = append(out, sd.Clone())
	}
	slices.SortFunc(out, func(a, b conditions.Subdetector) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) ListSubdetectorNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.subdetectors))
	for name := range s.subdetectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) GetConditionVersions(ctx context.Context, subdetector, condition string) ([]conditions.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, err := s.history(subdetector, condition)
	if err != nil {
		return nil, err
	}
	out := make([]conditions.Version, len(h))
	for i, v := range h {
		out[i] = v.Clone()
	}
	return out, nil
}

// history returns the live history slice for a key. Caller must hold mu.
func (s *Store) history(subdetector, condition string) ([]conditions.Version, error) {
	if _, ok := s.subdetectors[subdetector]; !ok {
		return nil, conditions.Errorf(conditions.CodeNotFound, "subdetector %q not found", subdetector)
	}
	h, ok := s.histories[conditions.Key{Subdetector: subdetector, Condition: condition}]
	if !ok {
		return nil, conditions.Errorf(conditions.CodeNotFound, "condition %q not found in subdetector %q", condition, subdetector)
	}
	return h, nil
}

func (s *Store) AppendConditionVersion(ctx context.Context, v conditions.Version) (conditions.Version, error) {
	if err := ctx.Err(); err != nil {
		return conditions.Version{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.history(v.Subdetector, v.Condition)
	if err != nil {
		return conditions.Version{}, err
	}
	res, err := conditions.PlanAppend(h, v)
	if err != nil {
		return conditions.Version{}, err
	}
	s.histories[v.Key()] = res.History
	s.revision++
	return res.Added.Clone(), nil
}

func (s *Store) CreateGlobalTag(ctx context.Context, tag conditions.GlobalTag, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[tag.Name]; ok {
		return conditions.Errorf(conditions.CodeDuplicateName, "global tag %q already exists", tag.Name)
	}
	if s.revision != revision {
		return conditions.ErrStaleRevision
	}
	s.tags[tag.Name] = tag.Clone()
	s.revision++
	return nil
}

func (s *Store) GetGlobalTag(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[name]
	if !ok {
		return nil, conditions.Errorf(conditions.CodeNotFound, "global tag %q not found", name)
	}
	c := tag.Clone()
	return &c, nil
}

func (s *Store) ListGlobalTagNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tags))
	for name := range s.tags {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Revision(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

// State is a serialisable copy of the store contents.
type State struct {
	Revision     uint64
	Subdetectors []conditions.Subdetector
	Versions     []conditions.Version
	Tags         []conditions.GlobalTag
}

// Export returns a deep copy of the whole store, ordered deterministically.
func (s *Store) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{Revision: s.revision}
	for _, sd := range s.subdetectors {
		st.Subdetectors = append(st.Subdetectors, sd.Clone())
	}
	slices.SortFunc(st.Subdetectors, func(a, b conditions.Subdetector) int { return strings.Compare(a.Name, b.Name) })

	keys := make([]conditions.Key, 0, len(s.histories))
	for k := range s.histories {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b conditions.Key) int {
		return cmp.Or(strings.Compare(a.Subdetector, b.Subdetector), strings.Compare(a.Condition, b.Condition))
	})
	for _, k := range keys {
		for _, v := range s.histories[k] {
			st.Versions = append(st.Versions, v.Clone())
		}
	}

	for _, t := range s.tags {
		st.Tags = append(st.Tags, t.Clone())
	}
	slices.SortFunc(st.Tags, func(a, b conditions.GlobalTag) int { return strings.Compare(a.Name, b.Name) })
	return st
}

// Import replaces the store contents with st. Histories are re-validated.
func (s *Store) Import(st State) error {
	subdetectors := make(map[string]conditions.Subdetector, len(st.Subdetectors))
	for _, sd := range st.Subdetectors {
		subdetectors[sd.Name] = sd.Clone()
	}
	histories := make(map[conditions.Key][]conditions.Version)
	for _, v := range st.Versions {
		if _, ok := subdetectors[v.Subdetector]; !ok {
			return conditions.Errorf(conditions.CodeInvalidPayload, "version %s references unknown subdetector %q", v.ID, v.Subdetector)
		}
		histories[v.Key()] = append(histories[v.Key()], v.Clone())
	}
	for _, h := range histories {
		if err := conditions.CheckHistory(h); err != nil {
			return err
		}
	}
	tags := make(map[string]conditions.GlobalTag, len(st.Tags))
	for _, t := range st.Tags {
		tags[t.Name] = t.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision = st.Revision
	s.subdetectors = subdetectors
	s.histories = histories
	s.tags = tags
	return nil
}
