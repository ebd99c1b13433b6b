// Package catalog is the query façade over the conditions store.
//
// Every operation runs under the service timeout and returns either its
// result or a conditions.Error. Storage and context errors never escape
// unclassified.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/keylock"
	"conditionsdb/internal/logging"
	"conditionsdb/internal/resolver"
	"conditionsdb/internal/tags"
)

// DefaultTimeout bounds each operation when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	Store   conditions.Store
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Timeout time.Duration
}

// AppendRequest describes a new version for an existing condition.
// A nil ValidFrom means now.
type AppendRequest struct {
	Subdetector string
	Condition   string
	Payload     json.RawMessage
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// SnapshotRequest selects what GetSnapshot resolves. A nil At means now.
// When Tag is set, At is ignored.
type SnapshotRequest struct {
	At           *time.Time
	Tag          string
	Subdetectors []string
}

// Service implements the conditions query façade.
type Service struct {
	store    conditions.Store
	resolver *resolver.Resolver
	tags     *tags.Manager
	clock    clockwork.Clock
	logger   *slog.Logger
	timeout  time.Duration
	appends  keylock.Locker[conditions.Key]
}

// New creates a Service.
func New(opts Options) *Service {
	logger := logging.Default(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := resolver.New(opts.Store, logger)
	return &Service{
		store:    opts.Store,
		resolver: res,
		tags: tags.New(tags.Options{
			Store:    opts.Store,
			Resolver: res,
			Clock:    clock,
			Logger:   logger,
		}),
		clock:   clock,
		logger:  logger.With("component", "catalog"),
		timeout: timeout,
	}
}

// run executes fn under the service timeout and classifies its error.
func run[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, conditions.Classify(op, err)
	}
	return out, nil
}

// ListSubdetectors returns all subdetector names in order.
func (s *Service) ListSubdetectors(ctx context.Context) ([]string, error) {
	return run(ctx, s, "list subdetectors", s.store.ListSubdetectorNames)
}

// GetAllSubdetectors returns every subdetector record in name order.
func (s *Service) GetAllSubdetectors(ctx context.Context) ([]conditions.Subdetector, error) {
	return run(ctx, s, "get all subdetectors", s.store.ListSubdetectors)
}

// ShowSubdetector returns one subdetector.
func (s *Service) ShowSubdetector(ctx context.Context, name string) (*conditions.Subdetector, error) {
	return run(ctx, s, "show subdetector", func(ctx context.Context) (*conditions.Subdetector, error) {
		return s.store.GetSubdetector(ctx, name)
	})
}

// AddSubdetector validates in and creates the subdetector with its initial
// condition versions in one atomic step.
func (s *Service) AddSubdetector(ctx context.Context, in conditions.NewSubdetector) (*conditions.Subdetector, error) {
	return run(ctx, s, "add subdetector", func(ctx context.Context) (*conditions.Subdetector, error) {
		sd, versions, err := conditions.PrepareSubdetector(in, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateSubdetector(ctx, sd, versions); err != nil {
			return nil, err
		}
		s.logger.Info("subdetector added", "subdetector", sd.Name, "conditions", len(sd.Conditions), "versions", len(versions))
		return &sd, nil
	})
}

// AppendCondition appends a version to an existing condition. Appends to
// the same condition are serialized.
func (s *Service) AppendCondition(ctx context.Context, req AppendRequest) (conditions.Version, error) {
	return run(ctx, s, "append condition", func(ctx context.Context) (conditions.Version, error) {
		v, err := conditions.PrepareVersion(req.Subdetector, req.Condition, req.Payload, req.ValidFrom, req.ValidUntil, s.clock.Now())
		if err != nil {
			return conditions.Version{}, err
		}

		unlock, err := s.appends.Lock(ctx, v.Key())
		if err != nil {
			return conditions.Version{}, err
		}
		defer unlock()

		added, err := s.store.AppendConditionVersion(ctx, v)
		if err != nil {
			return conditions.Version{}, err
		}
		s.logger.Info("condition version appended", "key", added.Key().String(), "version", added.ID, "valid_from", added.ValidFrom)
		return added, nil
	})
}

// ConditionHistory returns every version of one condition in order.
func (s *Service) ConditionHistory(ctx context.Context, subdetector, condition string) ([]conditions.Version, error) {
	return run(ctx, s, "condition history", func(ctx context.Context) ([]conditions.Version, error) {
		return s.store.GetConditionVersions(ctx, subdetector, condition)
	})
}

// ShowCondition returns the version valid now, or the latest version when
// none is valid now.
func (s *Service) ShowCondition(ctx context.Context, subdetector, condition string) (conditions.Version, error) {
	return run(ctx, s, "show condition", func(ctx context.Context) (conditions.Version, error) {
		history, err := s.store.GetConditionVersions(ctx, subdetector, condition)
		if err != nil {
			return conditions.Version{}, err
		}
		if v, ok := conditions.ValidAt(history, s.clock.Now().UTC()); ok {
			return v, nil
		}
		v, _ := conditions.Latest(history)
		return v, nil
	})
}

// GetSnapshot resolves the requested subdetectors at a date or by tag.
func (s *Service) GetSnapshot(ctx context.Context, req SnapshotRequest) (conditions.Snapshot, error) {
	return run(ctx, s, "get snapshot", func(ctx context.Context) (conditions.Snapshot, error) {
		var at time.Time
		switch {
		case req.At != nil:
			at = *req.At
		case req.Tag == "":
			at = s.clock.Now()
		}
		return s.resolver.Resolve(ctx, req.Subdetectors, at, req.Tag)
	})
}

// ShowConditionsByTag returns the frozen conditions of one subdetector in
// a tag.
func (s *Service) ShowConditionsByTag(ctx context.Context, subdetector, tag string) (conditions.Snapshot, error) {
	return run(ctx, s, "show conditions by tag", func(ctx context.Context) (conditions.Snapshot, error) {
		return s.tags.ResolveForSubdetector(ctx, tag, subdetector)
	})
}

// CreateGlobalTag freezes every subdetector at reference (now when nil).
// An empty name is replaced by a generated one.
func (s *Service) CreateGlobalTag(ctx context.Context, name string, reference *time.Time) (*conditions.GlobalTag, error) {
	return run(ctx, s, "create global tag", func(ctx context.Context) (*conditions.GlobalTag, error) {
		return s.tags.Create(ctx, name, reference)
	})
}

// ListGlobalTags returns all tag names in order.
func (s *Service) ListGlobalTags(ctx context.Context) ([]string, error) {
	return run(ctx, s, "list global tags", s.tags.List)
}

// GetGlobalTag returns one tag with its frozen entries.
func (s *Service) GetGlobalTag(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	return run(ctx, s, "get global tag", func(ctx context.Context) (*conditions.GlobalTag, error) {
		return s.tags.Get(ctx, name)
	})
}
