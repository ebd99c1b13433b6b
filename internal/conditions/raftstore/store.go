// Package raftstore provides a conditions.Store backed by a single-node
// hashicorp/raft instance. Writes go through raft.Apply() which persists
// commands to the raft log (boltdb) before dispatching to the FSM. Reads
// delegate directly to the FSM's in-memory store.
//
// Multi-node replication is out of scope; raft supplies the durable log and
// snapshot machinery.
package raftstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/conditions/command"
	"conditionsdb/internal/conditions/raftfsm"
)

var _ conditions.Store = (*Store)(nil)

// Store implements conditions.Store by routing writes through raft.Apply()
// for persistence and reading from the FSM's in-memory store.
type Store struct {
	fsm          *raftfsm.FSM
	raft         *raft.Raft
	applyTimeout time.Duration

	// closers release resources owned by Open, in order.
	closers []func() error
}

// New creates a new Store over an already running raft instance.
func New(r *raft.Raft, fsm *raftfsm.FSM, applyTimeout time.Duration) *Store {
	return &Store{
		fsm:          fsm,
		raft:         r,
		applyTimeout: applyTimeout,
	}
}

// apply serializes a command and submits it through raft.Apply(), which
// persists to the log before dispatching to FSM.Apply(). The apply timeout
// is capped by ctx's deadline.
func (s *Store) apply(ctx context.Context, cmd *command.Command) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := command.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	timeout, err := s.timeoutFor(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	future := s.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrEnqueueTimeout) {
			return nil, fmt.Errorf("raft apply: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	resp := future.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}

// timeoutFor returns the raft.Apply timeout for ctx at now. raft.Apply
// waits forever on a non-positive timeout, so an expired deadline is an
// error here instead of a zero timeout.
func (s *Store) timeoutFor(ctx context.Context, now time.Time) (time.Duration, error) {
	timeout := s.applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return 0, fmt.Errorf("raft apply: %w", context.DeadlineExceeded)
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	return timeout, nil
}

func (s *Store) CreateSubdetector(ctx context.Context, sd conditions.Subdetector, versions []conditions.Version) error {
	// Reject locally first so bad input never reaches the log.
	if _, err := conditions.GroupHistories(sd, versions); err != nil {
		return err
	}
	_, err := s.apply(ctx, command.NewCreateSubdetector(sd, versions))
	return err
}

func (s *Store) AppendConditionVersion(ctx context.Context, v conditions.Version) (conditions.Version, error) {
	resp, err := s.apply(ctx, command.NewAppendVersion(v))
	if err != nil {
		return conditions.Version{}, err
	}
	added, ok := resp.(conditions.Version)
	if !ok {
		return conditions.Version{}, fmt.Errorf("unexpected append response %T", resp)
	}
	return added, nil
}

func (s *Store) CreateGlobalTag(ctx context.Context, tag conditions.GlobalTag, revision uint64) error {
	_, err := s.apply(ctx, command.NewCreateGlobalTag(tag, revision))
	return err
}

// ---------------------------------------------------------------------------
// Read methods, delegated to fsm.Store()
// ---------------------------------------------------------------------------

func (s *Store) GetSubdetector(ctx context.Context, name string) (*conditions.Subdetector, error) {
	return s.fsm.Store().GetSubdetector(ctx, name)
}

func (s *Store) ListSubdetectors(ctx context.Context) ([]conditions.Subdetector, error) {
	return s.fsm.Store().ListSubdetectors(ctx)
}

func (s *Store) ListSubdetectorNames(ctx context.Context) ([]string, error) {
	return s.fsm.Store().ListSubdetectorNames(ctx)
}

func (s *Store) GetConditionVersions(ctx context.Context, subdetector, condition string) ([]conditions.Version, error) {
	return s.fsm.Store().GetConditionVersions(ctx, subdetector, condition)
}

func (s *Store) GetGlobalTag(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	return s.fsm.Store().GetGlobalTag(ctx, name)
}

func (s *Store) ListGlobalTagNames(ctx context.Context) ([]string, error) {
	return s.fsm.Store().ListGlobalTagNames(ctx)
}

func (s *Store) Revision(ctx context.Context) (uint64, error) {
	return s.fsm.Store().Revision(ctx)
}

// Close shuts raft down and releases whatever Open acquired.
func (s *Store) Close() error {
	var errs []error
	if err := s.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("raft shutdown: %w", err))
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
