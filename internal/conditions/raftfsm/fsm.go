// Package raftfsm provides a Raft FSM that applies conditions commands to an
// in-memory store. It bridges Raft's replicated log with the store, handling
// command dispatch, snapshots for log compaction, and restore for follower
// catch-up.
package raftfsm

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"conditionsdb/internal/conditions/command"
	"conditionsdb/internal/conditions/memory"
)

// FSM implements raft.FSM by dispatching decoded commands to an in-memory
// store.
type FSM struct {
	store *memory.Store
}

var _ raft.FSM = (*FSM)(nil)

// New creates a new FSM with a fresh in-memory store.
func New() *FSM {
	return &FSM{store: memory.NewStore()}
}

// Store returns the underlying in-memory store for serving reads.
func (f *FSM) Store() *memory.Store {
	return f.store
}

// Apply decodes a committed log entry and dispatches it to the store.
// Returns the stored conditions.Version for appends, nil for other
// successful commands, or an error. Domain errors are returned as values so
// the leader can hand them back to the caller unchanged.
func (f *FSM) Apply(l *raft.Log) any {
	cmd, err := command.Unmarshal(l.Data)
	if err != nil {
		return fmt.Errorf("unmarshal conditions command: %w", err)
	}

	ctx := context.Background()

	switch cmd.Op {
	case command.OpCreateSubdetector:
		return f.store.CreateSubdetector(ctx, *cmd.Subdetector, cmd.Versions)
	case command.OpAppendVersion:
		added, err := f.store.AppendConditionVersion(ctx, *cmd.Version)
		if err != nil {
			return err
		}
		return added
	case command.OpCreateGlobalTag:
		return f.store.CreateGlobalTag(ctx, *cmd.Tag, cmd.Revision)
	default:
		return fmt.Errorf("unknown conditions command: %s", cmd.Op)
	}
}

// Snapshot captures the current store state for Raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := command.MarshalSnapshot(f.store.Export())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the FSM's state with a snapshot.
// Raft guarantees this is never called concurrently with Apply or Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	st, err := command.UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := f.store.Import(st); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}

// fsmSnapshot holds serialized snapshot data.
type fsmSnapshot struct {
	data []byte
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

// Persist writes the snapshot data to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op.
func (s *fsmSnapshot) Release() {}
