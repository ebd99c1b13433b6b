package raftstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"conditionsdb/internal/conditions/raftfsm"
)

const (
	defaultNodeID = "conditionsdb"
	logFile       = "raft.db"
	snapshotsKept = 2
)

// Options configures Open.
type Options struct {
	// Dir holds the boltdb log and the snapshot directory.
	Dir string

	// ApplyTimeout bounds each raft.Apply.
	ApplyTimeout time.Duration

	// NodeID is this server's raft identity. It must stay the same across
	// restarts of one directory. Empty means "conditionsdb".
	NodeID string

	// Logger receives raft's internal logs. Nil silences them.
	Logger hclog.Logger
}

// Open starts a durable single-node raft instance in opts.Dir and returns a
// Store once the node has become leader. On first start the node bootstraps
// itself as the only voter; on later starts it replays its log.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("raft directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create raft directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	nodeID := raft.ServerID(opts.NodeID)
	if nodeID == "" {
		nodeID = defaultNodeID
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 10 * time.Second
	}

	bolt, err := raftboltdb.NewBoltStore(filepath.Join(opts.Dir, logFile))
	if err != nil {
		return nil, fmt.Errorf("open raft log: %w", err)
	}
	snaps, err := raft.NewFileSnapshotStoreWithLogger(opts.Dir, snapshotsKept, logger.Named("snapshot"))
	if err != nil {
		bolt.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	addr, transport := raft.NewInmemTransport(raft.ServerAddress(nodeID))

	conf := raft.DefaultConfig()
	conf.LocalID = nodeID
	conf.Logger = logger.Named("raft")
	conf.HeartbeatTimeout = 50 * time.Millisecond
	conf.ElectionTimeout = 50 * time.Millisecond
	conf.LeaderLeaseTimeout = 50 * time.Millisecond
	conf.CommitTimeout = 5 * time.Millisecond

	fsm := raftfsm.New()
	r, err := raft.NewRaft(conf, fsm, bolt, bolt, snaps, transport)
	if err != nil {
		bolt.Close()
		return nil, fmt.Errorf("start raft: %w", err)
	}

	existing, err := raft.HasExistingState(bolt, bolt, snaps)
	if err != nil {
		_ = r.Shutdown().Error()
		bolt.Close()
		return nil, fmt.Errorf("inspect raft state: %w", err)
	}
	if !existing {
		boot := raft.Configuration{Servers: []raft.Server{{ID: nodeID, Address: addr}}}
		if err := r.BootstrapCluster(boot).Error(); err != nil {
			_ = r.Shutdown().Error()
			bolt.Close()
			return nil, fmt.Errorf("bootstrap raft: %w", err)
		}
	}

	if err := waitLeader(r, opts.ApplyTimeout); err != nil {
		_ = r.Shutdown().Error()
		bolt.Close()
		return nil, err
	}
	// Replay everything committed before this start so reads see it.
	if err := r.Barrier(opts.ApplyTimeout).Error(); err != nil {
		_ = r.Shutdown().Error()
		bolt.Close()
		return nil, fmt.Errorf("raft barrier: %w", err)
	}

	s := New(r, fsm, opts.ApplyTimeout)
	s.closers = append(s.closers, bolt.Close)
	return s, nil
}

func waitLeader(r *raft.Raft, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if r.State() == raft.Leader {
			return nil
		}
		select {
		case <-deadline:
			return fmt.Errorf("timed out waiting for raft leadership")
		case <-tick.C:
		}
	}
}
