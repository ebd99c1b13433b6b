package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"

	"conditionsdb/internal/conditions"
	badgerstore "conditionsdb/internal/conditions/badger"
	"conditionsdb/internal/conditions/memory"
	"conditionsdb/internal/conditions/raftstore"
	"conditionsdb/internal/conditions/sqlite"
	"conditionsdb/internal/config"
	"conditionsdb/internal/home"
)

func homeDir(s config.Settings) (home.Dir, error) {
	if s.Home != "" {
		return home.New(s.Home), nil
	}
	return home.Default()
}

// openStore opens the backend named by the settings under the home directory.
func openStore(ctx context.Context, a *app, stderr io.Writer) (conditions.Store, func() error, error) {
	s := a.settings
	if s.Store == config.StoreMemory {
		a.logger.Warn("memory store selected; nothing will be persisted")
		return memory.NewStore(), func() error { return nil }, nil
	}

	hd, err := homeDir(s)
	if err != nil {
		return nil, nil, err
	}
	if err := hd.EnsureExists(); err != nil {
		return nil, nil, err
	}

	switch s.Store {
	case config.StoreSQLite:
		st, err := sqlite.NewStore(ctx, hd.DatabasePath())
		if err != nil {
			return nil, nil, conditions.Classify("open sqlite store", err)
		}
		return st, st.Close, nil

	case config.StoreBadger:
		cfg := badgerstore.DefaultConfig(hd.BadgerDir())
		cfg.Logger = a.logger.With("component", "badger")
		st, err := badgerstore.Open(cfg)
		if err != nil {
			return nil, nil, conditions.Classify("open badger store", err)
		}
		return st, st.Close, nil

	case config.StoreRaft:
		nodeID, err := hd.NodeID()
		if err != nil {
			return nil, nil, err
		}
		st, err := raftstore.Open(raftstore.Options{
			Dir:          hd.RaftDir(),
			ApplyTimeout: s.Timeout,
			NodeID:       nodeID,
			Logger:       raftLogger(s, stderr),
		})
		if err != nil {
			return nil, nil, conditions.Classify("open raft store", err)
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store type %q", s.Store)
}

// raftLogger builds the hclog logger raft requires, matching the slog
// level and format.
func raftLogger(s config.Settings, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "raft",
		Level:      hclog.LevelFromString(strings.ToLower(s.LogLevel)),
		Output:     w,
		JSONFormat: s.LogFormat == "json",
	})
}
