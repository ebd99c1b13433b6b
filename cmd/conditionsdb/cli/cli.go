// Package cli implements the conditionsdb command tree. Every command opens
// the configured store, runs one catalog operation and prints the result.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"conditionsdb/internal/catalog"
	"conditionsdb/internal/conditions"
	"conditionsdb/internal/config"
	"conditionsdb/internal/logging"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	clock    clockwork.Clock

	format string // table or json
	file   string // --file; forces JSON

	// open returns the store and its close function. Tests replace it.
	open func(ctx context.Context, a *app, stderr io.Writer) (conditions.Store, func() error, error)
}

// NewRootCommand returns the conditionsdb command with all subcommands wired in.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&app{clock: clockwork.NewRealClock(), open: openStore}, version)
}

func newRootCommand(a *app, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conditionsdb",
		Short: "Time-versioned detector conditions",
		Long: "Store detector conditions as append-only, time-versioned records, resolve them " +
			"at any point in time, and freeze reproducible snapshots under global tags.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("home", "", "home directory (default: platform config dir, or CONDITIONSDB_HOME)")
	pf.String("store", "", "store type: sqlite, badger, raft, or memory (default sqlite, or CONDITIONSDB_STORE)")
	pf.Duration("timeout", 0, "per-operation timeout (default 10s, or CONDITIONSDB_TIMEOUT)")
	pf.String("log-level", "", "log level: debug, info, warn, error (default warn, or CONDITIONSDB_LOG_LEVEL)")
	pf.String("log-format", "", "log format: text or json (default text, or CONDITIONSDB_LOG_FORMAT)")
	pf.StringP("output", "o", "table", "output format: table or json")
	pf.String("file", "", "also write the result as JSON to this file")

	cmd.AddCommand(
		newSubdetectorCmd(a),
		newConditionCmd(a),
		newSnapshotCmd(a),
		newTagCmd(a),
		newAutotagCmd(a),
		newVersionCmd(version),
	)
	return cmd
}

// configure merges environment settings with explicitly set flags and
// builds the logger.
func (a *app) configure(cmd *cobra.Command) error {
	s, err := config.Load()
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("home") {
		s.Home, _ = f.GetString("home")
	}
	if f.Changed("store") {
		s.Store, _ = f.GetString("store")
	}
	if f.Changed("timeout") {
		s.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("log-level") {
		s.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		s.LogFormat, _ = f.GetString("log-format")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	a.format, _ = f.GetString("output")
	if a.format != "table" && a.format != "json" {
		return errors.New("output must be table or json")
	}
	a.file, _ = f.GetString("file")

	logger, filter, err := logging.New(cmd.ErrOrStderr(), s.LogFormat, s.LogLevel)
	if err != nil {
		return err
	}
	levels, err := logging.ParseComponentLevels(s.LogComponents)
	if err != nil {
		return err
	}
	for component, level := range levels {
		filter.SetLevel(component, level)
	}

	a.settings = s
	a.logger = logger
	return nil
}

// withService opens the store, runs fn against a catalog over it, and closes
// the store afterwards.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *catalog.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := a.open(ctx, a, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			a.logger.Warn("close store", "error", cerr)
		}
	}()

	svc := catalog.New(catalog.Options{
		Store:   store,
		Clock:   a.clock,
		Logger:  a.logger,
		Timeout: a.settings.Timeout,
	})
	return fn(ctx, svc)
}

// ExitCode maps an error returned by the command tree to a process exit code.
// Domain errors get distinct codes so scripts can tell them apart.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch conditions.CodeOf(err) {
	case conditions.CodeNotFound:
		return 3
	case conditions.CodeDuplicateName:
		return 4
	case conditions.CodeInvalidPayload:
		return 5
	case conditions.CodeOverlapViolation:
		return 6
	case conditions.CodeTimeout:
		return 7
	case conditions.CodeStorageUnavailable:
		return 8
	default:
		return 1
	}
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip store and logger setup.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
