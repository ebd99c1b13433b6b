// Command conditionsdb manages time-versioned detector conditions.
//
// Logging:
//   - Base logger is created in the cli package from settings and flags
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"conditionsdb/cmd/conditionsdb/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand(version).ExecuteContext(ctx)
	cancel()
	os.Exit(cli.ExitCode(err))
}
