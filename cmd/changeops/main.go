// Package main implements the changeops CLI — the operational and
// scripted-use harness for the ChangeOps control plane referenced by
// spec §6's exit codes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/tenantctx"
)

// Version and BuildTime are set via ldflags at release build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flags := &rootFlags{}

	root := &cobra.Command{
		Use:     "changeops",
		Short:   "ChangeOps control plane CLI",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default: changeops.yaml in cwd, then ~/.config/changeops/config.yaml)")
	root.PersistentFlags().StringVar(&flags.natsURL, "nats-url", "", "NATS server URL (default: embedded)")
	root.PersistentFlags().StringVar(&flags.tenantID, "tenant", "", "tenant ID (default: config tenant.defaultId)")
	root.PersistentFlags().StringVar(&flags.actorID, "actor-id", "cli", "actor ID recorded on governed writes")
	root.PersistentFlags().StringVar(&flags.actorType, "actor-type", "user", "actor type: user, system, or agent")
	root.PersistentFlags().StringVar(&flags.changeID, "change-id", "", "governance change ID, required for governed writes")
	root.PersistentFlags().StringVar(&flags.capabilityProfile, "capability-profile", string(tenantctx.ProfileCodeModuleDefault), "capability profile name checked on governed writes")
	root.PersistentFlags().StringVar(&flags.moduleRoot, "module-root", ".", "module root path that file-path flags (--ops-file, --file, --input-file) are scoped to")

	var app *App
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := newAppFromFlags(cmd.Context(), flags)
		if err != nil {
			return err
		}
		if err := a.Start(cmd.Context()); err != nil {
			return err
		}
		app = a
		return nil
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Shutdown()
		}
	}

	root.AddCommand(
		newDraftCmd(flags, func() *App { return app }),
		newOverrideCmd(flags, func() *App { return app }),
		newWorkflowCmd(flags, func() *App { return app }),
		newDispatchCmd(flags, func() *App { return app }),
		newPromoteCmd(flags, func() *App { return app }),
		newEnvironmentCmd(flags, func() *App { return app }),
		newAuditCmd(flags, func() *App { return app }),
	)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return errs.ExitCode(err)
}

// rootFlags holds the persistent flags shared by every subcommand,
// threaded through instead of read from package-level state so tests
// can construct a command tree without touching process-global flags.
type rootFlags struct {
	configPath        string
	natsURL           string
	tenantID          string
	actorID           string
	actorType         string
	changeID          string
	capabilityProfile string
	moduleRoot        string
}
