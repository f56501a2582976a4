// Package cli implements the cobra command tree for gitsnap.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/logging"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "gitsnap",
		Short: "Automatic snapshot commits for local git repositories",
		Long: `gitsnap watches local git repositories and turns working-tree
changes into automatic snapshot commits.

Register repositories once, then run the watch daemon: filesystem
changes are debounced per repository and, after a quiet window, the
whole working tree is committed as a timestamped snapshot. Remotes that
opt in via their git config (remote.<name>.snapshotenabled) receive the
snapshot with a bounded-timeout push; everything else stays local.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			logger := logging.Setup(cfg)

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("logLevel", cfg.LogLevel),
				slog.String("logFormat", cfg.LogFormat),
			)

			return nil
		},
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .gitsnap.yaml)")
	pf.String("registry", "", "registry file (default: ~/.config/gitsnap/repos.json)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.String("log-file", "", "write structured logs to a rotating file instead of stderr")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	// Register subcommands.
	cmd.AddCommand(
		newWatchCommand(),
		newSnapshotCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newListCommand(),
		newEnableCommand(),
		newDisableCommand(),
		newRemotesCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return cmd
}
