package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/logging"
	"github.com/hupe1980/gitsnap/internal/snapshot"
)

type snapshotOptions struct {
	noPush bool
}

func newSnapshotCommand() *cobra.Command {
	opts := &snapshotOptions{}

	cmd := &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Create a one-shot snapshot commit",
		Long: `Snapshot commits the full working-tree state of a repository once,
without starting the daemon. The path defaults to the current directory
and may point anywhere inside the repository.

A clean working tree is not an error. After a new commit, remotes that
opted in via remote.<name>.snapshotenabled are pushed; push failures
are warnings and never affect the local commit. Use --no-push to keep
the snapshot local.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			return runSnapshot(cmd.Context(), cmd, path, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "skip pushing to opted-in remotes")
	cmd.Flags().Duration("push-timeout", 30*time.Second, "per-remote push timeout")

	return cmd
}

func runSnapshot(ctx context.Context, cmd *cobra.Command, path string, opts *snapshotOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	result, err := snapshot.NewEngine().Snapshot(ctx, path)

	switch {
	case errors.Is(err, snapshot.ErrNoChanges):
		info(cmd, cfg, "nothing to snapshot: working tree clean")

		return nil

	case errors.Is(err, snapshot.ErrDetachedHead):
		logger.Warn("skipping snapshot on detached HEAD", slog.String("repo", path))
		fmt.Fprintln(cmd.ErrOrStderr(), "skipping snapshot: HEAD is detached")

		return nil

	case err != nil:
		return &ExitError{Code: 1, Err: err}
	}

	info(cmd, cfg, fmt.Sprintf("snapshot %.7s on %s (%d files)", result.CommitID, result.Branch, len(result.Files)))

	if opts.noPush {
		return nil
	}

	report, err := snapshot.NewGate(cfg.PushTimeout).Push(ctx, path, result.Branch)
	if err != nil {
		logger.Warn("push skipped", slog.String("error", err.Error()))

		return nil
	}

	for _, f := range report.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: push to %s failed: %v\n", f.Remote, f.Err)
	}

	if pushed := len(report.Attempted) - len(report.Failures); pushed > 0 {
		info(cmd, cfg, fmt.Sprintf("pushed to %d remote(s)", pushed))
	}

	return nil
}

// info prints a status line to stdout unless quiet mode is on.
func info(cmd *cobra.Command, cfg *config.Config, msg string) {
	if cfg != nil && cfg.Quiet {
		return
	}

	fmt.Fprintln(cmd.OutOrStdout(), msg)
}
