package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/logging"
	"github.com/hupe1980/gitsnap/internal/registry"
	"github.com/hupe1980/gitsnap/internal/snapshot"
	"github.com/hupe1980/gitsnap/internal/watch"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Watch registered repositories and snapshot on change",
		Long: `Watch runs the snapshot daemon in the foreground over every
registered repository. Paths given as arguments are registered first.

Filesystem changes are debounced per repository: after a quiet window
with no further changes, the working tree is committed as a snapshot
and pushed to remotes that opted in via remote.<name>.snapshotenabled.

Changes to the registry file (a concurrent "gitsnap add", a hand edit)
are picked up while the daemon runs. The daemon stops gracefully on
SIGINT or SIGTERM.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args)
		},
	}

	// Daemon tuning flags. Values resolve through the config layer, so the
	// environment and config file can set them too.
	f := cmd.Flags()
	f.Duration("debounce", 60*time.Second, "quiet window per repository before a snapshot")
	f.Duration("debounce-max", 5*time.Minute, "upper bound a change burst may defer a snapshot (0 disables)")
	f.String("mode", config.WatchModeEvent, "change detection backend: event, poll")
	f.Duration("poll-interval", 5*time.Minute, "scan period in poll mode")
	f.Duration("push-timeout", 30*time.Second, "per-remote push timeout")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, args []string) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	reg, err := registry.Open(cfg.Registry)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if err := registerRepos(cmd, reg, args); err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	if cfg.Quiet {
		out = io.Discard
	}

	daemon := watch.NewDaemon(reg, snapshot.NewEngine(), snapshot.NewGate(cfg.PushTimeout), watch.Options{
		Debounce:     cfg.Debounce,
		DebounceMax:  cfg.DebounceMax,
		Mode:         cfg.Mode,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		Out:          out,
	})

	if err := daemon.Run(ctx); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	return nil
}
