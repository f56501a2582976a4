package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/registry"
	"github.com/hupe1980/gitsnap/internal/snapshot"
)

func newAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Register repositories for watching",
		Long: `Add validates that each path opens as a git repository and records
it in the registry. A running watch daemon picks the change up without
a restart.

Paths are normalized before registration: ~ and environment variables
are expanded and the path is made absolute. Registering a path twice is
a no-op.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())

			reg, err := registry.Open(cfg.Registry)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			return registerRepos(cmd, reg, args)
		},
	}

	return cmd
}

// registerRepos validates each path as a git repository and persists it to
// the registry. Invalid paths are reported and skipped; any skip makes the
// command fail after all paths were tried.
func registerRepos(cmd *cobra.Command, reg *registry.Registry, paths []string) error {
	failed := 0

	for _, p := range paths {
		norm, err := registry.Normalize(p)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", p, err)
			failed++

			continue
		}

		if err := snapshot.Verify(norm); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", p, err)
			failed++

			continue
		}

		_, changed, err := reg.Add(norm)
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}

		if changed {
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", norm)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "already registered: %s\n", norm)
		}
	}

	if failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d path(s) could not be registered", failed)}
	}

	return nil
}
