package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/registry"
)

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <path>...",
		Short: "Unregister repositories",
		Long: `Remove deletes repositories from the registry. A running watch
daemon stops watching them without a restart; an in-flight snapshot
finishes undisturbed.

Removing a path that is not registered is not an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())

			reg, err := registry.Open(cfg.Registry)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			for _, p := range args {
				norm, removed, err := reg.Remove(p)
				if err != nil {
					return &ExitError{Code: 1, Err: err}
				}

				if removed {
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", norm)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "not registered: %s\n", norm)
				}
			}

			return nil
		},
	}

	return cmd
}
