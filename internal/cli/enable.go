package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/snapshot"
)

func newEnableCommand() *cobra.Command {
	return newRemoteToggleCommand("enable", true,
		"Opt a remote in to snapshot pushes",
		`Enable sets remote.<name>.snapshotenabled in the repository's git
config. Snapshots are pushed only to remotes with this flag set; all
other remotes are never touched.`)
}

func newDisableCommand() *cobra.Command {
	return newRemoteToggleCommand("disable", false,
		"Opt a remote out of snapshot pushes",
		`Disable removes remote.<name>.snapshotenabled from the repository's
git config, so snapshots stay local with respect to that remote.`)
}

// newRemoteToggleCommand builds the enable and disable commands, which differ
// only in the flag value they write.
func newRemoteToggleCommand(use string, enabled bool, short, long string) *cobra.Command {
	var repoPath string

	cmd := &cobra.Command{
		Use:   use + " <remote>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]

			if err := snapshot.SetRemoteEnabled(repoPath, remote, enabled); err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			if enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot pushes enabled for %s\n", remote)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot pushes disabled for %s\n", remote)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")

	return cmd
}
