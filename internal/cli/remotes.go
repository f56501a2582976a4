package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/output"
	"github.com/hupe1980/gitsnap/internal/snapshot"
)

func newRemotesCommand() *cobra.Command {
	var repoPath string

	cmd := &cobra.Command{
		Use:   "remotes",
		Short: "List a repository's remotes and their push opt-in state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			remotes, err := snapshot.ListRemotes(repoPath)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			rows := make([][]string, 0, len(remotes))

			for _, r := range remotes {
				enabled := "no"
				if r.Enabled {
					enabled = "yes"
				}

				rows = append(rows, []string{r.Name, strings.Join(r.URLs, ", "), enabled})
			}

			return output.Table(cmd.OutOrStdout(), []string{"NAME", "URL", "SNAPSHOT"}, rows)
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")

	return cmd
}
