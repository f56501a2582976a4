package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gitsnap/internal/config"
	"github.com/hupe1980/gitsnap/internal/output"
	"github.com/hupe1980/gitsnap/internal/registry"
	"github.com/hupe1980/gitsnap/internal/snapshot"
)

func newListCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		Long: `List shows every registered repository with its current branch and
working-tree state. Repositories that cannot be opened are reported as
unavailable instead of failing the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !output.ValidFormat(format) {
				return &ExitError{Code: 2, Err: fmt.Errorf("unsupported output format %q", format)}
			}

			cfg := config.FromContext(cmd.Context())

			reg, err := registry.Open(cfg.Registry)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			paths, err := reg.List()
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			states := make([]*snapshot.RepoState, 0, len(paths))
			for _, p := range paths {
				states = append(states, snapshot.Describe(p))
			}

			return writeRepoStates(cmd.OutOrStdout(), format, states)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", output.FormatTable, "output format: table, json, yaml")

	return cmd
}

func writeRepoStates(w io.Writer, format string, states []*snapshot.RepoState) error {
	if format == output.FormatTable {
		if len(states) == 0 {
			_, err := fmt.Fprintln(w, "no repositories registered")

			return err
		}

		rows := make([][]string, 0, len(states))

		for _, s := range states {
			branch := s.Branch
			if branch == "" {
				branch = "-"
			}

			rows = append(rows, []string{s.Path, branch, s.State})
		}

		return output.Table(w, []string{"PATH", "BRANCH", "STATE"}, rows)
	}

	data, err := output.Marshal(states, format)
	if err != nil {
		return err
	}

	_, err = w.Write(data)

	return err
}
