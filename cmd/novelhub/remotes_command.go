package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"novelhub/pkg/utils"
)

func newRemotesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List configured remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ctx.cfg.Remotes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured, add [[remotes]] to the config file")
				return nil
			}
			rows := make([][]string, 0, len(ctx.cfg.Remotes))
			for _, r := range ctx.cfg.Remotes {
				where := r.Dir
				if r.Kind == utils.RemoteKindMirror {
					where = r.URL
					if r.Upstream != "" {
						where += " (" + r.Upstream + ")"
					}
				}
				rows = append(rows, []string{r.Name, r.Kind, where})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Name", "Kind", "Location"}, rows, nil))
			return nil
		},
	}
}
