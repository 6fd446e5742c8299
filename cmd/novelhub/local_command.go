package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newLocalCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage stored works",
	}
	cmd.AddCommand(newLocalListCommand(ctx), newLocalRemoveCommand(ctx))
	return cmd
}

func newLocalListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored works; #N refers to row N afterwards",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			works, err := a.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			if err := rememberListing(cmd.Context(), a.Store, works); err != nil {
				return err
			}
			if len(works) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stored works")
				return nil
			}

			rows := make([][]string, 0, len(works))
			for i, w := range works {
				rows = append(rows, []string{
					"#" + strconv.Itoa(i+1),
					w.Address.String(),
					w.Title,
					w.Author,
					fmt.Sprintf("%d/%d", w.Stored, w.Chapters),
					w.Updated.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Address", "Title", "Author", "Chapters", "Updated"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newLocalRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <source/nid | #N>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored work and all its chapters",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			addr, err := lookupShorthand(cmd.Context(), a.Store, args[0])
			if err != nil {
				return err
			}
			unlock, err := a.Store.Lock(addr)
			if err != nil {
				return err
			}
			defer unlock()
			if err := a.Store.Remove(cmd.Context(), addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", addr)
			return nil
		},
	}
}
