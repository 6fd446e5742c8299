package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"novelhub/internal/dump"
)

func newDumpCommand(ctx *commandContext) *cobra.Command {
	var (
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "dump <source/nid | #N>",
		Short: "Write a stored work to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dump.Get(format)
			if err != nil {
				return err
			}
			a, err := ctx.open()
			if err != nil {
				return err
			}
			addr, err := resolveAddress(cmd.Context(), a.Store, args[0])
			if err != nil {
				return err
			}
			w, err := a.Store.Open(cmd.Context(), addr)
			if err != nil {
				return err
			}
			res, err := d.Dump(cmd.Context(), w, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d chapters to %s\n", res.Chapters, res.Path)
			if len(res.Missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d chapters not stored yet: %s\n", len(res.Missing), strings.Join(res.Missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "txt", "dumper: "+strings.Join(dump.Names(), " | "))
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}
