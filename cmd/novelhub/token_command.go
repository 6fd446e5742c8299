package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"novelhub/internal/app"
	"novelhub/internal/auth"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <client>",
		Short: "Issue a bearer token for a mirror-server client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// signing needs only the [mirror] section, not the store
			tokens := (&app.App{Config: ctx.cfg}).Tokens()
			tok, exp, err := tokens.Sign(args[0], scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Local().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeFetch}, "granted scopes")
	return cmd
}
