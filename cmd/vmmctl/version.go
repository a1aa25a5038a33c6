package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vmmctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"version\":%q}\n", buildVersion)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vmmctl", buildVersion)
			return nil
		},
	}
}
