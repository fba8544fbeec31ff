package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/features"
)

func featureCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "List or toggle feature flags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show every feature flag and its effective state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			state := e.features.List()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range features.ListAll() {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", f.Name, state[f.Name], f.Description)
			}
			return tw.Flush()
		},
	})

	for _, enable := range []bool{true, false} {
		use, short := "enable <name>", "Enable a feature in the config file"
		if !enable {
			use, short = "disable <name>", "Disable a feature in the config file"
		}
		cmd.AddCommand(&cobra.Command{
			Use:       use,
			Short:     short,
			Args:      cobra.ExactArgs(1),
			ValidArgs: features.Names(),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := opts.setup()
				if err != nil {
					return err
				}
				if err := e.features.SetEnabled(opts.configPath, args[0], enable); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], enable)
				return nil
			},
		})
	}

	return cmd
}
