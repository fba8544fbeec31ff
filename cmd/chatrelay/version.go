package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/config"
	"github.com/wilbur182/chatrelay/internal/version"
)

func versionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version and optionally check for updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := effectiveVersion(Version)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatrelay version %s\n", current)
			if !check {
				return nil
			}

			cachePath := version.CachePath(filepath.Dir(config.ConfigPath()))
			res := version.NewChecker().CheckCached(cmd.Context(), cachePath, current, time.Now())
			switch {
			case res.Error != nil:
				return fmt.Errorf("update check: %w", res.Error)
			case res.HasUpdate:
				fmt.Fprintf(out, "update available: %s (%s)\n", res.LatestVersion, res.UpdateURL)
			case res.LatestVersion == "":
				fmt.Fprintln(out, "development build, update check skipped")
			default:
				fmt.Fprintln(out, "up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}
