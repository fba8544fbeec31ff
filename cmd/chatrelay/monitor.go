package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/client"
	"github.com/wilbur182/chatrelay/internal/monitor"
)

func monitorCmd(opts *globalOptions) *cobra.Command {
	var (
		addr  string
		wait  bool
		style string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open a terminal client for a running relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = e.cfg.Server.Addr
			}

			c := client.New(addr)
			pingCtx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			if err := c.Ping(pingCtx); err != nil {
				return fmt.Errorf("relay at %s not reachable (is `chatrelay serve` running?): %w", c.BaseURL(), err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return monitor.Run(ctx, c, monitor.Options{WaitForReply: wait, MarkdownStyle: style})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "relay address (default from config)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block sends until the assistant replies")
	cmd.Flags().StringVar(&style, "style", "dark", "markdown style (dark, light, notty)")
	return cmd
}
