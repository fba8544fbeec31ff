package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/controller"
	"github.com/wilbur182/chatrelay/internal/fdmonitor"
	"github.com/wilbur182/chatrelay/internal/features"
	"github.com/wilbur182/chatrelay/internal/lease"
	"github.com/wilbur182/chatrelay/internal/relay"
	"github.com/wilbur182/chatrelay/internal/server"
	"github.com/wilbur182/chatrelay/internal/watcher"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the workspace's chat sessions and serve them over HTTP",
		Long: `Watches the editor's chat session files for the workspace and serves the
normalized inbox over HTTP, Server-Sent Events and WebSocket. With the
leader_lease feature on, only the window holding the lease serves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			if addr != "" {
				e.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, e)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, e *env) error {
	source, err := e.newSource()
	if err != nil {
		return err
	}

	watchCfg := watcher.Config{
		SessionDir:   e.cfg.Editor.SessionDir,
		Debounce:     e.cfg.Watch.Debounce,
		Settle:       e.cfg.Watch.Settle,
		PollInterval: e.cfg.Watch.PollInterval,
	}
	if !e.features.IsEnabled(features.PollFallback) {
		watchCfg.PollInterval = 0
	}

	r, err := relay.New(relay.Config{
		Workspace: e.workspace,
		Source:    source,
		Controller: controller.New(
			e.cfg.Controller.Submit,
			e.cfg.Controller.Approve,
			e.cfg.Controller.Skip,
			e.workspace,
			e.logger,
		),
		Watch:     watchCfg,
		MaxWait:   e.cfg.Reply.MaxWait,
		ReplyPoll: e.cfg.Reply.PollInterval,
		Logger:    e.logger,
		FDs:       fdmonitor.New(e.logger),
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:           e.cfg.Server.Addr,
		AllowedOrigins: e.cfg.Server.AllowedOrigins,
		Logger:         e.logger,
	}, r)

	e.logger.Info("relay starting",
		"workspace", e.workspace,
		"source", source.ID(),
		"addr", e.cfg.Server.Addr,
	)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("change detector stopped", "err", err)
		}
	}()

	if !e.features.IsEnabled(features.LeaderLease) {
		r.SetLeadership(relay.Leadership{Leader: true})
		return ignoreCanceled(srv.ListenAndServe(ctx))
	}
	return serveWhileLeader(ctx, e, r, srv)
}

// serveWhileLeader runs the server only while this process holds the
// leader lease, stopping it when the lease is lost.
func serveWhileLeader(ctx context.Context, e *env, r *relay.Relay, srv *server.Server) error {
	l := lease.New(e.cfg.Lease.Path, e.cfg.Lease.TTL, lease.WithLogger(e.logger))

	var (
		wg          sync.WaitGroup
		stopServing context.CancelFunc
	)
	onChange := func(leader bool, token uint64) {
		r.SetLeadership(relay.Leadership{Leader: leader, Token: token})
		if stopServing != nil {
			stopServing()
			stopServing = nil
			wg.Wait()
		}
		if !leader {
			e.logger.Info("lease lost, serving stopped", "holder", l.Holder())
			return
		}
		e.logger.Info("lease acquired, serving", "holder", l.Holder(), "token", token)

		serveCtx, cancel := context.WithCancel(ctx)
		stopServing = cancel
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("server stopped", "err", err)
			}
		}()
	}

	err := l.Maintain(ctx, e.cfg.Lease.Heartbeat, onChange)
	if stopServing != nil {
		stopServing()
	}
	wg.Wait()
	return ignoreCanceled(err)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
