package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/markdown"
	"github.com/wilbur182/chatrelay/internal/relay"
	"github.com/wilbur182/chatrelay/internal/replywait"
	"golang.org/x/term"
)

func inboxCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Print the workspace's chat inbox once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			source, err := e.newSource()
			if err != nil {
				return err
			}
			inbox, err := source.BuildInbox(e.workspace)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, inbox)
			}

			// Rendered markdown for terminals, plain text for pipes
			var md *markdown.Renderer
			width := 0
			if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
				md = markdown.NewRenderer("")
				if w, _, err := term.GetSize(fd); err == nil {
					width = w
				}
			}
			printInbox(os.Stdout, inbox, md, width, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the inbox as JSON")
	return cmd
}

func printInbox(w io.Writer, inbox *adapter.Inbox, md *markdown.Renderer, width int, now time.Time) {
	fmt.Fprintf(w, "%s  %d sessions, %d messages\n", inbox.WorkspacePath, len(inbox.Sessions), inbox.TotalMessages)
	for _, s := range inbox.Sessions {
		fmt.Fprintf(w, "\n%s  (%d msgs, %s)\n", s.Title, s.MessageCount, formatTime(s.LastMessageAt, now))
		reply := lastAssistant(s)
		if reply == nil {
			continue
		}
		if reply.Text != "" {
			if md != nil {
				fmt.Fprintln(w, strings.Join(md.RenderContent(reply.Text, width), "\n"))
			} else {
				for _, line := range strings.Split(markdown.PlainText(reply.Text), "\n") {
					fmt.Fprintln(w, "  "+line)
				}
			}
		}
	}
	if p := relay.PendingCommand(inbox); p != nil {
		fmt.Fprintf(w, "\nawaiting approval: %s\n", p.Command)
	}
	if n := len(inbox.Skipped); n > 0 {
		fmt.Fprintf(w, "\n%d session files skipped\n", n)
	}
}

func lastAssistant(s adapter.ChatSession) *adapter.ChatMessage {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == adapter.RoleAssistant {
			return &s.Messages[i]
		}
	}
	return nil
}

func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "no activity"
	}
	if now.Sub(t) < 24*time.Hour {
		return t.Local().Format("15:04")
	}
	return t.Local().Format("2006-01-02")
}

func waitCmd(opts *globalOptions) *cobra.Command {
	var (
		after   string
		maxWait time.Duration
		poll    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for an assistant reply newer than a timestamp",
		Long: `Polls the workspace's chat sessions until an assistant reply completed after
--after appears, then prints it as JSON. Exits non-zero on timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			afterTime := time.Now()
			if after != "" {
				if afterTime, err = parseAfter(after); err != nil {
					return err
				}
			}
			if maxWait <= 0 {
				maxWait = e.cfg.Reply.MaxWait
			}
			if poll <= 0 {
				poll = e.cfg.Reply.PollInterval
			}
			source, err := e.newSource()
			if err != nil {
				return err
			}

			w := replywait.New(source, replywait.WithLogger(e.logger))
			res := w.WaitForReply(cmd.Context(), e.workspace, afterTime, maxWait, poll)
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("no reply: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "RFC3339 time or Unix milliseconds (default now)")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "give up after this long (default from config)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "poll interval (default from config)")
	return cmd
}

// parseAfter accepts an RFC3339 timestamp or Unix epoch milliseconds.
func parseAfter(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --after %q: want RFC3339 or Unix milliseconds", s)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
