// Package controller drives the editor's chat panel: submitting a message
// and approving or skipping a pending terminal command.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// TextPlaceholder is replaced with the message text in argv templates.
const TextPlaceholder = "{{text}}"

// DefaultTimeout bounds a single controller command.
const DefaultTimeout = 10 * time.Second

// ErrUnsupported is returned when no command is configured for an action.
var ErrUnsupported = errors.New("controller action not configured")

// ErrEmptyMessage is returned by Submit for blank text.
var ErrEmptyMessage = errors.New("empty message")

// Controller submits chat messages and answers pending commands.
type Controller interface {
	Submit(ctx context.Context, text string) error
	Approve(ctx context.Context, approve bool) error
}

// Unsupported is a Controller with no actions.
type Unsupported struct{}

func (Unsupported) Submit(context.Context, string) error { return ErrUnsupported }
func (Unsupported) Approve(context.Context, bool) error  { return ErrUnsupported }

// Exec runs external programs for each action.
type Exec struct {
	SubmitArgv  []string
	ApproveArgv []string
	SkipArgv    []string
	Dir         string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New returns an Exec controller, or Unsupported when no templates are set.
func New(submit, approve, skip []string, dir string, logger *slog.Logger) Controller {
	if len(submit) == 0 && len(approve) == 0 && len(skip) == 0 {
		return Unsupported{}
	}
	return &Exec{
		SubmitArgv:  submit,
		ApproveArgv: approve,
		SkipArgv:    skip,
		Dir:         dir,
		Logger:      logger,
	}
}

// Submit runs the submit template with text substituted.
func (e *Exec) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return e.run(ctx, "submit", e.SubmitArgv, text)
}

// Approve runs the approve template, or the skip template when approve
// is false.
func (e *Exec) Approve(ctx context.Context, approve bool) error {
	if approve {
		return e.run(ctx, "approve", e.ApproveArgv, "")
	}
	return e.run(ctx, "skip", e.SkipArgv, "")
}

// Expand substitutes text into every argument of argv.
func Expand(argv []string, text string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, TextPlaceholder, text)
	}
	return out
}

func (e *Exec) run(ctx context.Context, action string, argv []string, text string) error {
	if len(argv) == 0 {
		return fmt.Errorf("%s: %w", action, ErrUnsupported)
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := Expand(argv, text)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logger().Debug("controller command", "action", action, "program", args[0], "duration", time.Since(start), "err", err)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", action, err, msg)
		}
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

func (e *Exec) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
