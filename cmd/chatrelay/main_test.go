package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
)

func TestParseAfter(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"1767225600000", time.UnixMilli(1767225600000), false},
		{"2026-01-01T00:00:00Z", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-01-01T00:00:00.5+02:00", time.Date(2025, 12, 31, 22, 0, 0, 5e8, time.UTC), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseAfter(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseAfter(%q) err = %v", tt.in, err)
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveVersion(t *testing.T) {
	if got := effectiveVersion("v1.2.3"); got != "v1.2.3" {
		t.Errorf("effectiveVersion = %q", got)
	}
	if got := effectiveVersion(""); got == "" {
		t.Error("effectiveVersion fallback is empty")
	}
	if got := shortRevision("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortRevision = %q", got)
	}
}

func TestPrintInboxPlain(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inbox := &adapter.Inbox{
		WorkspacePath: "/work/app",
		TotalMessages: 2,
		Sessions: []adapter.ChatSession{{
			Title:         "Fix tests",
			MessageCount:  2,
			LastMessageAt: now.Add(-time.Minute),
			Messages: []adapter.ChatMessage{
				{Role: adapter.RoleUser, Text: "run them"},
				{
					Role:           adapter.RoleAssistant,
					Text:           "See [[FILE|/work/app/main.go|main.go]]",
					PendingCommand: &adapter.PendingCommand{Command: "go test ./..."},
				},
			},
		}},
	}

	var buf bytes.Buffer
	printInbox(&buf, inbox, nil, 0, now)
	out := buf.String()
	for _, want := range []string{"/work/app  1 sessions, 2 messages", "Fix tests  (2 msgs", "See main.go", "awaiting approval: go test ./..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[[FILE") {
		t.Errorf("file marker not stripped:\n%s", out)
	}
}
