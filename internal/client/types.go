package client

import (
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/relay"
)

// SSEEvent is one Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
}

// Health is the /healthz response.
type Health struct {
	Status  string `json:"status"`
	Role    string `json:"role"`
	Token   uint64 `json:"token"`
	Clients int    `json:"clients"`
}

// SendRequest is the /api/send body.
type SendRequest struct {
	Text           string `json:"text"`
	Wait           bool   `json:"wait,omitempty"`
	MaxWaitMs      int64  `json:"maxWaitMs,omitempty"`
	PollIntervalMs int64  `json:"pollIntervalMs,omitempty"`
}

// SendResult is the /api/send response.
type SendResult = relay.SendResult

// ApproveRequest is the /api/approve body.
type ApproveRequest struct {
	Approve bool `json:"approve"`
}

// ApproveResponse is the /api/approve response.
type ApproveResponse struct {
	Approved       bool                    `json:"approved"`
	PendingCommand *adapter.PendingCommand `json:"pendingCommand"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
