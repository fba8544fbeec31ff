// Package client talks to a running relay over HTTP and Server-Sent Events.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
)

// ErrStatus carries a non-2xx response.
type ErrStatus struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *ErrStatus) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatrelay: %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("chatrelay: %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a client for a relay at baseURL, e.g. http://127.0.0.1:3799.
func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the relay address.
func (c *Client) BaseURL() string { return c.baseURL }

// Inbox fetches the current inbox.
func (c *Client) Inbox(ctx context.Context) (*adapter.Inbox, error) {
	var out adapter.Inbox
	if err := c.do(ctx, "inbox", http.MethodGet, "/api/inbox", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the relay to rebuild and publish the inbox.
func (c *Client) Refresh(ctx context.Context) (*adapter.Inbox, error) {
	var out adapter.Inbox
	if err := c.do(ctx, "refresh", http.MethodPost, "/api/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send submits a message. When req.Wait is set the call blocks until the
// relay reports the reply or its timeout, so the HTTP timeout is lifted.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	var out SendResult
	hc := c.httpClient
	if req.Wait {
		hc = c.streamClient
	}
	if err := c.doWith(ctx, hc, "send message", http.MethodPost, "/api/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve approves (true) or skips (false) the pending command.
func (c *Client) Approve(ctx context.Context, approve bool) (*ApproveResponse, error) {
	var out ApproveResponse
	if err := c.do(ctx, "approve", http.MethodPost, "/api/approve", ApproveRequest{Approve: approve}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the relay's health and lease role.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "health", http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks that the relay is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// StreamEvents opens /api/events and delivers raw events until ctx is done
// or the server closes the stream.
func (c *Client) StreamEvents(ctx context.Context) (<-chan SSEEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/events"), nil)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: stream events: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: stream events: request failed (relay may not be running): %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.parseErrorResponse("stream events", resp)
	}

	ch := make(chan SSEEvent)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 16*1024*1024)

		current := SSEEvent{}

		emit := func(ev SSEEvent) bool {
			if ev.Event == "" && ev.Data == "" && ev.ID == "" {
				return true
			}

			select {
			case <-ctx.Done():
				return false
			case ch <- ev:
				return true
			}
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if !emit(current) {
					return
				}
				current = SSEEvent{}
				continue
			}

			switch {
			case strings.HasPrefix(line, ":"):
				// comment / keepalive
			case strings.HasPrefix(line, "event: "):
				current.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if current.Data != "" {
					current.Data += "\n"
				}
				current.Data += strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, "id: "):
				current.ID = strings.TrimPrefix(line, "id: ")
			}
		}

		_ = emit(current)
	}()

	return ch, nil
}

// StreamInbox decodes "inbox" events from StreamEvents.
func (c *Client) StreamInbox(ctx context.Context) (<-chan *adapter.Inbox, error) {
	events, err := c.StreamEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan *adapter.Inbox)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Event != "inbox" {
				continue
			}
			var inbox adapter.Inbox
			if err := json.Unmarshal([]byte(ev.Data), &inbox); err != nil {
				continue
			}
			select {
			case out <- &inbox:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	return c.doWith(ctx, c.httpClient, op, method, path, in, out)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("chatrelay: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("chatrelay: %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("chatrelay: %s: request failed (relay may not be running at %s): %w", op, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseErrorResponse(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatrelay: %s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) parseErrorResponse(operation string, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chatrelay: %s: status %d: read error body: %w", operation, resp.StatusCode, err)
	}

	var apiErr ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return &ErrStatus{Operation: operation, StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	return &ErrStatus{Operation: operation, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}
