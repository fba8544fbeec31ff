package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/controller"
	"github.com/wilbur182/chatrelay/internal/relay"
)

type healthResponse struct {
	Status  string `json:"status"`
	Role    string `json:"role"`
	Token   uint64 `json:"token"`
	Clients int    `json:"clients"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// sendBody is the JSON body of /api/send and the WebSocket "send" command.
type sendBody struct {
	Text           string `json:"text"`
	Wait           bool   `json:"wait"`
	MaxWaitMs      int64  `json:"maxWaitMs"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

func (b sendBody) request() relay.SendRequest {
	return relay.SendRequest{
		Text:         b.Text,
		Wait:         b.Wait,
		MaxWait:      time.Duration(b.MaxWaitMs) * time.Millisecond,
		PollInterval: time.Duration(b.PollIntervalMs) * time.Millisecond,
	}
}

type approveBody struct {
	Approve bool `json:"approve"`
}

type approveResponse struct {
	Approved       bool                    `json:"approved"`
	PendingCommand *adapter.PendingCommand `json:"pendingCommand"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", r.URL.Path, "id", requestID(r.Context()), "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID(r.Context())})
}

// statusFor maps relay errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, controller.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrNoPendingCommand):
		return http.StatusConflict
	case errors.Is(err, controller.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	lead := s.backend.Leadership()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Role:    lead.Role(),
		Token:   lead.Token,
		Clients: s.Clients(),
	})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	inbox, err := s.backend.Inbox()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	inbox, err := s.backend.Refresh()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.backend.Send(r.Context(), body.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	pending, err := s.backend.Approve(r.Context(), body.Approve)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{Approved: body.Approve, PendingCommand: pending})
}
