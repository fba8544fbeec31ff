package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wilbur182/chatrelay/internal/adapter"
)

const (
	wsWriteWait   = 10 * time.Second
	wsMaxMessage  = 1 << 20
	wsTypeInbox   = "inbox"
	wsTypeResult  = "result"
	wsTypeRefresh = "refresh"
	wsTypeSend    = "send"
	wsTypeApprove = "approve"
)

// wsCommand is a client-to-server message.
type wsCommand struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	sendBody
	Approve bool `json:"approve,omitempty"`
}

// wsMessage is a server-to-client message.
type wsMessage struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	OK     bool           `json:"ok,omitempty"`
	Error  string         `json:"error,omitempty"`
	Inbox  *adapter.Inbox `json:"inbox,omitempty"`
	Result any            `json:"result,omitempty"`
}

// safeConn serializes writes; gorilla/websocket allows one concurrent
// writer.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *safeConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
}

// handleWebSocket pushes inbox snapshots and answers commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	sc := &safeConn{conn: conn}
	s.clients.Add(1)
	defer s.clients.Add(-1)
	s.logger.Debug("websocket client connected", "client", clientID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessage)
	readWait := 2 * s.cfg.KeepAlive
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	updates, unsubscribe := s.backend.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pushLoop(ctx, sc, updates)
		cancel()
	}()

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", "client", clientID, "err", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := s.dispatch(ctx, cmd)
			if err := sc.writeJSON(reply); err != nil {
				s.logger.Debug("websocket write", "client", clientID, "err", err)
			}
		}()
	}
	cancel()
	wg.Wait()
	s.logger.Debug("websocket client disconnected", "client", clientID)
}

func (s *Server) pushLoop(ctx context.Context, sc *safeConn, updates <-chan *adapter.Inbox) {
	ping := time.NewTicker(s.cfg.KeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case inbox := <-updates:
			if err := sc.writeJSON(wsMessage{Type: wsTypeInbox, Inbox: inbox}); err != nil {
				return
			}
		case <-ping.C:
			if err := sc.ping(); err != nil {
				return
			}
		}
	}
}

// dispatch runs one command and builds its result message.
func (s *Server) dispatch(ctx context.Context, cmd wsCommand) wsMessage {
	msg := wsMessage{Type: wsTypeResult, ID: cmd.ID}
	var result any
	var err error
	switch cmd.Type {
	case wsTypeRefresh:
		var inbox *adapter.Inbox
		inbox, err = s.backend.Refresh()
		msg.Inbox = inbox
	case wsTypeSend:
		result, err = s.backend.Send(ctx, cmd.request())
	case wsTypeApprove:
		var pending *adapter.PendingCommand
		pending, err = s.backend.Approve(ctx, cmd.Approve)
		result = approveResponse{Approved: cmd.Approve, PendingCommand: pending}
	default:
		err = fmt.Errorf("%w: unknown command type %q", errBadRequest, cmd.Type)
	}
	if err != nil {
		msg.Error = err.Error()
		return msg
	}
	msg.OK = true
	msg.Result = result
	return msg
}
