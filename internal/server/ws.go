package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
)

// wsRequest is the incoming WebSocket message format.
type wsRequest struct {
	Type      string `json:"type"` // "message" or "stop"
	SessionID string `json:"session_id"`
	Lang      string `json:"lang"`
	Content   string `json:"content"`
	CSRF      string `json:"csrf"`
	HP        string `json:"hp"`
}

// wsResponse is the outgoing WebSocket message format.
type wsResponse struct {
	Type      string   `json:"type"` // "fragment", "done" or "error"
	SessionID string   `json:"session_id"`
	Content   string   `json:"content,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Path      string   `json:"path,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Tokens    int      `json:"tokens,omitempty"`
	Warning   string   `json:"warning,omitempty"`
}

// upgrader leaves origin checks to Gate.CheckUpgrade, which runs first.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(resp wsResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(resp)
}

// handleWebSocket runs orchestrator turns for messages on the socket. A turn
// runs in the background so a "stop" message can cancel it. Each message is
// gated like a chat request: it must echo the csrf token from the upgrade
// query and counts against the client's rate limit.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := s.opts.Gate.CheckUpgrade(r)
	if err != nil {
		var rej *gate.Rejection
		if errors.As(err, &rej) {
			writeError(w, rej.Status, rej.Code)
			return
		}
		writeError(w, http.StatusForbidden, gate.CodeCSRFFailed)
		return
	}
	ip := gate.ClientIP(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Msg("websocket_upgrade_failed")
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	var turns sync.WaitGroup
	defer turns.Wait()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.opts.Logger.Warn().Err(err).Msg("websocket_read_failed")
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendWSError(ws, "", "invalid message format")
			continue
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		switch req.Type {
		case "stop":
			s.opts.Orchestrator.Stop(req.SessionID)
		case "message":
			if req.Content == "" {
				s.sendWSError(ws, req.SessionID, "content is required")
				continue
			}
			if code := s.admitWS(ctx, ip, token, req); code != "" {
				s.sendWSError(ws, req.SessionID, code)
				continue
			}
			turns.Add(1)
			go func(req wsRequest) {
				defer turns.Done()
				s.runWSTurn(ctx, ws, req)
			}(req)
		default:
			s.sendWSError(ws, req.SessionID, "unknown message type: "+req.Type)
		}
	}
}

// admitWS returns the rejection code for a message frame, or "" to run it.
func (s *Server) admitWS(ctx context.Context, ip, token string, req wsRequest) string {
	if err := s.opts.Gate.Admit(ctx, ip); err != nil {
		var rej *gate.Rejection
		if errors.As(err, &rej) {
			return rej.Code
		}
		return gate.CodeRateLimited
	}
	if strings.TrimSpace(req.HP) != "" {
		return gate.CodeBotDetected
	}
	if !gate.CSRFMatches(token, req.CSRF) {
		return gate.CodeCSRFFailed
	}
	return ""
}

func (s *Server) runWSTurn(ctx context.Context, ws *wsConn, req wsRequest) {
	sink := orchestrator.SinkFunc(func(text string) {
		ws.send(wsResponse{Type: "fragment", SessionID: req.SessionID, Content: text})
	})
	out, err := s.opts.Orchestrator.Run(ctx, orchestrator.Turn{
		SessionID: req.SessionID,
		Lang:      req.Lang,
		Input:     req.Content,
	}, sink)
	if err != nil {
		var blocked *orchestrator.BlockedError
		switch {
		case errors.As(err, &blocked):
			s.sendWSError(ws, req.SessionID, "blocked_input")
		case errors.Is(err, orchestrator.ErrTurnInFlight):
			s.sendWSError(ws, req.SessionID, "turn_in_flight")
		case errors.Is(err, context.Canceled):
			s.sendWSError(ws, req.SessionID, "stopped")
		default:
			s.sendWSError(ws, req.SessionID, err.Error())
		}
		return
	}
	ws.send(wsResponse{
		Type:      "done",
		SessionID: req.SessionID,
		Content:   out.Text,
		Kind:      string(out.Kind),
		Path:      out.Path,
		Provider:  out.Provider,
		Citations: out.Citations,
		Tokens:    out.Tokens,
		Warning:   out.Warning,
	})
}

func (s *Server) sendWSError(ws *wsConn, sessionID, message string) {
	if err := ws.send(wsResponse{Type: "error", SessionID: sessionID, Content: message}); err != nil {
		s.opts.Logger.Warn().Err(err).Msg("websocket_write_failed")
	}
}
