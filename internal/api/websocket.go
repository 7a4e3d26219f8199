package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/internal/turn"
)

// Per-message deadlines for the web-chat socket. A turn that takes longer
// than turnTimeout is already a lost visitor.
const (
	turnTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// chatMessage is one visitor utterance on the web-chat socket. Session
// continuity is server-side: the connection remembers the session id from
// the previous reply, so the widget only sends text.
type chatMessage struct {
	UserText        string `json:"userText"`
	ForceNewSession bool   `json:"forceNewSession,omitempty"`
	IncludeDebug    bool   `json:"includeDebug,omitempty"`
}

// handleChat upgrades to a websocket and runs one orchestrator turn per
// received message, for the lifetime of the connection.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "companyId is required")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	callerPhone := r.URL.Query().Get("callerPhone")

	opts := &websocket.AcceptOptions{OriginPatterns: s.origins}
	if len(s.origins) == 0 {
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "companyId", companyID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.log.Debug("websocket read ended", "companyId", companyID, "err", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg chatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if werr := s.writeChat(ctx, conn, errorBody{Error: "invalid JSON message"}); werr != nil {
				return
			}
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
		out := s.proc.ProcessTurn(turnCtx, turn.Input{
			CompanyID:       companyID,
			Channel:         string(tenant.ChannelWebsite),
			UserText:        msg.UserText,
			SessionID:       sessionID,
			CallerPhone:     callerPhone,
			ForceNewSession: msg.ForceNewSession,
			IncludeDebug:    msg.IncludeDebug,
		})
		cancel()

		// Carry the session forward so the widget never tracks it.
		if out.SessionID != "" {
			sessionID = out.SessionID
		}

		if err := s.writeChat(ctx, conn, out); err != nil {
			s.log.Debug("websocket write failed", "companyId", companyID, "err", err)
			return
		}
	}
}

// writeChat marshals v and writes it as a single text frame.
func (s *Server) writeChat(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
