package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lotwise/driveline/pkg/schema"
)

const wsWriteTimeout = 10 * time.Second

// SessionChecker validates a session token before the socket is upgraded.
type SessionChecker interface {
	GetSession(ctx context.Context, token string) (*schema.Session, error)
}

// WSHandler upgrades HTTP requests to WebSocket connections and forwards the
// session's push messages until the client goes away. The socket is
// write-only from the server side; incoming frames are discarded.
type WSHandler struct {
	hub      *Hub
	sessions SessionChecker
	logger   *slog.Logger
}

// NewWSHandler wires the hub and session validator into an http.Handler.
func NewWSHandler(hub *Hub, sessions SessionChecker, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{hub: hub, sessions: sessions, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session")
	if token == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	session, err := h.sessions.GetSession(r.Context(), token)
	if err != nil {
		http.Error(w, "unknown session", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ch, detach := h.hub.Attach(session.ID)
	defer detach()

	h.logger.Debug("push connection opened",
		"session_id", session.ID, "sandbox_id", session.SandboxID)

	// CloseRead discards client frames and cancels the context when the
	// peer closes or errors.
	ctx := conn.CloseRead(r.Context())
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("push connection closed", "session_id", session.ID)
			return
		case msg := <-ch:
			if err := writeMessage(ctx, conn, msg); err != nil {
				h.logger.Debug("push write failed, dropping connection",
					"session_id", session.ID, "error", err)
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
