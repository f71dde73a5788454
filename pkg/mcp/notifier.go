package mcp

import (
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/lotwise/driveline/internal/push"
)

// Notifier is a push.Pusher that forwards each session message to the next
// transport and, when the session arrived over MCP, mirrors it to that MCP
// client as a notification. Best-effort on the MCP leg: a disconnected agent
// never fails the push path.
//
// The engine needs its pusher before the MCP server exists, so the server is
// attached later with Bind; until then only the next transport is used.
type Notifier struct {
	next     push.Pusher
	sessions *SessionRegistry

	mu        sync.RWMutex
	mcpServer *server.MCPServer
}

// NewNotifier wraps next with MCP mirroring. next may be nil.
func NewNotifier(next push.Pusher, sessions *SessionRegistry) *Notifier {
	return &Notifier{next: next, sessions: sessions}
}

// Bind attaches the MCP server once it has been constructed.
func (n *Notifier) Bind(s *server.MCPServer) {
	n.mu.Lock()
	n.mcpServer = s
	n.mu.Unlock()
}

// Push implements push.Pusher.
func (n *Notifier) Push(sessionID string, msg push.Message) {
	if n.next != nil {
		n.next.Push(sessionID, msg)
	}

	n.mu.RLock()
	srv := n.mcpServer
	n.mu.RUnlock()
	if srv == nil {
		return
	}

	mcpSessionID, ok := n.sessions.SessionFor(sessionID)
	if !ok {
		return
	}

	err := srv.SendNotificationToSpecificClient(mcpSessionID, "notifications/message", map[string]any{
		"type":           msg.Type,
		"session_id":     msg.SessionID,
		"correlation_id": msg.CorrelationID,
		"payload":        msg.Payload,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(mcpSessionID)
	}
}
