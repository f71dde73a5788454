package mcp

import "sync"

// SessionRegistry maps driveline session tokens to MCP session IDs.
// Populated automatically when an agent calls any tool with a session token.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // session token → MCP session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a session token with an MCP session ID.
// If the token is already mapped, it is overwritten (reconnect).
func (r *SessionRegistry) Register(token, mcpSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = mcpSessionID
}

// SessionFor returns the MCP session ID for the given token, if connected.
func (r *SessionRegistry) SessionFor(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[token]
	return sid, ok
}

// Remove deletes all token mappings for the given MCP session ID.
// Called when an MCP session disconnects.
func (r *SessionRegistry) Remove(mcpSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, sid := range r.sessions {
		if sid == mcpSessionID {
			delete(r.sessions, token)
		}
	}
}
