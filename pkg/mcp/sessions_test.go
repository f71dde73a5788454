package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("token-1", "mcp-abc")
	sid, ok := r.SessionFor("token-1")
	assert.True(t, ok)
	assert.Equal(t, "mcp-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("token-1", "mcp-old")
	r.Register("token-1", "mcp-new")

	sid, ok := r.SessionFor("token-1")
	assert.True(t, ok)
	assert.Equal(t, "mcp-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("token-1", "mcp-abc")
	r.Register("token-2", "mcp-abc")
	r.Register("token-3", "mcp-xyz")

	r.Remove("mcp-abc")

	_, ok := r.SessionFor("token-1")
	assert.False(t, ok, "token-1 should be removed")

	_, ok = r.SessionFor("token-2")
	assert.False(t, ok, "token-2 should be removed")

	sid, ok := r.SessionFor("token-3")
	assert.True(t, ok, "token-3 should still exist")
	assert.Equal(t, "mcp-xyz", sid)
}

func TestSessionRegistry_MultipleTokens(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("token-1", "mcp-1")
	r.Register("token-2", "mcp-2")

	sid1, ok := r.SessionFor("token-1")
	assert.True(t, ok)
	assert.Equal(t, "mcp-1", sid1)

	sid2, ok := r.SessionFor("token-2")
	assert.True(t, ok)
	assert.Equal(t, "mcp-2", sid2)
}
