package httpapi

import (
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/model"
)

// mcpSessionTTL is how long a pushed MCP session health report stays
// listed before it is considered stale and evicted on next read.
const mcpSessionTTL = 60 * time.Second

// maxLiveSessions caps the number of distinct session ids tracked at
// once. A push for an id not already present is rejected once the cap
// is reached; a push updating an existing id always succeeds.
const maxLiveSessions = 100

// MCPSessionStore keeps the most recent health report from each peer
// process running an MCP session, pushed via POST /mcp/session. Each
// peer computes its own internal/mcpsession.Tracker health and reports
// the resulting snapshot here; this store only tracks freshness.
type MCPSessionStore struct {
	mu       sync.Mutex
	sessions map[string]mcpEntry
}

type mcpEntry struct {
	session model.MCPSession
	pushed  time.Time
}

func NewMCPSessionStore() *MCPSessionStore {
	return &MCPSessionStore{sessions: make(map[string]mcpEntry)}
}

// Push records or replaces a session's health report. Pushes for a
// session id not already tracked are silently dropped once
// maxLiveSessions live entries are held.
func (s *MCPSessionStore) Push(session model.MCPSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.SessionID]; !exists && len(s.sessions) >= maxLiveSessions {
		return
	}
	s.sessions[session.SessionID] = mcpEntry{session: session, pushed: time.Now()}
}

// List returns every non-expired session, evicting stale ones first.
func (s *MCPSessionStore) List() []model.MCPSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]model.MCPSession, 0, len(s.sessions))
	for id, e := range s.sessions {
		if now.Sub(e.pushed) > mcpSessionTTL {
			delete(s.sessions, id)
			continue
		}
		out = append(out, e.session)
	}
	return out
}
