// Package api exposes the requirements pipeline over HTTP. The surface
// is small: /process drives turns, /status and /reset manage per-session
// state, /health reports liveness.
package api

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// DefaultSessionID is used when a request names no session.
const DefaultSessionID = "main"

// Session bundles the per-caller state: flat session state, the
// pipeline driving turns, and the ledger backing state snapshots.
type Session struct {
	ID       string
	State    *session.State
	Pipeline *orchestrator.Pipeline
	Ledger   *constraint.Ledger
}

// Sessions lazily builds one pipeline per session id. The catalog and
// config are shared; ledger, beliefs, and decision log are per session.
type Sessions struct {
	mu      sync.Mutex
	base    *agent.Context
	entries map[string]*Session
}

// NewSessions prepares a registry over the shared agent context.
func NewSessions(base *agent.Context) *Sessions {
	return &Sessions{
		base:    base,
		entries: map[string]*Session{},
	}
}

// Get returns the session for id, creating it on first use. An empty id
// maps to DefaultSessionID.
func (s *Sessions) Get(id string) (*Session, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("api: session registry is not initialized")
	}
	id = normalizeSessionID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.entries[id]; ok {
		return sess, nil
	}
	sess, err := s.build(id)
	if err != nil {
		return nil, err
	}
	s.entries[id] = sess
	return sess, nil
}

func (s *Sessions) build(id string) (*Session, error) {
	if s.base.Catalog == nil {
		return nil, fmt.Errorf("api: catalog is required")
	}
	ledger := constraint.NewLedger(id, s.base.Catalog.MutexConstraints)
	deps := s.base.WithLedger(ledger).WithBeliefs(belief.NewNetwork(s.base.Catalog))
	if s.base.Config != nil {
		log, err := decisionlog.New(id, s.base.Config.SessionLogsDir(id))
		if err != nil {
			return nil, fmt.Errorf("api: session %s: %w", id, err)
		}
		deps = deps.WithDecisions(log)
	}
	pipe, err := orchestrator.NewPipeline(deps)
	if err != nil {
		return nil, fmt.Errorf("api: session %s: %w", id, err)
	}
	return &Session{
		ID:       id,
		State:    session.NewState(id),
		Pipeline: pipe,
		Ledger:   ledger,
	}, nil
}

// Reset clears the session's beliefs, ledger, and flat state. Unknown
// sessions are created fresh so a reset is always safe to call.
func (s *Sessions) Reset(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Pipeline.Reset()
	sess.State = session.NewState(sess.ID)
	return nil
}

// Count reports how many sessions have been created.
func (s *Sessions) Count() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func normalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}
