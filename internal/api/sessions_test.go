package api

import (
	"testing"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
)

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	cat, err := catalog.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return NewSessions(&agent.Context{Catalog: cat})
}

func TestSessionsLazyCreate(t *testing.T) {
	sessions := newTestSessions(t)
	sess, err := sessions.Get("")
	if err != nil {
		t.Fatalf("get default session: %v", err)
	}
	if sess.ID != DefaultSessionID {
		t.Fatalf("expected default id %q, got %q", DefaultSessionID, sess.ID)
	}
	again, err := sessions.Get("main")
	if err != nil {
		t.Fatalf("get main session: %v", err)
	}
	if again != sess {
		t.Fatalf("expected the same session instance for the same id")
	}
	if sessions.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", sessions.Count())
	}
}

func TestSessionsIsolateState(t *testing.T) {
	sessions := newTestSessions(t)
	a, err := sessions.Get("a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	b, err := sessions.Get("b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	a.Ledger.Add(constraint.Constraint{
		ID:          "CNST_ETHERCAT",
		Strength:    constraint.Mandatory,
		Timestamp:   time.Now(),
		SourceAgent: "user",
		Confidence:  0.9,
	})
	if got := len(a.Ledger.GetSnapshot().Constraints); got != 1 {
		t.Fatalf("expected 1 constraint in a, got %d", got)
	}
	if got := len(b.Ledger.GetSnapshot().Constraints); got != 0 {
		t.Fatalf("expected b untouched, got %d constraints", got)
	}
}

func TestSessionsReset(t *testing.T) {
	sessions := newTestSessions(t)
	sess, err := sessions.Get("reset-me")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	sess.Ledger.Add(constraint.Constraint{
		ID:          "CNST_ETHERCAT",
		Strength:    constraint.Mandatory,
		Timestamp:   time.Now(),
		SourceAgent: "user",
		Confidence:  0.9,
	})
	sess.State.IterationCount = 2

	if err := sessions.Reset("reset-me"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := len(sess.Ledger.GetSnapshot().Constraints); got != 0 {
		t.Fatalf("expected empty ledger after reset, got %d", got)
	}
	if sess.State.IterationCount != 0 {
		t.Fatalf("expected fresh state after reset, got iteration %d", sess.State.IterationCount)
	}
	if sessions.Count() != 1 {
		t.Fatalf("reset should keep the session registered, got %d", sessions.Count())
	}
}

func TestSessionsResetUnknownCreates(t *testing.T) {
	sessions := newTestSessions(t)
	if err := sessions.Reset("brand-new"); err != nil {
		t.Fatalf("reset unknown session: %v", err)
	}
	if sessions.Count() != 1 {
		t.Fatalf("expected reset to create the session, got %d", sessions.Count())
	}
}

func TestSessionsRequireCatalog(t *testing.T) {
	sessions := NewSessions(&agent.Context{})
	if _, err := sessions.Get("x"); err == nil {
		t.Fatalf("expected error without a catalog")
	}
}
