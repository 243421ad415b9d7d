// Package agent defines the runtime contract every pipeline agent
// implements, plus the registry the orchestrator resolves them from.
package agent

import (
	"fmt"

	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// Info describes an agent's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("agent: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("agent: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("agent: version is required for %s", i.ID)
	}
	return nil
}

// Status enumerates agent run outcomes.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusNoOp       Status = "no-op"
	StatusNeedsInput Status = "needs-input"
	StatusFailed     Status = "failed"
)

// Result captures the outcome of one agent run. Details carries
// structured output for the API and TUI, such as generated questions or
// a validation report.
type Result struct {
	Status  Status
	Message string
	Details map[string]any
}

// Detail reads one entry from Details, tolerating a nil map.
func (r Result) Detail(key string) (any, bool) {
	if r.Details == nil {
		return nil, false
	}
	value, ok := r.Details[key]
	return value, ok
}

// Input is one turn of user text handed to an agent.
type Input struct {
	Text   string
	Source string
}

// Agent is implemented by every pipeline stage. Process may mutate the
// session state; the caller persists it afterwards.
type Agent interface {
	Info() Info
	Process(ctx *Context, st *session.State, in Input) (Result, error)
}
