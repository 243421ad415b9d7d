package agent

import (
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/llm"
	"github.com/gazar78gazar/reqMas-MVP/internal/logbook"
)

// Context carries shared runtime dependencies into every agent.
type Context struct {
	Config    *config.Config
	Catalog   *catalog.Catalog
	Logbook   *logbook.Logbook
	Decisions *decisionlog.Logger
	Assist    *llm.Assist
	Ledger    *constraint.Ledger
	Beliefs   *belief.Network
	Clock     func() time.Time
}

// NewContext builds a Context with a real clock.
func NewContext(cfg *config.Config, cat *catalog.Catalog, lb *logbook.Logbook) *Context {
	return &Context{
		Config:  cfg,
		Catalog: cat,
		Logbook: lb,
		Clock:   time.Now,
	}
}

// Now returns the context clock's time, falling back to wall time.
func (ctx *Context) Now() time.Time {
	if ctx == nil || ctx.Clock == nil {
		return time.Now()
	}
	return ctx.Clock()
}

// WithClock allows tests to pin time.
func (ctx *Context) WithClock(clock func() time.Time) *Context {
	clone := *ctx
	clone.Clock = clock
	return &clone
}

// WithAssist attaches the model-backed helpers.
func (ctx *Context) WithAssist(assist *llm.Assist) *Context {
	clone := *ctx
	clone.Assist = assist
	return &clone
}

// WithDecisions attaches a per-session decision log.
func (ctx *Context) WithDecisions(log *decisionlog.Logger) *Context {
	clone := *ctx
	clone.Decisions = log
	return &clone
}

// WithLedger attaches the session's constraint ledger.
func (ctx *Context) WithLedger(ledger *constraint.Ledger) *Context {
	clone := *ctx
	clone.Ledger = ledger
	return &clone
}

// WithBeliefs attaches the session's use case belief network.
func (ctx *Context) WithBeliefs(network *belief.Network) *Context {
	clone := *ctx
	clone.Beliefs = network
	return &clone
}
