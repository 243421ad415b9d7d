// Package orchestrator routes a session between agents and runs the
// processing pipeline that turns free-form input into constraints.
package orchestrator

import (
	"fmt"

	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// Route targets. RouteEnd terminates the loop.
const (
	RouteElicitor  = "elicitor"
	RouteValidator = "validator"
	RouteEnd       = "END"
)

const (
	defaultMaxIterations = 3
	defaultThreshold     = 0.85
)

// errorWindow is how many trailing decisions the error check inspects;
// errorLimit is how many errors inside that window stop the loop.
const (
	errorWindow = 3
	errorLimit  = 2
)

// Router decides which agent handles the session next. Every decision
// lands in the session's decision log with its reasoning.
type Router struct {
	decisions     *decisionlog.Logger
	maxIterations int
	threshold     float64
}

// NewRouter builds a router from config, falling back to the defaults
// when cfg is nil or holds non-positive values.
func NewRouter(cfg *config.Config, decisions *decisionlog.Logger) *Router {
	r := &Router{
		decisions:     decisions,
		maxIterations: defaultMaxIterations,
		threshold:     defaultThreshold,
	}
	if cfg != nil {
		if n := cfg.MaxIterations(); n > 0 {
			r.maxIterations = n
		}
		if t := cfg.CompletenessThreshold(); t > 0 {
			r.threshold = t
		}
	}
	return r
}

// MaxIterations reports the iteration cap the router enforces.
func (r *Router) MaxIterations() int { return r.maxIterations }

// Route picks the next agent for the state and records the decision.
// The state's current agent is updated unless the route terminates.
func (r *Router) Route(st *session.State) string {
	var next string
	var reasoning []string

	switch {
	case st.IterationCount >= r.maxIterations:
		next = RouteEnd
		reasoning = []string{
			fmt.Sprintf("Reached maximum iterations (%d)", r.maxIterations),
			"Terminating to prevent infinite loops",
		}
	case len(st.Requirements) == 0:
		next = RouteElicitor
		reasoning = []string{
			"No requirements collected yet",
			"Starting with elicitor to gather initial requirements",
		}
	case st.CompletenessScore < r.threshold:
		next = RouteElicitor
		reasoning = []string{
			fmt.Sprintf("Completeness score: %.2f", st.CompletenessScore),
			fmt.Sprintf("Below threshold of %.2f", r.threshold),
			"Routing back to elicitor to gather more requirements",
		}
	default:
		next = RouteValidator
		reasoning = []string{
			fmt.Sprintf("Completeness score: %.2f", st.CompletenessScore),
			"Above threshold, requirements look complete",
			"Routing to validator for final checks",
		}
	}

	if r.decisions != nil {
		_ = r.decisions.LogRouting(st.IterationCount, next, reasoning)
	}
	st.AddDecision("orchestrator", "route_to_"+next, reasoning)

	if next != RouteEnd {
		st.CurrentAgent = next
	}
	return next
}

// ProcessError records an agent failure and terminates the route.
func (r *Router) ProcessError(st *session.State, agentID string, processErr error) string {
	if r.decisions != nil {
		_ = r.decisions.LogError(agentID, processErr.Error(),
			fmt.Sprintf("iteration %d, completeness %.2f", st.IterationCount, st.CompletenessScore))
	}
	st.AddDecision(agentID, "ERROR", []string{
		fmt.Sprintf("Error in %s: %v", agentID, processErr),
		"Terminating due to error",
	})
	return RouteEnd
}

// ShouldContinue reports whether the loop may take another turn. The
// iteration cap, an END route, and repeated recent errors all stop it.
func (r *Router) ShouldContinue(st *session.State) bool {
	if st.IterationCount >= r.maxIterations {
		return false
	}
	if st.CurrentAgent == RouteEnd {
		return false
	}

	recent := st.DecisionLog
	if len(recent) > errorWindow {
		recent = recent[len(recent)-errorWindow:]
	}
	errors := 0
	for _, d := range recent {
		if d.Decision == "ERROR" {
			errors++
		}
	}
	return errors < errorLimit
}

// RoutingSummary totals the routing decisions taken for one session.
type RoutingSummary struct {
	TotalRoutes       int            `json:"total_routes"`
	Routes            map[string]int `json:"routes"`
	FinalCompleteness float64        `json:"final_completeness"`
	Iterations        int            `json:"iterations"`
	Terminated        bool           `json:"terminated"`
}

// Summary tallies the orchestrator decisions recorded on the state.
func (r *Router) Summary(st *session.State) RoutingSummary {
	summary := RoutingSummary{
		Routes:            map[string]int{},
		FinalCompleteness: st.CompletenessScore,
		Iterations:        st.IterationCount,
		Terminated:        st.CurrentAgent == RouteEnd || st.IterationCount >= r.maxIterations,
	}
	for _, d := range st.DecisionLog {
		if d.Agent != "orchestrator" {
			continue
		}
		summary.TotalRoutes++
		summary.Routes[d.Decision]++
	}
	return summary
}
