package orchestrator

import (
	"context"
	"fmt"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/completeness"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/elicitor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/validator"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// AnswerFunc supplies user answers for a batch of questions. Returning
// nil leaves the questions unanswered this round.
type AnswerFunc func(questions []string) []elicitor.Answer

// RunReport summarizes one sequential run.
type RunReport struct {
	Iterations int            `json:"iterations"`
	FinalRoute string         `json:"final_route"`
	Validation map[string]any `json:"validation,omitempty"`
	Routing    RoutingSummary `json:"routing"`
}

// Sequential drives the elicit, check, validate loop for one session.
// Each iteration routes to exactly one agent; the route decides when
// the session is complete.
type Sequential struct {
	deps         *agent.Context
	router       *Router
	elicitor     *elicitor.Agent
	completeness *completeness.Agent
	validator    *validator.Agent
}

// NewSequential wires the loop's agents against shared dependencies.
func NewSequential(deps *agent.Context) *Sequential {
	var cfg *Router
	if deps != nil {
		cfg = NewRouter(deps.Config, deps.Decisions)
	} else {
		cfg = NewRouter(nil, nil)
	}
	return &Sequential{
		deps:         deps,
		router:       cfg,
		elicitor:     elicitor.New(),
		completeness: completeness.New(),
		validator:    validator.New(),
	}
}

// Router exposes the loop's router, mainly for status reporting.
func (s *Sequential) Router() *Router { return s.router }

// Run loops the session until the router terminates it. The answer
// callback feeds elicitor questions back as answers; a nil callback
// runs the loop without user input until the iteration cap.
func (s *Sequential) Run(ctx context.Context, st *session.State, answer AnswerFunc) (RunReport, error) {
	if st == nil {
		return RunReport{FinalRoute: RouteEnd}, fmt.Errorf("orchestrator: state is required")
	}

	for s.router.ShouldContinue(st) {
		if err := ctx.Err(); err != nil {
			return s.finish(st, st.CurrentAgent), err
		}

		next := s.router.Route(st)
		switch next {
		case RouteEnd:
			st.CurrentAgent = RouteEnd
			return s.finish(st, RouteEnd), nil

		case RouteElicitor:
			if err := s.elicit(ctx, st, answer); err != nil {
				s.router.ProcessError(st, RouteElicitor, err)
				return s.finish(st, RouteEnd), err
			}

		case RouteValidator:
			result, err := s.validator.Process(s.deps, st, agent.Input{})
			if err != nil {
				s.router.ProcessError(st, RouteValidator, err)
				return s.finish(st, RouteEnd), err
			}
			st.CurrentAgent = RouteEnd
			report := s.finish(st, RouteEnd)
			report.Validation = result.Details
			return report, nil
		}

		st.IterationCount++
	}

	st.CurrentAgent = RouteEnd
	return s.finish(st, RouteEnd), nil
}

// elicit runs one elicitor round: ask the next questions, fold the
// answers in, then rescore completeness.
func (s *Sequential) elicit(ctx context.Context, st *session.State, answer AnswerFunc) error {
	result, err := s.elicitor.Process(s.deps, st, agent.Input{})
	if err != nil {
		return err
	}

	if raw, ok := result.Detail("questions"); ok {
		if questions, ok := raw.([]string); ok && len(questions) > 0 && answer != nil {
			if answers := answer(questions); len(answers) > 0 {
				s.elicitor.ProcessAnswers(s.deps, st, answers)
			}
		}
	}

	if _, err := s.completeness.Process(s.deps, st, agent.Input{}); err != nil {
		return err
	}
	return nil
}

func (s *Sequential) finish(st *session.State, route string) RunReport {
	return RunReport{
		Iterations: st.IterationCount,
		FinalRoute: route,
		Routing:    s.router.Summary(st),
	}
}
