package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
)

// processOutput mirrors the HTTP /process response so scripted callers
// see the same shape either way.
type processOutput struct {
	Status               string                 `json:"status"`
	SessionID            string                 `json:"session_id"`
	Route                string                 `json:"route,omitempty"`
	Confidence           float64                `json:"confidence"`
	UseCaseProbabilities map[string]float64     `json:"uc_probabilities,omitempty"`
	Question             *orchestrator.Question `json:"question,omitempty"`
	Conflicts            []string               `json:"conflicts,omitempty"`
	Resolution           string                 `json:"resolution,omitempty"`
	Applied              *orchestrator.Response `json:"applied,omitempty"`
	Constraints          []string               `json:"constraints"`
	Message              string                 `json:"message"`
}

func processCmd() *cobra.Command {
	var project string
	var sessionID string
	var input string
	var respond string
	var format string

	c := &cobra.Command{
		Use:   "process",
		Short: "Run one pipeline turn over requirement text",
		Long: `Process feeds one round of requirement text through belief scoring,
extraction, and conflict checking, then stores the session so the next
invocation picks up the accumulated constraints. When a turn ends in an
A/B question, answer it with --respond before or alongside more input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text := strings.TrimSpace(input)
			if text == "" && strings.TrimSpace(respond) == "" {
				return fmt.Errorf("provide --input text, --respond a|b, or both")
			}

			sess, err := openSession(project, sessionID)
			if err != nil {
				return err
			}
			pendPath := pendingPath(sess.Config, sess.State.SessionID)

			var applied *orchestrator.Response
			if strings.TrimSpace(respond) != "" {
				choice, err := parseChoice(respond)
				if err != nil {
					return err
				}
				q, err := readPendingQuestion(pendPath)
				if err != nil {
					return err
				}
				if q == nil {
					return fmt.Errorf("session %s has no pending question", sess.State.SessionID)
				}
				resp := sess.Pipeline.RespondAB(q, choice)
				if resp.Action == "unknown" {
					return fmt.Errorf("the pending question could not take answer %q", respond)
				}
				applied = &resp
				if resp.Action == "uc_selected" {
					// Belief updates only persist through replay, so the
					// confirmation evidence goes into the turn history.
					sess.history = append(sess.history, orchestrator.HistoryRecord{
						Input:      orchestrator.ConfirmationEvidence(sess.Catalog, resp.UseCase),
						Route:      "uc_confirmed",
						Confidence: 0.95,
						Timestamp:  time.Now(),
					})
				}
				if err := removeSnapshot(pendPath); err != nil {
					return err
				}
			}

			var out processOutput
			if text != "" {
				result, err := sess.Pipeline.Process(cmd.Context(), sess.State, text)
				if err != nil {
					return err
				}
				if result.NeedsDisambiguation && result.Question != nil {
					if err := writePendingQuestion(pendPath, result.Question); err != nil {
						return err
					}
				}
				out = buildProcessOutput(sess, result, applied)
			} else {
				out = respondOnlyOutput(sess, applied)
			}

			if err := sess.Save(); err != nil {
				return err
			}
			return printProcessOutput(cmd.OutOrStdout(), out, sess.Catalog, format)
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVarP(&sessionID, "session", "s", defaultSessionID, "session identifier")
	c.Flags().StringVarP(&input, "input", "i", "", "requirement text to process")
	c.Flags().StringVarP(&respond, "respond", "r", "", "answer to the pending A/B question (a or b)")
	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}

// parseChoice reads an A/B answer the way people actually type them.
func parseChoice(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "option a", "first":
		return "A", nil
	case "b", "option b", "second":
		return "B", nil
	}
	return "", fmt.Errorf("could not read %q as an A/B choice", raw)
}

func buildProcessOutput(sess *cliSession, result orchestrator.ProcessResult, applied *orchestrator.Response) processOutput {
	out := processOutput{
		SessionID:            sess.State.SessionID,
		Route:                result.Route,
		Confidence:           result.AggregatedConfidence,
		UseCaseProbabilities: result.UseCaseProbabilities,
		Applied:              applied,
		Constraints:          sess.Pipeline.Status().ActiveConstraints,
	}
	switch {
	case result.NeedsDisambiguation && len(result.Conflicts) > 0:
		out.Status = "conflict_detected"
		out.Question = result.Question
		for _, conflict := range result.Conflicts {
			out.Conflicts = append(out.Conflicts, conflict.Explanation)
		}
		out.Message = "Conflict detected, resolution required"
	case result.NeedsDisambiguation:
		out.Status = "needs_clarification"
		out.Question = result.Question
		out.Message = "Answer the question to proceed"
	case result.AutoResolve:
		out.Status = "auto_resolved"
		out.Resolution = result.SuggestedResolution
		out.Message = "Conflict resolved automatically on confidence"
	default:
		out.Status = "success"
		out.Message = "Requirements processed"
	}
	return out
}

func respondOnlyOutput(sess *cliSession, applied *orchestrator.Response) processOutput {
	status := sess.Pipeline.Status()
	out := processOutput{
		Status:      "response_applied",
		SessionID:   sess.State.SessionID,
		Applied:     applied,
		Constraints: status.ActiveConstraints,
		Message:     "Answer applied",
	}
	if status.Confidence != nil {
		out.Confidence = status.Confidence.FinalConfidence
	}
	return out
}

func printProcessOutput(w io.Writer, out processOutput, cat *catalog.Catalog, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "pretty", "":
		printPrettyProcess(w, out, cat)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
	}
}

func printPrettyProcess(w io.Writer, out processOutput, cat *catalog.Catalog) {
	fmt.Fprintf(w, "Session:    %s\n", out.SessionID)
	fmt.Fprintf(w, "Status:     %s\n", out.Status)
	if out.Route != "" {
		fmt.Fprintf(w, "Route:      %s\n", out.Route)
	}
	fmt.Fprintf(w, "Confidence: %.2f\n", out.Confidence)
	if out.Applied != nil {
		fmt.Fprintf(w, "Applied:    %s", out.Applied.Action)
		if out.Applied.Removed != "" {
			fmt.Fprintf(w, " (removed %s)", out.Applied.Removed)
		}
		fmt.Fprintln(w)
	}

	if len(out.UseCaseProbabilities) > 0 {
		fmt.Fprintln(w, "Use cases:")
		for _, id := range sortedByProbability(out.UseCaseProbabilities) {
			fmt.Fprintf(w, "  %-5s %-28s %3.0f%%\n", id, cat.UseCaseName(id), out.UseCaseProbabilities[id]*100)
		}
	}

	for _, explanation := range out.Conflicts {
		fmt.Fprintf(w, "Conflict: %s\n", explanation)
	}
	if out.Resolution != "" {
		fmt.Fprintf(w, "Resolution: %s\n", out.Resolution)
	}

	if out.Question != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, out.Question.Question)
		if out.Question.Options != nil {
			fmt.Fprintf(w, "  A) %s\n", out.Question.Options.A)
			fmt.Fprintf(w, "  B) %s\n", out.Question.Options.B)
		}
		fmt.Fprintln(w, "Answer with: reqmas process --respond a|b")
	}

	if len(out.Constraints) > 0 {
		fmt.Fprintf(w, "Constraints (%d):\n", len(out.Constraints))
		for _, id := range out.Constraints {
			fmt.Fprintf(w, "  - %s  %s\n", id, cat.DescribeConstraint(id))
		}
	}
	fmt.Fprintln(w, out.Message)
}

// sortedByProbability orders use case ids strongest first, ties by id
// so output stays stable.
func sortedByProbability(probs map[string]float64) []string {
	ids := make([]string, 0, len(probs))
	for id := range probs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if probs[ids[i]] != probs[ids[j]] {
			return probs[ids[i]] > probs[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
