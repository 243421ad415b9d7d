package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/agents/completeness"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/elicitor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/validator"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

type statusOutput struct {
	SessionID    string                 `json:"session_id"`
	Iterations   int                    `json:"iterations"`
	Requirements int                    `json:"requirements"`
	Completeness float64                `json:"completeness"`
	Threshold    float64                `json:"threshold"`
	Progress     elicitor.Progress      `json:"progress"`
	Constraints  []string               `json:"constraints"`
	Pending      *orchestrator.Question `json:"pending_question,omitempty"`
	Validation   *validator.Report      `json:"validation,omitempty"`
}

func statusCmd() *cobra.Command {
	var project string
	var sessionID string
	var format string

	c := &cobra.Command{
		Use:   "status",
		Short: "Show session progress and active constraints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := openSession(project, sessionID)
			if err != nil {
				return err
			}
			pending, err := readPendingQuestion(pendingPath(sess.Config, sess.State.SessionID))
			if err != nil {
				return err
			}

			eli := elicitor.New()
			scorer := completeness.New()
			out := statusOutput{
				SessionID:    sess.State.SessionID,
				Iterations:   sess.State.IterationCount,
				Requirements: sess.State.AnsweredCount(),
				Completeness: scorer.CheckCompleteness(sess.Deps, sess.State),
				Threshold:    sess.Config.CompletenessThreshold(),
				Progress:     eli.GetProgress(sess.State),
				Constraints:  sess.Pipeline.Status().ActiveConstraints,
				Pending:      pending,
			}
			if out.Requirements > 0 {
				out.Validation = validator.New().Validate(sess.Deps, sess.State)
			}
			return printStatusOutput(cmd.OutOrStdout(), out, sess.Catalog, format)
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVarP(&sessionID, "session", "s", defaultSessionID, "session identifier")
	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}

func printStatusOutput(w io.Writer, out statusOutput, cat *catalog.Catalog, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "pretty", "":
		printPrettyStatus(w, out, cat)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
	}
}

func printPrettyStatus(w io.Writer, out statusOutput, cat *catalog.Catalog) {
	fmt.Fprintf(w, "Session:      %s\n", out.SessionID)
	fmt.Fprintf(w, "Iterations:   %d\n", out.Iterations)
	fmt.Fprintf(w, "Requirements: %d answered\n", out.Requirements)
	fmt.Fprintf(w, "Completeness: %.0f%% (threshold %.0f%%)\n", out.Completeness*100, out.Threshold*100)

	if len(out.Progress.ByCategory) > 0 {
		fmt.Fprintln(w, "Progress:")
		for _, name := range session.Categories() {
			p, ok := out.Progress.ByCategory[name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %-14s %d/%d answered\n", name, p.Answered, p.Total)
		}
	}

	if len(out.Constraints) > 0 {
		fmt.Fprintf(w, "Constraints (%d):\n", len(out.Constraints))
		for _, id := range out.Constraints {
			fmt.Fprintf(w, "  - %s  %s\n", id, cat.DescribeConstraint(id))
		}
	}

	if out.Pending != nil {
		fmt.Fprintln(w, "Pending question:")
		fmt.Fprintf(w, "  %s\n", out.Pending.Question)
		if out.Pending.Options != nil {
			fmt.Fprintf(w, "    A) %s\n", out.Pending.Options.A)
			fmt.Fprintf(w, "    B) %s\n", out.Pending.Options.B)
		}
	}

	if out.Validation != nil {
		verdict := "PASS"
		if !out.Validation.IsValid {
			verdict = "FAIL"
		}
		fmt.Fprintf(w, "Validation:   %s\n", verdict)
		for _, v := range out.Validation.Violations {
			fmt.Fprintf(w, "  x %s\n", v)
		}
		for _, warn := range out.Validation.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warn)
		}
	}
}
