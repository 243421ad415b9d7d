package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

type sessionSummary struct {
	ID           string    `json:"id"`
	Requirements int       `json:"requirements"`
	Iterations   int       `json:"iterations"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func sessionsCmd() *cobra.Command {
	var project string
	var format string

	c := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openProject(project)
			if err != nil {
				return err
			}
			store := session.NewStore(cfg.SessionsDir())
			ids, err := store.List()
			if err != nil {
				return err
			}

			summaries := make([]sessionSummary, 0, len(ids))
			for _, id := range ids {
				st, err := store.Load(id)
				if err != nil {
					return err
				}
				summaries = append(summaries, sessionSummary{
					ID:           id,
					Requirements: st.AnsweredCount(),
					Iterations:   st.IterationCount,
					UpdatedAt:    st.UpdatedAt,
				})
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No stored sessions.")
				return nil
			}
			for _, s := range summaries {
				updated := "never saved"
				if !s.UpdatedAt.IsZero() {
					updated = "updated " + s.UpdatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-20s %2d requirements  %2d iterations  %s\n",
					s.ID, s.Requirements, s.Iterations, updated)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}
