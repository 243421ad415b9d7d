package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

func resetCmd() *cobra.Command {
	var project string
	var sessionID string

	c := &cobra.Command{
		Use:   "reset",
		Short: "Forget a session's stored state",
		Long: `Reset removes the session snapshot, its constraint ledger, its turn
history, and any pending question. Decision logs stay on disk as the
audit trail.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openProject(project)
			if err != nil {
				return err
			}
			if err := session.ValidateID(sessionID); err != nil {
				return err
			}

			store := session.NewStore(cfg.SessionsDir())
			removed := true
			if err := store.Delete(sessionID); errors.Is(err, session.ErrSessionNotFound) {
				removed = false
			} else if err != nil {
				return err
			}
			snapshots := []string{
				ledgerPath(cfg, sessionID),
				pendingPath(cfg, sessionID),
				historyPath(cfg, sessionID),
			}
			for _, path := range snapshots {
				if err := removeSnapshot(path); err != nil {
					return err
				}
			}

			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset.\n", sessionID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s had no stored state.\n", sessionID)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVarP(&sessionID, "session", "s", defaultSessionID, "session identifier")
	return c
}
