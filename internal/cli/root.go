// Package cli wires the reqmas command tree. The root command opens
// the interactive screen; the subcommands expose the same pipeline to
// scripts and services, persisting session state between invocations.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultSessionID matches the session the interactive screen opens
// when none is named.
const defaultSessionID = "main"

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var project string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "reqmas",
		Short: "Requirements elicitation for industrial automation hardware",
		Long: `reqmas guides requirement capture for industrial automation projects.
Run it without arguments to open the interactive session. The
subcommands drive the same pipeline one turn at a time so the flow can
be scripted or served over HTTP.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runChat(project, sessionID)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", defaultSessionID, "session identifier")

	cmd.AddCommand(
		chatCmd(),
		serveCmd(),
		processCmd(),
		statusCmd(),
		sessionsCmd(),
		resetCmd(),
		rulesCmd(),
	)
	return cmd
}
