package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/logging"
	"github.com/gazar78gazar/reqMas-MVP/internal/tui"
)

func chatCmd() *cobra.Command {
	var project string
	var sessionID string

	c := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive elicitation screen",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runChat(project, sessionID)
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVarP(&sessionID, "session", "s", defaultSessionID, "session identifier")
	return c
}

func runChat(project, sessionID string) error {
	cfg, err := openProject(project)
	if err != nil {
		return err
	}

	// The alt screen owns the terminal while the app runs, so startup
	// and shutdown problems also go to the process log.
	plog, _ := logging.New(cfg.ProjectDir)
	defer plog.Close()
	plog.Printf("chat: session %s starting", sessionID)

	opts := []tui.AppOption{tui.WithSessionID(sessionID)}
	if assist := buildAssist(cfg, nil); assist != nil {
		opts = append(opts, tui.WithAssist(assist))
	}
	app, err := tui.NewApp(cfg.ProjectDir, opts...)
	if err != nil {
		plog.Printf("chat: %v", err)
		return err
	}
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		plog.Printf("chat: ui exited: %v", err)
		return fmt.Errorf("run ui: %w", err)
	}
	plog.Printf("chat: session %s closed", sessionID)
	return nil
}
