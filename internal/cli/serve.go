package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/api"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/logbook"
)

// shutdownGrace bounds how long in-flight requests may run after an
// interrupt.
const shutdownGrace = 5 * time.Second

func serveCmd() *cobra.Command {
	var project string
	var host string
	var port int

	c := &cobra.Command{
		Use:   "serve",
		Short: "Expose the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openProject(project)
			if err != nil {
				return err
			}
			cat, err := catalog.Load(cfg.DataDir())
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			logb, err := logbook.New(cfg.LogbookPath())
			if err != nil {
				logb = nil
			}

			// Running serve is an explicit request, so the config's
			// enabled switch does not apply here.
			settings := api.SettingsFromConfig(cfg)
			settings.Enabled = true
			if h := strings.TrimSpace(host); h != "" {
				settings.Host = h
			}
			if port > 0 {
				settings.Port = port
			}

			base := agent.NewContext(cfg, cat, logb)
			if assist := buildAssist(cfg, nil); assist != nil {
				base = base.WithAssist(assist)
			}
			server := api.NewServer(settings, api.NewSessions(base), api.WithLogger(logb))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := server.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reqmas API listening on %s\n", server.BaseURL())
			<-ctx.Done()
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.Flags().StringVar(&host, "host", "", "bind host (overrides project config)")
	c.Flags().IntVar(&port, "port", 0, "bind port (overrides project config)")
	return c
}
