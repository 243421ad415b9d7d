package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gazar78gazar/reqMas-MVP/plugins"
)

func rulesCmd() *cobra.Command {
	var project string

	c := &cobra.Command{
		Use:   "rules",
		Short: "List the project's extraction rule plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openProject(project)
			if err != nil {
				return err
			}
			files, err := plugins.Discover(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No rule plugins installed.")
				fmt.Fprintf(out, "Drop *.yaml or *.go definitions under %s\n", cfg.RulesDir())
				return nil
			}
			for _, file := range files {
				def := file.Definition
				category := def.Category
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(out, "%-24s %-14s %s\n", def.ID, category, file.Path)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&project, "project", "p", "", "project directory holding .reqmas (defaults to cwd)")
	c.AddCommand(rulesCheckCmd())
	return c
}

func rulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <definition.yaml>",
		Short: "Validate one rule definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := plugins.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			if _, err := file.Definition.Compile(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (%s)\n", file.Path, file.Definition.ID)
			return nil
		},
	}
}
