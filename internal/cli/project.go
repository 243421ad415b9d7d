package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/llm"
	"github.com/gazar78gazar/reqMas-MVP/plugins"
)

// resolveProject absolutizes the project flag, defaulting to the
// working directory. REQMAS_ROOT wins over both so several checkouts
// can share one project state, matching config.NewConfig.
func resolveProject(project string) (string, error) {
	dir := strings.TrimSpace(project)
	if root := strings.TrimSpace(os.Getenv("REQMAS_ROOT")); root != "" {
		dir = root
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

// openProject prepares the .reqmas tree, loads the project config, and
// installs the project's extraction rule plugins. A .env file in the
// project root tops up the environment so the model key can live next
// to the project instead of the shell profile.
func openProject(project string) (*config.Config, error) {
	dir, err := resolveProject(project)
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	if err := config.InitProjectDir(dir); err != nil {
		return nil, fmt.Errorf("init .reqmas: %w", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := plugins.InstallRules(cfg); err != nil {
		return nil, fmt.Errorf("install rules: %w", err)
	}
	return cfg, nil
}

// buildAssist wires the model-backed helpers when the project enables
// them and a key is present in the environment. Everything else runs
// the deterministic fallbacks.
func buildAssist(cfg *config.Config, decisions *decisionlog.Logger) *llm.Assist {
	if cfg == nil || !cfg.Project.LLM.Enabled {
		return nil
	}
	client, err := llm.NewClientFromEnv()
	if err != nil {
		return nil
	}
	model := client.Model()
	if model == "" {
		model = cfg.Project.LLM.Model
	}
	return llm.NewAssist(client, model, decisions)
}
