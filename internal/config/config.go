// internal/config/config.go
//
// This package handles configuration and the .reqmas directory structure.
// Every project that uses reqMAS gets a .reqmas/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the name of the directory we create in each project
	ProjectDirName = ".reqmas"

	defaultMaxIterations         = 3
	defaultCompletenessThreshold = 0.85
	defaultAgentTimeoutSeconds   = 3.0
	defaultLLMModel              = "gpt-4o"
	defaultAPIHost               = "127.0.0.1"
	defaultAPIPort               = 8000
)

const defaultProjectConfigYAML = `# reqMAS project configuration
version: 1

project:
  name: ""

# Sequential pipeline limits. The router stops after max_iterations and hands
# requirements to the validator once completeness reaches the threshold.
pipeline:
  max_iterations: 3
  completeness_threshold: 0.85
  agent_timeout_seconds: 3

# OpenAI-compatible assist. Disabled configurations run fully deterministic.
# The API key comes from REQMAS_API_KEY or OPENAI_API_KEY, never from this file.
llm:
  enabled: false
  model: gpt-4o
  base_urls:
    - https://api.openai.com/v1
  temperature: 0.2
  max_tokens: 1024

api:
  host: 127.0.0.1
  port: 8000
`

// ProjectMeta names the project inside .reqmas/config.yaml.
type ProjectMeta struct {
	Name string `yaml:"name"`
}

// PipelineConfig captures the sequential routing limits.
type PipelineConfig struct {
	MaxIterations         int     `yaml:"max_iterations"`
	CompletenessThreshold float64 `yaml:"completeness_threshold"`
	AgentTimeoutSeconds   float64 `yaml:"agent_timeout_seconds"`
}

// LLMConfig declares the OpenAI-compatible assist endpoints.
type LLMConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Model       string   `yaml:"model"`
	BaseURLs    []string `yaml:"base_urls"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// APIConfig captures HTTP bridge preferences.
type APIConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProjectConfig models .reqmas/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	Project  ProjectMeta    `yaml:"project"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LLM      LLMConfig      `yaml:"llm"`
	API      APIConfig      `yaml:"api"`
}

// Config holds the runtime configuration for reqMAS.
type Config struct {
	// ProjectDir is the directory where the user ran `reqmas` from
	ProjectDir string

	// ReqmasProjectDir is ProjectDir/.reqmas
	ReqmasProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .reqmas directory structure in the given project
// directory. This is called when the TUI or server starts up.
//
// Structure created:
// .reqmas/
// ├── data/             <- catalog overrides (constraints.json, use_cases.json, products.json)
// ├── rules/            <- extraction-rule plugin definitions
// ├── state/sessions/   <- persisted session state
// └── logs/sessions/    <- per-session decision logs (reqmas.log lives in logs/)
func InitProjectDir(projectDir string) error {
	reqmasDir := filepath.Join(projectDir, ProjectDirName)

	dirs := []string{
		filepath.Join(reqmasDir, "data"),
		filepath.Join(reqmasDir, "rules"),
		filepath.Join(reqmasDir, "state", "sessions"),
		filepath.Join(reqmasDir, "logs", "sessions"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := ensureProjectConfig(filepath.Join(reqmasDir, "config.yaml")); err != nil {
		return err
	}

	return nil
}

// NewConfig creates a new Config instance populated with project settings.
// REQMAS_ROOT, when set, overrides where the .reqmas directory is looked up so
// several checkouts can share one project state.
func NewConfig(projectDir string) (*Config, error) {
	if root := strings.TrimSpace(os.Getenv("REQMAS_ROOT")); root != "" {
		projectDir = root
	}
	if strings.TrimSpace(projectDir) == "" {
		return nil, fmt.Errorf("config: project directory is required")
	}

	cfg := &Config{
		ProjectDir:       projectDir,
		ReqmasProjectDir: filepath.Join(projectDir, ProjectDirName),
		Project:          defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DataDir returns the path to the catalog override directory
func (c *Config) DataDir() string {
	return filepath.Join(c.ReqmasProjectDir, "data")
}

// RulesDir returns the path to the extraction-rule plugin directory
func (c *Config) RulesDir() string {
	return filepath.Join(c.ReqmasProjectDir, "rules")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ReqmasProjectDir, "state")
}

// SessionsDir returns the path that holds persisted session files
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StateDir(), "sessions")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ReqmasProjectDir, "logs")
}

// LogbookPath returns the path to the operational log file
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "reqmas.log")
}

// SessionLogsDir returns the decision-log directory for one session
func (c *Config) SessionLogsDir(sessionID string) string {
	return filepath.Join(c.LogsDir(), "sessions", sessionID)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ReqmasProjectDir, "config.yaml")
}

// MaxIterations returns the router's iteration cap.
func (c *Config) MaxIterations() int {
	return c.Project.Pipeline.MaxIterations
}

// CompletenessThreshold returns the score at which routing moves to validation.
func (c *Config) CompletenessThreshold() float64 {
	return c.Project.Pipeline.CompletenessThreshold
}

// AgentTimeout returns the per-agent deadline for pipeline fan-out.
func (c *Config) AgentTimeout() time.Duration {
	seconds := c.Project.Pipeline.AgentTimeoutSeconds
	if seconds <= 0 {
		seconds = defaultAgentTimeoutSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// SetProjectName updates the project name and persists the value back to
// .reqmas/config.yaml.
func (c *Config) SetProjectName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("config: project name is required")
	}
	c.Project.Project.Name = name
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Pipeline: PipelineConfig{
			MaxIterations:         defaultMaxIterations,
			CompletenessThreshold: defaultCompletenessThreshold,
			AgentTimeoutSeconds:   defaultAgentTimeoutSeconds,
		},
		LLM: LLMConfig{
			Model:       defaultLLMModel,
			BaseURLs:    []string{"https://api.openai.com/v1"},
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		API: APIConfig{
			Host: defaultAPIHost,
			Port: defaultAPIPort,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Pipeline.MaxIterations == 0 {
		pc.Pipeline.MaxIterations = defaultMaxIterations
	}
	if pc.Pipeline.CompletenessThreshold == 0 {
		pc.Pipeline.CompletenessThreshold = defaultCompletenessThreshold
	}
	if pc.Pipeline.AgentTimeoutSeconds == 0 {
		pc.Pipeline.AgentTimeoutSeconds = defaultAgentTimeoutSeconds
	}
	if pc.LLM.Model == "" {
		pc.LLM.Model = defaultLLMModel
	}
	if len(pc.LLM.BaseURLs) == 0 {
		pc.LLM.BaseURLs = []string{"https://api.openai.com/v1"}
	}
	if pc.LLM.MaxTokens == 0 {
		pc.LLM.MaxTokens = 1024
	}
	if pc.API.Host == "" {
		pc.API.Host = defaultAPIHost
	}
	if pc.API.Port == 0 {
		pc.API.Port = defaultAPIPort
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Project.Name = strings.TrimSpace(pc.Project.Name)
	pc.LLM.Model = strings.TrimSpace(pc.LLM.Model)
	urls := make([]string, 0, len(pc.LLM.BaseURLs))
	for _, url := range pc.LLM.BaseURLs {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	pc.LLM.BaseURLs = urls
	pc.API.Host = strings.TrimSpace(pc.API.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be >= 1")
	}
	if pc.Pipeline.CompletenessThreshold <= 0 || pc.Pipeline.CompletenessThreshold > 1 {
		return fmt.Errorf("pipeline.completeness_threshold must be in (0, 1]")
	}
	if pc.Pipeline.AgentTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.agent_timeout_seconds must be positive")
	}
	if pc.LLM.Enabled {
		if pc.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm is enabled")
		}
		if len(pc.LLM.BaseURLs) == 0 {
			return fmt.Errorf("llm.base_urls is required when llm is enabled")
		}
	}
	if pc.API.Port < 0 || pc.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid TCP port")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ReqmasProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure reqmas dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
