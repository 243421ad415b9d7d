package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/logbook"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
	"github.com/gazar78gazar/reqMas-MVP/plugins"
)

// agent-runner executes a single registered agent against a stored
// session, outside the orchestrated pipeline. It exists for debugging
// one stage at a time: feed text to the extractor alone, rerun the
// validator after editing state by hand, and so on.
func main() {
	agentID := flag.String("agent", "", "agent identifier to execute (e.g. extractor)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	sessionID := flag.String("session", "main", "session identifier")
	input := flag.String("input", "", "requirement text handed to the agent")
	configFile := flag.String("config-file", "", "path to YAML/JSON file with agent config overrides")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "agent config override (key=value, repeatable)")
	flag.Parse()

	if strings.TrimSpace(*agentID) == "" {
		die("--agent is required")
	}

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	_ = godotenv.Load(filepath.Join(absoluteProject, ".env"))
	if err := config.InitProjectDir(absoluteProject); err != nil {
		die("init .reqmas: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	if _, err := plugins.InstallRules(cfg); err != nil {
		die("install rules: %v", err)
	}
	cat, err := catalog.Load(cfg.DataDir())
	if err != nil {
		die("load catalog: %v", err)
	}
	logb, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		logb = nil
	}

	store := session.NewStore(cfg.SessionsDir())
	state, err := store.LoadOrCreate(*sessionID)
	if err != nil {
		die("load session: %v", err)
	}
	ledger := constraint.NewLedger(*sessionID, cat.MutexConstraints)
	ledgerFile := filepath.Join(cfg.StateDir(), "ledgers", *sessionID+".json")
	if err := mergeLedgerFile(ledger, ledgerFile); err != nil {
		die("load ledger: %v", err)
	}

	deps := agent.NewContext(cfg, cat, logb).
		WithLedger(ledger).
		WithBeliefs(belief.NewNetwork(cat))
	if decisions, err := decisionlog.New(*sessionID, cfg.SessionLogsDir(*sessionID)); err == nil {
		deps = deps.WithDecisions(decisions)
	}

	reg := agent.NewRegistry()
	agents.RegisterBuiltins(reg)
	cfgOverrides, err := buildAgentConfig(*configFile, sets)
	if err != nil {
		die("load config overrides: %v", err)
	}
	runner, err := reg.Resolve(*agentID, cfgOverrides)
	if err != nil {
		die("resolve agent: %v", err)
	}
	info := runner.Info()
	label := agentLabel(info, *agentID)

	result, err := runner.Process(deps, state, agent.Input{Text: *input, Source: "agent-runner"})
	if err != nil {
		die("run %s: %v", label, err)
	}

	if err := store.Save(state); err != nil {
		die("save session: %v", err)
	}
	if err := saveLedgerFile(ledger, ledgerFile); err != nil {
		die("save ledger: %v", err)
	}

	fmt.Printf("Run status: %s\n", result.Status)
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	printDetails(result.Details)
	if result.Status == agent.StatusFailed {
		os.Exit(1)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printDetails(details map[string]any) {
	if len(details) == 0 {
		return
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s: %v\n", key, details[key])
	}
}

func mergeLedgerFile(ledger *constraint.Ledger, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var export constraint.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	ledger.Merge(export)
	return nil
}

func saveLedgerFile(ledger *constraint.Ledger, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ledger.ExportState(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

func buildAgentConfig(configFile string, overrides keyValueFlag) (agent.Config, error) {
	var cfg agent.Config
	if path := strings.TrimSpace(configFile); path != "" {
		fileCfg, err := readAgentConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if len(overrides) > 0 {
		if cfg == nil {
			cfg = agent.Config{}
		}
		for key, value := range overrides {
			cfg[key] = value
		}
	}
	if len(cfg) == 0 {
		return nil, nil
	}
	return cfg, nil
}

func agentLabel(info agent.Info, fallback string) string {
	if name := strings.TrimSpace(info.Name); name != "" {
		return name
	}
	if id := strings.TrimSpace(info.ID); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}

func readAgentConfigFile(path string) (agent.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := make(agent.Config, len(raw))
	for key, value := range raw {
		cfg[key] = value
	}
	return cfg, nil
}
