package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/logbook"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// cliSession binds one stored session to a ready pipeline. One-shot
// commands rebuild the in-memory pieces from the snapshots the
// previous invocation left behind: the flat state from the session
// store, the constraint ledger from its exported form, and the belief
// posterior by replaying past inputs through a fresh network.
type cliSession struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Store    *session.Store
	State    *session.State
	Ledger   *constraint.Ledger
	Deps     *agent.Context
	Pipeline *orchestrator.Pipeline

	history []orchestrator.HistoryRecord
}

func openSession(project, sessionID string) (*cliSession, error) {
	cfg, err := openProject(project)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logb, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		logb = nil
	}
	store := session.NewStore(cfg.SessionsDir())
	st, err := store.LoadOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	ledger := constraint.NewLedger(sessionID, cat.MutexConstraints)
	export, err := readLedgerSnapshot(ledgerPath(cfg, sessionID))
	if err != nil {
		return nil, err
	}
	if export != nil {
		ledger.Merge(*export)
	}

	deps := agent.NewContext(cfg, cat, logb).
		WithLedger(ledger).
		WithBeliefs(belief.NewNetwork(cat))
	decisions, err := decisionlog.New(sessionID, cfg.SessionLogsDir(sessionID))
	if err != nil {
		decisions = nil
	} else {
		deps = deps.WithDecisions(decisions)
	}
	if assist := buildAssist(cfg, decisions); assist != nil {
		deps = deps.WithAssist(assist)
	}

	// Bayesian updates are deterministic, so replaying the stored
	// inputs rebuilds the posterior the last invocation ended with.
	history, err := readHistory(historyPath(cfg, sessionID))
	if err != nil {
		return nil, err
	}
	for _, turn := range history {
		deps.Beliefs.UpdateBeliefs(belief.Evidence{Text: turn.Input, Confidence: 1.0})
	}

	pipe, err := orchestrator.NewPipeline(deps)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return &cliSession{
		Config:   cfg,
		Catalog:  cat,
		Store:    store,
		State:    st,
		Ledger:   ledger,
		Deps:     deps,
		Pipeline: pipe,
		history:  history,
	}, nil
}

// Save persists the flat state and the turn snapshots so the next
// invocation resumes where this one stopped.
func (s *cliSession) Save() error {
	if err := s.Store.Save(s.State); err != nil {
		return err
	}
	id := s.State.SessionID
	if err := writeLedgerSnapshot(ledgerPath(s.Config, id), s.Ledger.ExportState()); err != nil {
		return err
	}
	return writeHistory(historyPath(s.Config, id), append(s.history, s.Pipeline.History()...))
}

// ledgerPath is where one session's constraint snapshot lives between
// invocations.
func ledgerPath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.StateDir(), "ledgers", sessionID+".json")
}

// pendingPath holds the open A/B question, if the last turn asked one.
func pendingPath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.StateDir(), "pending", sessionID+".json")
}

// historyPath keeps the processed inputs that seed belief replay.
func historyPath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.StateDir(), "history", sessionID+".json")
}

func readHistory(path string) ([]orchestrator.HistoryRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var records []orchestrator.HistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", path, err)
	}
	return records, nil
}

func writeHistory(path string, records []orchestrator.HistoryRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func readLedgerSnapshot(path string) (*constraint.Export, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	var export constraint.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("decode ledger snapshot %s: %w", path, err)
	}
	return &export, nil
}

func writeLedgerSnapshot(path string, export constraint.Export) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	return nil
}

func readPendingQuestion(path string) (*orchestrator.Question, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending question: %w", err)
	}
	var q orchestrator.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode pending question %s: %w", path, err)
	}
	return &q, nil
}

func writePendingQuestion(path string, q *orchestrator.Question) error {
	if q == nil {
		return removeSnapshot(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pending dir: %w", err)
	}
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pending question: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pending question: %w", err)
	}
	return nil
}

func removeSnapshot(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
