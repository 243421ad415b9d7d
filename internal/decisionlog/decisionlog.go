// Package decisionlog records every agent decision as JSON lines, one file
// per session, so a pipeline run can be replayed step by step.
package decisionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// truncateAt bounds logged inputs and outputs so a single decision cannot
// flood the log.
const truncateAt = 1000

// Entry is one logged decision.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	Input     string    `json:"input"`
	Reasoning []string  `json:"reasoning"`
	Decision  string    `json:"decision"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
}

// Logger appends decisions for a single session.
type Logger struct {
	sessionID string
	path      string
}

// New creates a logger writing to dir/decisions.jsonl.
func New(sessionID, dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("decisionlog: create session log dir: %w", err)
	}
	return &Logger{
		sessionID: sessionID,
		path:      filepath.Join(dir, "decisions.jsonl"),
	}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

func truncate(s string) string {
	if len(s) > truncateAt {
		return s[:truncateAt]
	}
	return s
}

// Log appends one decision entry.
func (l *Logger) Log(agent, input string, reasoning []string, decision, output string) error {
	return l.append(Entry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Agent:     agent,
		Input:     truncate(input),
		Reasoning: reasoning,
		Decision:  decision,
		Output:    truncate(output),
	})
}

// LogRouting records a routing choice made by the orchestrator.
func (l *Logger) LogRouting(iteration int, nextAgent string, reasoning []string) error {
	return l.append(Entry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Agent:     "orchestrator",
		Input:     fmt.Sprintf("State with %d iterations", iteration),
		Reasoning: reasoning,
		Decision:  "Route to " + nextAgent,
		Output:    nextAgent,
	})
}

// LogError records a processing failure for an agent.
func (l *Logger) LogError(agent, errorMessage, context string) error {
	return l.append(Entry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Agent:     agent,
		Input:     truncate(context),
		Reasoning: []string{"Error occurred during processing"},
		Decision:  "ERROR",
		Error:     errorMessage,
	})
}

func (l *Logger) append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("decisionlog: encode entry: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("decisionlog: open %s: %w", l.path, err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("decisionlog: append entry: %w", err)
	}
	return nil
}

// SessionEntries reads every decision recorded for the session, oldest
// first. A missing log file yields no entries.
func (l *Logger) SessionEntries() ([]Entry, error) {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open %s: %w", l.path, err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("decisionlog: parse entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("decisionlog: read %s: %w", l.path, err)
	}
	return entries, nil
}

// AgentDecisions filters the session log down to one agent.
func (l *Logger) AgentDecisions(agent string) ([]Entry, error) {
	entries, err := l.SessionEntries()
	if err != nil {
		return nil, err
	}
	var filtered []Entry
	for _, entry := range entries {
		if entry.Agent == agent {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// Errors returns every entry that recorded a failure.
func (l *Logger) Errors() ([]Entry, error) {
	entries, err := l.SessionEntries()
	if err != nil {
		return nil, err
	}
	var failed []Entry
	for _, entry := range entries {
		if entry.Error != "" {
			failed = append(failed, entry)
		}
	}
	return failed, nil
}

// Summary aggregates per-agent decision counts for the session.
type Summary struct {
	SessionID      string         `json:"session_id"`
	TotalDecisions int            `json:"total_decisions"`
	Agents         map[string]int `json:"agents"`
	Errors         int            `json:"errors"`
	LogFile        string         `json:"log_file"`
}

// Summarize tallies the session log.
func (l *Logger) Summarize() (Summary, error) {
	entries, err := l.SessionEntries()
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		SessionID: l.sessionID,
		Agents:    map[string]int{},
		LogFile:   l.path,
	}
	for _, entry := range entries {
		summary.TotalDecisions++
		summary.Agents[entry.Agent]++
		if entry.Error != "" {
			summary.Errors++
		}
	}
	return summary, nil
}
