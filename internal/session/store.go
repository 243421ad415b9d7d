package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when no snapshot exists for a session id.
var ErrSessionNotFound = errors.New("session: state not found")

// Store persists session snapshots as JSON files keyed by session id.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(sessionID string) (string, error) {
	if err := ValidateID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, sessionID+".json"), nil
}

// ValidateID rejects session ids that cannot serve as file names.
func ValidateID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session: id is required")
	}
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("session: id %q contains unsupported character %q", sessionID, r)
		}
	}
	return nil
}

// Load reads the snapshot for a session id.
func (s *Store) Load(sessionID string) (*State, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read state %s: %w", sessionID, err)
	}
	return ParseState(data)
}

// LoadOrCreate returns the stored snapshot, or a fresh one when none exists.
func (s *Store) LoadOrCreate(sessionID string) (*State, error) {
	state, err := s.Load(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		if idErr := ValidateID(sessionID); idErr != nil {
			return nil, idErr
		}
		return NewState(sessionID), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save writes the snapshot for its session id.
func (s *Store) Save(state *State) error {
	if state == nil {
		return fmt.Errorf("session: state is required")
	}
	path, err := s.path(state.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: create state dir: %w", err)
	}
	state.UpdatedAt = time.Now().UTC()
	data, err := state.MarshalJSONIndent()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write state %s: %w", state.SessionID, err)
	}
	return nil
}

// Delete removes the snapshot for a session id. Deleting a missing session
// reports ErrSessionNotFound.
func (s *Store) Delete(sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("session: delete state %s: %w", sessionID, err)
	}
	return nil
}

// List returns the stored session ids in sorted order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list states: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
