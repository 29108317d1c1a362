package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFileName is the session file used by the CLI.
const DefaultFileName = "zoho_session.json"

// DefaultFilePath returns ~/.credentials/zoho_session.json, or an empty string
// when the home directory is unknown.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".credentials", DefaultFileName)
}

// FileStore keeps all sessions in a single JSON file with owner-only permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context, id string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.read()
	if err != nil {
		return nil, err
	}
	st, ok := sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (f *FileStore) Save(_ context.Context, id string, st *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.read()
	if err != nil {
		return err
	}
	sessions[id] = *st
	return f.write(sessions)
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := sessions[id]; !ok {
		return nil
	}
	delete(sessions, id)
	return f.write(sessions)
}

func (f *FileStore) read() (map[string]State, error) {
	sessions := make(map[string]State)

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return sessions, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file %s: %w", f.path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", f.path, err)
	}
	return sessions, nil
}

func (f *FileStore) write(sessions map[string]State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file %s: %w", f.path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sessions); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", f.path, err)
	}
	return nil
}
