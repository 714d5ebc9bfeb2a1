// Package store provides the persistence backends for the deployment's single Codex
// credential: a local JSON file, a PostgreSQL row and an S3-compatible object.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/router-for-me/codexgate/internal/auth/codex"
	log "github.com/sirupsen/logrus"
)

// FileStore keeps the credential in one JSON file. Writes go through a temporary file
// and a rename so readers never observe a partial record.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The parent directory is created on the
// first save.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve path: %w", err)
	}
	return &FileStore{path: abs}, nil
}

// Path returns the absolute credential file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the credential. A missing file or an unrecognized document yields (nil, nil).
func (s *FileStore) Load(_ context.Context) (*codex.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("file store: read credential: %w", err)
	}
	cred, err := codex.ParseCredential(data)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		log.Warnf("file store: ignoring unrecognized credential document %s", s.path)
	}
	return cred, nil
}

// Save replaces the credential file atomically with 0600 permissions.
func (s *FileStore) Save(_ context.Context, cred *codex.Credential) error {
	if cred == nil {
		return fmt.Errorf("file store: credential is nil")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("file store: marshal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file store: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".codex-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("file store: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("file store: replace credential: %w", err)
	}
	log.Debugf("file store: saved credential to %s", s.path)
	return nil
}

// Delete removes the credential file. Deleting a missing file is not an error.
func (s *FileStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: delete credential: %w", err)
	}
	return nil
}
