package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/palskill/internal/skill"
)

// Store loads and saves a whole library. Save either replaces the previous
// library completely or leaves it untouched.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// FileStore keeps the library in a single JSON file.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore for the mode's library file under dir.
func NewFileStore(dir string, mode skill.Mode) *FileStore {
	return &FileStore{Path: filepath.Join(dir, FileName(mode))}
}

// Load reads the library file. A missing file is an empty library.
func (s *FileStore) Load(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("library: read %s: %w", s.Path, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("library: %s: %w", s.Path, err)
	}
	return records, nil
}

// Save writes the library to a temp file next to Path and renames it into
// place.
func (s *FileStore) Save(_ context.Context, records []Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("library: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("library: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("library: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("library: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("library: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("library: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("library: rename into %s: %w", s.Path, err)
	}
	return nil
}
