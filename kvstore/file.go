package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/keyring-registry/interfaces"
)

// FileStore implements the key/value capability on the local file system.
// Each key maps to one file under the base directory.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file-backed store using the specified base
// directory, creating it if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads the value stored under key. Returns ErrValueNotFound if the
// file doesn't exist.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.getFilePath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrValueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	s.log.Debug("Fetched value from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Set writes the value under key. The write goes through a temporary file
// and a rename so a crash never leaves a half-written value behind.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	filePath, err := s.getFilePath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	s.log.Debug("Stored value in file",
		slog.String("path", filePath),
		slog.Int("size", len(value)))

	return nil
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

// getFilePath maps a storage key to a file path, rejecting keys that would
// escape the base directory.
func (s *FileStore) getFilePath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.baseDir, key+".json"), nil
}
