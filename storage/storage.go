// Package storage reads model artifacts from the local filesystem or an
// S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source reads named artifacts. A missing artifact yields an error that
// matches fs.ErrNotExist.
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Describe() string
}

// Config contains filesystem source configuration
type Config struct {
	BasePath string // Directory holding the artifact files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./artifacts",
	}
}

// FileSource reads artifacts from a directory
type FileSource struct {
	config Config
}

// NewFileSource creates a FileSource. The directory must exist.
func NewFileSource(config Config) (*FileSource, error) {
	info, err := os.Stat(config.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact path %s is not a directory", config.BasePath)
	}

	return &FileSource{
		config: config,
	}, nil
}

// Read returns the contents of the named artifact
func (s *FileSource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.config.BasePath, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}

	return data, nil
}

// Describe returns the directory the source reads from
func (s *FileSource) Describe() string {
	return "file://" + s.config.BasePath
}

// cleanName rejects names that would escape the source root
func cleanName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact name %q: %w", name, fs.ErrInvalid)
	}
	return clean, nil
}
