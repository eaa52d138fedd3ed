package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

// Storage writes order assets to <basePath>/<folder>/<filename>.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/planet"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) BasePath() string {
	return s.basePath
}

// Save creates folder if needed and replaces filename atomically, so writing the
// same asset twice leaves exactly one identical file behind.
func (s *Storage) Save(_ context.Context, folder, filename string, data io.Reader) error {
	if err := validateName(folder); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "save asset folder", err)
	}
	if err := validateName(filename); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "save asset filename", err)
	}

	dir := filepath.Join(s.basePath, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create asset folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filename+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, filename)); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q contains a path separator", name)
	}
	return nil
}
