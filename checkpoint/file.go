package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var _ Backend = (*FileBackend)(nil)

// FileBackend stores one <jobID>.json file per job in a directory.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}

	return filepath.Join(f.dir, jobID+".json"), nil
}

func (f *FileBackend) Put(_ context.Context, jobID string, data []byte) error {
	dst, err := f.path(jobID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, jobID+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

func (f *FileBackend) Get(_ context.Context, jobID string) ([]byte, error) {
	p, err := f.path(jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}

	return data, err
}

func (f *FileBackend) Remove(_ context.Context, jobID string) error {
	p, err := f.path(jobID)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
