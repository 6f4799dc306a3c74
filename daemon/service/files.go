package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/itskernel/backend/internal/validation"
)

var ErrFileNotFound = errors.New("file does not exist")

// FileStore persists received files and serves files to stream clients.
type FileStore interface {
	// Save writes an uploaded file.
	Save(name string, data []byte) error
	// Load reads a file offered for download.
	Load(name string) ([]byte, error)
	// List names the files offered for download.
	List() ([]string, error)
}

// DirFileStore saves uploads to OutDir and serves downloads from InDir.
type DirFileStore struct {
	InDir  string
	OutDir string
}

// NewDirFileStore creates both directories if they are absent.
func NewDirFileStore(inDir, outDir string) (*DirFileStore, error) {
	for _, dir := range []string{inDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &DirFileStore{InDir: inDir, OutDir: outDir}, nil
}

// Save writes data under name, replacing any earlier upload atomically.
func (s *DirFileStore) Save(name string, data []byte) error {
	if err := validation.ValidateFileName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.OutDir, "."+name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.OutDir, name))
}

func (s *DirFileStore) Load(name string) ([]byte, error) {
	if err := validation.ValidateFileName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	data, err := os.ReadFile(filepath.Join(s.InDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return data, err
}

// List returns the regular files directly inside InDir, sorted by name.
func (s *DirFileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.InDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
