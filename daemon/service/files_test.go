package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/itskernel/backend/internal/validation"
)

func newTestFileStore(t *testing.T) *DirFileStore {
	t.Helper()
	root := t.TempDir()
	fs, err := NewDirFileStore(filepath.Join(root, "in"), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("NewDirFileStore failed: %v", err)
	}
	return fs
}

func TestDirFileStore_SaveOverwrites(t *testing.T) {
	fs := newTestFileStore(t)

	if err := fs.Save("a.bin", []byte("old")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := fs.Save("a.bin", []byte("new")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(fs.OutDir, "a.bin"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Expected %q, got %q", "new", got)
	}

	entries, _ := os.ReadDir(fs.OutDir)
	if len(entries) != 1 {
		t.Errorf("Expected no temp files left, got %d entries", len(entries))
	}
}

func TestDirFileStore_SaveRejectsTraversal(t *testing.T) {
	fs := newTestFileStore(t)
	for _, name := range []string{"../escape", "", "..", "dir/file"} {
		if err := fs.Save(name, nil); !errors.Is(err, validation.ErrInvalidFileName) {
			t.Errorf("Save(%q): expected ErrInvalidFileName, got %v", name, err)
		}
	}
}

func TestDirFileStore_LoadAndList(t *testing.T) {
	fs := newTestFileStore(t)
	os.WriteFile(filepath.Join(fs.InDir, "b.txt"), []byte("bee"), 0644)
	os.WriteFile(filepath.Join(fs.InDir, "a.txt"), []byte("ay"), 0644)
	os.Mkdir(filepath.Join(fs.InDir, "sub"), 0755)

	names, err := fs.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Errorf("Expected [a.txt b.txt], got %v", names)
	}

	data, err := fs.Load("b.txt")
	if err != nil || string(data) != "bee" {
		t.Errorf("Load returned %q, %v", data, err)
	}
	if _, err := fs.Load("missing.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if _, err := fs.Load("../b.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound for traversal, got %v", err)
	}
}
