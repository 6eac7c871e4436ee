package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReplacesPreviousContent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "out.jpg"))

	if err := s.Write([]byte("first-image-content")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Write([]byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected replaced content, got %q", got)
	}
	size, err := s.Size()
	if err != nil || size != 6 {
		t.Fatalf("Size() = %d, %v", size, err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "out.jpg"))
	if err := s.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Remove(); err != nil {
			t.Fatalf("remove #%d: %v", i+1, err)
		}
		if s.Exists() {
			t.Fatalf("artifact still present after remove #%d", i+1)
		}
	}
}

func TestReadMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.jpg"))
	_, err := s.Read()
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestCreateMakesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.jpg")
	s := New(path)

	f, err := s.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
}

func TestRemoveReportsFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jpg")
	// A non-empty directory at the artifact path cannot be removed.
	if err := os.MkdirAll(filepath.Join(path, "child"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := New(path).Remove(); err == nil {
		t.Fatal("expected remove error for non-empty directory")
	}
}
