package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SamuelLnds/confmesh/internal/core"
)

func TestFileSourceAcquire_MissingFile(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "nope.ogg"))
	_, err := s.Acquire(context.Background())
	if !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestFileSourceAcquire_NotAnOggFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ogg")
	if err := os.WriteFile(path, []byte("not an ogg stream"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileSource(path)
	_, err := s.Acquire(context.Background())
	if !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestFileSourceRelease_NilStream(t *testing.T) {
	NewFileSource("whatever.ogg").Release(nil)
}
