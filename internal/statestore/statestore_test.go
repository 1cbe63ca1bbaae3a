package statestore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenDefaultsToFileScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open plain path failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*fileStore); !ok {
		t.Fatalf("expected *fileStore, got %T", s)
	}
}

func TestOpenFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open("file://" + path)
	if err != nil {
		t.Fatalf("open file URL failed: %v", err)
	}
	defer s.Close()
	fs, ok := s.(*fileStore)
	if !ok {
		t.Fatalf("expected *fileStore, got %T", s)
	}
	if fs.path != path {
		t.Fatalf("store path = %q, want %q", fs.path, path)
	}
}

func TestOpenPostgresScheme(t *testing.T) {
	// Construction is lazy; no server contact happens until the first
	// operation.
	s, err := Open("postgres://user:pw@localhost/boothdrive?sslmode=disable")
	if err != nil {
		t.Fatalf("open postgres DSN failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*postgresStore); !ok {
		t.Fatalf("expected *postgresStore, got %T", s)
	}
}

func TestOpenRejectsUnknownSchemeAndEmptyDSN(t *testing.T) {
	if _, err := Open("redis://localhost"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := Open("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterFactoryIgnoresBadInput(t *testing.T) {
	RegisterFactory("", func(string) (Store, error) { return nil, nil })
	RegisterFactory("custom", nil)
	if _, ok := lookupFactory(""); ok {
		t.Fatalf("empty scheme registered")
	}
	if _, ok := lookupFactory("custom"); ok {
		t.Fatalf("nil factory registered")
	}
}
