package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sk8/skcd/internal/config"
)

func TestNew_EmbeddedBackend(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := New(ctx, &config.CaseConfig{Path: dbPath}, Options{})
	if err != nil {
		t.Fatalf("New(embedded) failed: %v", err)
	}
	defer func() { _ = store.Close() }()
}

func TestNew_EmbeddedBackendRequiresPath(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, &config.CaseConfig{}, Options{})
	if err == nil {
		t.Fatal("New with empty path should fail")
	}
}

func TestNew_NetworkedBackendRequiresConnInfo(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, &config.CaseConfig{Backend: "networked"}, Options{})
	if err == nil {
		t.Fatal("New(networked) with no host/database should fail validation")
	}
}

func TestNewFromDir_DefaultsToEmbeddedPath(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "case.skcd")

	store, err := NewFromDir(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("NewFromDir failed: %v", err)
	}
	defer func() { _ = store.Close() }()
}
