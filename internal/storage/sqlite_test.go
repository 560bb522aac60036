package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "feeder.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, newSQLiteTestStore)
}

func TestSQLiteTimeLayoutSortsChronologically(t *testing.T) {
	a := formatTime(mustParse(t, "2024-03-01T09:00:00.5Z"))
	b := formatTime(mustParse(t, "2024-03-01T09:00:00.25Z"))
	if !(b < a) {
		t.Fatalf("expected %q < %q", b, a)
	}
	if len(a) != len(b) {
		t.Fatalf("expected fixed width timestamps, got %q and %q", a, b)
	}
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feeder.db")
	s, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustDevice(t, s, "F1")
	s.Close()

	reopened, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetDevice(context.Background(), "F1"); err != nil {
		t.Fatalf("expected device after reopen: %v", err)
	}
}
