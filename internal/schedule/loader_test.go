package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
)

func TestParse(t *testing.T) {
	schedules, err := Parse([]byte("schedules:\n  - time: \"18:00\"\n    portion: 3\n  - time: \"07:30\"\n    portion: 2\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(schedules) != 2 || schedules[0].Time != "18:00" || schedules[0].Portion != 3 {
		t.Fatalf("unexpected schedules: %+v", schedules)
	}

	empty, err := Parse(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty document to parse, got %v %v", empty, err)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"bad time", "schedules:\n  - time: \"25:00\"\n    portion: 1\n", "schedules[0].time"},
		{"no padding", "schedules:\n  - time: \"7:30\"\n    portion: 1\n", "schedules[0].time"},
		{"zero portion", "schedules:\n  - time: \"07:30\"\n    portion: 0\n", "schedules[0].portion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, verr.Fields)
			}
		})
	}

	if _, err := Parse([]byte("schedules:\n  - time: \"07:30\"\n    portions: 1\n")); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(ctx, filepath.Join(dir, "feeder.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	path := filepath.Join(dir, "schedules.yaml")
	if err := os.WriteFile(path, []byte("schedules:\n  - time: \"18:00\"\n    portion: 3\n  - time: \"07:30\"\n    portion: 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loader := NewLoader(store, zap.NewNop())
	schedules, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(schedules) != 2 || schedules[0].Time != "07:30" {
		t.Fatalf("expected schedules ordered by time of day, got %+v", schedules)
	}

	// Reloading replaces rather than appends.
	if _, err := loader.Load(ctx, path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	listed, err := loader.List(ctx)
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected 2 schedules after reload, got %v %v", listed, err)
	}

	if _, err := loader.Load(ctx, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
