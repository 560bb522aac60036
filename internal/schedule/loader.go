package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const timeOfDayLayout = "15:04"

type file struct {
	Schedules []types.Schedule `yaml:"schedules"`
}

// Parse decodes and validates a schedules document. Unknown keys are
// rejected so typos do not silently drop entries.
func Parse(data []byte) ([]types.Schedule, error) {
	var doc file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse schedules: %w", err)
	}

	verr := &types.ValidationError{}
	for i, s := range doc.Schedules {
		if _, err := time.Parse(timeOfDayLayout, s.Time); err != nil || len(s.Time) != len(timeOfDayLayout) {
			verr.Add(fmt.Sprintf("schedules[%d].time", i), fmt.Sprintf("must be HH:MM, got %q", s.Time))
		}
		if s.Portion < 1 {
			verr.Add(fmt.Sprintf("schedules[%d].portion", i), "must be a positive integer")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return doc.Schedules, nil
}

// Loader keeps the stored schedules in sync with the YAML file.
type Loader struct {
	store  storage.Store
	logger *zap.Logger
}

func NewLoader(store storage.Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Load reads path and replaces the stored schedules. An empty path leaves
// the stored set untouched.
func (l *Loader) Load(ctx context.Context, path string) ([]types.Schedule, error) {
	if path == "" {
		return l.store.ListSchedules(ctx)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file %s: %w", path, err)
	}

	schedules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid schedules file %s: %w", path, err)
	}

	if err := l.store.ReplaceSchedules(ctx, schedules); err != nil {
		return nil, fmt.Errorf("failed to store schedules: %w", err)
	}

	l.logger.Info("Schedules loaded",
		zap.String("path", path),
		zap.Int("count", len(schedules)))

	return l.store.ListSchedules(ctx)
}

// List returns the stored schedules ordered by time of day.
func (l *Loader) List(ctx context.Context) ([]types.Schedule, error) {
	return l.store.ListSchedules(ctx)
}
