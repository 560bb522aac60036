package history

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	MaxLimit = 500
)

// Ledger is the append-only record of completed feeds.
type Ledger struct {
	store        storage.Store
	displayLimit int
	location     *time.Location
	events       types.EventPublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewLedger(store storage.Store, displayLimit int, events types.EventPublisher, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if displayLimit <= 0 {
		displayLimit = 20
	}
	if events == nil {
		events = types.NopPublisher{}
	}
	return &Ledger{
		store:        store,
		displayLimit: displayLimit,
		location:     time.Local,
		events:       events,
		metrics:      m,
		logger:       logger,
	}
}

// Append records a feed for the device. The timestamp defaults to now and
// may be backdated by the caller.
func (l *Ledger) Append(ctx context.Context, device *types.Device, portion int, feedType types.FeedType, at time.Time) (*types.HistoryEntry, error) {
	verr := &types.ValidationError{}
	if portion < 1 {
		verr.Add("portion", "must be a positive integer")
	}
	if feedType == "" {
		feedType = types.FeedTypeManual
	}
	if !feedType.Valid() {
		verr.Add("type", fmt.Sprintf("must be one of manual, scheduled, remote; got %q", feedType))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if at.IsZero() {
		at = time.Now()
	}

	entry := &types.HistoryEntry{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Timestamp:  at.UTC(),
		Portion:    portion,
		FeedType:   feedType,
	}
	if err := l.store.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record feeding: %w", err)
	}

	l.logger.Info("Feeding recorded",
		zap.String("device_id", device.DeviceID),
		zap.Int("portion", portion),
		zap.String("feed_type", string(feedType)))

	l.metrics.IncFeedRecorded(string(feedType))
	l.events.Publish(types.EventFeedingRecorded, entry)
	return entry, nil
}

// Recent returns the newest n entries as display rows. n <= 0 uses the
// configured display limit.
func (l *Ledger) Recent(ctx context.Context, n int) ([]types.HistoryRow, error) {
	if n <= 0 {
		n = l.displayLimit
	}
	if n > MaxLimit {
		n = MaxLimit
	}

	entries, err := l.store.RecentHistory(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	rows := make([]types.HistoryRow, 0, len(entries))
	for _, e := range entries {
		row, err := l.format(e)
		if err != nil {
			l.logger.Warn("Skipping malformed history entry",
				zap.Int64("id", e.ID),
				zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (l *Ledger) format(e types.HistoryEntry) (types.HistoryRow, error) {
	if e.Timestamp.IsZero() {
		return types.HistoryRow{}, fmt.Errorf("missing timestamp")
	}
	if e.Portion < 1 {
		return types.HistoryRow{}, fmt.Errorf("invalid portion %d", e.Portion)
	}

	ts := e.Timestamp.In(l.location)
	return types.HistoryRow{
		Date:       ts.Format(dateLayout),
		Time:       ts.Format(timeLayout),
		Portion:    e.Portion,
		Type:       e.FeedType.Label(),
		DeviceName: e.DeviceName,
	}, nil
}
