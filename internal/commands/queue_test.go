package commands

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(kind string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recordingPublisher) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == kind {
			n++
		}
	}
	return n
}

func newTestQueue(t *testing.T) (*Queue, storage.Store, *recordingPublisher) {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "feeder.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	events := &recordingPublisher{}
	return NewQueue(store, events, metrics.New(), zap.NewNop()), store, events
}

func registerDevice(t *testing.T, store storage.Store, deviceID string) *types.Device {
	t.Helper()
	d, err := store.UpsertDevice(context.Background(), types.DeviceUpsert{
		DeviceID:  deviceID,
		Name:      types.DefaultDeviceName,
		IPAddress: "192.168.1.50",
		Port:      80,
		IsActive:  true,
		SeenAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return d
}

func TestQueue_PollDeliversPendingOnce(t *testing.T) {
	ctx := context.Background()
	q, store, events := newTestQueue(t)
	device := registerDevice(t, store, "F1")

	first, err := q.Enqueue(ctx, device, FeedParams{Portion: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, device, RebootParams{DelaySeconds: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	views, err := q.DrainPending(ctx, device)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(views))
	}
	if views[0]["id"] != first.ID.String() || views[0]["type"] != "feed" || views[0]["portion"] != float64(2) {
		t.Fatalf("unexpected first view: %v", views[0])
	}
	if views[1]["id"] != second.ID.String() || views[1]["type"] != "reboot" {
		t.Fatalf("unexpected second view: %v", views[1])
	}

	again, err := q.DrainPending(ctx, device)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second poll, got %v", again)
	}

	if events.count(types.EventCommandCreated) != 2 || events.count(types.EventCommandDelivered) != 2 {
		t.Fatalf("unexpected events: %v", events.events)
	}
}

func TestQueue_DirectCommandsAreNotPolled(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newTestQueue(t)
	device := registerDevice(t, store, "F1")

	if _, err := q.CreateDirect(ctx, device, FeedParams{Portion: 1, Steps: 200}); err != nil {
		t.Fatalf("create direct: %v", err)
	}

	views, err := q.DrainPending(ctx, device)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected direct command to stay off the poll path, got %v", views)
	}
}

func TestQueue_AcknowledgeFeedRecordsHistoryOnce(t *testing.T) {
	ctx := context.Background()
	q, store, events := newTestQueue(t)
	device := registerDevice(t, store, "F1")

	cmd, err := q.Enqueue(ctx, device, FeedParams{Portion: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DrainPending(ctx, device); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := q.Acknowledge(ctx, device, cmd.ID, OutcomeCompleted)
		if err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
		if got.Status != types.StatusCompleted {
			t.Fatalf("ack %d: expected completed, got %s", i, got.Status)
		}
	}

	history, err := store.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(history))
	}
	if history[0].Portion != 3 || history[0].FeedType != types.FeedTypeScheduled {
		t.Fatalf("unexpected entry: %+v", history[0])
	}
	if events.count(types.EventFeedingRecorded) != 1 {
		t.Fatalf("expected one feeding.recorded event, got %v", events.events)
	}
}

func TestQueue_AcknowledgeOutcomes(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newTestQueue(t)
	device := registerDevice(t, store, "F1")
	other := registerDevice(t, store, "F2")

	cmd, err := q.Enqueue(ctx, device, FeedParams{Portion: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.Acknowledge(ctx, device, cmd.ID, OutcomeCompleted); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending command, got %v", err)
	}

	if _, err := q.DrainPending(ctx, device); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if _, err := q.Acknowledge(ctx, other, cmd.ID, OutcomeCompleted); !errors.Is(err, types.ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound for wrong device, got %v", err)
	}
	if _, err := q.Acknowledge(ctx, device, uuid.New(), OutcomeCompleted); !errors.Is(err, types.ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound for unknown command, got %v", err)
	}

	got, err := q.Acknowledge(ctx, device, cmd.ID, "jammed")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got.Status != types.StatusFailed {
		t.Fatalf("expected failed for non-completed outcome, got %s", got.Status)
	}

	history, err := store.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history for failed feed, got %d", len(history))
	}
}

func TestQueue_ResolveDirect(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newTestQueue(t)
	device := registerDevice(t, store, "F1")

	cmd, err := q.CreateDirect(ctx, device, FeedParams{Portion: 2, Steps: 400})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := q.Resolve(ctx, device, cmd.ID, types.StatusCompleted, &types.HistoryEntry{Portion: 2, FeedType: types.FeedTypeRemote})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	list, err := q.List(ctx, device, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Origin != types.OriginDirect {
		t.Fatalf("unexpected audit list: %+v", list)
	}
}
