package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
)

// runStoreTests exercises a Store backend. open must return an empty store.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	t.Run("UpsertIsIdempotent", func(t *testing.T) { testUpsertIsIdempotent(t, open(t)) })
	t.Run("Heartbeat", func(t *testing.T) { testHeartbeat(t, open(t)) })
	t.Run("FirstActiveDevice", func(t *testing.T) { testFirstActiveDevice(t, open(t)) })
	t.Run("DrainExactlyOnce", func(t *testing.T) { testDrainExactlyOnce(t, open(t)) })
	t.Run("DrainConcurrent", func(t *testing.T) { testDrainConcurrent(t, open(t)) })
	t.Run("TransitionGuards", func(t *testing.T) { testTransitionGuards(t, open(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, open(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, open(t)) })
}

func mustDevice(t *testing.T, s Store, deviceID string) *types.Device {
	t.Helper()
	d, err := s.UpsertDevice(context.Background(), types.DeviceUpsert{
		DeviceID:  deviceID,
		Name:      types.DefaultDeviceName,
		IPAddress: "192.168.1.50",
		Port:      types.DefaultDevicePort,
		IsActive:  true,
		SeenAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", deviceID, err)
	}
	return d
}

func mustCommand(t *testing.T, s Store, devicePK int64, origin types.CommandOrigin, portion int) *types.Command {
	t.Helper()
	cmd := &types.Command{
		DeviceID:   devicePK,
		Type:       types.CommandTypeFeed,
		Parameters: json.RawMessage(fmt.Sprintf(`{"portion":%d}`, portion)),
		Status:     types.StatusPending,
		Origin:     origin,
	}
	if err := s.CreateCommand(context.Background(), cmd); err != nil {
		t.Fatalf("create command: %v", err)
	}
	return cmd
}

func testUpsertIsIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	first := mustDevice(t, s, "FEEDER-1")

	second, err := s.UpsertDevice(ctx, types.DeviceUpsert{
		DeviceID:  "FEEDER-1",
		Name:      "Kitchen",
		IPAddress: "192.168.1.77",
		Port:      8080,
		IsActive:  true,
		SeenAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got ids %d and %d", first.ID, second.ID)
	}
	if second.IPAddress != "192.168.1.77" || second.Name != "Kitchen" || second.Port != 8080 {
		t.Fatalf("fields not updated: %+v", second)
	}

	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
}

func testHeartbeat(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.HeartbeatDevice(ctx, "ghost", "10.0.0.9", time.Now()); !errors.Is(err, types.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}

	if _, err := s.UpsertDevice(ctx, types.DeviceUpsert{
		DeviceID:  "F2",
		Name:      types.DefaultDeviceName,
		IPAddress: "10.0.0.2",
		Port:      80,
		IsActive:  false,
		SeenAt:    time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	seen := time.Now().UTC().Truncate(time.Microsecond)
	d, err := s.HeartbeatDevice(ctx, "F2", "10.0.0.3", seen)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if !d.IsActive || d.IPAddress != "10.0.0.3" {
		t.Fatalf("heartbeat did not update device: %+v", d)
	}
	if d.LastConnected == nil || !d.LastConnected.Equal(seen) {
		t.Fatalf("expected last_connected %s, got %v", seen, d.LastConnected)
	}
}

func testFirstActiveDevice(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.FirstActiveDevice(ctx); !errors.Is(err, types.ErrNoActiveDevice) {
		t.Fatalf("expected ErrNoActiveDevice on empty store, got %v", err)
	}

	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range []string{"A", "B", "C"} {
		if _, err := s.UpsertDevice(ctx, types.DeviceUpsert{
			DeviceID:  id,
			Name:      id,
			IPAddress: "10.0.0.1",
			Port:      80,
			IsActive:  id != "C",
			SeenAt:    base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	d, err := s.FirstActiveDevice(ctx)
	if err != nil {
		t.Fatalf("first active: %v", err)
	}
	if d.DeviceID != "B" {
		t.Fatalf("expected most recently seen active device B, got %s", d.DeviceID)
	}
}

func testDrainExactlyOnce(t *testing.T, s Store) {
	ctx := context.Background()
	d := mustDevice(t, s, "F1")
	first := mustCommand(t, s, d.ID, types.OriginQueue, 1)
	second := mustCommand(t, s, d.ID, types.OriginQueue, 2)
	mustCommand(t, s, d.ID, types.OriginDirect, 3)

	drained, err := s.DrainPendingCommands(ctx, d.ID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("expected 2 queued commands, got %d", len(drained))
	}
	if drained[0].ID != first.ID || drained[1].ID != second.ID {
		t.Fatalf("expected creation order, got %s, %s", drained[0].ID, drained[1].ID)
	}
	for _, cmd := range drained {
		if cmd.Status != types.StatusSent {
			t.Fatalf("expected sent, got %s", cmd.Status)
		}
	}

	again, err := s.DrainPendingCommands(ctx, d.ID)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no redelivery, got %d commands", len(again))
	}
}

func testDrainConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	d := mustDevice(t, s, "F1")
	const total = 12
	for i := 0; i < total; i++ {
		mustCommand(t, s, d.ID, types.OriginQueue, 1)
	}

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmds, err := s.DrainPendingCommands(ctx, d.ID)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			for _, c := range cmds {
				seen[c.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent drain: %v", err)
	}

	if len(seen) != total {
		t.Fatalf("expected %d distinct commands delivered, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("command %s delivered %d times", id, n)
		}
	}
}

func testTransitionGuards(t *testing.T, s Store) {
	ctx := context.Background()
	d := mustDevice(t, s, "F1")
	other := mustDevice(t, s, "F9")
	cmd := mustCommand(t, s, d.ID, types.OriginQueue, 4)

	feedEntry := func(c types.Command) (*types.HistoryEntry, error) {
		return &types.HistoryEntry{Portion: 4, FeedType: types.FeedTypeScheduled}, nil
	}
	complete := types.Transition{
		DeviceID:  d.ID,
		CommandID: cmd.ID,
		From:      []types.CommandStatus{types.StatusSent},
		To:        types.StatusCompleted,
		Apply:     feedEntry,
	}

	if _, _, err := s.TransitionCommand(ctx, complete); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending command, got %v", err)
	}

	wrong := complete
	wrong.DeviceID = other.ID
	if _, _, err := s.TransitionCommand(ctx, wrong); !errors.Is(err, types.ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound for wrong device, got %v", err)
	}

	if _, err := s.DrainPendingCommands(ctx, d.ID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, applied, err := s.TransitionCommand(ctx, complete)
	if err != nil || !applied {
		t.Fatalf("expected applied transition, got applied=%v err=%v", applied, err)
	}
	if got.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	_, applied, err = s.TransitionCommand(ctx, complete)
	if err != nil || applied {
		t.Fatalf("expected idempotent no-op, got applied=%v err=%v", applied, err)
	}

	history, err := s.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly 1 history entry, got %d", len(history))
	}
	if history[0].Portion != 4 || history[0].FeedType != types.FeedTypeScheduled || history[0].DeviceID != d.ID {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}

	stored, err := s.GetCommand(ctx, d.ID, cmd.ID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if stored.Status != types.StatusCompleted {
		t.Fatalf("expected stored status completed, got %s", stored.Status)
	}
}

func testDeleteCascades(t *testing.T, s Store) {
	ctx := context.Background()
	d := mustDevice(t, s, "F1")
	cmd := mustCommand(t, s, d.ID, types.OriginQueue, 1)
	if err := s.AppendHistory(ctx, &types.HistoryEntry{DeviceID: d.ID, Portion: 1, FeedType: types.FeedTypeManual}); err != nil {
		t.Fatalf("append history: %v", err)
	}

	if err := s.DeleteDevice(ctx, "F1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteDevice(ctx, "F1"); !errors.Is(err, types.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound on second delete, got %v", err)
	}
	if _, err := s.GetCommand(ctx, d.ID, cmd.ID); !errors.Is(err, types.ErrCommandNotFound) {
		t.Fatalf("expected command to be cascaded, got %v", err)
	}
	history, err := s.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected history to be cascaded, got %d rows", len(history))
	}
}

func testSchedules(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.ReplaceSchedules(ctx, []types.Schedule{{Time: "18:00", Portion: 3}, {Time: "07:30", Portion: 2}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplaceSchedules(ctx, []types.Schedule{{Time: "12:00", Portion: 1}, {Time: "07:30", Portion: 2}}); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	got, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Time != "07:30" || got[1].Time != "12:00" {
		t.Fatalf("unexpected schedules: %+v", got)
	}
}

func mustParse(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return ts
}
