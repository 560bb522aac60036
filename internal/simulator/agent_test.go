package simulator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/system"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
)

func startServer(t *testing.T) (*system.LifecycleManager, *httptest.Server) {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "feeder.db"),
		},
		Dispatch: config.DispatchConfig{
			Timeout:              time.Second,
			Workers:              1,
			StepsPerPortion:      200,
			DefaultSpeed:         1000,
			DefaultMicrostepping: "16",
			DefaultDirection:     "clockwise",
		},
	}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	lm := system.NewLifecycleManager(store, cfg, nil, zap.NewNop())
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	srv := httptest.NewServer(lm.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = lm.Shutdown(context.Background())
		store.Close()
	})
	return lm, srv
}

func TestAgent_PollAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	lm, srv := startServer(t)

	device := NewDevice("SIM", zap.NewNop())
	agent := NewAgent(AgentConfig{
		ServerURL: srv.URL,
		DeviceID:  "SIM",
		Name:      "Simulated",
		IPAddress: "127.0.0.1",
		Port:      8081,
	}, device, zap.NewNop())

	if err := agent.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	registered, err := lm.Registry().Get(ctx, "SIM")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := lm.Queue().Enqueue(ctx, registered, commands.FeedParams{Portion: 2}); err != nil {
		t.Fatalf("enqueue feed: %v", err)
	}
	if _, err := lm.Queue().Enqueue(ctx, registered, commands.ConfigParams{Settings: map[string]any{"led": "off"}}); err != nil {
		t.Fatalf("enqueue config: %v", err)
	}

	if err := agent.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	snap := device.Snapshot()
	if snap["total_steps"] != 400 {
		t.Fatalf("expected 400 steps moved, got %v", snap["total_steps"])
	}
	if snap["settings"].(map[string]any)["led"] != "off" {
		t.Fatalf("expected config applied, got %v", snap["settings"])
	}

	list, err := lm.Queue().List(ctx, registered, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, cmd := range list {
		if cmd.Status != types.StatusCompleted {
			t.Fatalf("expected all commands completed, got %+v", cmd)
		}
	}

	rows, err := lm.Ledger().Recent(ctx, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 1 || rows[0].Portion != 2 || rows[0].Type != "Scheduled" {
		t.Fatalf("expected one scheduled row, got %+v", rows)
	}

	// Nothing left to drain.
	pending, err := agent.Poll(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty poll, got %v %v", pending, err)
	}
}

func TestAgent_NotifyFeed(t *testing.T) {
	ctx := context.Background()
	lm, srv := startServer(t)

	agent := NewAgent(AgentConfig{ServerURL: srv.URL, DeviceID: "SIM", IPAddress: "127.0.0.1", Port: 8081}, NewDevice("SIM", zap.NewNop()), zap.NewNop())
	if err := agent.NotifyFeed(ctx, 1, types.FeedTypeManual); err == nil {
		t.Fatalf("expected unknown device to be rejected")
	}

	if err := agent.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := agent.NotifyFeed(ctx, 1, types.FeedTypeManual); err != nil {
		t.Fatalf("notify: %v", err)
	}

	rows, err := lm.Ledger().Recent(ctx, 0)
	if err != nil || len(rows) != 1 || rows[0].Type != "Manual" {
		t.Fatalf("expected one manual row, got %+v %v", rows, err)
	}
}

func TestAgent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	agent := NewAgent(AgentConfig{ServerURL: srv.URL, DeviceID: "SIM"}, NewDevice("SIM", zap.NewNop()), zap.NewNop())
	if err := agent.Cycle(context.Background()); err == nil {
		t.Fatalf("expected heartbeat failure")
	}
}

func TestAgent_PollEscapesDeviceID(t *testing.T) {
	ctx := context.Background()
	lm, srv := startServer(t)

	const id = "feeder #1 & co"
	agent := NewAgent(AgentConfig{ServerURL: srv.URL, DeviceID: id, IPAddress: "127.0.0.1", Port: 8081}, NewDevice(id, zap.NewNop()), zap.NewNop())
	if err := agent.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	registered, err := lm.Registry().Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := lm.Queue().Enqueue(ctx, registered, commands.RebootParams{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := agent.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(pending) != 1 || pending[0]["type"] != "reboot" {
		t.Fatalf("expected the reboot command, got %v", pending)
	}
}
