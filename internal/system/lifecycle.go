package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/api/rest"
	"github.com/KevinKickass/OpenFeederCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFeederCore/internal/bridge"
	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/devices"
	"github.com/KevinKickass/OpenFeederCore/internal/history"
	"github.com/KevinKickass/OpenFeederCore/internal/interfaces"
	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/schedule"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type LifecycleManager struct {
	config     *config.Config
	storage    storage.Store
	metrics    *metrics.Metrics
	hub        *websocket.Hub
	registry   *devices.Registry
	queue      *commands.Queue
	dispatcher *bridge.Dispatcher
	bridge     *bridge.Bridge
	ledger     *history.Ledger
	schedules  *schedule.Loader
	logger     *zap.Logger

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	hubCancel    context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(
	store storage.Store,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LifecycleManager {
	hub := websocket.NewHub(logger)

	registry := devices.NewRegistry(store, cfg.Dispatch.DefaultDeviceID, hub, m, logger)
	queue := commands.NewQueue(store, hub, m, logger)
	dispatcher := bridge.NewDispatcher(cfg.Dispatch.Workers, logger)

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		metrics:      m,
		hub:          hub,
		registry:     registry,
		queue:        queue,
		dispatcher:   dispatcher,
		bridge:       bridge.New(registry, queue, dispatcher, cfg.Dispatch, m, logger),
		ledger:       history.NewLedger(store, cfg.History.DisplayLimit, hub, m, logger),
		schedules:    schedule.NewLoader(store, logger),
		logger:       logger,
		currentState: StateInitializing,
	}
	hub.SetStatusProvider(lm)
	lm.restServer = rest.NewServer(cfg, lm, hub, m, logger)
	return lm
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenFeederCore")

	if _, err := lm.schedules.Load(ctx, lm.config.Schedules.File); err != nil {
		lm.setError(err)
		return err
	}

	if err := lm.dispatcher.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start dispatcher: %w", err))
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.hub.Run(hubCtx)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("dispatch_workers", lm.config.Dispatch.Workers))

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.healthServer != nil {
		lm.healthServer.Shutdown()
	}

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, lm.config.Server.ShutdownTimeout)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	// 3. In-flight device calls finish once no request can submit new ones.
	lm.dispatcher.Stop()
	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	close(errChan)
	for e := range errChan {
		err = errors.Join(err, e)
	}
	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)
	lm.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	return lm.restServer.Start()
}

// Handler returns the REST router without binding a listener.
func (lm *LifecycleManager) Handler() http.Handler {
	return lm.restServer.Handler()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	if lm.healthServer != nil {
		serving := healthpb.HealthCheckResponse_NOT_SERVING
		if state == StateRunning {
			serving = healthpb.HealthCheckResponse_SERVING
		}
		lm.healthServer.SetServingStatus("", serving)
	}

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus(ctx context.Context) interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:            lm.State().String(),
		WebSocketClients: lm.hub.GetClientCount(),
		Timestamp:        time.Now().Unix(),
	}

	list, err := lm.registry.List(ctx)
	if err != nil {
		lm.logger.Warn("Failed to count devices", zap.Error(err))
		return status
	}
	status.DeviceCount = len(list)
	for _, d := range list {
		if d.IsActive {
			status.ActiveDevices++
		}
	}
	return status
}

// GetStatus feeds the snapshot sent to new websocket clients.
func (lm *LifecycleManager) GetStatus() any {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return lm.GetCurrentStatus(ctx)
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.hub.Publish(string(websocket.MessageTypeSystemStatus), lm.GetStatus())
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Storage returns the storage backend
func (lm *LifecycleManager) Storage() storage.Store {
	return lm.storage
}

func (lm *LifecycleManager) Registry() *devices.Registry {
	return lm.registry
}

func (lm *LifecycleManager) Queue() *commands.Queue {
	return lm.queue
}

func (lm *LifecycleManager) Bridge() *bridge.Bridge {
	return lm.bridge
}

func (lm *LifecycleManager) Ledger() *history.Ledger {
	return lm.ledger
}

func (lm *LifecycleManager) Schedules() *schedule.Loader {
	return lm.schedules
}
