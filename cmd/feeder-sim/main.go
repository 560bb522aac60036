package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/simulator"
	"go.uber.org/zap"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "feeder server base URL")
		deviceID  = flag.String("device-id", "SIM-FEEDER-01", "device identifier reported to the server")
		name      = flag.String("name", "Simulated Feeder", "device display name")
		ip        = flag.String("ip", "127.0.0.1", "address the server uses to reach this simulator")
		port      = flag.Int("port", 8081, "port for the simulated firmware HTTP API")
		interval  = flag.Duration("interval", 5*time.Second, "heartbeat and poll interval")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	device := simulator.NewDevice(*deviceID, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           device.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Simulated firmware listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Simulator HTTP server failed", zap.Error(err))
		}
	}()

	agent := simulator.NewAgent(simulator.AgentConfig{
		ServerURL: *serverURL,
		DeviceID:  *deviceID,
		Name:      *name,
		IPAddress: *ip,
		Port:      *port,
		Interval:  *interval,
	}, device, logger)

	if err := agent.Run(ctx); err != nil {
		logger.Error("Agent stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Simulator shutdown failed", zap.Error(err))
	}
}
