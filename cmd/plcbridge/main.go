// Package main is the entry point for the PLC bridge service.
// It initializes all components and manages the application lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/config"
	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/mqtt"
	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/s7"
	"github.com/hadefuwa/PLC-App-Flutter/internal/api"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/health"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/hadefuwa/PLC-App-Flutter/internal/service"
	"github.com/hadefuwa/PLC-App-Flutter/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	serviceName    = "plcbridge"
	serviceVersion = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "HTTP bridge between the mobile app and a Siemens S7 PLC",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				fmt.Fprintf(os.Stderr, "plcbridge: %v\n", err)
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the config file")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func run(cfg *config.Config) error {
	logger := logging.NewWithConfig(serviceName, serviceVersion, cfg.Logging.LogConfig())
	logger.Info().Str("env", cfg.Environment).Msg("Starting PLC bridge")

	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	engine := newEngine(cfg.PLC, logger)
	session, err := s7.NewManager(engine, cfg.PLC.ManagerConfig(), logger, metricsRegistry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create PLC session")
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional MQTT publisher for session events
	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher, err = mqtt.NewPublisher(cfg.MQTT.PublisherConfig(), logger, metricsRegistry)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create MQTT publisher")
			return err
		}
		if err := mqttPublisher.Connect(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to connect to MQTT broker")
			return err
		}
		// The session closes first so its final state reaches the broker
		defer func() {
			_ = session.Close()
			mqttPublisher.Disconnect()
		}()
		session.SetObserver(mqttPublisher)
	}

	if cfg.PLC.AutoConnect {
		if _, err := session.Connect(ctx); err != nil {
			// The app can still connect later through /api/connect
			logger.Warn().Err(err).Msg("Initial PLC connection failed")
		}
	}

	// Tag polling, validated to require MQTT
	var poller *service.PollingService
	if cfg.Polling.Enabled && mqttPublisher != nil {
		poller, err = service.NewPollingService(cfg.Polling.ServiceConfig(), session, mqttPublisher, logger, metricsRegistry)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create polling service")
			return err
		}
		if err := poller.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to start polling service")
			return err
		}
	}

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		CheckTimeout:   5 * time.Second,
	})
	healthChecker.AddCheck("plc_session", session, false)
	if mqttPublisher != nil {
		healthChecker.AddCheck("mqtt", mqttPublisher, false)
	}

	router := api.NewRouter(api.Options{
		Session:        session,
		Defaults:       domain.Target{Host: cfg.PLC.Host, Rack: cfg.PLC.Rack, Slot: cfg.PLC.Slot},
		API:            cfg.API,
		Health:         healthChecker,
		Metrics:        metricsRegistry,
		MetricsHandler: promhttp.Handler(),
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info().
		Str("plc_host", cfg.PLC.Host).
		Int("plc_rack", cfg.PLC.Rack).
		Int("plc_slot", cfg.PLC.Slot).
		Bool("simulate", cfg.PLC.Simulate).
		Int("http_port", cfg.HTTP.Port).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("polling", poller != nil).
		Msg("PLC bridge started successfully")

	// =============================================================
	// Shutdown Handling
	// =============================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	if poller != nil {
		if err := poller.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping polling service")
		}
	}

	// Session and MQTT publisher are closed by the deferred calls
	logger.Info().Msg("PLC bridge shutdown complete")
	return nil
}

// newEngine selects the simulator or the gos7 engine.
func newEngine(cfg config.PLCConfig, logger zerolog.Logger) s7.Engine {
	if cfg.Simulate {
		logger.Warn().Msg("Running against the in-memory PLC simulator")
		return s7.NewMemoryEngine(s7.SimulatorConfig{})
	}
	return s7.NewGoS7Engine(cfg.ClientConfig(), logger)
}
