package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"geoarrow-convert/pkg/api"
	"geoarrow-convert/pkg/convert"
	"geoarrow-convert/pkg/flight"
	"geoarrow-convert/pkg/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over REST and Arrow Flight",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(a)
		},
	}

	cmd.Flags().Int("http-port", 0, "REST listener port")
	cmd.Flags().Int("flight-port", 0, "Flight listener port")
	cmd.Flags().String("data-dir", "", "directory served by Flight DoGet and ListFlights")
	return cmd
}

func runServer(a *app) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting geoarrow-convert",
		"version", version,
		"http_address", cfg.Server.HTTPAddress(),
		"flight_address", cfg.Server.FlightAddress(),
		"data_dir", cfg.Storage.DataDir,
	)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	opts, err := cfg.Convert.Options()
	if err != nil {
		return err
	}
	format, _ := convert.ParseFormat(cfg.Convert.Format)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("geoarrow")
	}

	apiServer := api.NewAPIServer(api.NewAPIHandler(api.HandlerConfig{
		Options:      opts,
		Format:       format,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      collector,
		Logger:       logger,
	}), api.ServerConfig{
		Addr:         cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
	})

	flightServer := flight.NewFlightServer(flight.NewGeoParquetFlightServer(flight.ServerConfig{
		DataDir: cfg.Storage.DataDir,
		Options: opts,
		Metrics: collector,
		Logger:  logger,
	}))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 2)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("REST API server: %w", err)
		}
	}()
	go func() {
		if err := flight.StartFlightServer(flightServer, cfg.Server.FlightAddress(), logger); err != nil {
			serverErr <- fmt.Errorf("flight server: %w", err)
		}
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down servers")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST API shutdown error", "error", err)
		runErr = errors.Join(runErr, err)
	}
	flightServer.Shutdown()

	logger.Info("servers stopped")
	return runErr
}
