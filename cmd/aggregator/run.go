package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/lifecycle"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Aggregate telemetry and serve exports until shutdown",
	RunE:  runAggregator,
}

func runAggregator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(1, err)
	}

	logLevel := logging.Level(cfg.Logging.Level)
	if verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: logLevel, Format: logging.Format(cfg.Logging.Format)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := broker.DefaultPool(broker.ConnParamsFromConfig(cfg.Broker), broker.PoolConfig{
		Size:        cfg.Pool.Size,
		MaxOverflow: cfg.Pool.MaxOverflow,
		Timeout:     cfg.Pool.Timeout,
		Recycle:     cfg.Pool.Recycle,
	})

	conn, err := broker.Connect(ctx, pool)
	if err != nil {
		return fail(2, fmt.Errorf("connect to broker: %w", err))
	}
	defer conn.Close()

	agg := telemetry.New(telemetry.Config{
		ResultsCapacity:       cfg.Aggregator.ResultsCapacity,
		DetailedCapacity:      cfg.Aggregator.DetailedCapacity,
		QueueSizePollInterval: cfg.Aggregator.QueueSizePollInterval,
	})

	if err := subscribeAll(conn, agg, logger); err != nil {
		return fail(4, fmt.Errorf("subscribe telemetry streams: %w", err))
	}
	go pollQueueSizes(ctx, conn, agg, cfg.Aggregator.QueueSizePollInterval, logger)

	reg := prometheus.NewRegistry()
	metrics := newAggregatorMetrics(reg)
	go runMetricsLoop(ctx, agg, metrics, cfg.Aggregator.QueueSizePollInterval)

	mux := newMux(agg, logger)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.Aggregator.HTTPAddr, Handler: mux}

	ctrl := lifecycle.New()
	ctrl.Start(ctx)
	ctrl.OnStop(func() {
		logger.Info("shutting down aggregator http server")
		_ = server.Close()
	})

	logger.Info("aggregator listening", "addr", cfg.Aggregator.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fail(4, fmt.Errorf("http server: %w", err))
	}

	logger.Info("aggregator stopped")
	return nil
}
