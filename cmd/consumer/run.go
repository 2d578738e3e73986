package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/consumer"
	"github.com/jihwankim/montecarlo-mesh/pkg/lifecycle"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Load a model and evaluate scenarios until shutdown",
	RunE:  runConsumer,
}

func init() {
	runCmd.Flags().String("consumer-id", "", "unique consumer id (default: hostname-pid-suffix)")
}

func runConsumer(cmd *cobra.Command, args []string) error {
	consumerID, _ := cmd.Flags().GetString("consumer-id")
	if consumerID == "" {
		consumerID = defaultConsumerID()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(1, err)
	}

	logLevel := logging.Level(cfg.Logging.Level)
	if verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: logLevel, Format: logging.Format(cfg.Logging.Format)})
	logger = logger.WithField("consumerID", consumerID)

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

	evalTimeout := time.Duration(cfg.Eval.TimeoutSec) * time.Second

	w := consumer.New(conn, consumer.Config{
		ConsumerID:    consumerID,
		Prefetch:      cfg.Consumer.Prefetch,
		MaxRetries:    uint(cfg.Consumer.MaxRetries),
		StatsInterval: cfg.Consumer.StatsInterval,
		EvalTimeout:   evalTimeout,
	}, logger)

	logger.Info("loading model")
	m, err := w.LoadModel(ctx)
	if err != nil {
		return fail(3, fmt.Errorf("load model: %w", err))
	}
	logger.Info("model loaded, ready for scenarios", "modelID", m.ModelID)

	ctrl := lifecycle.New()
	ctrl.Start(ctx)

	if err := w.Run(ctx, ctrl.StopChannel()); err != nil && ctx.Err() == nil {
		return fail(4, fmt.Errorf("consumer run: %w", err))
	}

	logger.Info("consumer stopped")
	return nil
}
