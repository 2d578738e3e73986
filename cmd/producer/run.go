package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/model/parser"
	"github.com/jihwankim/montecarlo-mesh/pkg/model/validator"
	"github.com/jihwankim/montecarlo-mesh/pkg/producer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Publish a model and generate its scenarios",
	RunE:  runProducer,
}

func init() {
	runCmd.Flags().String("model", "", "path to model file")
	runCmd.Flags().Uint("scenarios", 0, "number of scenarios to generate (overrides the model's numero_escenarios)")
	runCmd.Flags().Int64("seed", 0, "RNG seed (overrides the model's semilla_aleatoria)")
}

func runProducer(cmd *cobra.Command, args []string) error {
	modelPath, _ := cmd.Flags().GetString("model")
	if modelPath == "" {
		return fail(1, fmt.Errorf("--model flag is required"))
	}
	numScenarios, _ := cmd.Flags().GetUint("scenarios")
	seed, _ := cmd.Flags().GetInt64("seed")
	seedSet := cmd.Flags().Changed("seed")

	cfg, err := loadConfig()
	if err != nil {
		return fail(1, err)
	}

	logLevel := logging.Level(cfg.Logging.Level)
	if verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: logLevel, Format: logging.Format(cfg.Logging.Format)})

	logger.Info("parsing model", "path", modelPath)
	p := parser.New(nil)
	m, err := p.ParseFile(modelPath)
	if err != nil {
		return fail(1, fmt.Errorf("parse model: %w", err))
	}

	v := validator.New()
	if err := v.Validate(m); err != nil {
		return fail(1, fmt.Errorf("%s: %s", err, v.GetReport()))
	}
	if v.HasWarnings() {
		logger.Warn("model has warnings", "report", v.GetReport())
	}

	if numScenarios == 0 {
		numScenarios = m.Simulation.NumScenarios
	}
	if !seedSet {
		if m.Simulation.Seed != nil {
			seed = int64(*m.Simulation.Seed)
		}
	}

	ctx := context.Background()
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

	prod := producer.New(conn, producer.Config{StatsInterval: cfg.Producer.StatsInterval}, logger)

	logger.Info("generating scenarios", "model", m.Metadata.Name, "count", numScenarios, "seed", seed)
	if err := prod.Run(ctx, m, numScenarios, seed); err != nil {
		return fail(4, fmt.Errorf("producer run: %w", err))
	}

	logger.Info("producer completed", "modelID", m.ModelID)
	return nil
}
