// Package config loads the runtime configuration shared by the producer,
// consumer, and aggregator binaries: broker connection parameters, pool
// sizing, and per-component interval/timeout knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration tree.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Broker   BrokerConfig   `yaml:"broker"`
	Pool     PoolConfig     `yaml:"pool"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Eval       EvalConfig       `yaml:"eval"`
	Export     ExportConfig     `yaml:"export"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
}

// LoggingConfig controls the shared logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BrokerConfig carries the AMQP connection parameters of SPEC_FULL.md §6.
type BrokerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Pass            string        `yaml:"pass"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	BlockedTimeout  time.Duration `yaml:"blocked_timeout"`
	SocketTimeout   time.Duration `yaml:"socket_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
}

// PoolConfig sizes the connection pool of §4.D.
type PoolConfig struct {
	Size        int           `yaml:"size"`
	MaxOverflow int           `yaml:"max_overflow"`
	Timeout     time.Duration `yaml:"timeout"`
	Recycle     time.Duration `yaml:"recycle"`
}

// ProducerConfig controls the Producer's telemetry cadence.
type ProducerConfig struct {
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// ConsumerConfig controls worker dispatch, retries, and telemetry cadence.
type ConsumerConfig struct {
	StatsInterval time.Duration `yaml:"stats_interval"`
	Prefetch      int           `yaml:"prefetch"`
	MaxRetries    int           `yaml:"max_retries"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// EvalConfig controls the Safe Evaluator's timeout.
type EvalConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// ExportConfig controls the aggregator's export output location.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// AggregatorConfig controls the Telemetry Aggregator's HTTP surface and
// queue-size poll cadence.
type AggregatorConfig struct {
	HTTPAddr              string        `yaml:"http_addr"`
	QueueSizePollInterval time.Duration `yaml:"queue_size_poll_interval"`
	ResultsCapacity       int           `yaml:"results_capacity"`
	DetailedCapacity      int           `yaml:"detailed_capacity"`
}

// Default returns the baseline configuration. Broker, pool, interval,
// retry, timeout and ring-capacity fields use the defaults SPEC_FULL.md
// names; logging, export directory and HTTP address are local choices.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Broker: BrokerConfig{
			Host:            "localhost",
			Port:            5672,
			User:            "guest",
			Pass:            "guest",
			Heartbeat:       60 * time.Second,
			ConnectTimeout:  10 * time.Second,
			BlockedTimeout:  300 * time.Second,
			SocketTimeout:   10 * time.Second,
			ConnectAttempts: 3,
			ConnectDelay:    2 * time.Second,
		},
		Pool: PoolConfig{
			Size:        10,
			MaxOverflow: 5,
			Timeout:     30 * time.Second,
			Recycle:     3600 * time.Second,
		},
		Producer: ProducerConfig{StatsInterval: 5 * time.Second},
		Consumer: ConsumerConfig{
			StatsInterval: 5 * time.Second,
			Prefetch:      1,
			MaxRetries:    3,
			ShutdownGrace: 32 * time.Second,
		},
		Eval:   EvalConfig{TimeoutSec: 30},
		Export: ExportConfig{OutputDir: "./exports"},
		Aggregator: AggregatorConfig{
			HTTPAddr:              ":8090",
			QueueSizePollInterval: 2 * time.Second,
			ResultsCapacity:       50_000,
			DetailedCapacity:      1_000,
		},
	}
}

// Load reads cfg from path (YAML), falling back to defaults when path is
// empty or does not exist, then applies the env-var overrides named in
// SPEC_FULL.md §6. Env vars always win over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			expanded := []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	strVal(&cfg.Broker.Host, "BROKER_HOST")
	intVal(&cfg.Broker.Port, "BROKER_PORT")
	strVal(&cfg.Broker.User, "BROKER_USER")
	strVal(&cfg.Broker.Pass, "BROKER_PASS")
	durSecVal(&cfg.Broker.Heartbeat, "BROKER_HEARTBEAT")
	durSecVal(&cfg.Broker.ConnectTimeout, "BROKER_CONNECT_TIMEOUT")
	durSecVal(&cfg.Broker.BlockedTimeout, "BROKER_BLOCKED_TIMEOUT")
	durSecVal(&cfg.Broker.SocketTimeout, "BROKER_SOCKET_TIMEOUT")

	intVal(&cfg.Pool.Size, "POOL_SIZE")
	intVal(&cfg.Pool.MaxOverflow, "POOL_MAX_OVERFLOW")
	durSecVal(&cfg.Pool.Timeout, "POOL_TIMEOUT")
	durSecVal(&cfg.Pool.Recycle, "POOL_RECYCLE")

	durSecVal(&cfg.Producer.StatsInterval, "PRODUCER_STATS_INTERVAL")
	durSecVal(&cfg.Consumer.StatsInterval, "CONSUMER_STATS_INTERVAL")
	intVal(&cfg.Consumer.Prefetch, "CONSUMER_PREFETCH")
	intVal(&cfg.Consumer.MaxRetries, "CONSUMER_MAX_RETRIES")

	intVal(&cfg.Eval.TimeoutSec, "EVAL_TIMEOUT_SEC")
}

func strVal(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVal(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func durSecVal(dst *time.Duration, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*dst = time.Duration(n * float64(time.Second))
}

// Validate checks the invariants this module assumes hold.
func (c *Config) Validate() error {
	if c.Pool.Size < 1 {
		return fmt.Errorf("pool.size must be at least 1")
	}
	if c.Consumer.Prefetch < 1 {
		return fmt.Errorf("consumer.prefetch must be at least 1")
	}
	if c.Consumer.MaxRetries < 0 {
		return fmt.Errorf("consumer.max_retries cannot be negative")
	}
	if c.Eval.TimeoutSec <= 0 {
		return fmt.Errorf("eval.timeout_sec must be positive")
	}
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export.output_dir is required")
	}
	return nil
}

// URL builds the amqp091-go dial URL for this broker connection.
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", b.User, b.Pass, b.Host, b.Port)
}

// Save writes cfg to path as YAML, mirroring the teacher's Save shape.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
