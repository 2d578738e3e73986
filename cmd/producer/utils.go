package main

import (
	"fmt"
	"os"

	"github.com/jihwankim/montecarlo-mesh/pkg/config"
)

// exitError carries the process exit code a failure should produce, per
// SPEC_FULL.md §6: 1 configuration/model-parse error, 2 broker unreachable,
// 3 model unavailable (consumer only), 4 internal invariant violation.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

// exitCodeFor maps a returned error to a process exit code, defaulting to
// 1 for any error not explicitly classified as a broker/invariant failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}

// loadConfig loads the configuration from file, auto-generating a default
// file if it does not exist yet, mirroring the teacher's loadConfig.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("config file not found, creating default configuration at: %s\n", configPath)
		cfg := config.Default()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
