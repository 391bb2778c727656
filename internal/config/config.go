// Package config loads the economysim configuration from YAML, filling
// defaults for anything omitted.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/crossroads-economy/internal/phi"
)

// Config is the full economysim configuration.
type Config struct {
	// Seed drives every stochastic decision; runs with the same seed
	// replay identically (unless live entropy is enabled).
	Seed int64 `yaml:"seed"`

	// RandomOrgKey switches the economy to live entropy from random.org.
	// Empty (the default) keeps the deterministic seeded source.
	RandomOrgKey string `yaml:"random_org_key,omitempty"`

	// InterestRate is applied to staked balances once per interest pass.
	InterestRate float64 `yaml:"interest_rate"`

	// InterestEveryTicks is the pass cadence in simulation ticks.
	InterestEveryTicks int `yaml:"interest_every_ticks"`

	// ArchivePath is the SQLite audit archive. Empty disables archiving.
	ArchivePath string `yaml:"archive_path,omitempty"`

	// APIPort serves the read-only HTTP API. 0 disables it.
	APIPort int `yaml:"api_port"`

	Sim SimConfig `yaml:"sim"`
}

// SimConfig sizes the driver's agent population.
type SimConfig struct {
	Agents         int   `yaml:"agents"`
	Collectives    int   `yaml:"collectives"`
	InitialBalance int64 `yaml:"initial_balance"`
	Ticks          int   `yaml:"ticks"` // 0 = run until interrupted
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Seed: 42,
		// Agnosis scaled down to a per-pass rate (~2.4%).
		InterestRate:       phi.Agnosis / 10,
		InterestEveryTicks: 240,
		APIPort:            8080,
		Sim: SimConfig{
			Agents:         64,
			Collectives:    4,
			InitialBalance: 100,
		},
	}
}

// Load reads a YAML config file, starting from defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the economy cannot run with.
func (c Config) Validate() error {
	if c.InterestRate < 0 {
		return fmt.Errorf("config: interest_rate must be >= 0, got %v", c.InterestRate)
	}
	if c.InterestEveryTicks < 0 {
		return fmt.Errorf("config: interest_every_ticks must be >= 0, got %d", c.InterestEveryTicks)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: api_port out of range: %d", c.APIPort)
	}
	if c.Sim.Agents < 1 {
		return fmt.Errorf("config: sim.agents must be >= 1, got %d", c.Sim.Agents)
	}
	if c.Sim.Collectives < 0 {
		return fmt.Errorf("config: sim.collectives must be >= 0, got %d", c.Sim.Collectives)
	}
	if c.Sim.InitialBalance < 0 {
		return fmt.Errorf("config: sim.initial_balance must be >= 0, got %d", c.Sim.InitialBalance)
	}
	return nil
}
