// Package model defines the data structures for cloudcase's configuration,
// case outcomes, and result records.
package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	API     APIConfig     `yaml:"api"`
	Pods    PodsConfig    `yaml:"pods"`
	Runner  RunnerConfig  `yaml:"runner"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type APIConfig struct {
	Host      string `yaml:"host"`
	ProductID string `yaml:"product_id"`
	// Credentials are read from the environment, never from the config file.
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

type PodsConfig struct {
	IDs []string `yaml:"ids"`
}

type RunnerConfig struct {
	CasesDir   string `yaml:"cases_dir"`
	ResultsDir string `yaml:"results_dir"`
	// CaseFilter is a comma-separated keyword list. A case is kept when its
	// relative path contains at least one keyword (substring, case-sensitive).
	CaseFilter      string  `yaml:"case_filter"`
	PollIntervalSec float64 `yaml:"poll_interval_sec"`
	CaseTimeoutSec  int     `yaml:"case_timeout_sec"`
	ExecMode        string  `yaml:"exec_mode"` // auto | serial | parallel
	DetailedResult  bool    `yaml:"detailed_result"`
	SystemPrompt    string  `yaml:"system_prompt"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultPollIntervalSec = 2.0
	DefaultCaseTimeoutSec  = 600
	DefaultAccessKeyEnv    = "CLOUDCASE_ACCESSKEY"
	DefaultSecretKeyEnv    = "CLOUDCASE_SECRETKEY"
)

// LoadConfig reads and validates config.yaml, applying defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Runner.CasesDir == "" {
		c.Runner.CasesDir = "cases"
	}
	if c.Runner.ResultsDir == "" {
		c.Runner.ResultsDir = "results"
	}
	if c.Runner.PollIntervalSec <= 0 {
		c.Runner.PollIntervalSec = DefaultPollIntervalSec
	}
	if c.Runner.CaseTimeoutSec <= 0 {
		c.Runner.CaseTimeoutSec = DefaultCaseTimeoutSec
	}
	if c.Runner.ExecMode == "" {
		c.Runner.ExecMode = "auto"
	}
	if c.API.AccessKeyEnv == "" {
		c.API.AccessKeyEnv = DefaultAccessKeyEnv
	}
	if c.API.SecretKeyEnv == "" {
		c.API.SecretKeyEnv = DefaultSecretKeyEnv
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.API.Host == "" {
		return fmt.Errorf("config: api.host is required")
	}
	if c.API.ProductID == "" {
		return fmt.Errorf("config: api.product_id is required")
	}
	if len(c.Pods.IDs) == 0 {
		return fmt.Errorf("config: pods.ids must list at least one pod")
	}
	switch c.Runner.ExecMode {
	case "auto", "serial", "parallel":
	default:
		return fmt.Errorf("config: runner.exec_mode must be auto, serial or parallel, got %q", c.Runner.ExecMode)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalSec * float64(time.Second))
}

func (c *Config) CaseTimeout() time.Duration {
	return time.Duration(c.Runner.CaseTimeoutSec) * time.Second
}
