// Package config loads the YAML configuration APEX reads on startup:
// store location, concurrency caps, timeouts, and the MCP tool
// allow-list. It deliberately does not load the project-configuration
// file (tech stack, features) or the utility decision-rule table
// content — both are out of the core's scope per spec §1.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root orchestration kernel configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Process     ProcessConfig     `yaml:"process"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	MCP         MCPConfig         `yaml:"mcp"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type ProcessConfig struct {
	MaxWorkers       int           `yaml:"max_workers"`
	MaxUtilities     int           `yaml:"max_utilities"`
	WorkerTimeout    time.Duration `yaml:"worker_timeout"`
	UtilityTimeout   time.Duration `yaml:"utility_timeout"`
	TerminateGrace   time.Duration `yaml:"terminate_grace"`
	RestartTick      time.Duration `yaml:"restart_tick"`
	EnableRestart    bool          `yaml:"enable_restart"`
	// UtilityScriptsDir holds the deterministic utility scripts
	// (archivist.py, test_runner.py, ...) the Dispatcher may select
	// among; apexd scans it at startup to build the registered-utility
	// set spec §4.J's rule table checks against.
	UtilityScriptsDir string `yaml:"utility_scripts_dir"`
}

type OrchestratorConfig struct {
	MaxTicks            int           `yaml:"max_ticks"`
	MaxTaskRetries       int           `yaml:"max_task_retries"`
	StageTimeout         time.Duration `yaml:"stage_timeout"`
	CompletionFraction  float64       `yaml:"completion_fraction"`
	CleanupAfter        time.Duration `yaml:"cleanup_after"`
}

type MCPConfig struct {
	AllowedTools []string `yaml:"allowed_tools"`
	WatchMinPoll time.Duration `yaml:"watch_min_poll"`
	WatchMaxPoll time.Duration `yaml:"watch_max_poll"`
}

type RecoveryConfig struct {
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	RetainCheckpoints  int           `yaml:"retain_checkpoints"`
	RetainDays         int           `yaml:"retain_days"`
	AutoRecoverAfter   int           `yaml:"auto_recover_after_failures"`
}

// Default returns the configuration implied by spec.md's defaults
// throughout §4 and §5.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:     "data/apex.db",
			MaxBytes: 0,
		},
		Process: ProcessConfig{
			MaxWorkers:     3,
			MaxUtilities:   5,
			WorkerTimeout:  1800 * time.Second,
			UtilityTimeout: 600 * time.Second,
			TerminateGrace: 5 * time.Second,
			RestartTick:    1 * time.Second,
			EnableRestart:  false,
			UtilityScriptsDir: "scripts/utilities",
		},
		Orchestrator: OrchestratorConfig{
			MaxTicks:           20,
			MaxTaskRetries:     2,
			StageTimeout:       60 * time.Minute,
			CompletionFraction: 0.9,
			CleanupAfter:       30 * 24 * time.Hour,
		},
		MCP: MCPConfig{
			AllowedTools: []string{"read", "write", "delete", "list", "scan"},
			WatchMinPoll: 100 * time.Millisecond,
			WatchMaxPoll: 2 * time.Second,
		},
		Recovery: RecoveryConfig{
			CheckpointInterval: 30 * time.Minute,
			RetainCheckpoints:  10,
			RetainDays:         30,
			AutoRecoverAfter:   3,
		},
	}
}

// Load reads and parses a YAML config file at path over Default():
// fields the file leaves out keep their default values, while fields
// the file sets, even to zero, take the file's value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
