// Package config handles configuration loading for hivemind.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for hivemind.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Decompose DecomposeConfig `mapstructure:"decompose"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Board     BoardConfig     `mapstructure:"board"`
	History   HistoryConfig   `mapstructure:"history"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds settings for the AI planner collaborator.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier; empty uses the SDK default.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes calls through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region (e.g., "us-west-2").
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// LeaseConfig holds lease lifecycle settings.
type LeaseConfig struct {
	// TTL is the lease duration; renewals extend by the same amount.
	TTL time.Duration `mapstructure:"ttl"`
}

// DecomposeConfig holds task-splitting thresholds.
type DecomposeConfig struct {
	// SizeThresholdHours: tasks at or above this estimate are split.
	SizeThresholdHours float64 `mapstructure:"size_threshold_hours"`
	// KeywordMinimum: tasks naming this many components are split
	// regardless of size.
	KeywordMinimum int `mapstructure:"keyword_minimum"`
	// PlannerTimeout bounds each AI planner call.
	PlannerTimeout time.Duration `mapstructure:"planner_timeout"`
	// IntegrationHours is the estimate for the synthesized integration
	// subtask.
	IntegrationHours float64 `mapstructure:"integration_hours"`
}

// SchedulerConfig holds candidate-ordering settings.
type SchedulerConfig struct {
	// TieBreak orders equally-scored ready units: priority_created,
	// created_only, shortest_first or longest_first.
	TieBreak string `mapstructure:"tie_break"`
}

// BoardConfig holds the Kanban mirror settings.
type BoardConfig struct {
	// Disabled turns off the board mirror entirely.
	Disabled bool `mapstructure:"disabled"`
	// Path overrides the database location (.hivemind/board.db).
	Path string `mapstructure:"path"`
}

// HistoryConfig holds the memory collaborator settings.
type HistoryConfig struct {
	// Disabled turns off historical wait hints and duration samples.
	Disabled bool `mapstructure:"disabled"`
	// Path overrides the database location (.hivemind/history.db).
	Path string `mapstructure:"path"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HIVEMIND_*, ANTHROPIC_API_KEY)
// 2. Project config (.hivemind/config.yaml in current directory or parent)
// 3. User config (~/.config/hivemind/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HIVEMIND")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("lease.ttl", "10m")

	v.SetDefault("decompose.size_threshold_hours", 4.0)
	v.SetDefault("decompose.keyword_minimum", 3)
	v.SetDefault("decompose.planner_timeout", "60s")
	v.SetDefault("decompose.integration_hours", 1.0)

	v.SetDefault("scheduler.tie_break", "priority_created")

	v.SetDefault("board.disabled", false)
	v.SetDefault("history.disabled", false)

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for hivemind.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hivemind")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hivemind")
	}
	return filepath.Join(home, ".config", "hivemind")
}

// findProjectConfig searches for .hivemind/config.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hivemind", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Lease: LeaseConfig{TTL: 10 * time.Minute},
		Decompose: DecomposeConfig{
			SizeThresholdHours: 4,
			KeywordMinimum:     3,
			PlannerTimeout:     60 * time.Second,
			IntegrationHours:   1,
		},
		Scheduler: SchedulerConfig{TieBreak: "priority_created"},
		TUI:       TUIConfig{RefreshRate: 100 * time.Millisecond},
	}
}
