// Package config loads and validates the application configuration from
// YAML and MAESTRO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Version     string            `mapstructure:"version" yaml:"version"`
	Provider    ProviderConfig    `mapstructure:"provider" yaml:"provider"`
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Planner     PlannerConfig     `mapstructure:"planner" yaml:"planner"`
	Executor    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Budget      BudgetConfig      `mapstructure:"budget" yaml:"budget"`
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Behavior    BehaviorConfig    `mapstructure:"behavior" yaml:"behavior"`
	Tools       ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Pricing     PricingConfig     `mapstructure:"pricing" yaml:"pricing"`
}

// ProviderConfig selects and configures the LLM endpoint.
type ProviderConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model"`
	Timeout  string `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// GetTimeout parses the provider timeout, defaulting to 2 minutes.
func (c *ProviderConfig) GetTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 2 * time.Minute
}

// EngineConfig tunes the turn loop.
type EngineConfig struct {
	MaxParallelPhases int    `mapstructure:"max_parallel_phases" yaml:"max_parallel_phases"`
	FanoutMinPhases   int    `mapstructure:"fanout_min_phases" yaml:"fanout_min_phases"`
	FanoutProfile     string `mapstructure:"fanout_profile" yaml:"fanout_profile"`
	AutoTitle         bool   `mapstructure:"auto_title" yaml:"auto_title"`
}

// PlannerConfig tunes strategic decomposition.
type PlannerConfig struct {
	Temperature   float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	CaseTopK      int     `mapstructure:"case_top_k" yaml:"case_top_k"`
	CaseMinScore  float64 `mapstructure:"case_min_score" yaml:"case_min_score"`
	HistoryWindow int     `mapstructure:"history_window" yaml:"history_window"`
}

// ExecutorConfig tunes tactical execution and self-correction.
type ExecutorConfig struct {
	ValidationRetries int    `mapstructure:"validation_retries" yaml:"validation_retries"`
	ExecutionRetries  int    `mapstructure:"execution_retries" yaml:"execution_retries"`
	ToolTimeout       string `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	AllowFallbackTool bool   `mapstructure:"allow_fallback_tool" yaml:"allow_fallback_tool"`
}

// GetToolTimeout parses the tool timeout, defaulting to 60 seconds.
func (c *ExecutorConfig) GetToolTimeout() time.Duration {
	if d, err := time.ParseDuration(c.ToolTimeout); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// CoordinatorConfig tunes nested delegation.
type CoordinatorConfig struct {
	MaxDepth       int    `mapstructure:"max_depth" yaml:"max_depth"`
	MaxParallelism int    `mapstructure:"max_parallelism" yaml:"max_parallelism"`
	MergeStrategy  string `mapstructure:"merge_strategy" yaml:"merge_strategy"`
}

// BudgetConfig bounds planning prompt assembly.
type BudgetConfig struct {
	ContextTokens int `mapstructure:"context_tokens" yaml:"context_tokens"`
}

// GatewayConfig configures the HTTP/WS surface.
type GatewayConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns the listen address.
func (c *GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "console" or "json"
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BehaviorConfig locates behavior packs.
type BehaviorConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

// ToolsConfig locates user-defined script tools.
type ToolsConfig struct {
	ScriptDir string `mapstructure:"script_dir" yaml:"script_dir"`
}

// MaintenanceConfig schedules background sweeps.
type MaintenanceConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	PruneSchedule   string `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	RetentionDays   int    `mapstructure:"retention_days" yaml:"retention_days"`
	RepriceSchedule string `mapstructure:"reprice_schedule" yaml:"reprice_schedule"`
}

// PricingConfig locates the pricing table.
type PricingConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Load reads the configuration from path (if it exists), layered over
// defaults and MAESTRO_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one does not.
			if !os.IsNotExist(err) {
				var parseErr viper.ConfigParseError
				if errors.As(err, &parseErr) {
					return nil, parseErr
				}
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the components would misbehave under.
func (c *Config) Validate() error {
	if c.Coordinator.MaxDepth < 1 || c.Coordinator.MaxDepth > 5 {
		return fmt.Errorf("coordinator.max_depth must be within 1..5, got %d", c.Coordinator.MaxDepth)
	}
	if c.Coordinator.MaxParallelism < 1 {
		return fmt.Errorf("coordinator.max_parallelism must be positive, got %d", c.Coordinator.MaxParallelism)
	}
	switch c.Coordinator.MergeStrategy {
	case "concat", "vote", "structured":
	default:
		return fmt.Errorf("coordinator.merge_strategy must be concat, vote or structured, got %q", c.Coordinator.MergeStrategy)
	}
	if c.Engine.MaxParallelPhases < 1 {
		return fmt.Errorf("engine.max_parallel_phases must be positive, got %d", c.Engine.MaxParallelPhases)
	}
	if c.Executor.ValidationRetries < 0 || c.Executor.ExecutionRetries < 0 {
		return errors.New("executor retry bounds must not be negative")
	}
	if c.Budget.ContextTokens < 1 {
		return fmt.Errorf("budget.context_tokens must be positive, got %d", c.Budget.ContextTokens)
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be within 1..65535, got %d", c.Gateway.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Maintenance.RetentionDays < 1 {
		return fmt.Errorf("maintenance.retention_days must be positive, got %d", c.Maintenance.RetentionDays)
	}
	return nil
}
