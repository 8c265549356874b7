// Package config loads the engine's layered configuration: defaults, then
// an optional YAML/JSON config file, then environment variables (RLM_*),
// then CLI flags bound by cmd/rlm -- in that order of increasing priority.
// Grounded on the teacher's internal/config package (same layering intent)
// but built on github.com/spf13/viper rather than hand-rolled os.Getenv
// overrides, since viper is already in the pack's dependency surface and
// gives flag/env/file binding for free.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the engine's full runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Eval    EvalConfig    `mapstructure:"eval"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
	LargeModel   string `mapstructure:"large_model"`
	SmallModel   string `mapstructure:"small_model"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

type WorkerConfig struct {
	MaxIterations          int           `mapstructure:"max_iterations"`
	MaxDepth               int           `mapstructure:"max_depth"`
	MaxConcurrentSubcalls  int           `mapstructure:"max_concurrent_subcalls"`
	MaxGlobalConcurrency   int           `mapstructure:"max_global_concurrency"`
	MaxWallTime            time.Duration `mapstructure:"max_wall_time"`
}

type EvalConfig struct {
	PythonPath string        `mapstructure:"python_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Workspace  string        `mapstructure:"workspace"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Exporter string `mapstructure:"exporter"` // "" (none) or "prometheus"
	Addr     string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file at path (skipped if
// path is empty or missing), RLM_-prefixed environment variables, a local
// .env file (loaded via godotenv before viper reads the environment, so
// .env entries behave exactly like exported env vars), and flags, in
// ascending priority order.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("RLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.default_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.large_model", "")
	v.SetDefault("llm.small_model", "")

	v.SetDefault("worker.max_iterations", 25)
	v.SetDefault("worker.max_depth", 4)
	v.SetDefault("worker.max_concurrent_subcalls", 4)
	v.SetDefault("worker.max_global_concurrency", 16)
	v.SetDefault("worker.max_wall_time", "5m")

	v.SetDefault("eval.python_path", "python3")
	v.SetDefault("eval.timeout", "30s")
	v.SetDefault("eval.workspace", ".")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.exporter", "")
	v.SetDefault("metrics.addr", "")
}

// ValidationError collects every config issue at once, matching the
// teacher's ConfigValidationError style (one combined error rather than
// failing on the first problem).
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		issues = append(issues, "llm.api_key is required (set RLM_LLM_API_KEY or llm.api_key in the config file)")
	}
	if cfg.Worker.MaxIterations <= 0 {
		issues = append(issues, "worker.max_iterations must be > 0")
	}
	if cfg.Worker.MaxDepth < 0 {
		issues = append(issues, "worker.max_depth must be >= 0")
	}
	if cfg.Worker.MaxConcurrentSubcalls <= 0 {
		issues = append(issues, "worker.max_concurrent_subcalls must be > 0")
	}
	switch cfg.Metrics.Exporter {
	case "", "prometheus":
	default:
		issues = append(issues, `metrics.exporter must be "" or "prometheus"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
