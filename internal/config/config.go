// Package config loads the layered configuration the routine engine's
// entrypoints (cmd/worker, cmd/routineapi, cmd/routinetrigger) need:
// viper merges defaults, an optional config file, and environment
// variables, the same three-tier precedence the teacher's root
// config.Config.LoadConfig establishes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/citadel-agent/routines/internal/durable"
	"github.com/citadel-agent/routines/internal/runner"
)

// RunnerConfig carries the four recognized RunnerOptions of spec.md §6,
// shared verbatim between the in-process runner.Config and the
// Temporal durable.Config.
type RunnerConfig struct {
	MaxConcurrentActivities     int           `mapstructure:"maxConcurrentActivities"`
	ActivityStartToCloseTimeout time.Duration `mapstructure:"activityStartToCloseTimeout"`
	ActivityRetry               RetryConfig   `mapstructure:"activityRetry"`
	ExecutionDeadline           time.Duration `mapstructure:"executionDeadline"`
}

type RetryConfig struct {
	InitialInterval    time.Duration `mapstructure:"initialInterval"`
	BackoffCoefficient float64       `mapstructure:"backoffCoefficient"`
	MaximumInterval    time.Duration `mapstructure:"maximumInterval"`
	MaximumAttempts    int           `mapstructure:"maximumAttempts"`
}

// TemporalConfig is the durable runtime's connection configuration,
// grounded on the teacher's internal/temporal.AdvancedConfig with its
// unwired mTLS/metrics toggles dropped (see DESIGN.md).
type TemporalConfig struct {
	HostPort  string `mapstructure:"hostPort"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"taskQueue"`
}

// RedisConfig is the Observability Sink's connection configuration.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PluginHostConfig configures how the Plugin Activity Port discovers
// out-of-process plugin binaries.
type PluginHostConfig struct {
	BinaryDir string `mapstructure:"binaryDir"`
}

// Config is the top-level application configuration every entrypoint
// loads through Load.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Runner      RunnerConfig     `mapstructure:"runner"`
	Temporal    TemporalConfig   `mapstructure:"temporal"`
	Redis       RedisConfig      `mapstructure:"redis"`
	PluginHost  PluginHostConfig `mapstructure:"pluginHost"`
}

// Default matches spec.md §6's documented RunnerOptions defaults (20 /
// 5m / {1s,2,60s,3} / none) plus the teacher's Temporal/Redis
// connection defaults.
func Default() Config {
	return Config{
		Environment: "development",
		Runner: RunnerConfig{
			MaxConcurrentActivities:     20,
			ActivityStartToCloseTimeout: 5 * time.Minute,
			ActivityRetry: RetryConfig{
				InitialInterval:    1 * time.Second,
				BackoffCoefficient: 2,
				MaximumInterval:    60 * time.Second,
				MaximumAttempts:    3,
			},
			ExecutionDeadline: 0,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: durable.DefaultTaskQueue,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
			TTL:  24 * time.Hour,
		},
		PluginHost: PluginHostConfig{
			BinaryDir: "./plugins",
		},
	}
}

// Load builds a Config from, in ascending precedence: Default, an
// optional config file at configPath (or "routines.yaml" discovered on
// the usual search path if configPath is empty), and ROUTINES_-prefixed
// environment variables — mirroring the teacher's CITADEL_-prefixed
// AutomaticEnv wiring in root config.Config.LoadConfig.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("routines")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/citadel-routines/")
		v.AddConfigPath("$HOME/.citadel-routines")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ROUTINES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode into struct: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("runner.maxConcurrentActivities", cfg.Runner.MaxConcurrentActivities)
	v.SetDefault("runner.activityStartToCloseTimeout", cfg.Runner.ActivityStartToCloseTimeout)
	v.SetDefault("runner.executionDeadline", cfg.Runner.ExecutionDeadline)
	v.SetDefault("runner.activityRetry.initialInterval", cfg.Runner.ActivityRetry.InitialInterval)
	v.SetDefault("runner.activityRetry.backoffCoefficient", cfg.Runner.ActivityRetry.BackoffCoefficient)
	v.SetDefault("runner.activityRetry.maximumInterval", cfg.Runner.ActivityRetry.MaximumInterval)
	v.SetDefault("runner.activityRetry.maximumAttempts", cfg.Runner.ActivityRetry.MaximumAttempts)
	v.SetDefault("temporal.hostPort", cfg.Temporal.HostPort)
	v.SetDefault("temporal.namespace", cfg.Temporal.Namespace)
	v.SetDefault("temporal.taskQueue", cfg.Temporal.TaskQueue)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.ttl", cfg.Redis.TTL)
	v.SetDefault("pluginHost.binaryDir", cfg.PluginHost.BinaryDir)
}

// ToRunnerConfig adapts the loaded RunnerConfig into runner.Config for
// internal/runner.New.
func (c Config) ToRunnerConfig() runner.Config {
	return runner.Config{
		MaxConcurrentActivities:     c.Runner.MaxConcurrentActivities,
		ActivityStartToCloseTimeout: c.Runner.ActivityStartToCloseTimeout,
		ActivityRetry: runner.RetryPolicy{
			InitialInterval:    c.Runner.ActivityRetry.InitialInterval,
			BackoffCoefficient: c.Runner.ActivityRetry.BackoffCoefficient,
			MaximumInterval:    c.Runner.ActivityRetry.MaximumInterval,
			MaximumAttempts:    c.Runner.ActivityRetry.MaximumAttempts,
		},
		ExecutionDeadline: c.Runner.ExecutionDeadline,
	}
}

// ToDurableConfig adapts the loaded RunnerConfig into durable.Config
// for the Temporal workflow.
func (c Config) ToDurableConfig() durable.Config {
	return durable.Config{
		MaxConcurrentActivities:     c.Runner.MaxConcurrentActivities,
		ActivityStartToCloseTimeout: c.Runner.ActivityStartToCloseTimeout,
		ActivityRetry: durable.RetryPolicy{
			InitialInterval:    c.Runner.ActivityRetry.InitialInterval,
			BackoffCoefficient: c.Runner.ActivityRetry.BackoffCoefficient,
			MaximumInterval:    c.Runner.ActivityRetry.MaximumInterval,
			MaximumAttempts:    int32(c.Runner.ActivityRetry.MaximumAttempts),
		},
		ExecutionDeadline: c.Runner.ExecutionDeadline,
	}
}
