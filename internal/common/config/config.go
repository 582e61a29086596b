// Copyright © 2024 SQL Workload Optimization Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the engine's configuration surface
// (spec §6.4): discovery cadence, detector thresholds, optimizer deadlines,
// applicator safety gates, and validator acceptance criteria.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sqlopt/engine/internal/common/logger"
)

// Config is the top-level configuration for the optimization engine.
type Config struct {
	Logger     logger.Config     `mapstructure:"logger"`
	Store      StoreConfig       `mapstructure:"store"`
	Discovery  DiscoveryConfig   `mapstructure:"discovery"`
	Detector   DetectorConfig    `mapstructure:"detector"`
	Optimizer  OptimizerConfig   `mapstructure:"optimizer"`
	Applicator ApplicatorConfig  `mapstructure:"applicator"`
	Validator  ValidatorConfig   `mapstructure:"validator"`
	LLM        LLMConfig         `mapstructure:"llm"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Secrets    SecretsConfig     `mapstructure:"secrets"`
}

// StoreConfig configures the Observability Store backend (spec §4.1/§6.2).
type StoreConfig struct {
	Driver            string `mapstructure:"driver" validate:"oneof=sqlite postgres mysql"`
	DSN               string `mapstructure:"dsn"`
	ConnectionPoolSize int   `mapstructure:"connection_pool_size" validate:"min=1"`
}

// DiscoveryConfig configures the Discovery Scheduler (C3, spec §4.2/§5).
type DiscoveryConfig struct {
	IntervalSeconds  int `mapstructure:"interval_seconds" validate:"min=1"`
	MaxQueriesPerPoll int `mapstructure:"max_queries_per_poll" validate:"min=1"`
	WorkerCount      int `mapstructure:"worker_count" validate:"min=1"`
	QueueSize        int `mapstructure:"queue_size" validate:"min=1"`
}

// DetectorConfig configures the Plan Normalizer & Issue Detector (C4, spec §4.4).
type DetectorConfig struct {
	LargeTableRows     map[string]int64 `mapstructure:"large_table_rows"`
	DefaultLargeTableRows int64         `mapstructure:"default_large_table_rows" validate:"min=1"`
	StaleStatsRatio    float64          `mapstructure:"stale_stats_ratio" validate:"min=1"`
	MissingIndexRowThreshold int64      `mapstructure:"missing_index_row_threshold" validate:"min=1"`
	MaxOrBranches      int              `mapstructure:"max_or_branches" validate:"min=1"`
	HighIOThreshold    float64          `mapstructure:"high_io_threshold" validate:"min=0,max=1"`
}

// OptimizerConfig configures the Optimization Orchestrator (C5, spec §4.5).
type OptimizerConfig struct {
	CompletionSoftTimeoutSec int `mapstructure:"completion_soft_timeout_sec" validate:"min=1"`
	CompletionHardTimeoutSec int `mapstructure:"completion_hard_timeout_sec" validate:"min=1"`
	MinImprovementPct        float64 `mapstructure:"min_improvement_pct"`
	MaxRegressionPct         float64 `mapstructure:"max_regression_pct"`
}

// ApplicatorConfig configures the Fix Applicator's safety gates (C6.1, spec §4.6.1).
type ApplicatorConfig struct {
	BusinessHoursEnabled   bool `mapstructure:"business_hours_enabled"`
	BusinessHoursStart     int  `mapstructure:"business_hours_start"`
	BusinessHoursEnd       int  `mapstructure:"business_hours_end"`
	EnableDDLExecution     bool `mapstructure:"enable_ddl_execution"`
	AllowDangerousOperations bool `mapstructure:"allow_dangerous_operations"`

	// BusinessHoursExpression, when set, overrides the plain
	// [BusinessHoursStart, BusinessHoursEnd) range check with a govaluate
	// boolean expression evaluated against hour/weekday/start/end. Lets an
	// operator encode e.g. weekend exceptions without a code change.
	BusinessHoursExpression string `mapstructure:"business_hours_expression"`
}

// ValidatorConfig configures the Performance Validator (C6.2, spec §4.6.2).
type ValidatorConfig struct {
	Iterations             int  `mapstructure:"iterations" validate:"min=1"`
	AutoRevertOnRegression bool `mapstructure:"auto_revert_on_regression"`
}

// LLMConfig selects and configures the concrete CompletionService binding.
type LLMConfig struct {
	Provider string       `mapstructure:"provider" validate:"oneof=openai"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds the OpenAI-backed CompletionService settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// CacheConfig configures the advisory LRU/Redis cache layer (spec §5).
type CacheConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisURL string        `mapstructure:"redis_url"`
	Capacity int           `mapstructure:"capacity" validate:"min=1"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig configures verification of pre-issued operator tokens at the
// capability boundary (the core never issues tokens, only verifies them).
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SecretsConfig configures the connection-credential encryption key (spec
// §3 "Connection", "EncryptedPassword"). KeyHex must decode to exactly 32
// bytes; key rotation is out of scope.
type SecretsConfig struct {
	KeyHex string `mapstructure:"key_hex"`
}

// Default populates a Config with the documented defaults from spec §6.4.
func Default() *Config {
	return &Config{
		Logger: logger.Config{Level: "info", Format: "text", Output: "console"},
		Store: StoreConfig{
			Driver:             "sqlite",
			DSN:                "sqlopt.db",
			ConnectionPoolSize: 4,
		},
		Discovery: DiscoveryConfig{
			IntervalSeconds:   3600,
			MaxQueriesPerPoll: 100,
			WorkerCount:       8,
			QueueSize:         256,
		},
		Detector: DetectorConfig{
			DefaultLargeTableRows:    100000,
			StaleStatsRatio:          10.0,
			MissingIndexRowThreshold: 10000,
			MaxOrBranches:            3,
			HighIOThreshold:          0.3,
			LargeTableRows:           map[string]int64{},
		},
		Optimizer: OptimizerConfig{
			CompletionSoftTimeoutSec: 300,
			CompletionHardTimeoutSec: 330,
			MinImprovementPct:        10.0,
			MaxRegressionPct:         5.0,
		},
		Applicator: ApplicatorConfig{
			BusinessHoursEnabled:     false,
			BusinessHoursStart:       9,
			BusinessHoursEnd:         17,
			EnableDDLExecution:       true,
			AllowDangerousOperations: false,
			BusinessHoursExpression:  "",
		},
		Validator: ValidatorConfig{
			Iterations:             3,
			AutoRevertOnRegression: true,
		},
		LLM: LLMConfig{Provider: "openai"},
		Cache: CacheConfig{
			Backend:  "memory",
			Capacity: 1000,
			TTL:      10 * time.Minute,
		},
	}
}

// Load reads configuration from the named file (if any), environment
// variables prefixed SQLOPT_, and falls back to Default() for anything
// unset, then validates the result.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SQLOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults seeds viper with the zero-config defaults so that a config
// file or environment variable only needs to override what it cares about.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logger.level", cfg.Logger.Level)
	v.SetDefault("logger.format", cfg.Logger.Format)
	v.SetDefault("logger.output", cfg.Logger.Output)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.dsn", cfg.Store.DSN)
	v.SetDefault("store.connection_pool_size", cfg.Store.ConnectionPoolSize)
	v.SetDefault("discovery.interval_seconds", cfg.Discovery.IntervalSeconds)
	v.SetDefault("discovery.max_queries_per_poll", cfg.Discovery.MaxQueriesPerPoll)
	v.SetDefault("discovery.worker_count", cfg.Discovery.WorkerCount)
	v.SetDefault("discovery.queue_size", cfg.Discovery.QueueSize)
	v.SetDefault("detector.default_large_table_rows", cfg.Detector.DefaultLargeTableRows)
	v.SetDefault("detector.stale_stats_ratio", cfg.Detector.StaleStatsRatio)
	v.SetDefault("detector.missing_index_row_threshold", cfg.Detector.MissingIndexRowThreshold)
	v.SetDefault("detector.max_or_branches", cfg.Detector.MaxOrBranches)
	v.SetDefault("detector.high_io_threshold", cfg.Detector.HighIOThreshold)
	v.SetDefault("optimizer.completion_soft_timeout_sec", cfg.Optimizer.CompletionSoftTimeoutSec)
	v.SetDefault("optimizer.completion_hard_timeout_sec", cfg.Optimizer.CompletionHardTimeoutSec)
	v.SetDefault("optimizer.min_improvement_pct", cfg.Optimizer.MinImprovementPct)
	v.SetDefault("optimizer.max_regression_pct", cfg.Optimizer.MaxRegressionPct)
	v.SetDefault("applicator.business_hours_enabled", cfg.Applicator.BusinessHoursEnabled)
	v.SetDefault("applicator.business_hours_start", cfg.Applicator.BusinessHoursStart)
	v.SetDefault("applicator.business_hours_end", cfg.Applicator.BusinessHoursEnd)
	v.SetDefault("applicator.enable_ddl_execution", cfg.Applicator.EnableDDLExecution)
	v.SetDefault("applicator.allow_dangerous_operations", cfg.Applicator.AllowDangerousOperations)
	v.SetDefault("applicator.business_hours_expression", cfg.Applicator.BusinessHoursExpression)
	v.SetDefault("validator.iterations", cfg.Validator.Iterations)
	v.SetDefault("validator.auto_revert_on_regression", cfg.Validator.AutoRevertOnRegression)
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.capacity", cfg.Cache.Capacity)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("secrets.key_hex", cfg.Secrets.KeyHex)
}

// Validate runs struct-tag validation over the whole configuration tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Optimizer.CompletionHardTimeoutSec <= c.Optimizer.CompletionSoftTimeoutSec {
		return fmt.Errorf("optimizer.completion_hard_timeout_sec must exceed completion_soft_timeout_sec")
	}
	if c.Applicator.BusinessHoursStart >= c.Applicator.BusinessHoursEnd {
		return fmt.Errorf("applicator.business_hours_start must precede business_hours_end")
	}
	key, err := hex.DecodeString(c.Secrets.KeyHex)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("secrets.key_hex must decode to 32 bytes (AES-256)")
	}
	return nil
}

// SecretsKey decodes Secrets.KeyHex; callers must only reach it after
// Validate has already confirmed the decode succeeds.
func (c *Config) SecretsKey() []byte {
	key, _ := hex.DecodeString(c.Secrets.KeyHex)
	return key
}

// LargeTableThreshold returns the configured large-table row threshold for
// the given engine name, falling back to DefaultLargeTableRows.
func (d *DetectorConfig) LargeTableThreshold(engine string) int64 {
	if v, ok := d.LargeTableRows[engine]; ok {
		return v
	}
	return d.DefaultLargeTableRows
}
