// Package config loads KAIRO configuration from YAML with environment
// variable overrides. A missing config file is not an error; defaults
// apply and env vars take precedence over everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the KAIRO service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Cycle    CycleConfig    `yaml:"cycle"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Voting   VotingConfig   `yaml:"voting"`
	Reward   RewardConfig   `yaml:"reward"`
	LLM      LLMConfig      `yaml:"llm"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	AdminKey string `yaml:"admin_key"`
}

// StoreConfig controls the document store.
type StoreConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// CycleConfig controls the transmission cycle scheduler.
type CycleConfig struct {
	IntervalMinutes int   `yaml:"interval_minutes"`
	LockTTLMs       int64 `yaml:"lock_ttl_ms"`
	SchedulerTickMs int64 `yaml:"scheduler_tick_ms"`
}

// PipelineConfig controls the deliberation pipeline.
type PipelineConfig struct {
	RepeatThreshold   float64 `yaml:"repeat_threshold"`
	MaxPrimaryTokens  int     `yaml:"max_primary_tokens"`
	MaxAuditorTokens  int     `yaml:"max_auditor_tokens"`
	MaxRevisionTokens int     `yaml:"max_revision_tokens"`
	MaxTraceTokens    int     `yaml:"max_trace_tokens"`
	MaxMemoryChars    int     `yaml:"max_memory_chars"`
	DoctrinePath      string  `yaml:"doctrine_path"`
	TopicsPath        string  `yaml:"topics_path"`
	SeedConceptsPath  string  `yaml:"seed_concepts_path"`
}

// VotingConfig controls vote intake and integrity checks.
type VotingConfig struct {
	RateLimitWindowMs int64 `yaml:"rate_limit_window_ms"`
	RequireSignature  bool  `yaml:"require_signature"`
	TokenGate         bool  `yaml:"token_gate"`
	MinTokenBalance   int64 `yaml:"min_token_balance"`
}

// RewardConfig controls winner selection and fee payouts.
type RewardConfig struct {
	WinnersPerCycle      int   `yaml:"winners_per_cycle"`
	CreatorFeeShareBps   int64 `yaml:"creator_fee_share_bps"`
	CreatorFeeMinLamport int64 `yaml:"creator_fee_min_lamports"`
	// CreatorFeeOverrideLamports, when positive, replaces the on-chain
	// fee claim with a fixed amount.
	CreatorFeeOverrideLamports int64 `yaml:"creator_fee_override_lamports"`
	MaxTransfersPerTx          int   `yaml:"max_transfers_per_tx"`
	PayoutsEnabled             bool  `yaml:"payouts_enabled"`
}

// LLMConfig controls text generation providers.
type LLMConfig struct {
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`
	GeminiModel    string `yaml:"gemini_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// NotifyConfig controls outbound announcements.
type NotifyConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LoggingConfig controls categorized file logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8787",
		},
		Store: StoreConfig{
			Path:       "data/kairo",
			SyncWrites: true,
		},
		Cycle: CycleConfig{
			IntervalMinutes: 5,
			LockTTLMs:       120_000,
			SchedulerTickMs: 5_000,
		},
		Pipeline: PipelineConfig{
			RepeatThreshold:   0.22,
			MaxPrimaryTokens:  400,
			MaxAuditorTokens:  260,
			MaxRevisionTokens: 320,
			MaxTraceTokens:    80,
			MaxMemoryChars:    800,
			DoctrinePath:      "config/doctrine.txt",
			TopicsPath:        "config/topics.json",
			SeedConceptsPath:  "config/seedConcepts.json",
		},
		Voting: VotingConfig{
			RateLimitWindowMs: 60_000,
			RequireSignature:  true,
		},
		Reward: RewardConfig{
			WinnersPerCycle:      5,
			CreatorFeeShareBps:   5_000,
			CreatorFeeMinLamport: 1_000,
			MaxTransfersPerTx:    8,
		},
		LLM: LLMConfig{
			AnthropicModel: "claude-sonnet-4-20250514",
			OpenAIModel:    "gpt-4o-mini",
			GeminiModel:    "gemini-2.0-flash",
			TimeoutSeconds: 60,
			MaxRetries:     2,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load reads configuration from the given path. A missing file yields
// defaults. Environment variables override file values either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(dst *int64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(dst *float64, key string) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setStr(&c.Server.Addr, "KAIRO_ADDR")
	setStr(&c.Server.AdminKey, "ADMIN_KEY")
	setStr(&c.Store.Path, "KAIRO_STORE_PATH")
	setBool(&c.Store.InMemory, "KAIRO_STORE_IN_MEMORY")

	setInt(&c.Cycle.IntervalMinutes, "CYCLE_INTERVAL_MINUTES")
	setInt64(&c.Cycle.LockTTLMs, "CYCLE_LOCK_TTL_MS")

	setFloat(&c.Pipeline.RepeatThreshold, "REPEAT_THRESHOLD")
	setInt(&c.Pipeline.MaxPrimaryTokens, "MAX_PRIMARY_TOKENS")
	setInt(&c.Pipeline.MaxAuditorTokens, "MAX_AUDITOR_TOKENS")
	setInt(&c.Pipeline.MaxRevisionTokens, "MAX_REVISION_TOKENS")
	setInt(&c.Pipeline.MaxTraceTokens, "MAX_TRACE_TOKENS")
	setInt(&c.Pipeline.MaxMemoryChars, "MAX_MEMORY_CHARS")
	setStr(&c.Pipeline.DoctrinePath, "DOCTRINE_PATH")
	setStr(&c.Pipeline.TopicsPath, "TOPICS_PATH")
	setStr(&c.Pipeline.SeedConceptsPath, "SEED_CONCEPTS_PATH")

	setInt64(&c.Voting.RateLimitWindowMs, "RATE_LIMIT_WINDOW_MS")
	setBool(&c.Voting.RequireSignature, "REQUIRE_SIGNATURE")
	setBool(&c.Voting.TokenGate, "TOKEN_GATE")
	setInt64(&c.Voting.MinTokenBalance, "MIN_TOKEN_BALANCE")

	setInt(&c.Reward.WinnersPerCycle, "WINNERS_PER_CYCLE")
	setInt64(&c.Reward.CreatorFeeShareBps, "CREATOR_FEE_SHARE_BPS")
	setInt64(&c.Reward.CreatorFeeMinLamport, "CREATOR_FEE_MIN_LAMPORTS")
	setInt64(&c.Reward.CreatorFeeOverrideLamports, "CREATOR_FEE_LAMPORTS_OVERRIDE")
	setInt(&c.Reward.MaxTransfersPerTx, "MAX_SOL_TRANSFERS_PER_TX")
	setBool(&c.Reward.PayoutsEnabled, "PAYOUTS_ENABLED")

	setStr(&c.LLM.AnthropicModel, "ANTHROPIC_MODEL")
	setStr(&c.LLM.OpenAIModel, "OPENAI_MODEL")
	setStr(&c.LLM.GeminiModel, "GEMINI_MODEL")
	setInt(&c.LLM.TimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	setInt(&c.LLM.MaxRetries, "LLM_MAX_RETRIES")

	setStr(&c.Notify.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")

	setStr(&c.Logging.Dir, "KAIRO_LOG_DIR")
	setStr(&c.Logging.Level, "KAIRO_LOG_LEVEL")
	setBool(&c.Logging.Debug, "KAIRO_DEBUG")
}

func (c *Config) validate() error {
	if c.Cycle.IntervalMinutes <= 0 {
		return fmt.Errorf("cycle interval must be positive, got %d", c.Cycle.IntervalMinutes)
	}
	if c.Cycle.LockTTLMs <= 0 {
		return fmt.Errorf("lock TTL must be positive, got %d", c.Cycle.LockTTLMs)
	}
	if c.Pipeline.RepeatThreshold < 0 || c.Pipeline.RepeatThreshold > 1 {
		return fmt.Errorf("repeat threshold must be in [0,1], got %f", c.Pipeline.RepeatThreshold)
	}
	if c.Reward.WinnersPerCycle <= 0 {
		return fmt.Errorf("winners per cycle must be positive, got %d", c.Reward.WinnersPerCycle)
	}
	if c.Reward.CreatorFeeShareBps < 0 || c.Reward.CreatorFeeShareBps > 10_000 {
		return fmt.Errorf("creator fee share must be in [0,10000] bps, got %d", c.Reward.CreatorFeeShareBps)
	}
	if c.Reward.MaxTransfersPerTx <= 0 {
		return fmt.Errorf("max transfers per tx must be positive, got %d", c.Reward.MaxTransfersPerTx)
	}
	return nil
}

// Save writes the config to the given path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// CycleInterval returns the cycle interval as a duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Cycle.IntervalMinutes) * time.Minute
}

// LockTTL returns the cycle lock staleness TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Cycle.LockTTLMs) * time.Millisecond
}

// SchedulerTick returns how often the scheduler probes for a new window.
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.Cycle.SchedulerTickMs) * time.Millisecond
}

// RateLimitWindow returns the vote rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Voting.RateLimitWindowMs) * time.Millisecond
}

// LLMTimeout returns the per-call text generation timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
