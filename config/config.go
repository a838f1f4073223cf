package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the polyview service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Research  ResearchConfig  `mapstructure:"research"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Server    ServerConfig    `mapstructure:"server"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	MaxRunTime     time.Duration `mapstructure:"max_run_time"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ResearchConfig contains the research loop thresholds and limits
type ResearchConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations"`
	MinArticles           int           `mapstructure:"min_articles"`
	MinPerspectives       int           `mapstructure:"min_perspectives"`
	RelevanceThreshold    float64       `mapstructure:"relevance_threshold"`
	ExtractionConcurrency int           `mapstructure:"extraction_concurrency"`
	StageTimeout          time.Duration `mapstructure:"stage_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
	Retry     LLMRetryConfig         `mapstructure:"retry"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, compatible
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles each pipeline task
type LLMRoutingConfig struct {
	Extraction string `mapstructure:"extraction"` // per-article perspective extraction
	Clustering string `mapstructure:"clustering"` // grouping oracle
	Synthesis  string `mapstructure:"synthesis"`  // batched final synthesis
	Narration  string `mapstructure:"narration"`  // per-cluster preliminary synthesis
	Summary    string `mapstructure:"summary"`    // final balanced summary
	Queries    string `mapstructure:"queries"`    // search query generation
	Fallback   string `mapstructure:"fallback"`
}

// LLMRetryConfig controls rate-limit retry behaviour for collaborator calls
type LLMRetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	FallbackDelay time.Duration `mapstructure:"fallback_delay"`
}

// SourcesConfig contains article search source configurations
type SourcesConfig struct {
	NewsAPI   NewsAPIConfig   `mapstructure:"newsapi"`
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	Hydrate   bool            `mapstructure:"hydrate"` // fetch full article text for snippet-only results
}

// NewsAPIConfig contains NewsAPI settings
type NewsAPIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	StreamEnabled bool          `mapstructure:"stream_enabled"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// StreamConfig contains the optional Redis Streams event mirror settings
type StreamConfig struct {
	Redis        RedisConfig `mapstructure:"redis"`
	StreamPrefix string      `mapstructure:"stream_prefix"`
	MaxLen       int64       `mapstructure:"max_len"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis mirror target is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("polyview")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("POLYVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults + env are enough to run
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General defaults
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_run_time", "10m")
	viper.SetDefault("general.default_timeout", "30s")

	// Research loop defaults
	viper.SetDefault("research.max_iterations", 2)
	viper.SetDefault("research.min_articles", 3)
	viper.SetDefault("research.min_perspectives", 2)
	viper.SetDefault("research.relevance_threshold", 0.3)
	viper.SetDefault("research.extraction_concurrency", 4)
	viper.SetDefault("research.stage_timeout", "3m")

	// LLM defaults
	viper.SetDefault("llm.routing.extraction", "gpt-5-mini")
	viper.SetDefault("llm.routing.clustering", "gpt-5")
	viper.SetDefault("llm.routing.synthesis", "gpt-5")
	viper.SetDefault("llm.routing.narration", "gpt-5-mini")
	viper.SetDefault("llm.routing.summary", "gpt-5")
	viper.SetDefault("llm.routing.queries", "gpt-5-mini")
	viper.SetDefault("llm.routing.fallback", "gpt-5-nano")
	viper.SetDefault("llm.retry.max_retries", 3)
	viper.SetDefault("llm.retry.fallback_delay", "61s")

	// Sources defaults
	viper.SetDefault("sources.newsapi.max_results", 20)
	viper.SetDefault("sources.web_search.max_results", 10)
	viper.SetDefault("sources.web_search.timeout", "30s")
	viper.SetDefault("sources.hydrate", true)

	// Server defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.stream_enabled", true)
	viper.SetDefault("server.queue_capacity", 256)
	viper.SetDefault("server.session_ttl", "1h")

	// Stream mirror defaults
	viper.SetDefault("stream.redis.host", "")
	viper.SetDefault("stream.redis.port", 6379)
	viper.SetDefault("stream.redis.db", 0)
	viper.SetDefault("stream.redis.timeout", "5s")
	viper.SetDefault("stream.stream_prefix", "polyview:events:")
	viper.SetDefault("stream.max_len", 4096)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
		viper.Set("llm.providers.openai.type", "openai")
	}

	if apiKey := os.Getenv("NEWSAPI_API_KEY"); apiKey != "" {
		viper.Set("sources.newsapi.api_key", apiKey)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		viper.Set("sources.web_search.brave_api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		viper.Set("sources.web_search.serper_api_key", apiKey)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("stream.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("stream.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("stream.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Research.MaxIterations < 1 {
		return fmt.Errorf("research.max_iterations must be >= 1")
	}
	if config.Research.MinArticles < 0 || config.Research.MinPerspectives < 0 {
		return fmt.Errorf("research thresholds must be >= 0")
	}
	if config.Research.ExtractionConcurrency < 1 {
		return fmt.Errorf("research.extraction_concurrency must be >= 1")
	}

	if len(config.LLM.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}

	routingModels := []string{
		config.LLM.Routing.Extraction,
		config.LLM.Routing.Clustering,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Narration,
		config.LLM.Routing.Summary,
		config.LLM.Routing.Queries,
		config.LLM.Routing.Fallback,
	}
	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	return nil
}
