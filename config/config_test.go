package config

import (
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Research: ResearchConfig{
			MaxIterations:         2,
			MinArticles:           3,
			MinPerspectives:       2,
			RelevanceThreshold:    0.3,
			ExtractionConcurrency: 4,
		},
		LLM: LLMConfig{
			Providers: map[string]LLMProvider{
				"openai": {
					Type: "openai",
					Models: map[string]LLMModel{
						"gpt-5":      {Name: "gpt-5"},
						"gpt-5-mini": {Name: "gpt-5-mini"},
					},
				},
			},
			Routing: LLMRoutingConfig{
				Extraction: "gpt-5-mini",
				Clustering: "gpt-5",
				Synthesis:  "gpt-5",
				Narration:  "gpt-5-mini",
				Summary:    "gpt-5",
				Queries:    "gpt-5-mini",
				Fallback:   "gpt-5",
			},
		},
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	if err := validateConfig(validTestConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateConfigRejectsBadThresholds(t *testing.T) {
	cfg := validTestConfig()
	cfg.Research.MaxIterations = 0
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("max_iterations 0 accepted")
	}

	cfg = validTestConfig()
	cfg.Research.ExtractionConcurrency = 0
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("extraction_concurrency 0 accepted")
	}

	cfg = validTestConfig()
	cfg.Research.MinArticles = -1
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("negative min_articles accepted")
	}
}

func TestValidateConfigRequiresProvider(t *testing.T) {
	cfg := validTestConfig()
	cfg.LLM.Providers = nil
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("empty provider set accepted")
	}
}

func TestValidateConfigRejectsUnknownRoutingModel(t *testing.T) {
	cfg := validTestConfig()
	cfg.LLM.Routing.Clustering = "gpt-unknown"
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("routing to an unconfigured model accepted")
	}
}

func TestRedisConfig(t *testing.T) {
	var r RedisConfig
	if r.Enabled() {
		t.Fatalf("empty host reported enabled")
	}
	r = RedisConfig{Host: "localhost", Port: 6379, Timeout: time.Second}
	if !r.Enabled() {
		t.Fatalf("configured host reported disabled")
	}
	if r.Addr() != "localhost:6379" {
		t.Fatalf("addr = %q", r.Addr())
	}
}
