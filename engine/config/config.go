// Package config loads service configuration from an optional YAML file
// with environment variable overrides on top. Defaults work out of the box
// for local development (minus external API keys).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dealscout/dealscout/engine/aggregate"
	"gopkg.in/yaml.v2"
)

type ServerConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	AdminToken string `yaml:"admin_token"`
}

type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit"`
}

type ProxyConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	BaseDelayMS       int     `yaml:"base_delay_ms"`
	RateLimitDelayMS  int     `yaml:"rate_limit_delay_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

type EnhancerConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	MaxTerms       int     `yaml:"max_terms"`
	CallsPerMinute float64 `yaml:"calls_per_minute"`
}

type EBayConfig struct {
	Token    string `yaml:"token"`
	MarketID string `yaml:"market_id"`
}

type SearchConfig struct {
	MaxPhrases    int               `yaml:"max_phrases"`
	MaxResults    int               `yaml:"max_results"`
	PhraseDelayMS int               `yaml:"phrase_delay_ms"`
	Location      string            `yaml:"location"`
	Weights       aggregate.Weights `yaml:"weights"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Quota    QuotaConfig    `yaml:"quota"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Enhancer EnhancerConfig `yaml:"enhancer"`
	EBay     EBayConfig     `yaml:"ebay"`
	Search   SearchConfig   `yaml:"search"`
	NATSURL  string         `yaml:"nats_url"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", CORSOrigin: "*"},
		Quota:  QuotaConfig{DailyLimit: 1},
		Proxy: ProxyConfig{
			BaseDelayMS:       1000,
			RateLimitDelayMS:  2000,
			RequestsPerSecond: 2,
			TimeoutSec:        30,
		},
		Enhancer: EnhancerConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.2",
			MaxTerms:       4,
			CallsPerMinute: 30,
		},
		EBay: EBayConfig{MarketID: "EBAY_GB"},
		Search: SearchConfig{
			MaxPhrases:    5,
			MaxResults:    30,
			PhraseDelayMS: 1500,
			Weights:       aggregate.DefaultWeights(),
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Server.AdminToken = envOr("ADMIN_TOKEN", c.Server.AdminToken)
	c.Proxy.APIKey = envOr("PROXY_API_KEY", c.Proxy.APIKey)
	c.Proxy.BaseURL = envOr("PROXY_BASE_URL", c.Proxy.BaseURL)
	c.Enhancer.BaseURL = envOr("ENHANCER_URL", c.Enhancer.BaseURL)
	c.Enhancer.Model = envOr("ENHANCER_MODEL", c.Enhancer.Model)
	c.EBay.Token = envOr("EBAY_TOKEN", c.EBay.Token)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)

	if v := os.Getenv("DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Quota.DailyLimit = n
		}
	}
}

// PhraseDelay returns the inter-phrase pacing as a duration.
func (c Config) PhraseDelay() time.Duration {
	return time.Duration(c.Search.PhraseDelayMS) * time.Millisecond
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
