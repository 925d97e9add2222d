// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/crawlkit/deepcrawl/internal/crawler"
)

// Config captures all deepcrawl configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl session: scope, budget, strategy, fetcher.
type CrawlerConfig struct {
	SiteDomain          string        `mapstructure:"site_domain"`
	URLPatterns         []string      `mapstructure:"url_patterns"`
	MaxPages            int           `mapstructure:"max_pages"`
	MaxDepth            int           `mapstructure:"max_depth"`
	Strategy            string        `mapstructure:"strategy"`
	Concurrency         int           `mapstructure:"concurrency"`
	Keywords            []string      `mapstructure:"keywords"`
	KeywordWeight       float64       `mapstructure:"keyword_weight"`
	AllowedContentTypes []string      `mapstructure:"allowed_content_types"`
	UserAgent           string        `mapstructure:"user_agent"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RateLimitRPS        float64       `mapstructure:"rate_limit_rps"`
	OutputDir           string        `mapstructure:"output_dir"`
}

// ProxyConfig points at the proxy list. Proxies are mandatory unless
// explicitly waived.
type ProxyConfig struct {
	File     string `mapstructure:"file"`
	Required bool   `mapstructure:"required"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and optional file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment. The schema is closed: an
// unknown key anywhere in the file is a load error, not a silent no-op.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEEPCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	strict := func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }
	if err := v.Unmarshal(&cfg, strict); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// The page budget default depends on the strategy, so it is applied
	// after decoding rather than through viper.
	if cfg.Crawler.MaxPages == 0 {
		if cfg.Crawler.Strategy == string(crawler.StrategyBestFirst) {
			cfg.Crawler.MaxPages = 25
		} else {
			cfg.Crawler.MaxPages = 50
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.url_patterns", []string{"*"})
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.strategy", "bfs")
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.keyword_weight", 0.7)
	v.SetDefault("crawler.allowed_content_types", []string{"text/html"})
	v.SetDefault("crawler.user_agent", "deepcrawl/0.1")
	v.SetDefault("crawler.request_timeout", 10*time.Second)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.rate_limit_rps", 2.0)
	v.SetDefault("crawler.output_dir", "data/results")
	v.SetDefault("proxy.required", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Failures are
// ConfigErrors naming the offending key.
func (c Config) Validate() error {
	if c.Crawler.SiteDomain == "" {
		return &crawler.ConfigError{Field: "crawler.site_domain", Err: errors.New("is required")}
	}
	if c.Crawler.MaxPages <= 0 {
		return &crawler.ConfigError{Field: "crawler.max_pages", Err: fmt.Errorf("must be > 0, got %d", c.Crawler.MaxPages)}
	}
	if c.Crawler.MaxDepth < 0 {
		return &crawler.ConfigError{Field: "crawler.max_depth", Err: fmt.Errorf("must be >= 0, got %d", c.Crawler.MaxDepth)}
	}
	switch c.Crawler.Strategy {
	case string(crawler.StrategyBFS), string(crawler.StrategyBestFirst):
	default:
		return &crawler.ConfigError{Field: "crawler.strategy", Err: fmt.Errorf("unknown strategy %q", c.Crawler.Strategy)}
	}
	if c.Crawler.Strategy == string(crawler.StrategyBestFirst) && len(c.Crawler.Keywords) == 0 {
		return &crawler.ConfigError{Field: "crawler.keywords", Err: errors.New("best_first requires at least one keyword")}
	}
	if c.Crawler.KeywordWeight < 0 || c.Crawler.KeywordWeight > 1 {
		return &crawler.ConfigError{Field: "crawler.keyword_weight", Err: fmt.Errorf("must be within [0, 1], got %g", c.Crawler.KeywordWeight)}
	}
	if c.Crawler.Concurrency <= 0 {
		return &crawler.ConfigError{Field: "crawler.concurrency", Err: fmt.Errorf("must be > 0, got %d", c.Crawler.Concurrency)}
	}
	if c.Crawler.MaxRetries < 0 {
		return &crawler.ConfigError{Field: "crawler.max_retries", Err: fmt.Errorf("must be >= 0, got %d", c.Crawler.MaxRetries)}
	}
	if c.Crawler.RequestTimeout <= 0 {
		return &crawler.ConfigError{Field: "crawler.request_timeout", Err: fmt.Errorf("must be > 0, got %s", c.Crawler.RequestTimeout)}
	}
	if c.Proxy.Required && c.Proxy.File == "" {
		return &crawler.ConfigError{Field: "proxy.file", Err: errors.New("is required unless proxy.required is false")}
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return &crawler.ConfigError{Field: "server.port", Err: fmt.Errorf("must be > 0, got %d", c.Server.Port)}
	}
	return nil
}

// StrategySpec converts the crawler section into the engine's strategy spec.
func (c Config) StrategySpec() crawler.StrategySpec {
	return crawler.StrategySpec{
		Kind:     crawler.Strategy(c.Crawler.Strategy),
		MaxPages: c.Crawler.MaxPages,
		MaxDepth: c.Crawler.MaxDepth,
		Filters: crawler.FilterSpec{
			AllowedDomains:      []string{c.Crawler.SiteDomain},
			URLPatterns:         c.Crawler.URLPatterns,
			AllowedContentTypes: c.Crawler.AllowedContentTypes,
		},
		Score: crawler.ScoreSpec{
			Keywords: c.Crawler.Keywords,
			Weight:   c.Crawler.KeywordWeight,
		},
	}
}

// FetcherConfig converts the crawler section into fetcher settings.
func (c Config) FetcherConfig() crawler.FetcherConfig {
	return crawler.FetcherConfig{
		UserAgent:      c.Crawler.UserAgent,
		RequestTimeout: c.Crawler.RequestTimeout,
		RateLimitRPS:   c.Crawler.RateLimitRPS,
	}
}

// EngineConfig converts the crawler section into engine settings.
func (c Config) EngineConfig() crawler.EngineConfig {
	return crawler.EngineConfig{
		Concurrency: c.Crawler.Concurrency,
		MaxRetries:  c.Crawler.MaxRetries,
	}
}
