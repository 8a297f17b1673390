// Package config handles configuration loading for b3fetch.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Config represents the complete application configuration.
type Config struct {
	Browser    BrowserConfig    `mapstructure:"browser"    yaml:"browser"`
	Scraping   ScrapingConfig   `mapstructure:"scraping"   yaml:"scraping"`
	Resilience ResilienceConfig `mapstructure:"resilience" yaml:"resilience"`
	Freshness  FreshnessConfig  `mapstructure:"freshness"  yaml:"freshness"`
	Classify   ClassifyConfig   `mapstructure:"classify"   yaml:"classify"`
	Lookup     LookupConfig     `mapstructure:"lookup"     yaml:"lookup"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"      yaml:"cache"`
	API        APIConfig        `mapstructure:"api"        yaml:"api"`
	Logging    logger.Config    `mapstructure:"logging"    yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
}

// BrowserConfig holds the headless browser settings.
type BrowserConfig struct {
	Primary        string `mapstructure:"primary"         yaml:"primary"`   // "chromedp" or "rod"
	Secondary      string `mapstructure:"secondary"       yaml:"secondary"` // "rod", "chromedp" or "" to disable fallback
	ExecPath       string `mapstructure:"exec_path"       yaml:"exec_path"` // empty = auto-detect
	Headless       bool   `mapstructure:"headless"        yaml:"headless"`
	NoSandbox      bool   `mapstructure:"no_sandbox"      yaml:"no_sandbox"`
	MaxSessions    int    `mapstructure:"max_sessions"    yaml:"max_sessions"`
	UserAgent      string `mapstructure:"user_agent"      yaml:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language" yaml:"accept_language"`
	Locale         string `mapstructure:"locale"          yaml:"locale"`
	Timezone       string `mapstructure:"timezone"        yaml:"timezone"`
	WindowWidth    int    `mapstructure:"window_width"    yaml:"window_width"`
	WindowHeight   int    `mapstructure:"window_height"   yaml:"window_height"`
}

// ScrapingConfig holds the per-attempt budgets and the channel patterns.
type ScrapingConfig struct {
	BaseURL           string            `mapstructure:"base_url"           yaml:"base_url"`
	AttemptTimeout    time.Duration     `mapstructure:"attempt_timeout"    yaml:"attempt_timeout"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SelectorTimeout   time.Duration     `mapstructure:"selector_timeout"   yaml:"selector_timeout"`
	CaptureGrace      time.Duration     `mapstructure:"capture_grace"      yaml:"capture_grace"`
	FetchTimeout      time.Duration     `mapstructure:"fetch_timeout"      yaml:"fetch_timeout"`
	Channels          map[string]string `mapstructure:"channels"           yaml:"channels"` // channel → URL regexp
}

// ResilienceConfig holds retry, circuit breaker and fallback settings.
type ResilienceConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"           yaml:"max_retries"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"       yaml:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"           yaml:"max_backoff"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"    yaml:"backoff_multiplier"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"  yaml:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio" yaml:"breaker_failure_ratio"`
	BreakerInterval     time.Duration `mapstructure:"breaker_interval"      yaml:"breaker_interval"`
	BreakerCooldown     time.Duration `mapstructure:"breaker_cooldown"      yaml:"breaker_cooldown"`
	BreakerHalfOpenMax  uint32        `mapstructure:"breaker_half_open_max" yaml:"breaker_half_open_max"`
}

// FreshnessConfig holds the cache TTL per instrument pipeline.
type FreshnessConfig struct {
	Stock time.Duration `mapstructure:"stock" yaml:"stock"`
	REIT  time.Duration `mapstructure:"reit"  yaml:"reit"`
	ETF   time.Duration `mapstructure:"etf"   yaml:"etf"`
	BDR   time.Duration `mapstructure:"bdr"   yaml:"bdr"`
}

// TTL returns the freshness window for a pipeline group.
func (f FreshnessConfig) TTL(g models.Group) time.Duration {
	switch g {
	case models.GroupEquity:
		return f.Stock
	case models.GroupREIT:
		return f.REIT
	case models.GroupETF:
		return f.ETF
	case models.GroupBDR:
		return f.BDR
	default:
		return 0
	}
}

// ClassifyConfig holds classification engine settings.
type ClassifyConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
}

// LookupConfig holds the remote quote lookup client settings.
type LookupConfig struct {
	BaseURL       string        `mapstructure:"base_url"        yaml:"base_url"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst"           yaml:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"         yaml:"timeout"`
}

// StorageConfig selects the persistence gateway.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"         yaml:"driver"` // "memory" or "postgres"
	DSN          string `mapstructure:"dsn"            yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"   yaml:"auto_migrate"`
}

// CacheConfig selects the classification cache backend.
type CacheConfig struct {
	Driver    string `mapstructure:"driver"     yaml:"driver"` // "memory" or "redis"
	Addr      string `mapstructure:"addr"       yaml:"addr"`
	Password  string `mapstructure:"password"   yaml:"password"`
	DB        int    `mapstructure:"db"         yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host           string        `mapstructure:"host"            yaml:"host"`
	Port           int           `mapstructure:"port"            yaml:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"    yaml:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetricsConfig holds metrics sink settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"   yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml
//  2. ~/.b3fetch/config.yaml
//  3. /etc/b3fetch/config.yaml
//
// Environment variables override config file values.
// Format: B3FETCH_<SECTION>_<KEY>, e.g., B3FETCH_STORAGE_DSN
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".b3fetch"))
	v.AddConfigPath("/etc/b3fetch")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return unmarshal(v)
}

// Default returns the built-in configuration without reading files or
// the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("B3FETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Browser
	v.SetDefault("browser.primary", "chromedp")
	v.SetDefault("browser.secondary", "rod")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36")
	v.SetDefault("browser.accept_language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("browser.locale", "pt-BR")
	v.SetDefault("browser.timezone", "America/Sao_Paulo")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)

	// Scraping budgets, nested inside attempt_timeout
	v.SetDefault("scraping.base_url", "https://statusinvest.com.br")
	v.SetDefault("scraping.attempt_timeout", 20*time.Second)
	v.SetDefault("scraping.navigation_timeout", 15*time.Second)
	v.SetDefault("scraping.selector_timeout", 5*time.Second)
	v.SetDefault("scraping.capture_grace", 3*time.Second)
	v.SetDefault("scraping.fetch_timeout", 10*time.Second)
	v.SetDefault("scraping.channels", map[string]string{
		"quotes":           `(?i)/(tickerprice|tickerpricerange)\b`,
		"dividends":        `(?i)/(companytickerprovents|tickerprovents|fii/provents)`,
		"indicators":       `(?i)/indicatorhistorical`,
		"income_statement": `(?i)/getdre\b`,
		"balance_sheet":    `(?i)/(getbsactivepassivechart|balancosheet)`,
		"cash_flow":        `(?i)/(getfluxocaixa|cashflow)`,
	})

	// Resilience
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_backoff", 500*time.Millisecond)
	v.SetDefault("resilience.max_backoff", 8*time.Second)
	v.SetDefault("resilience.backoff_multiplier", 2.0)
	v.SetDefault("resilience.breaker_min_requests", 5)
	v.SetDefault("resilience.breaker_failure_ratio", 0.6)
	v.SetDefault("resilience.breaker_interval", 2*time.Minute)
	v.SetDefault("resilience.breaker_cooldown", time.Minute)
	v.SetDefault("resilience.breaker_half_open_max", 1)

	// Freshness
	v.SetDefault("freshness.stock", 24*time.Hour)
	v.SetDefault("freshness.reit", 24*time.Hour)
	v.SetDefault("freshness.etf", 24*time.Hour)
	v.SetDefault("freshness.bdr", 24*time.Hour)

	// Classification + remote lookup
	v.SetDefault("classify.lookup_timeout", 5*time.Second)
	v.SetDefault("lookup.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("lookup.rate_per_second", 2.0)
	v.SetDefault("lookup.burst", 2)
	v.SetDefault("lookup.timeout", 5*time.Second)

	// Storage + cache
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key_prefix", "b3fetch:classify:")

	// API
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.request_timeout", 3*time.Minute)

	// Logging + metrics
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "b3fetch")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("B3FETCH_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if pw := os.Getenv("B3FETCH_CACHE_PASSWORD"); pw != "" {
		cfg.Cache.Password = pw
	}
}

// Validate rejects configurations whose budgets cannot be honored.
func (c *Config) Validate() error {
	s := c.Scraping
	if s.AttemptTimeout <= 0 {
		return fmt.Errorf("scraping.attempt_timeout must be positive")
	}
	for name, d := range map[string]time.Duration{
		"navigation_timeout": s.NavigationTimeout,
		"selector_timeout":   s.SelectorTimeout,
		"capture_grace":      s.CaptureGrace,
		"fetch_timeout":      s.FetchTimeout,
	} {
		if d <= 0 || d > s.AttemptTimeout {
			return fmt.Errorf("scraping.%s must be in (0, attempt_timeout], got %s", name, d)
		}
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be positive")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must not be negative")
	}
	if r := c.Resilience.BreakerFailureRatio; r <= 0 || r > 1 {
		return fmt.Errorf("resilience.breaker_failure_ratio must be in (0, 1]")
	}
	if rt := c.API.RequestTimeout; rt > 0 {
		if need := c.AcquisitionBudget(); rt < need {
			return fmt.Errorf("api.request_timeout %s is shorter than the worst-case acquisition %s (retries, backoff and fallback)", rt, need)
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// backoffJitter is the upper bound of the randomized backoff interval
// relative to its nominal value.
const backoffJitter = 1.5

// AcquisitionBudget is the longest one acquisition may take: every primary
// attempt, the waits between them and one attempt on the secondary engine.
func (c *Config) AcquisitionBudget() time.Duration {
	r := c.Resilience
	attempts := time.Duration(max(r.MaxRetries, 0) + 1)
	if c.Browser.Secondary != "" {
		attempts++
	}
	total := attempts * c.Scraping.AttemptTimeout

	wait := r.InitialBackoff
	mult := r.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	for i := 0; i < r.MaxRetries; i++ {
		if r.MaxBackoff > 0 && wait > r.MaxBackoff {
			wait = r.MaxBackoff
		}
		total += time.Duration(float64(wait) * backoffJitter)
		wait = time.Duration(float64(wait) * mult)
	}
	return total
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
