// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Crawler  CrawlerConfig  `mapstructure:"crawler" yaml:"crawler"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the owned browser process and its pages.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	PageCap           int           `mapstructure:"page_cap" yaml:"page_cap"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NavPreDelayMin    time.Duration `mapstructure:"nav_pre_delay_min" yaml:"nav_pre_delay_min"`
	NavPreDelayMax    time.Duration `mapstructure:"nav_pre_delay_max" yaml:"nav_pre_delay_max"`
	NavPostDelayMin   time.Duration `mapstructure:"nav_post_delay_min" yaml:"nav_post_delay_min"`
	NavPostDelayMax   time.Duration `mapstructure:"nav_post_delay_max" yaml:"nav_post_delay_max"`
	Locale            string        `mapstructure:"locale" yaml:"locale"`
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
}

// CrawlerConfig tunes the extraction engine and its HTTP client.
type CrawlerConfig struct {
	MaxPages      int           `mapstructure:"max_pages" yaml:"max_pages"`
	MaxItems      int           `mapstructure:"max_items" yaml:"max_items"`
	RequestDelay  time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries       int           `mapstructure:"retries" yaml:"retries"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

// AuthConfig tunes the login state machine.
type AuthConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	SubmitWaitMin   time.Duration `mapstructure:"submit_wait_min" yaml:"submit_wait_min"`
	SubmitWaitMax   time.Duration `mapstructure:"submit_wait_max" yaml:"submit_wait_max"`
	RetryBackoffMin time.Duration `mapstructure:"retry_backoff_min" yaml:"retry_backoff_min"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`
	VerifyTimeout   time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// DatabaseConfig points at the result store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MaxPagesHardCap bounds any configured or requested page count.
const MaxPagesHardCap = 50

// SetDefaults seeds every knob so a missing config file still yields a
// runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "digduck-collector")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.page_cap", 3)
	v.SetDefault("browser.operation_timeout", 60*time.Second)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.nav_pre_delay_min", 800*time.Millisecond)
	v.SetDefault("browser.nav_pre_delay_max", 2*time.Second)
	v.SetDefault("browser.nav_post_delay_min", 1*time.Second)
	v.SetDefault("browser.nav_post_delay_max", 2500*time.Millisecond)
	v.SetDefault("browser.locale", "ko-KR")
	v.SetDefault("browser.timezone", "Asia/Seoul")

	v.SetDefault("crawler.max_pages", 10)
	v.SetDefault("crawler.max_items", 2000)
	v.SetDefault("crawler.request_delay", time.Second)
	v.SetDefault("crawler.timeout", 30*time.Second)
	v.SetDefault("crawler.retries", 3)
	v.SetDefault("crawler.batch_size", 100)
	v.SetDefault("crawler.rate_per_second", 2.0)

	v.SetDefault("auth.max_attempts", 3)
	v.SetDefault("auth.submit_wait_min", 1500*time.Millisecond)
	v.SetDefault("auth.submit_wait_max", 3500*time.Millisecond)
	v.SetDefault("auth.retry_backoff_min", 5*time.Second)
	v.SetDefault("auth.retry_backoff_max", 8*time.Second)
	v.SetDefault("auth.verify_timeout", 20*time.Second)
}

// Validate rejects configurations that would misbehave at runtime.
func (c Config) Validate() error {
	if c.Browser.PageCap < 1 {
		return fmt.Errorf("browser.page_cap must be at least 1, got %d", c.Browser.PageCap)
	}
	if c.Browser.NavPreDelayMax < c.Browser.NavPreDelayMin {
		return fmt.Errorf("browser.nav_pre_delay_max (%s) is below nav_pre_delay_min (%s)", c.Browser.NavPreDelayMax, c.Browser.NavPreDelayMin)
	}
	if c.Browser.NavPostDelayMax < c.Browser.NavPostDelayMin {
		return fmt.Errorf("browser.nav_post_delay_max (%s) is below nav_post_delay_min (%s)", c.Browser.NavPostDelayMax, c.Browser.NavPostDelayMin)
	}
	if c.Crawler.MaxPages < 1 || c.Crawler.MaxPages > MaxPagesHardCap {
		return fmt.Errorf("crawler.max_pages must be within [1, %d], got %d", MaxPagesHardCap, c.Crawler.MaxPages)
	}
	if c.Crawler.MaxItems < 1 {
		return fmt.Errorf("crawler.max_items must be positive, got %d", c.Crawler.MaxItems)
	}
	if c.Crawler.Retries < 0 {
		return fmt.Errorf("crawler.retries must not be negative, got %d", c.Crawler.Retries)
	}
	if c.Crawler.BatchSize < 1 {
		return fmt.Errorf("crawler.batch_size must be positive, got %d", c.Crawler.BatchSize)
	}
	if c.Auth.MaxAttempts < 1 {
		return fmt.Errorf("auth.max_attempts must be at least 1, got %d", c.Auth.MaxAttempts)
	}
	if c.Auth.RetryBackoffMax < c.Auth.RetryBackoffMin {
		return fmt.Errorf("auth.retry_backoff_max (%s) is below retry_backoff_min (%s)", c.Auth.RetryBackoffMax, c.Auth.RetryBackoffMin)
	}
	return nil
}
