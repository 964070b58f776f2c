// Package config defines the crawl job configuration file and its validation.
//
// Validation returns a list of issues rather than failing on the first
// problem: a CLI run reports everything wrong with a config at once, and
// warnings (suspicious but runnable settings) are distinguished from errors.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"catcrawl/internal/storage"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path locates the offending field in the
// config file, dot-separated.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// RetryConfig tunes the resilient executor.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`  // default 3
	BaseDelayMS int `json:"base_delay_ms"` // default 1000
}

// GateConfig tunes the page stability gate.
type GateConfig struct {
	SettleMinMS  int `json:"settle_min_ms"`  // default 2000
	SettleMaxMS  int `json:"settle_max_ms"`  // default 3000
	IdleTimeoutS int `json:"idle_timeout_s"` // default 10
}

// BrowserConfig tunes the rendering session.
type BrowserConfig struct {
	Headless     *bool  `json:"headless,omitempty"` // default true
	UserAgent    string `json:"user_agent,omitempty"`
	NavTimeoutS  int    `json:"nav_timeout_s"`  // default 30
	RequestIdleS int    `json:"request_idle_s"` // default 2
}

// CrawlConfig bounds one run.
type CrawlConfig struct {
	MaxPages        int     `json:"max_pages"` // 0 = unbounded
	MaxItems        int     `json:"max_items"` // 0 = unbounded
	MinSellerRating float64 `json:"min_seller_rating"`
}

// Config is one crawl job definition.
type Config struct {
	Job        string `json:"job"`
	Source     string `json:"source"`
	Category   string `json:"category"`
	ProfileDir string `json:"profile_dir"`

	Storage storage.Config `json:"storage"`
	Crawl   CrawlConfig    `json:"crawl"`
	Retry   RetryConfig    `json:"retry"`
	Gate    GateConfig     `json:"gate"`
	Browser BrowserConfig  `json:"browser"`
}

// Load reads a config file. Validation is separate; a loaded config may
// still carry issues.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse config json: %w", err)
	}
	return c, nil
}

var knownStorageKinds = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"mssql":    true,
}

// Validate checks a config and returns every issue found. A config with no
// SeverityError issues is runnable.
func Validate(c Config) []Issue {
	var issues []Issue

	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if c.Source == "" {
		errf("source", "source is required (names the site profile)")
	}
	if c.ProfileDir == "" {
		errf("profile_dir", "profile_dir is required")
	}

	if c.Storage.Kind == "" {
		errf("storage.kind", "storage kind is required")
	} else if !knownStorageKinds[c.Storage.Kind] {
		errf("storage.kind", "unknown storage kind %q", c.Storage.Kind)
	}
	if c.Storage.DSN == "" {
		errf("storage.dsn", "storage DSN is required")
	}

	if c.Crawl.MaxPages < 0 {
		errf("crawl.max_pages", "must be >= 0")
	}
	if c.Crawl.MaxItems < 0 {
		errf("crawl.max_items", "must be >= 0")
	}
	if c.Crawl.MaxPages == 0 && c.Crawl.MaxItems == 0 {
		warnf("crawl", "no page or item budget set; the crawl runs until pagination ends")
	}
	if c.Crawl.MinSellerRating < 0 || c.Crawl.MinSellerRating > 5 {
		errf("crawl.min_seller_rating", "must be within [0, 5]")
	}

	if c.Retry.MaxAttempts < 0 {
		errf("retry.max_attempts", "must be >= 0")
	}
	if c.Retry.BaseDelayMS < 0 {
		errf("retry.base_delay_ms", "must be >= 0")
	}

	if c.Gate.SettleMinMS < 0 || c.Gate.SettleMaxMS < 0 {
		errf("gate", "settle bounds must be >= 0")
	} else {
		if c.Gate.SettleMaxMS > 0 && c.Gate.SettleMaxMS < c.Gate.SettleMinMS {
			errf("gate.settle_max_ms", "must be >= settle_min_ms")
		}
		if c.Gate.SettleMinMS > 0 && c.Gate.SettleMinMS < 500 {
			warnf("gate.settle_min_ms", "settle below 500ms rarely outlasts lazy-loaded content")
		}
	}

	return issues
}

// HasError reports whether any issue is an error.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
