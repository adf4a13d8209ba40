// Package config loads and validates the citation crawler configuration via
// Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scholar-citations/internal/catalog"
	"github.com/JakeFAU/scholar-citations/internal/checkpoint"
	"github.com/JakeFAU/scholar-citations/internal/classify"
	"github.com/JakeFAU/scholar-citations/internal/endpoint"
	"github.com/JakeFAU/scholar-citations/internal/fetcher/headless"
	"github.com/JakeFAU/scholar-citations/internal/policy/ratelimit"
	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

// EnvPrefix prefixes every environment override, e.g. CITES_CHECKPOINT_PATH.
const EnvPrefix = "CITES"

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures every knob of a run.
type Config struct {
	Scholar    ScholarConfig    `mapstructure:"scholar"`
	Browser    headless.Config  `mapstructure:"browser"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Report     ReportConfig     `mapstructure:"report"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ScholarConfig describes the search target and how its pages are read.
type ScholarConfig struct {
	Endpoints        []string          `mapstructure:"endpoints"`
	SearchPath       string            `mapstructure:"search_path"`
	QueryParam       string            `mapstructure:"query_param"`
	Params           map[string]string `mapstructure:"params"`
	CaptchaPhrases   []string          `mapstructure:"captcha_phrases"`
	RateLimitPhrases []string          `mapstructure:"rate_limit_phrases"`
	NoResultPhrases  []string          `mapstructure:"no_result_phrases"`
	ResultSelector   string            `mapstructure:"result_selector"`
	Pacing           time.Duration     `mapstructure:"pacing"`
	RateLimit        ratelimit.Config  `mapstructure:"rate_limit"`
}

// CheckpointConfig selects where the checkpoint lives. Path and GCSObject are
// base names; each run appends its year (see checkpoint.ForYear).
type CheckpointConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// CatalogConfig configures the proceedings listing fetch.
type CatalogConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// ReportConfig sets where the CSV export goes.
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// MetricsConfig enables the status/metrics listener when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	APIKey     string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path a file named cites.{yaml,json,toml} is looked up in the
// working directory and $HOME/.cites; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("cites")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cites")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	cls := classify.DefaultConfig()
	tpl := endpoint.DefaultTemplate()
	browser := headless.DefaultConfig()

	v.SetDefault("scholar.endpoints", endpoint.DefaultVariants)
	v.SetDefault("scholar.search_path", tpl.Path)
	v.SetDefault("scholar.query_param", tpl.QueryParam)
	v.SetDefault("scholar.params", tpl.Params)
	v.SetDefault("scholar.captcha_phrases", cls.CaptchaPhrases)
	v.SetDefault("scholar.rate_limit_phrases", cls.RateLimitPhrases)
	v.SetDefault("scholar.no_result_phrases", cls.NoResultPhrases)
	v.SetDefault("scholar.result_selector", cls.ResultSelector)
	v.SetDefault("scholar.pacing", retrieval.DefaultPacing)
	v.SetDefault("scholar.rate_limit.requests_per_minute", 0)
	v.SetDefault("scholar.rate_limit.burst", 1)

	v.SetDefault("browser.headless", browser.Headless)
	v.SetDefault("browser.user_agent", browser.UserAgent)
	v.SetDefault("browser.window_width", browser.WindowWidth)
	v.SetDefault("browser.window_height", browser.WindowHeight)
	v.SetDefault("browser.navigation_timeout", browser.NavigationTimeout)
	v.SetDefault("browser.root_selector", browser.RootSelector)
	v.SetDefault("browser.element_attempts", browser.ElementAttempts)
	v.SetDefault("browser.element_backoff", browser.ElementBackoff)
	v.SetDefault("browser.exec_path", "")

	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.path", checkpoint.DefaultPath)
	v.SetDefault("checkpoint.gcs_bucket", "")
	v.SetDefault("checkpoint.gcs_object", "cites/backup.json")

	v.SetDefault("catalog.base_url", catalog.DefaultBaseURL)
	v.SetDefault("catalog.user_agent", browser.UserAgent)
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("catalog.respect_robots", false)

	v.SetDefault("report.output_dir", ".")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Scholar.Endpoints) == 0 {
		return fmt.Errorf("scholar.endpoints must not be empty")
	}
	for _, ep := range c.Scholar.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("scholar.endpoints: invalid endpoint %q", ep)
		}
	}
	if strings.TrimSpace(c.Scholar.ResultSelector) == "" {
		return fmt.Errorf("scholar.result_selector is required")
	}
	if len(c.Scholar.CaptchaPhrases) == 0 || len(c.Scholar.RateLimitPhrases) == 0 {
		return fmt.Errorf("scholar.captcha_phrases and scholar.rate_limit_phrases are required")
	}
	if c.Scholar.Pacing < 0 {
		return fmt.Errorf("scholar.pacing must be >= 0")
	}
	if c.Scholar.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("scholar.rate_limit.requests_per_minute must be >= 0")
	}
	if c.Browser.ElementAttempts <= 0 {
		return fmt.Errorf("browser.element_attempts must be > 0")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	switch c.Checkpoint.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Checkpoint.Path) == "" {
			return fmt.Errorf("checkpoint.path is required for the file backend")
		}
	case BackendGCS:
		if c.Checkpoint.GCSBucket == "" || c.Checkpoint.GCSObject == "" {
			return fmt.Errorf("checkpoint.gcs_bucket and checkpoint.gcs_object are required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("checkpoint.backend must be one of file, gcs, memory; got %q", c.Checkpoint.Backend)
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog.timeout must be > 0")
	}
	return nil
}

// ClassifierConfig projects the phrase lists for classify.New.
func (c ScholarConfig) ClassifierConfig() classify.Config {
	return classify.Config{
		CaptchaPhrases:   c.CaptchaPhrases,
		RateLimitPhrases: c.RateLimitPhrases,
		NoResultPhrases:  c.NoResultPhrases,
		ResultSelector:   c.ResultSelector,
	}
}

// Template projects the search URL layout.
func (c ScholarConfig) Template() endpoint.Template {
	return endpoint.Template{
		Path:       c.SearchPath,
		QueryParam: c.QueryParam,
		Params:     c.Params,
	}
}
