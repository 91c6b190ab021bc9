// Package config loads and validates indexer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob of an indexing run.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Run       RunConfig       `mapstructure:"run"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Search    SearchConfig    `mapstructure:"search"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Index     IndexConfig     `mapstructure:"index"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RunConfig sizes the pipeline. A queue capacity of -1 means unbounded.
type RunConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
	CatalogKey    string `mapstructure:"catalog_key"`
	MaxPages      int    `mapstructure:"max_pages"`
	MaxRecords    int    `mapstructure:"max_records"`
	CaptureDrops  bool   `mapstructure:"capture_drops"`
}

// BrowserConfig selects and tunes the browser engine.
type BrowserConfig struct {
	Engine             string `mapstructure:"engine"`
	Headless           bool   `mapstructure:"headless"`
	UserAgent          string `mapstructure:"user_agent"`
	ViewportWidth      int    `mapstructure:"viewport_width"`
	ViewportHeight     int    `mapstructure:"viewport_height"`
	ExecPath           string `mapstructure:"exec_path"`
	NoSandbox          bool   `mapstructure:"no_sandbox"`
	SettleMs           int    `mapstructure:"settle_ms"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
	RejectScriptShells bool   `mapstructure:"reject_script_shells"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

// SearchConfig is the feed query against the job board.
type SearchConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Query   string `mapstructure:"query"`
	Where   string `mapstructure:"where"`
}

// RateLimitConfig paces navigations per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// IndexConfig selects the index backend.
type IndexConfig struct {
	Backend       string              `mapstructure:"backend"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	HrFlow        HrFlowConfig        `mapstructure:"hrflow"`
}

// PostgresConfig controls the Postgres index.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ElasticsearchConfig controls the Elasticsearch index.
type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	APIKey      string   `mapstructure:"api_key"`
	IndexPrefix string   `mapstructure:"index_prefix"`
	Refresh     string   `mapstructure:"refresh"`
}

// HrFlowConfig holds the indexing API credentials.
type HrFlowConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APISecret      string `mapstructure:"api_secret"`
	UserEmail      string `mapstructure:"user_email"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArtifactsConfig selects where debug captures and run reports go.
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PublisherConfig selects where index notifications go.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OpsConfig controls the diagnostics HTTP server.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from disk and environment. Environment variables use
// the JOBINDEXER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBINDEXER")
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
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("run.concurrency", 2)
	v.SetDefault("run.queue_capacity", 20)
	v.SetDefault("run.catalog_key", "")
	v.SetDefault("run.max_pages", 0)
	v.SetDefault("run.max_records", 0)
	v.SetDefault("run.capture_drops", false)
	v.SetDefault("browser.engine", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.settle_ms", 0)
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("browser.reject_script_shells", false)
	v.SetDefault("browser.timeout_seconds", 15)
	v.SetDefault("search.base_url", "https://uk.indeed.com")
	v.SetDefault("search.query", "software engineer")
	v.SetDefault("search.where", "")
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.postgres.dsn", "")
	v.SetDefault("index.postgres.table", "indexed_jobs")
	v.SetDefault("index.postgres.max_conns", 4)
	v.SetDefault("index.postgres.min_conns", 0)
	v.SetDefault("index.postgres.ensure_schema", true)
	v.SetDefault("index.elasticsearch.addresses", []string{})
	v.SetDefault("index.elasticsearch.username", "")
	v.SetDefault("index.elasticsearch.password", "")
	v.SetDefault("index.elasticsearch.api_key", "")
	v.SetDefault("index.elasticsearch.index_prefix", "jobs-")
	v.SetDefault("index.elasticsearch.refresh", "")
	v.SetDefault("index.hrflow.base_url", "https://api.hrflow.ai/v1")
	v.SetDefault("index.hrflow.api_secret", "")
	v.SetDefault("index.hrflow.user_email", "")
	v.SetDefault("index.hrflow.timeout_seconds", 30)
	v.SetDefault("artifacts.backend", "none")
	v.SetDefault("artifacts.local_dir", "artifacts")
	v.SetDefault("artifacts.gcs_bucket", "")
	v.SetDefault("artifacts.gcs_prefix", "")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Run.Concurrency <= 0 {
		errs = append(errs, errors.New("run.concurrency must be > 0"))
	}
	if c.Run.QueueCapacity == 0 || c.Run.QueueCapacity < -1 {
		errs = append(errs, errors.New("run.queue_capacity must be > 0 or -1 for unbounded"))
	}
	if strings.TrimSpace(c.Run.CatalogKey) == "" {
		errs = append(errs, errors.New("run.catalog_key is required"))
	}
	if c.Run.MaxPages < 0 || c.Run.MaxRecords < 0 {
		errs = append(errs, errors.New("run.max_pages and run.max_records must be >= 0"))
	}
	switch c.Browser.Engine {
	case "chrome", "static":
	default:
		errs = append(errs, fmt.Errorf("browser.engine %q must be chrome or static", c.Browser.Engine))
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, errors.New("browser.viewport_width and browser.viewport_height must be > 0"))
	}
	errs = append(errs, c.Index.validate()...)
	switch c.Artifacts.Backend {
	case "none", "memory":
	case "local":
		if c.Artifacts.LocalDir == "" {
			errs = append(errs, errors.New("artifacts.local_dir is required for the local backend"))
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			errs = append(errs, errors.New("artifacts.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend %q is not supported", c.Artifacts.Backend))
	}
	switch c.Publisher.Backend {
	case "none":
	case "memory", "pubsub":
		if c.Publisher.Topic == "" {
			errs = append(errs, errors.New("publisher.topic is required when a publisher is configured"))
		}
		if c.Publisher.Backend == "pubsub" && c.Publisher.ProjectID == "" {
			errs = append(errs, errors.New("publisher.project_id is required for the pubsub backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend))
	}
	if c.Ops.Enabled && c.Ops.Addr == "" {
		errs = append(errs, errors.New("ops.addr must be set when ops is enabled"))
	}
	return errors.Join(errs...)
}

func (c IndexConfig) validate() []error {
	switch c.Backend {
	case "memory":
		return nil
	case "postgres":
		if c.Postgres.DSN == "" {
			return []error{errors.New("index.postgres.dsn is required for the postgres backend")}
		}
	case "elasticsearch":
		if len(c.Elasticsearch.Addresses) == 0 {
			return []error{errors.New("index.elasticsearch.addresses is required for the elasticsearch backend")}
		}
	case "hrflow":
		if c.HrFlow.APISecret == "" || c.HrFlow.UserEmail == "" {
			return []error{errors.New("index.hrflow.api_secret and index.hrflow.user_email are required for the hrflow backend")}
		}
	default:
		return []error{fmt.Errorf("index.backend %q is not supported", c.Backend)}
	}
	return nil
}

// Settle is the post-load wait applied by the chrome engine.
func (c BrowserConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Timeout is the per-request budget of the static engine.
func (c BrowserConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
