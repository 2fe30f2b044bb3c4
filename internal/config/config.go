// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_HARVEST_START.
const EnvPrefix = "HARVESTER"

// Config captures every harvester setting.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Source     SourceConfig     `mapstructure:"source"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Snapshots  SnapshotConfig   `mapstructure:"snapshots"`
	Server     ServerConfig     `mapstructure:"server"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// SourceConfig describes where articles are fetched from.
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Transport string        `mapstructure:"transport" validate:"oneof=http headless auto"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	NavTimeout  time.Duration `mapstructure:"nav_timeout" validate:"gt=0"`
	MaxParallel int           `mapstructure:"max_parallel" validate:"gte=1"`
	// PromoteThreshold is the body size under which a script-heavy page is
	// re-fetched headless when transport is auto.
	PromoteThreshold int `mapstructure:"promote_threshold" validate:"gte=0"`
}

// HarvestConfig drives range mode.
type HarvestConfig struct {
	Start          int64         `mapstructure:"start" validate:"gte=0"`
	End            int64         `mapstructure:"end" validate:"gte=0"`
	Delay          time.Duration `mapstructure:"delay" validate:"gte=0"`
	Output         string        `mapstructure:"output" validate:"required"`
	Resume         bool          `mapstructure:"resume"`
	Retries        int           `mapstructure:"retries" validate:"gte=0,lte=10"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
	ResumePolicy   string        `mapstructure:"resume_policy" validate:"oneof=warn strict"`
}

// ExtractConfig selects the body rendering.
type ExtractConfig struct {
	BodyFormat string `mapstructure:"body_format" validate:"oneof=text markdown"`
}

// SummarizerConfig configures the remote provider and the local fallback.
type SummarizerConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=openai gemini anthropic none"`
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxLength   int           `mapstructure:"max_length" validate:"gte=1"`
	InputBudget int           `mapstructure:"input_budget" validate:"gte=1"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gte=1"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RPS         float64       `mapstructure:"rps" validate:"gte=0"`
	Burst       int           `mapstructure:"burst" validate:"gte=1"`
}

// BatchConfig names the batch mode outputs.
type BatchConfig struct {
	JSONOutput   string `mapstructure:"json_output" validate:"required"`
	ReportOutput string `mapstructure:"report_output" validate:"required"`
}

// MirrorConfig enables the Postgres mirror when DSN is set.
type MirrorConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table" validate:"required"`
	RunTable     string `mapstructure:"run_table" validate:"required"`
	MaxConns     int32  `mapstructure:"max_conns" validate:"gte=0"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// Enabled reports whether a DSN is configured.
func (m MirrorConfig) Enabled() bool {
	return m.DSN != ""
}

// SnapshotConfig stores raw pages that fail extraction.
type SnapshotConfig struct {
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig drives scheduled incremental harvests.
type WatchConfig struct {
	Schedule string `mapstructure:"schedule" validate:"required"`
	Window   int64  `mapstructure:"window" validate:"gte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a Config from defaults, an optional file and the environment.
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("source.base_url", "https://sspai.com")
	v.SetDefault("source.transport", "http")
	v.SetDefault("source.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("source.timeout", 10*time.Second)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.promote_threshold", 2048)
	v.SetDefault("harvest.start", 90001)
	v.SetDefault("harvest.end", 90100)
	v.SetDefault("harvest.delay", 200*time.Millisecond)
	v.SetDefault("harvest.output", "abstract.jsonl")
	v.SetDefault("harvest.resume", true)
	v.SetDefault("harvest.retries", 0)
	v.SetDefault("harvest.backoff_initial", 250*time.Millisecond)
	v.SetDefault("harvest.backoff_max", 5*time.Second)
	v.SetDefault("harvest.resume_policy", "warn")
	v.SetDefault("extract.body_format", "text")
	v.SetDefault("summarizer.provider", "openai")
	v.SetDefault("summarizer.model", "gpt-4o-mini")
	v.SetDefault("summarizer.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.max_length", 200)
	v.SetDefault("summarizer.input_budget", 3000)
	v.SetDefault("summarizer.max_tokens", 500)
	v.SetDefault("summarizer.temperature", 0.7)
	v.SetDefault("summarizer.timeout", 30*time.Second)
	v.SetDefault("summarizer.rps", 0)
	v.SetDefault("summarizer.burst", 1)
	v.SetDefault("batch.json_output", "articles.json")
	v.SetDefault("batch.report_output", "summary_report.md")
	v.SetDefault("mirror.dsn", "")
	v.SetDefault("mirror.table", "articles")
	v.SetDefault("mirror.run_table", "harvest_runs")
	v.SetDefault("mirror.max_conns", 4)
	v.SetDefault("mirror.ensure_schema", true)
	v.SetDefault("snapshots.dir", "")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("snapshots.prefix", "raw")
	v.SetDefault("snapshots.content_type", "text/html; charset=utf-8")
	v.SetDefault("server.addr", "")
	v.SetDefault("watch.schedule", "@every 1h")
	v.SetDefault("watch.window", 100)
}

// Validate runs struct tag validation and then cross-field checks.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s", describe(verrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Harvest.Start > c.Harvest.End {
		return fmt.Errorf("harvest.start must be <= harvest.end")
	}
	if c.Summarizer.Provider == "openai" && c.Summarizer.Endpoint == "" {
		return fmt.Errorf("summarizer.endpoint must be set for the openai provider")
	}
	if c.Snapshots.Dir != "" && c.Snapshots.GCSBucket != "" {
		return fmt.Errorf("snapshots.dir and snapshots.gcs_bucket are mutually exclusive")
	}
	return nil
}

// describe renders a validator error as "section.key: rule".
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return strings.Join(parts, ".") + " failed " + rule
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (s[i-1] < 'A' || s[i-1] > 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
