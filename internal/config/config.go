package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseConfig holds the platform endpoint and the process-wide credentials.
// Credentials are never taken from callers.
type ParseConfig struct {
	ServerURL               string   `yaml:"server_url" json:"server_url"`
	ApplicationID           string   `yaml:"application_id" json:"application_id"`
	MasterKey               string   `yaml:"master_key" json:"master_key"`
	RESTAPIKey              string   `yaml:"rest_api_key" json:"rest_api_key"`
	WebhookKey              string   `yaml:"webhook_key" json:"webhook_key"`
	ReservedInstallationIDs []string `yaml:"reserved_installation_ids" json:"reserved_installation_ids"`
}

// BreakerConfig holds circuit breaker settings for outbound hosts
type BreakerConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	ErrorPct       float64       `yaml:"error_pct" json:"error_pct"`
	Window         time.Duration `yaml:"window" json:"window"`
	OpenDuration   time.Duration `yaml:"open_duration" json:"open_duration"`
	HalfOpenProbes int           `yaml:"half_open_probes" json:"half_open_probes"`
	MinRequests    int           `yaml:"min_requests" json:"min_requests"`
}

// UpstreamConfig holds outbound HTTP settings
type UpstreamConfig struct {
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes" json:"max_response_bytes"`
	Breaker          BreakerConfig `yaml:"breaker" json:"breaker"`
}

// JobsConfig holds batch job settings
type JobsConfig struct {
	ProgressEvery int           `yaml:"progress_every" json:"progress_every"`
	PageSize      int           `yaml:"page_size" json:"page_size"`
	StatusTTL     time.Duration `yaml:"status_ttl" json:"status_ttl"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr       string `yaml:"http_addr" json:"http_addr"`
	GRPCAddr       string `yaml:"grpc_addr" json:"grpc_addr"`
	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogFormat      string `yaml:"log_format" json:"log_format"`
	RequestLog     bool   `yaml:"request_log" json:"request_log"`
	RequestLogFile string `yaml:"request_log_file" json:"request_log_file"`
}

// PostgresConfig holds Postgres connection settings. An empty DSN disables
// run persistence and invocation logs.
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// status stream.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// ObservabilityConfig holds tracing and metrics settings
type ObservabilityConfig struct {
	TracingEnabled   bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint  string  `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	ServiceName      string  `yaml:"service_name" json:"service_name"`
	SampleRate       float64 `yaml:"sample_rate" json:"sample_rate"`
	MetricsNamespace string  `yaml:"metrics_namespace" json:"metrics_namespace"`
}

// CORSConfig holds browser access settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// RateLimitConfig holds per-client throttling of the webhook surface.
// Buckets live in Redis when redis.addr is set.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Parse         ParseConfig         `yaml:"parse" json:"parse"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Jobs          JobsConfig          `yaml:"jobs" json:"jobs"`
	Daemon        DaemonConfig        `yaml:"daemon" json:"daemon"`
	Postgres      PostgresConfig      `yaml:"postgres" json:"postgres"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	CORS          CORSConfig          `yaml:"cors" json:"cors"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Parse: ParseConfig{
			ServerURL:               "http://localhost:1337/parse",
			ReservedInstallationIDs: []string{"uZEbU3FPwa", "2C8bKd0kdb", "XVHtg1oqZC"},
		},
		Upstream: UpstreamConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 4 << 20,
			Breaker: BreakerConfig{
				Enabled:        true,
				ErrorPct:       50,
				Window:         30 * time.Second,
				OpenDuration:   15 * time.Second,
				HalfOpenProbes: 1,
				MinRequests:    10,
			},
		},
		Jobs: JobsConfig{
			ProgressEvery: 100,
			PageSize:      100,
			StatusTTL:     24 * time.Hour,
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":8080",
			GRPCAddr:  "",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		Observability: ObservabilityConfig{
			ServiceName:      "cloudcode",
			SampleRate:       1.0,
			MetricsNamespace: "cloudcode",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. JSON files load too.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CLOUDCODE_SERVER_URL"); v != "" {
		cfg.Parse.ServerURL = v
	}
	if v := os.Getenv("CLOUDCODE_APPLICATION_ID"); v != "" {
		cfg.Parse.ApplicationID = v
	}
	if v := os.Getenv("CLOUDCODE_MASTER_KEY"); v != "" {
		cfg.Parse.MasterKey = v
	}
	if v := os.Getenv("CLOUDCODE_REST_API_KEY"); v != "" {
		cfg.Parse.RESTAPIKey = v
	}
	if v := os.Getenv("CLOUDCODE_WEBHOOK_KEY"); v != "" {
		cfg.Parse.WebhookKey = v
	}
	if v := os.Getenv("CLOUDCODE_RESERVED_INSTALLATION_IDS"); v != "" {
		cfg.Parse.ReservedInstallationIDs = splitList(v)
	}
	if v := os.Getenv("CLOUDCODE_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}
	if v := os.Getenv("CLOUDCODE_PROGRESS_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.ProgressEvery = n
		}
	}
	if v := os.Getenv("CLOUDCODE_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.PageSize = n
		}
	}
	if v := os.Getenv("CLOUDCODE_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("CLOUDCODE_GRPC_ADDR"); v != "" {
		cfg.Daemon.GRPCAddr = v
	}
	if v := os.Getenv("CLOUDCODE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("CLOUDCODE_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("CLOUDCODE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("CLOUDCODE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CLOUDCODE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CLOUDCODE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.TracingEnabled = true
		cfg.Observability.TracingEndpoint = v
	}
	if v := os.Getenv("CLOUDCODE_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Enabled = f > 0
			cfg.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("CLOUDCODE_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
}

// Validate reports configuration that cannot produce a working process.
func (c *Config) Validate() error {
	var errs []error
	if c.Parse.ServerURL != "" {
		u, err := url.Parse(c.Parse.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("parse.server_url %q is not an absolute URL", c.Parse.ServerURL))
		}
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, errors.New("upstream.timeout must not be negative"))
	}
	if c.Upstream.MaxResponseBytes <= 0 {
		errs = append(errs, errors.New("upstream.max_response_bytes must be positive"))
	}
	if c.Jobs.ProgressEvery <= 0 {
		errs = append(errs, errors.New("jobs.progress_every must be positive"))
	}
	if c.Jobs.PageSize <= 0 || c.Jobs.PageSize > 1000 {
		errs = append(errs, errors.New("jobs.page_size must be between 1 and 1000"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.requests_per_second and rate_limit.burst must be positive"))
	}
	switch c.Daemon.LogFormat {
	case "", "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("daemon.log_format %q is not one of text, json, console", c.Daemon.LogFormat))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Parse.MasterKey = mask(c.Parse.MasterKey)
	out.Parse.RESTAPIKey = mask(c.Parse.RESTAPIKey)
	out.Parse.WebhookKey = mask(c.Parse.WebhookKey)
	out.Redis.Password = mask(c.Redis.Password)
	out.Postgres.DSN = maskDSN(c.Postgres.DSN)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
