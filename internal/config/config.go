// Package config loads snowctl settings from a YAML file, a .env file and
// SNOWTRANSFER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SNOWTRANSFER_"

type API struct {
	Token     string `yaml:"token" env:"TOKEN"`
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	TimeoutMS int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

type RateLimit struct {
	MaxAttempts         int     `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MaxRateLimitRetries int     `yaml:"max_ratelimit_retries" env:"MAX_RATELIMIT_RETRIES"`
	GlobalRPS           float64 `yaml:"global_rps" env:"GLOBAL_RPS"`
	ReactionMinWindowMS int     `yaml:"reaction_min_window_ms" env:"REACTION_MIN_WINDOW_MS"`

	Default struct {
		Limit     int `yaml:"limit" env:"LIMIT"`
		Remaining int `yaml:"remaining" env:"REMAINING"`
		WindowMS  int `yaml:"window_ms" env:"WINDOW_MS"`
	} `yaml:"default" envPrefix:"DEFAULT_"`
}

type ProxyAuth struct {
	Header string `yaml:"header" env:"HEADER"`
	// Keys maps client id to secret. From the environment:
	// SNOWTRANSFER_PROXY_AUTH_KEYS=ci:s3cret,bot:other
	Keys map[string]string `yaml:"keys" env:"KEYS"`
}

type Proxy struct {
	Addr           string    `yaml:"addr" env:"ADDR"`
	StripPrefix    string    `yaml:"strip_prefix" env:"STRIP_PREFIX"`
	ReadTimeoutMS  int       `yaml:"read_timeout_ms" env:"READ_TIMEOUT_MS"`
	WriteTimeoutMS int       `yaml:"write_timeout_ms" env:"WRITE_TIMEOUT_MS"`
	IdleTimeoutMS  int       `yaml:"idle_timeout_ms" env:"IDLE_TIMEOUT_MS"`
	MaxBodyBytes   int64     `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	ClientRPS      float64   `yaml:"client_rps" env:"CLIENT_RPS"`
	ClientBurst    int       `yaml:"client_burst" env:"CLIENT_BURST"`
	Auth           ProxyAuth `yaml:"auth" envPrefix:"AUTH_"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"` // "debug","info","warn","error"
	MetricsAddr    string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	PrometheusPath string `yaml:"prometheus_path" env:"PROMETHEUS_PATH"`
}

type Root struct {
	API           API           `yaml:"api" envPrefix:"API_"`
	RateLimit     RateLimit     `yaml:"ratelimit" envPrefix:"RATELIMIT_"`
	Proxy         Proxy         `yaml:"proxy" envPrefix:"PROXY_"`
	Observability Observability `yaml:"observability" envPrefix:"OBSERVABILITY_"`
}

func (a API) Timeout() time.Duration {
	if a.TimeoutMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

func (r RateLimit) DefaultWindow() time.Duration {
	return time.Duration(r.Default.WindowMS) * time.Millisecond
}

func (r RateLimit) ReactionMinWindow() time.Duration {
	return time.Duration(r.ReactionMinWindowMS) * time.Millisecond
}

func (p Proxy) ReadTimeout() time.Duration {
	if p.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(p.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout has to cover time spent queued behind a drained bucket.
func (p Proxy) WriteTimeout() time.Duration {
	if p.WriteTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(p.WriteTimeoutMS) * time.Millisecond
}

func (p Proxy) IdleTimeout() time.Duration {
	if p.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(p.IdleTimeoutMS) * time.Millisecond
}

func (p Proxy) MaxBody() int64 {
	if p.MaxBodyBytes == 0 {
		return 25 << 20
	}
	return p.MaxBodyBytes
} // default 25MB, the attachment ceiling

// Pairs returns secret -> client id for every configured proxy key.
func (a ProxyAuth) Pairs() map[string]string {
	pairs := make(map[string]string, len(a.Keys))
	for id, secret := range a.Keys {
		if secret != "" && id != "" {
			pairs[secret] = id
		}
	}
	return pairs
}

// Load reads path, then .env, then the environment. An empty path or a
// missing file leaves everything to the environment and the defaults.
func Load(path string) (*Root, error) {
	var cfg Root

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", file, err)
	}
	return nil
}

func applyDefaults(cfg *Root) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.RateLimit.MaxAttempts <= 0 {
		cfg.RateLimit.MaxAttempts = 3
	}
	if cfg.RateLimit.MaxRateLimitRetries < 0 {
		cfg.RateLimit.MaxRateLimitRetries = 0
	}
	if cfg.RateLimit.ReactionMinWindowMS <= 0 {
		cfg.RateLimit.ReactionMinWindowMS = 250
	}
	if cfg.RateLimit.Default.Limit <= 0 {
		cfg.RateLimit.Default.Limit = 5
	}
	if cfg.RateLimit.Default.Remaining <= 0 {
		cfg.RateLimit.Default.Remaining = 1
	}
	if cfg.RateLimit.Default.WindowMS <= 0 {
		cfg.RateLimit.Default.WindowMS = 5000
	}
	if cfg.Proxy.Addr == "" {
		cfg.Proxy.Addr = ":8080"
	}
	if cfg.Proxy.Auth.Header == "" {
		cfg.Proxy.Auth.Header = "X-Proxy-Key"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
}
