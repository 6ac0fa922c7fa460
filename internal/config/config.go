package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	YtDlp     YtDlpConfig     `yaml:"ytdlp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Image     ImageConfig     `yaml:"image"`
	Cache     CacheConfig     `yaml:"cache"`
	Site      SiteConfig      `yaml:"site"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration. WriteTimeout bounds whole
// responses, so it stays zero to let long streams finish.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"SERVER_REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// YtDlpConfig holds extraction tool configuration.
type YtDlpConfig struct {
	Path             string        `yaml:"path" envconfig:"YT_DLP_PATH" default:"yt-dlp"`
	InfoFormat       string        `yaml:"info_format" envconfig:"YT_DLP_INFO_FORMAT" default:"bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b"`
	StreamFormat     string        `yaml:"stream_format" envconfig:"YT_DLP_STREAM_FORMAT" default:"b[ext=mp4]/b"`
	CookiesFile      string        `yaml:"cookies_file" envconfig:"YT_DLP_COOKIES_FILE"`
	RemoteComponents string        `yaml:"remote_components" envconfig:"YT_DLP_REMOTE_COMPONENTS"`
	InfoTimeout      time.Duration `yaml:"info_timeout" envconfig:"YT_DLP_INFO_TIMEOUT" default:"30s"`
	KillGrace        time.Duration `yaml:"kill_grace" envconfig:"YT_DLP_KILL_GRACE" default:"1500ms"`
	MaxInfoOutput    int64         `yaml:"max_info_output" envconfig:"YT_DLP_MAX_INFO_OUTPUT" default:"10485760"` // 10MB

	// Diagnostic substrings used to classify failures. Empty keeps the
	// built-in lists.
	NotFoundPhrases    []string `yaml:"not_found_phrases" envconfig:"YT_DLP_NOT_FOUND_PHRASES"`
	UnavailablePhrases []string `yaml:"unavailable_phrases" envconfig:"YT_DLP_UNAVAILABLE_PHRASES"`
}

// RateLimitConfig holds per-client admission limits.
type RateLimitConfig struct {
	Algorithm      string        `yaml:"algorithm" envconfig:"RATE_LIMIT_ALGORITHM" default:"fixed_window"`
	InfoLimit      int           `yaml:"info_limit" envconfig:"INFO_RATE_LIMIT" default:"15"`
	InfoWindow     time.Duration `yaml:"info_window" envconfig:"INFO_RATE_WINDOW" default:"60s"`
	StreamLimit    int           `yaml:"stream_limit" envconfig:"STREAM_RATE_LIMIT" default:"6"`
	StreamWindow   time.Duration `yaml:"stream_window" envconfig:"STREAM_RATE_WINDOW" default:"60s"`
	SweepThreshold int           `yaml:"sweep_threshold" envconfig:"RATE_LIMIT_SWEEP_THRESHOLD" default:"5000"`
	SweepInterval  time.Duration `yaml:"sweep_interval" envconfig:"RATE_LIMIT_SWEEP_INTERVAL" default:"1m"`
}

// ImageConfig holds thumbnail proxy configuration.
type ImageConfig struct {
	Timeout   time.Duration `yaml:"timeout" envconfig:"IMAGE_TIMEOUT" default:"10s"`
	MaxBytes  int64         `yaml:"max_bytes" envconfig:"IMAGE_MAX_BYTES" default:"10485760"` // 10MB
	UserAgent string        `yaml:"user_agent" envconfig:"IMAGE_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
}

// CacheConfig holds info cache configuration. An empty Path keeps the cache
// in memory.
type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl" envconfig:"INFO_CACHE_TTL" default:"5m"`
	Path string        `yaml:"path" envconfig:"INFO_CACHE_PATH"`
}

// SiteConfig holds public site configuration.
type SiteConfig struct {
	URL string `yaml:"url" envconfig:"SITE_URL" default:"http://localhost:3000"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from file and environment variables.
// Precedence is environment, then file, then the default tags.
func Load(configPath string) (*Config, error) {
	// envCfg holds the defaults plus whatever the environment sets.
	envCfg := &Config{}
	if err := envconfig.Process("", envCfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg := &Config{}
	*cfg = *envCfg

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(envCfg).Elem(), "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// overlayEnv copies into dst every field of src whose environment variable
// is set, so file values survive only where the environment is silent.
// Variable names follow envconfig: the tag itself, or the tag prefixed with
// the enclosing struct's key.
func overlayEnv(dst, src reflect.Value, prefix string) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("envconfig")
		if field.Type.Kind() == reflect.Struct && tag == "" {
			overlayEnv(dst.Field(i), src.Field(i), strings.ToUpper(field.Name))
			continue
		}
		if tag == "" {
			continue
		}

		key := strings.ToUpper(tag)
		_, set := os.LookupEnv(key)
		if !set && prefix != "" {
			_, set = os.LookupEnv(prefix + "_" + key)
		}
		if set {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if c.YtDlp.Path == "" {
		return fmt.Errorf("YT_DLP_PATH is required")
	}
	if c.YtDlp.StreamFormat == "" {
		return fmt.Errorf("YT_DLP_STREAM_FORMAT is required")
	}
	if c.YtDlp.InfoTimeout <= 0 {
		return fmt.Errorf("YT_DLP_INFO_TIMEOUT must be positive")
	}
	if c.YtDlp.KillGrace <= 0 {
		return fmt.Errorf("YT_DLP_KILL_GRACE must be positive")
	}
	switch c.RateLimit.Algorithm {
	case "fixed_window", "token_bucket":
	default:
		return fmt.Errorf("RATE_LIMIT_ALGORITHM must be fixed_window or token_bucket, got %q", c.RateLimit.Algorithm)
	}
	if c.RateLimit.InfoLimit <= 0 || c.RateLimit.StreamLimit <= 0 {
		return fmt.Errorf("INFO_RATE_LIMIT and STREAM_RATE_LIMIT must be positive")
	}
	if c.RateLimit.InfoWindow <= 0 || c.RateLimit.StreamWindow <= 0 {
		return fmt.Errorf("INFO_RATE_WINDOW and STREAM_RATE_WINDOW must be positive")
	}
	if c.Image.Timeout <= 0 {
		return fmt.Errorf("IMAGE_TIMEOUT must be positive")
	}
	if c.Image.MaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if u, err := url.Parse(c.Site.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SITE_URL must be an absolute URL, got %q", c.Site.URL)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the site URL without a trailing slash.
func (c *SiteConfig) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// SlogLevel parses the configured level name.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
