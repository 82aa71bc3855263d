package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Server struct {
	Port           string        `mapstructure:"port" json:"port" validate:"required,numeric"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" validate:"gt=0"`
	CORSOrigins    []string      `mapstructure:"cors_origins" json:"cors_origins"`
}

type Feed struct {
	Endpoint    string        `mapstructure:"endpoint" json:"endpoint" validate:"required,url"`
	IconBaseURL string        `mapstructure:"icon_base_url" json:"icon_base_url" validate:"required,url"`
	Interval    time.Duration `mapstructure:"interval" json:"interval" validate:"gt=0"`
	AutoRefresh bool          `mapstructure:"auto_refresh" json:"auto_refresh"`
	// FetchTimeout bounds one fetch cycle; 0 disables the bound.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout" validate:"gte=0"`
	// CacheTTL coalesces fetches issued close together; 0 disables caching.
	CacheTTL             time.Duration `mapstructure:"cache_ttl" json:"cache_ttl" validate:"gte=0"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute" json:"max_requests_per_minute" validate:"gte=0"`
	Burst                int           `mapstructure:"burst" json:"burst" validate:"gte=1"`
	MinRequestInterval   time.Duration `mapstructure:"min_request_interval" json:"min_request_interval" validate:"gte=0"`
}

type Swap struct {
	Delay time.Duration `mapstructure:"delay" json:"delay" validate:"gte=0"`
}

type Log struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=text json"`
}

type Config struct {
	Server Server `mapstructure:"server" json:"server"`
	Feed   Feed   `mapstructure:"feed" json:"feed"`
	Swap   Swap   `mapstructure:"swap" json:"swap"`
	Log    Log    `mapstructure:"log" json:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeout: 10 * time.Second, CORSOrigins: []string{"*"}},
		Feed: Feed{
			Endpoint:             "https://interview.switcheo.com/prices.json",
			IconBaseURL:          "https://raw.githubusercontent.com/Switcheo/token-icons/main/tokens",
			Interval:             60 * time.Second,
			AutoRefresh:          true,
			FetchTimeout:         15 * time.Second,
			CacheTTL:             5 * time.Second,
			MaxRequestsPerMinute: 30,
			Burst:                2,
		},
		Swap: Swap{Delay: 1300 * time.Millisecond},
		Log:  Log{Level: "info", Format: "text"},
	}
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"server.port":                  "PORT",
	"server.request_timeout":       "REQUEST_TIMEOUT",
	"server.cors_origins":          "CORS_ORIGINS",
	"feed.endpoint":                "FEED_ENDPOINT",
	"feed.icon_base_url":           "FEED_ICON_BASE_URL",
	"feed.interval":                "FEED_INTERVAL",
	"feed.auto_refresh":            "FEED_AUTO_REFRESH",
	"feed.fetch_timeout":           "FEED_FETCH_TIMEOUT",
	"feed.cache_ttl":               "FEED_CACHE_TTL",
	"feed.max_requests_per_minute": "FEED_MAX_RPM",
	"feed.burst":                   "FEED_BURST",
	"feed.min_request_interval":    "FEED_MIN_INTERVAL",
	"swap.delay":                   "SWAP_DELAY",
	"log.level":                    "LOG_LEVEL",
	"log.format":                   "LOG_FORMAT",
}

// Load reads config from path, a JSON file unless its extension says otherwise. If path is
// empty, CONFIG_FILE is used, then config.json in the working directory; a missing file
// yields defaults. A .env file in the working directory is loaded into the environment
// first, and environment variables override file values.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		} else if err == nil {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.CORSOrigins = splitCSV(cfg.Server.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)
	v.SetDefault("feed.endpoint", cfg.Feed.Endpoint)
	v.SetDefault("feed.icon_base_url", cfg.Feed.IconBaseURL)
	v.SetDefault("feed.interval", cfg.Feed.Interval)
	v.SetDefault("feed.auto_refresh", cfg.Feed.AutoRefresh)
	v.SetDefault("feed.fetch_timeout", cfg.Feed.FetchTimeout)
	v.SetDefault("feed.cache_ttl", cfg.Feed.CacheTTL)
	v.SetDefault("feed.max_requests_per_minute", cfg.Feed.MaxRequestsPerMinute)
	v.SetDefault("feed.burst", cfg.Feed.Burst)
	v.SetDefault("feed.min_request_interval", cfg.Feed.MinRequestInterval)
	v.SetDefault("swap.delay", cfg.Swap.Delay)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// splitCSV flattens entries that still hold comma-separated values.
func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
