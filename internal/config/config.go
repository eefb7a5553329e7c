package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Lock struct {
		Backend              string `yaml:"backend"` // memory | redis
		TTLMillis            int    `yaml:"ttl_ms"`
		Attempts             int    `yaml:"attempts"`
		BaseDelayMillis      int    `yaml:"base_delay_ms"`
		MaxDelayMillis       int    `yaml:"max_delay_ms"`
		SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	} `yaml:"lock"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Booking struct {
		DefaultDurationMinutes int `yaml:"default_duration_minutes"`
		OverrideReasonMinLen   int `yaml:"override_reason_min_len"`
	} `yaml:"booking"`

	HTTP struct {
		Port           int     `yaml:"port"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
		RequestTimeout int     `yaml:"request_timeout_seconds"`
		LimiterIdle    int     `yaml:"limiter_idle_minutes"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Restaurants struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"restaurants"`
}

// Load reads the YAML config. A .env file next to the working directory is
// loaded first when present, and ${ENV_VAR} placeholders are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/tablebook.db"
	}
	if cfg.Restaurants.Path == "" {
		cfg.Restaurants.Path = "configs/restaurants.yaml"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) LogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

func (c *Config) LockTTL() time.Duration {
	if c.Lock.TTLMillis <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Lock.TTLMillis) * time.Millisecond
}

func (c *Config) LockAttempts() int {
	if c.Lock.Attempts <= 0 {
		return 5
	}
	return c.Lock.Attempts
}

func (c *Config) LockBaseDelay() time.Duration {
	if c.Lock.BaseDelayMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.Lock.BaseDelayMillis) * time.Millisecond
}

func (c *Config) LockMaxDelay() time.Duration {
	if c.Lock.MaxDelayMillis <= 0 {
		return time.Second
	}
	return time.Duration(c.Lock.MaxDelayMillis) * time.Millisecond
}

func (c *Config) LockSweepInterval() time.Duration {
	if c.Lock.SweepIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lock.SweepIntervalSeconds) * time.Second
}

// UseRedisLocks reports whether locks should live in Redis. It needs both the
// backend switch and a Redis address.
func (c *Config) UseRedisLocks() bool {
	return c.Lock.Backend == "redis" && c.Redis.Address != ""
}

// CacheTTL is zero when caching is disabled.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds < 0 {
		return 0
	}
	if c.Cache.TTLSeconds == 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) DefaultDuration() int {
	if c.Booking.DefaultDurationMinutes <= 0 {
		return 90
	}
	return c.Booking.DefaultDurationMinutes
}

func (c *Config) OverrideReasonMinLen() int {
	if c.Booking.OverrideReasonMinLen <= 0 {
		return 10
	}
	return c.Booking.OverrideReasonMinLen
}

func (c *Config) HTTPPort() int {
	if c.HTTP.Port <= 0 {
		return 8080
	}
	return c.HTTP.Port
}

func (c *Config) HTTPRate() (float64, int) {
	rps, burst := c.HTTP.RatePerSecond, c.HTTP.Burst
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return rps, burst
}

func (c *Config) RequestTimeout() time.Duration {
	if c.HTTP.RequestTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.HTTP.RequestTimeout) * time.Second
}

// LimiterIdle is how long a client's rate-limit bucket is kept without traffic.
func (c *Config) LimiterIdle() time.Duration {
	if c.HTTP.LimiterIdle <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.HTTP.LimiterIdle) * time.Minute
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) RestaurantsWatchInterval() time.Duration {
	if c.Restaurants.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Restaurants.WatchIntervalSeconds) * time.Second
}
