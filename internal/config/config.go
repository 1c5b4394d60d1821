package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort      string        `validate:"required,numeric"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	RateLimitRPS    int           `validate:"gte=1"`
	RateLimitBurst  int           `validate:"gte=1"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	// WeatherAPIKey and Location may be empty; the controller reports them
	// through notices instead of failing startup.
	WeatherAPIKey     string
	Location          string
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`
	RetryAttempts     int           `validate:"gte=1,lte=10"`
	RetryDelay        time.Duration `validate:"gte=0"`
	CallLimit         int           `validate:"gte=1"`
	CallWindow        time.Duration `validate:"gt=0"`

	BreakerEnabled          bool
	BreakerFailureThreshold uint32        `validate:"gte=1"`
	BreakerOpenTimeout      time.Duration `validate:"gt=0"`

	ShortPollInterval time.Duration `validate:"gt=0"`
	LongPollInterval  time.Duration `validate:"gt=0,gtefield=ShortPollInterval"`
	CacheMaxAge       time.Duration `validate:"gt=0"`

	CacheBackend          string `validate:"oneof=in_memory memcached"`
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	MemcachedTTL          time.Duration
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
		CallLimit     int    `yaml:"call_limit"`
		CallWindow    string `yaml:"call_window"`
		Breaker       struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold uint32 `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Node struct {
		Location          string `yaml:"location"`
		ShortPollInterval string `yaml:"short_poll"`
		LongPollInterval  string `yaml:"long_poll"`
	} `yaml:"node"`

	Cache struct {
		Backend   string `yaml:"backend"`
		MaxAge    string `yaml:"max_age"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
			TTL          string `yaml:"ttl"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

var validate = validator.New()

// Load reads configuration relative to the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (if present), dir/config/{ENV_NAME}.yaml (default dev)
// and dir/config/secrets.yaml. Environment variables override file values.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)
	cfg.RateLimitRPS = fc.Server.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Server.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	cfg.Location = strings.TrimSpace(os.Getenv("WEATHER_LOCATION"))
	if cfg.Location == "" {
		cfg.Location = strings.TrimSpace(fc.Node.Location)
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherapi.com/v1"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RetryAttempts = fc.WeatherAPI.RetryAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryDelay = parseDurationOrZero(fc.WeatherAPI.RetryDelay, 5*time.Second)
	cfg.CallLimit = fc.WeatherAPI.CallLimit
	if cfg.CallLimit <= 0 {
		cfg.CallLimit = 10
	}
	cfg.CallWindow = parseDuration(fc.WeatherAPI.CallWindow, 60*time.Second)

	if fc.WeatherAPI.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.WeatherAPI.Breaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.WeatherAPI.Breaker.FailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 6
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.WeatherAPI.Breaker.OpenTimeout, 2*time.Minute)

	cfg.ShortPollInterval = parseDuration(fc.Node.ShortPollInterval, 60*time.Second)
	cfg.LongPollInterval = parseDuration(fc.Node.LongPollInterval, 10*time.Minute)
	cfg.CacheMaxAge = parseDuration(fc.Cache.MaxAge, 5*time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.MemcachedTTL = parseDuration(fc.Cache.Memcached.TTL, 24*time.Hour)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// Validate checks field constraints and returns the first violations as one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Param returns the custom parameter value for key, or its placeholder when
// the value is empty. Unknown keys return "".
func (c *Config) Param(key string) string {
	var v string
	switch key {
	case ParamAPIKey:
		v = c.WeatherAPIKey
	case ParamLocation:
		v = c.Location
	default:
		return ""
	}
	if v == "" {
		return Placeholder(key)
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is; validation rejects the ones that matter.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
