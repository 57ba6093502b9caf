package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	SensorAPIURL      string
	SensorAPIToken    string
	SensorAPITimeout  time.Duration
	SensorAPIHTTPMode string // "http1", "h2" or "h2c"
	MaxIdleConns      int
	AlertAPIURL       string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	EventBudget       time.Duration
	FetchTimeout      time.Duration
	RenderReserve     time.Duration
	CacheWriteReserve time.Duration
	Coalesce          bool
	BatchConcurrency  int

	CacheTTL              time.Duration
	StoreBackend          string // "sqlite", "memory" or "memcached"
	StorePath             string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	IntervalNormal      time.Duration
	PowerQueryTimeout   time.Duration
	PowerSource         string // "host", "file" or "none"
	PowerSaverPath      string
	BatteryCapacityPath string
	BatteryStatusPath   string

	HostCallbackURL     string
	HostCallbackTimeout time.Duration

	RequestTimeout  time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	ShutdownTimeout time.Duration

	HealthWindow     time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	SensorAPI struct {
		URL          string `yaml:"url"`
		Timeout      string `yaml:"timeout"`
		HTTPMode     string `yaml:"http_mode"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"sensor_api"`

	AlertAPI struct {
		URL string `yaml:"url"`
	} `yaml:"alert_api"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Event struct {
		Budget            string `yaml:"budget"`
		FetchTimeout      string `yaml:"fetch_timeout"`
		RenderReserve     string `yaml:"render_reserve"`
		CacheWriteReserve string `yaml:"cache_write_reserve"`
		Coalesce          *bool  `yaml:"coalesce"`
		BatchConcurrency  int    `yaml:"batch_concurrency"`
	} `yaml:"event"`

	Store struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"store"`

	Interval struct {
		Normal       string `yaml:"normal"`
		QueryTimeout string `yaml:"query_timeout"`
		PowerSource  string `yaml:"power_source"`
		SaverPath    string `yaml:"saver_path"`
		CapacityPath string `yaml:"capacity_path"`
		StatusPath   string `yaml:"status_path"`
	} `yaml:"interval"`

	Host struct {
		CallbackURL string `yaml:"callback_url"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"host"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	SensorAPIToken string `yaml:"sensor_api_token"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and the
// optional config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"))
}

// LoadFile reads one YAML file, then secrets.yaml next to it, then env overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := build(fc)

	cfg.SensorAPIToken = os.Getenv("SENSOR_API_TOKEN")
	if cfg.SensorAPIToken == "" {
		token, err := readSecrets(filepath.Join(filepath.Dir(path), "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.SensorAPIToken = token
	}
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults with no file and no env.
func Default() *Config {
	return build(fileConfig{})
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
	return sec.SensorAPIToken, nil
}

func build(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.SensorAPIURL = strings.TrimSpace(fc.SensorAPI.URL)
	if cfg.SensorAPIURL == "" {
		cfg.SensorAPIURL = "http://localhost:3000/api"
	}
	cfg.SensorAPITimeout = parseDuration(fc.SensorAPI.Timeout, 8*time.Second)
	cfg.SensorAPIHTTPMode = strings.ToLower(strings.TrimSpace(fc.SensorAPI.HTTPMode))
	if cfg.SensorAPIHTTPMode == "" {
		cfg.SensorAPIHTTPMode = "http1"
	}
	cfg.MaxIdleConns = fc.SensorAPI.MaxIdleConns
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	cfg.AlertAPIURL = strings.TrimSpace(fc.AlertAPI.URL)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, time.Second)
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	cfg.EventBudget = parseDuration(fc.Event.Budget, 10*time.Second)
	cfg.FetchTimeout = parseDuration(fc.Event.FetchTimeout, 8*time.Second)
	cfg.RenderReserve = parseDuration(fc.Event.RenderReserve, 2*time.Second)
	cfg.CacheWriteReserve = parseDuration(fc.Event.CacheWriteReserve, time.Second)
	cfg.Coalesce = true
	if fc.Event.Coalesce != nil {
		cfg.Coalesce = *fc.Event.Coalesce
	}
	cfg.BatchConcurrency = fc.Event.BatchConcurrency
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(fc.Store.Backend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "sqlite"
	}
	cfg.StorePath = strings.TrimSpace(fc.Store.Path)
	if cfg.StorePath == "" {
		cfg.StorePath = "widget.db"
	}
	cfg.CacheTTL = parseDuration(fc.Store.TTL, 15*time.Minute)
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Store.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Store.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.IntervalNormal = parseDuration(fc.Interval.Normal, 15*time.Minute)
	cfg.PowerQueryTimeout = parseDuration(fc.Interval.QueryTimeout, 500*time.Millisecond)
	cfg.PowerSource = strings.ToLower(strings.TrimSpace(fc.Interval.PowerSource))
	if cfg.PowerSource == "" {
		cfg.PowerSource = "host"
	}
	cfg.PowerSaverPath = fc.Interval.SaverPath
	cfg.BatteryCapacityPath = fc.Interval.CapacityPath
	cfg.BatteryStatusPath = fc.Interval.StatusPath

	cfg.HostCallbackURL = strings.TrimSpace(fc.Host.CallbackURL)
	cfg.HostCallbackTimeout = parseDuration(fc.Host.Timeout, 2*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	return cfg
}

// applyEnv lets deployment env override the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SENSOR_API_URL")); v != "" {
		cfg.SensorAPIURL = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.StoreBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_PATH")); v != "" {
		cfg.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("HOST_CALLBACK_URL")); v != "" {
		cfg.HostCallbackURL = v
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate checks that the event budget can hold its reserves and that
// enumerated settings are known. RequestTimeout is raised above the budget.
func validate(cfg *Config) error {
	if cfg.FetchTimeout >= cfg.EventBudget {
		return fmt.Errorf("event.fetch_timeout (%s) must be less than event.budget (%s)", cfg.FetchTimeout, cfg.EventBudget)
	}
	if cfg.RenderReserve >= cfg.EventBudget || cfg.CacheWriteReserve >= cfg.EventBudget {
		return fmt.Errorf("event reserves must be less than event.budget (%s)", cfg.EventBudget)
	}
	if cfg.RequestTimeout <= cfg.EventBudget {
		cfg.RequestTimeout = cfg.EventBudget + time.Second
	}
	switch cfg.StoreBackend {
	case "sqlite", "memory", "memcached":
	default:
		return fmt.Errorf("store.backend must be sqlite, memory or memcached, got %q", cfg.StoreBackend)
	}
	switch cfg.SensorAPIHTTPMode {
	case "http1", "h2", "h2c":
	default:
		return fmt.Errorf("sensor_api.http_mode must be http1, h2 or h2c, got %q", cfg.SensorAPIHTTPMode)
	}
	switch cfg.PowerSource {
	case "host", "file", "none":
	default:
		return fmt.Errorf("interval.power_source must be host, file or none, got %q", cfg.PowerSource)
	}
	return nil
}
