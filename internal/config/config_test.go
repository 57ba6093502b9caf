package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "9090"
sensor_api:
  url: "https://sensors.example.com/api"
  timeout: "5s"
event:
  budget: "10s"
  fetch_timeout: "7s"
store:
  backend: "memory"
  ttl: "15m"
reliability:
  retry_max_attempts: 2
  rate_limit_rps: 5
  rate_limit_burst: 10
`

// clearEnv blanks every variable Load consults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "SENSOR_API_TOKEN", "SENSOR_API_URL", "STORE_BACKEND", "STORE_PATH", "MEMCACHED_ADDRS", "HOST_CALLBACK_URL"} {
		t.Setenv(k, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) string {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	path := filepath.Join(configDir, "dev.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// TestLoad_ReadsEnvFileFromWorkingDirectory verifies Load resolves config/dev.yaml.
func TestLoad_ReadsEnvFileFromWorkingDirectory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.SensorAPIURL != "https://sensors.example.com/api" {
		t.Errorf("SensorAPIURL = %q", cfg.SensorAPIURL)
	}
	if cfg.SensorAPITimeout != 5*time.Second || cfg.FetchTimeout != 7*time.Second {
		t.Errorf("timeouts = %v / %v, want 5s / 7s", cfg.SensorAPITimeout, cfg.FetchTimeout)
	}
	if cfg.StoreBackend != "memory" || cfg.RetryAttempts != 2 {
		t.Errorf("StoreBackend = %q RetryAttempts = %d", cfg.StoreBackend, cfg.RetryAttempts)
	}
}

// TestLoad_EnvFileNotFound verifies a missing env file is an error.
func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "nonexistent.yaml") {
		t.Errorf("error = %v, want path in message", err)
	}
}

// TestLoadFile_Defaults verifies unset keys take the built-in defaults.
func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, t.TempDir(), "server:\n  port: \"8080\"\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"EventBudget", cfg.EventBudget, 10 * time.Second},
		{"FetchTimeout", cfg.FetchTimeout, 8 * time.Second},
		{"RenderReserve", cfg.RenderReserve, 2 * time.Second},
		{"CacheWriteReserve", cfg.CacheWriteReserve, time.Second},
		{"CacheTTL", cfg.CacheTTL, 15 * time.Minute},
		{"IntervalNormal", cfg.IntervalNormal, 15 * time.Minute},
		{"PowerQueryTimeout", cfg.PowerQueryTimeout, 500 * time.Millisecond},
		{"StoreBackend", cfg.StoreBackend, "sqlite"},
		{"PowerSource", cfg.PowerSource, "host"},
		{"SensorAPIHTTPMode", cfg.SensorAPIHTTPMode, "http1"},
		{"Coalesce", cfg.Coalesce, true},
		{"BatchConcurrency", cfg.BatchConcurrency, 4},
		{"RequestTimeout", cfg.RequestTimeout, 15 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

// TestDefault_MatchesEmptyFile verifies Default is what an empty file yields.
func TestDefault_MatchesEmptyFile(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, t.TempDir(), "{}\n")
	fromFile, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := *Default(); got != *fromFile {
		t.Errorf("Default() = %+v\nwant %+v", got, *fromFile)
	}
}

// TestLoadFile_InvalidDurationFallsBackToDefault verifies parseDuration fallbacks.
func TestLoadFile_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, t.TempDir(), `
store:
  ttl: "soon"
interval:
  normal: "-5m"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.CacheTTL != 15*time.Minute {
		t.Errorf("CacheTTL = %v, want 15m", cfg.CacheTTL)
	}
	if cfg.IntervalNormal != 15*time.Minute {
		t.Errorf("IntervalNormal = %v, want 15m", cfg.IntervalNormal)
	}
}

// TestLoadFile_EnvOverrides verifies deployment env wins over the file.
func TestLoadFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, t.TempDir(), minimalEnvYAML)
	t.Setenv("SENSOR_API_URL", "http://override:3000/api")
	t.Setenv("STORE_BACKEND", "MEMCACHED")
	t.Setenv("STORE_PATH", "/var/lib/widget.db")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("HOST_CALLBACK_URL", "http://host:7000")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.SensorAPIURL != "http://override:3000/api" {
		t.Errorf("SensorAPIURL = %q", cfg.SensorAPIURL)
	}
	if cfg.StoreBackend != "memcached" {
		t.Errorf("StoreBackend = %q, want memcached", cfg.StoreBackend)
	}
	if cfg.StorePath != "/var/lib/widget.db" || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("StorePath = %q MemcachedAddrs = %q", cfg.StorePath, cfg.MemcachedAddrs)
	}
	if cfg.HostCallbackURL != "http://host:7000" {
		t.Errorf("HostCallbackURL = %q", cfg.HostCallbackURL)
	}
}

// TestLoadFile_Token verifies the token comes from env before secrets.yaml.
func TestLoadFile_Token(t *testing.T) {
	t.Run("secrets file", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		path := writeEnvFile(t, dir, minimalEnvYAML)
		writeSecretsFile(t, dir, "sensor_api_token: from-file\n")
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.SensorAPIToken != "from-file" {
			t.Errorf("SensorAPIToken = %q, want from-file", cfg.SensorAPIToken)
		}
	})
	t.Run("env wins", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SENSOR_API_TOKEN", "from-env")
		dir := t.TempDir()
		path := writeEnvFile(t, dir, minimalEnvYAML)
		writeSecretsFile(t, dir, "sensor_api_token: from-file\n")
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.SensorAPIToken != "from-env" {
			t.Errorf("SensorAPIToken = %q, want from-env", cfg.SensorAPIToken)
		}
	})
	t.Run("invalid secrets yaml", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		path := writeEnvFile(t, dir, minimalEnvYAML)
		writeSecretsFile(t, dir, "sensor_api_token: [unterminated\n")
		if _, err := LoadFile(path); err == nil {
			t.Fatal("LoadFile() expected error for invalid secrets yaml")
		}
	})
}

// TestLoadFile_Validation verifies rejected combinations.
func TestLoadFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"fetch timeout exceeds budget", "event:\n  budget: \"5s\"\n  fetch_timeout: \"6s\"\n", "fetch_timeout"},
		{"reserve exceeds budget", "event:\n  budget: \"3s\"\n  fetch_timeout: \"1s\"\n  render_reserve: \"4s\"\n", "reserves"},
		{"unknown backend", "store:\n  backend: \"redis\"\n", "store.backend"},
		{"unknown http mode", "sensor_api:\n  http_mode: \"quic\"\n", "http_mode"},
		{"unknown power source", "interval:\n  power_source: \"acpi\"\n", "power_source"},
		{"invalid yaml", "server: [oops\n", "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeEnvFile(t, t.TempDir(), tt.yaml)
			cfg, err := LoadFile(path)
			if err == nil {
				t.Fatalf("LoadFile() = %+v, want error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadFile_RequestTimeoutRaisedAboveBudget verifies the handler timeout
// always exceeds the event budget.
func TestLoadFile_RequestTimeoutRaisedAboveBudget(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, t.TempDir(), "request:\n  timeout: \"3s\"\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.RequestTimeout != 11*time.Second {
		t.Errorf("RequestTimeout = %v, want 11s", cfg.RequestTimeout)
	}
}

// TestLoad_ProjectDevConfig verifies the checked-in config/dev.yaml loads.
func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	t.Chdir(findProjectRoot(t))
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
