package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func sensorServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"sensorId":"s-9","temperatura":18,"humedad":70,"estado":"normal","ubicacion":"Cellar","fecha":"2024-05-01T10:00:00Z"}]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// run executes widgetctl with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(zap.NewNop())
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// clearEnv blanks the deployment overrides config.LoadFile applies.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SENSOR_API_TOKEN", "STORE_BACKEND", "STORE_PATH", "SENSOR_API_URL", "MEMCACHED_ADDRS", "HOST_CALLBACK_URL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, sensorURL string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	content := "sensor_api:\n  url: \"" + sensorURL + "\"\nstore:\n  backend: \"sqlite\"\n  path: \"" + filepath.Join(dir, "widget.db") + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCmd(nil)
	found := make(map[string]bool)
	for _, cmd := range root.Commands() {
		found[cmd.Name()] = true
	}
	for _, want := range []string{"event", "configure", "snapshot", "interval"} {
		if !found[want] {
			t.Errorf("expected command %q to be registered", want)
		}
	}
	for _, flag := range []string{"config", "db", "sensor-url"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("expected --%s flag", flag)
		}
	}
}

// TestEventThenSnapshot verifies an event persists a snapshot a later run can read.
func TestEventThenSnapshot(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, sensorServer(t).URL)

	out, err := run(t, "--config", cfgPath, "event", "5", "WIDGET_ADDED", "--variant", "SensorSPLargeWidget")
	if err != nil {
		t.Fatalf("event error = %v (output %s)", err, out)
	}
	if !strings.Contains(out, `"type":"render"`) || !strings.Contains(out, `"type":"schedule"`) {
		t.Errorf("output missing host calls: %s", out)
	}
	if !strings.Contains(out, `"action": "fetch_render"`) {
		t.Errorf("output missing outcome: %s", out)
	}

	out, err = run(t, "--config", cfgPath, "snapshot", "5", "--json")
	if err != nil {
		t.Fatalf("snapshot error = %v", err)
	}
	var resp struct {
		Snapshot struct {
			Location    string `json:"location"`
			Temperature string `json:"temperature"`
		} `json:"snapshot"`
		Fresh bool `json:"fresh"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, out)
	}
	if resp.Snapshot.Location != "Cellar" || resp.Snapshot.Temperature != "18°C" || !resp.Fresh {
		t.Errorf("snapshot = %+v", resp)
	}

	if _, err := run(t, "--config", cfgPath, "event", "5", "removed"); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	out, err = run(t, "--config", cfgPath, "snapshot", "5")
	if err != nil {
		t.Fatalf("snapshot error = %v", err)
	}
	if !strings.Contains(out, "Snapshot:    none") {
		t.Errorf("expected no snapshot after remove, got %s", out)
	}
}

// TestConfigure verifies configuration validation and persistence.
func TestConfigure(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, sensorServer(t).URL)

	if _, err := run(t, "--config", cfgPath, "configure", "2", "--sensor", "bad/id"); err == nil {
		t.Error("expected error for invalid sensor id")
	}
	if _, err := run(t, "--config", cfgPath, "configure", "2"); err == nil {
		t.Error("expected error for missing --sensor")
	}

	out, err := run(t, "--config", cfgPath, "configure", "2", "--sensor", "s-9", "--sensor-name", "Cellar", "--theme", "dark")
	if err != nil {
		t.Fatalf("configure error = %v (%s)", err, out)
	}
	if !strings.Contains(out, `"result": "ok"`) {
		t.Errorf("output = %s, want ok result", out)
	}

	out, err = run(t, "--config", cfgPath, "snapshot", "2")
	if err != nil {
		t.Fatalf("snapshot error = %v", err)
	}
	for _, want := range []string{"Sensor:      s-9 Cellar", "Theme:       dark", "fresh", "Location:    Cellar"} {
		if !strings.Contains(out, want) {
			t.Errorf("snapshot output missing %q:\n%s", want, out)
		}
	}
}

// TestInterval verifies simulated host power reports.
func TestInterval(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, t.TempDir(), "http://127.0.0.1:1")

	tests := []struct {
		name string
		args []string
		want float64
	}{
		{"no report", nil, 900},
		{"power save", []string{"--power-save"}, 1800},
		{"low battery charging", []string{"--battery", "10", "--charging"}, 900},
		{"low battery", []string{"--battery", "10"}, 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"--config", cfgPath, "interval"}, tt.args...)...)
			if err != nil {
				t.Fatalf("interval error = %v", err)
			}
			var resp struct {
				IntervalSeconds float64 `json:"intervalSeconds"`
			}
			if err := json.Unmarshal([]byte(out), &resp); err != nil {
				t.Fatalf("decode: %v (%s)", err, out)
			}
			if resp.IntervalSeconds != tt.want {
				t.Errorf("intervalSeconds = %v, want %v", resp.IntervalSeconds, tt.want)
			}
		})
	}
}

// TestLoadConfig_RejectsMemoryStore verifies the CLI refuses a non-persistent store.
func TestLoadConfig_RejectsMemoryStore(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "mem.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(&globalFlags{configPath: path}); err == nil {
		t.Error("expected error for memory store")
	}
	cfg, err := loadConfig(&globalFlags{configPath: path, storePath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("loadConfig with --db error = %v", err)
	}
	if cfg.StoreBackend != "sqlite" {
		t.Errorf("StoreBackend = %q, want sqlite", cfg.StoreBackend)
	}
}
