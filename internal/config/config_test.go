package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"acceptor/internal/connector"
	"acceptor/internal/logger"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// envMap は os.LookupEnv の代わりに使う
func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
connector:
  host: 127.0.0.1
  port: 9000
  accept_count: 50
  core_pool_size: 1
  max_threads: 10
  keep_alive: 30s
static:
  root: /srv/www
monitor:
  enabled: false
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	c := cfg.Connector
	if c.Host != "127.0.0.1" || c.Port != 9000 || c.AcceptCount != 50 {
		t.Errorf("unexpected connector config: %+v", c)
	}
	if c.CorePoolSize != 1 || c.MaxThreads != 10 {
		t.Errorf("unexpected pool sizes: core=%d max=%d", c.CorePoolSize, c.MaxThreads)
	}
	if time.Duration(c.KeepAlive) != 30*time.Second {
		t.Errorf("expected keep_alive 30s, got %v", time.Duration(c.KeepAlive))
	}
	if cfg.Static.Root != "/srv/www" {
		t.Errorf("expected static root /srv/www, got %s", cfg.Static.Root)
	}
	if cfg.Monitor.Enabled {
		t.Error("expected monitor to be disabled")
	}
	// Unset keys keep their defaults
	if cfg.Monitor.Addr != "127.0.0.1:9090" {
		t.Errorf("expected default monitor addr, got %s", cfg.Monitor.Addr)
	}
}

func TestLoadFileJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "connector": {
    "port": 8082,
    "max_threads": 3,
    "keep_alive": 5
  },
  "log": {"level": "warn"}
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Connector.Port != 8082 {
		t.Errorf("expected port 8082, got %d", cfg.Connector.Port)
	}
	if cfg.Connector.MaxThreads != 3 {
		t.Errorf("expected max_threads 3, got %d", cfg.Connector.MaxThreads)
	}
	// Bare numbers are seconds
	if time.Duration(cfg.Connector.KeepAlive) != 5*time.Second {
		t.Errorf("expected keep_alive 5s, got %v", time.Duration(cfg.Connector.KeepAlive))
	}
	if cfg.Connector.AcceptCount != 100 {
		t.Errorf("expected default accept_count 100, got %d", cfg.Connector.AcceptCount)
	}
	if level, _ := cfg.LogLevel(); level != logger.LevelWarn {
		t.Errorf("expected WARN, got %s", level)
	}
}

func TestLoadFileZeroValuesOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", `
connector:
  accept_count: 0
  keep_alive: 0s
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Connector.AcceptCount != 0 {
		t.Errorf("expected explicit accept_count 0, got %d", cfg.Connector.AcceptCount)
	}
	if cfg.Connector.KeepAlive != 0 {
		t.Errorf("expected explicit keep_alive 0, got %v", time.Duration(cfg.Connector.KeepAlive))
	}
}

func TestLoadFilePreset(t *testing.T) {
	path := writeFile(t, "config.yaml", `
preset: burst
connector:
  port: 7000
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Connector.MaxThreads != 200 {
		t.Errorf("expected burst max_threads 200, got %d", cfg.Connector.MaxThreads)
	}
	if cfg.Connector.Port != 7000 {
		t.Errorf("expected port override 7000, got %d", cfg.Connector.Port)
	}
}

func TestLoadFileUnknownPreset(t *testing.T) {
	path := writeFile(t, "config.yaml", "preset: nope\n")

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestLoadFileInvalidDuration(t *testing.T) {
	path := writeFile(t, "config.yaml", "connector:\n  keep_alive: soon\n")

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for invalid keep_alive")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "config.txt", "test")

	_, err := LoadFile(path)
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"ACCEPTOR_HOST":            "0.0.0.0",
		"ACCEPTOR_PORT":            "9999",
		"ACCEPTOR_MAX_THREADS":     "12",
		"ACCEPTOR_CORE_POOL_SIZE":  "2",
		"ACCEPTOR_KEEP_ALIVE":      "1m",
		"ACCEPTOR_MONITOR_ENABLED": "false",
		"ACCEPTOR_LOG_LEVEL":       "error",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Connector.Host != "0.0.0.0" || cfg.Connector.Port != 9999 {
		t.Errorf("unexpected address %s:%d", cfg.Connector.Host, cfg.Connector.Port)
	}
	if cfg.Connector.MaxThreads != 12 || cfg.Connector.CorePoolSize != 2 {
		t.Errorf("unexpected pool sizes: %+v", cfg.Connector)
	}
	if time.Duration(cfg.Connector.KeepAlive) != time.Minute {
		t.Errorf("expected keep_alive 1m, got %v", time.Duration(cfg.Connector.KeepAlive))
	}
	if cfg.Monitor.Enabled {
		t.Error("expected monitor disabled by env")
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected log level error, got %s", cfg.Log.Level)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"ACCEPTOR_PORT":            "eighty",
		"ACCEPTOR_KEEP_ALIVE":      "forever",
		"ACCEPTOR_MONITOR_ENABLED": "maybe",
	}
	for key, value := range tests {
		cfg := Default()
		if err := cfg.ApplyEnv(envMap(map[string]string{key: value})); err == nil {
			t.Errorf("%s=%s: expected error", key, value)
		}
	}
}

// Load は実際の環境変数を読むので t.Setenv を使う
func TestLoadWithEnvironment(t *testing.T) {
	t.Setenv("ACCEPTOR_PORT", "8181")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Connector.Port != 8181 {
		t.Errorf("expected port 8181 from env, got %d", cfg.Connector.Port)
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "config.yaml", "connector:\n  max_threads: 0\n")

	_, err := Load(path)
	var cfgErr *connector.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *connector.ConfigError, got %v", err)
	}
	if cfgErr.Field != "max_threads" {
		t.Errorf("expected max_threads, got %s", cfgErr.Field)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(*FileConfig)
		wantErr bool
	}{
		{"default", func(*FileConfig) {}, false},
		{"invalid port", func(f *FileConfig) { f.Connector.Port = 0 }, true},
		{"core above max", func(f *FileConfig) { f.Connector.CorePoolSize = 10 }, true},
		{"negative accept count", func(f *FileConfig) { f.Connector.AcceptCount = -1 }, true},
		{"empty static root", func(f *FileConfig) { f.Static.Root = "" }, true},
		{"monitor without addr", func(f *FileConfig) { f.Monitor.Addr = "" }, true},
		{"disabled monitor without addr", func(f *FileConfig) { f.Monitor.Enabled = false; f.Monitor.Addr = "" }, false},
		{"bad log level", func(f *FileConfig) { f.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToConnectorConfig(t *testing.T) {
	cfg := Default()
	cc := cfg.ToConnectorConfig()

	want := connector.DefaultConfig()
	if cc != want {
		t.Errorf("expected %+v, got %+v", want, cc)
	}
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	if len(names) != 3 {
		t.Fatalf("expected 3 presets, got %v", names)
	}

	for _, name := range names {
		cfg, ok := GetPreset(name)
		if !ok {
			t.Errorf("preset %s not found", name)
			continue
		}
		if cfg.Preset != name {
			t.Errorf("preset %s reports name %s", name, cfg.Preset)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s is invalid: %v", name, err)
		}
	}

	pinned, _ := GetPreset("pinned")
	if pinned.Connector.CorePoolSize != pinned.Connector.MaxThreads || pinned.Connector.KeepAlive != 0 {
		t.Errorf("pinned preset should be fixed-size: %+v", pinned.Connector)
	}

	if _, ok := GetPreset("unknown"); ok {
		t.Error("expected unknown preset to be missing")
	}
}

func TestDurationJSON(t *testing.T) {
	data, err := json.Marshal(Default().Connector)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back ConnectorConfig
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != Default().Connector {
		t.Errorf("expected %+v, got %+v", Default().Connector, back)
	}
}
