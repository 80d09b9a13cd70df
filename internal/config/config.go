package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"acceptor/internal/connector"
	"acceptor/internal/logger"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Preset    string          `yaml:"preset,omitempty" json:"preset,omitempty"`
	Connector ConnectorConfig `yaml:"connector" json:"connector"`
	Static    StaticConfig    `yaml:"static" json:"static"`
	Monitor   MonitorConfig   `yaml:"monitor" json:"monitor"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ConnectorConfig はコネクタとワーカープールの設定
type ConnectorConfig struct {
	Host         string   `yaml:"host" json:"host"`
	Port         int      `yaml:"port" json:"port"`
	AcceptCount  int      `yaml:"accept_count" json:"accept_count"`
	CorePoolSize int      `yaml:"core_pool_size" json:"core_pool_size"`
	MaxThreads   int      `yaml:"max_threads" json:"max_threads"`
	KeepAlive    Duration `yaml:"keep_alive" json:"keep_alive"`
}

// StaticConfig は静的ファイル配信の設定
type StaticConfig struct {
	Root string `yaml:"root" json:"root"`
}

// MonitorConfig は監視 API の設定
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Duration は "60s" のような文字列で書ける time.Duration
type Duration time.Duration

// UnmarshalYAML は文字列または秒数の整数を受け付ける
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

// MarshalYAML は文字列として書き出す
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON は文字列または秒数の数値を受け付ける
func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	return d.parse(strings.Trim(string(data), `"`))
}

// MarshalJSON は文字列として書き出す
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	// 単位なしの数値は秒として扱う
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default はデフォルト設定を返す
func Default() *FileConfig {
	return TomcatPreset()
}

// LoadFile は設定ファイルを読み込む
//
// preset が指定されていればそのプリセットを土台にし、ファイルに書かれた値だけを上書きする。
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var unmarshal func([]byte, any) error
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	var head struct {
		Preset string `yaml:"preset" json:"preset"`
	}
	if err := unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ext, err)
	}

	config := Default()
	if head.Preset != "" {
		preset, ok := GetPreset(head.Preset)
		if !ok {
			return nil, fmt.Errorf("unknown preset: %s", head.Preset)
		}
		config = preset
	}

	if err := unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ext, err)
	}
	return config, nil
}

// Load は設定ファイル（空なら既定値）を読み込み、環境変数を反映して検証する
func Load(path string) (*FileConfig, error) {
	config := Default()
	if path != "" {
		var err error
		if config, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// ApplyEnv は ACCEPTOR_* 環境変数で設定を上書きする
func (f *FileConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ACCEPTOR_HOST":         &f.Connector.Host,
		"ACCEPTOR_STATIC_ROOT":  &f.Static.Root,
		"ACCEPTOR_MONITOR_ADDR": &f.Monitor.Addr,
		"ACCEPTOR_LOG_LEVEL":    &f.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ACCEPTOR_PORT":           &f.Connector.Port,
		"ACCEPTOR_ACCEPT_COUNT":   &f.Connector.AcceptCount,
		"ACCEPTOR_CORE_POOL_SIZE": &f.Connector.CorePoolSize,
		"ACCEPTOR_MAX_THREADS":    &f.Connector.MaxThreads,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
	}

	if v, ok := lookup("ACCEPTOR_KEEP_ALIVE"); ok {
		if err := f.Connector.KeepAlive.parse(v); err != nil {
			return fmt.Errorf("ACCEPTOR_KEEP_ALIVE: %w", err)
		}
	}
	if v, ok := lookup("ACCEPTOR_MONITOR_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ACCEPTOR_MONITOR_ENABLED: invalid bool %q", v)
		}
		f.Monitor.Enabled = enabled
	}
	return nil
}

// ToConnectorConfig はコネクタの設定に変換する
func (f *FileConfig) ToConnectorConfig() connector.Config {
	c := f.Connector
	return connector.Config{
		Host:         c.Host,
		Port:         c.Port,
		AcceptCount:  c.AcceptCount,
		CorePoolSize: c.CorePoolSize,
		MaxThreads:   c.MaxThreads,
		KeepAlive:    time.Duration(c.KeepAlive),
	}
}

// LogLevel はログレベルを返す
func (f *FileConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(f.Log.Level)
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if err := f.ToConnectorConfig().Validate(); err != nil {
		return err
	}

	if f.Static.Root == "" {
		return errors.New("static.root must not be empty")
	}

	if f.Monitor.Enabled && f.Monitor.Addr == "" {
		return errors.New("monitor.addr is required when the monitor is enabled")
	}

	if _, err := f.LogLevel(); err != nil {
		return err
	}

	return nil
}
