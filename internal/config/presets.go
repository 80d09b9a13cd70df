package config

import (
	"sort"
	"time"
)

// TomcatPreset は小さな固定上限のプール（コア0・最大5・60秒）
// アイドルになれば全ワーカーが回収される
func TomcatPreset() *FileConfig {
	return &FileConfig{
		Preset: "tomcat",
		Connector: ConnectorConfig{
			Port:         8081,
			AcceptCount:  100,
			CorePoolSize: 0,
			MaxThreads:   5,
			KeepAlive:    Duration(60 * time.Second),
		},
		Static:  StaticConfig{Root: "./public"},
		Monitor: MonitorConfig{Enabled: true, Addr: "127.0.0.1:9090"},
		Log:     LogConfig{Level: "info"},
	}
}

// BurstPreset は短時間の大量接続向け
// 上限を大きく取り、アイドルワーカーはすぐに回収する
func BurstPreset() *FileConfig {
	cfg := TomcatPreset()
	cfg.Preset = "burst"
	cfg.Connector.AcceptCount = 1000
	cfg.Connector.MaxThreads = 200
	cfg.Connector.KeepAlive = Duration(10 * time.Second)
	return cfg
}

// PinnedPreset は固定サイズのプール
// コア数と上限が同じで回収しない
func PinnedPreset() *FileConfig {
	cfg := TomcatPreset()
	cfg.Preset = "pinned"
	cfg.Connector.CorePoolSize = 8
	cfg.Connector.MaxThreads = 8
	cfg.Connector.KeepAlive = 0
	return cfg
}

var presets = map[string]func() *FileConfig{
	"tomcat": TomcatPreset,
	"burst":  BurstPreset,
	"pinned": PinnedPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (*FileConfig, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return nil, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
