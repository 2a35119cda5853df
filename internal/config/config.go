package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 主配置并完成 include 合并、默认值填充与校验。
// include 的文件先合并，主文件最后合并（后写覆盖先写）。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := includeWalker{seen: map[string]bool{}, active: map[string]bool{}}
	files, err := w.expand(abs)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	// 记录显式设置过的键，applyDefaults 借此区分“未写”与“写了零值”
	set := make(keySet)
	markKeys("", v.AllSettings(), set)
	cfg.applyDefaults(set)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeWalker 深度优先展开 include 列表，active 栈用于发现环。
type includeWalker struct {
	seen   map[string]bool
	active map[string]bool
}

func (w *includeWalker) expand(path string) ([]string, error) {
	path = filepath.Clean(path)
	if w.active[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if w.seen[path] {
		return nil, nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	includes, err := includesOf(path)
	if err != nil {
		return nil, err
	}
	var ordered []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := w.expand(inc)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	w.seen[path] = true
	return append(ordered, path), nil
}

func includesOf(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}

	var items []any
	switch val := raw.(type) {
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array (%s)", path)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings (%s)", path)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markKeys 把 viper.AllSettings 的嵌套结构压平为 "a.b.c" 键集。
// 数组整体记为一个键（条目级默认值由各自的 applyDefaults 处理）。
func markKeys(prefix string, node any, keys keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			markKeys(joinKey(prefix, k), child, keys)
		}
	case []any:
		keys.mark(prefix)
		for _, item := range val {
			markKeys(prefix, item, keys)
		}
	default:
		keys.mark(prefix)
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}
