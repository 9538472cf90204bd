package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SEALWATCH_CONFIG"

// DefaultPath 返回 SEALWATCH_CONFIG 或 configs/config.yaml。
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// Load 读取配置文件（含 include），应用默认值并校验。
// 形如 SEALWATCH_NOTIFY_TELEGRAM_BOT_TOKEN 的环境变量覆盖文件中已有的键。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	chain := newIncludeChain()
	if err := chain.load(abs); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for i, layer := range chain.layers {
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("merging config failed (%s): %w", chain.files[i], err)
		}
	}
	v.SetEnvPrefix("SEALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	setKeys.collect("", v.AllSettings())
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(abs))
	return &cfg, nil
}

// resolvePaths 把 profiles_path 之类的相对路径解释为相对工作目录；
// 工作目录下不存在时再尝试相对配置文件所在目录。
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Engine.ProfilesPath, &c.Source.Path} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		if _, err := os.Stat(*p); err == nil {
			continue
		}
		alt := filepath.Join(dir, filepath.Base(*p))
		if _, err := os.Stat(alt); err == nil {
			*p = alt
		}
	}
}

// includeChain 深度优先展开 include，被包含的文件先合并，主文件最后合并以覆盖它们。
// 每个文件只读取一次；同一文件被多处包含时只合并第一次。
type includeChain struct {
	done   map[string]bool
	active map[string]bool
	files  []string
	layers []map[string]any
}

func newIncludeChain() *includeChain {
	return &includeChain{done: make(map[string]bool), active: make(map[string]bool)}
}

func (c *includeChain) load(path string) error {
	path = filepath.Clean(path)
	if c.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if c.done[path] {
		return nil
	}
	c.active[path] = true
	defer delete(c.active, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := c.load(inc); err != nil {
			return err
		}
	}
	settings := v.AllSettings()
	delete(settings, "include")
	c.done[path] = true
	c.files = append(c.files, path)
	c.layers = append(c.layers, settings)
	return nil
}

// includeList 接受单个字符串或字符串数组。
func includeList(raw any) ([]string, error) {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings, got %T", item)
			}
			items = append(items, str)
		}
	default:
		return nil, fmt.Errorf("include must be a string or a string array, got %T", raw)
	}
	out := items[:0:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}
