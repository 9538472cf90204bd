package strategy

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"sealwatch/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// ParseFile 严格解析 profile 文件（未知字段报错），逐个 profile 返回结果。
// 单个 profile 出错不影响其它 profile。
func ParseFile(path string) (map[string]*Profile, map[string]error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read profiles failed: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (map[string]*Profile, map[string]error, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, nil, fmt.Errorf("parse profiles failed: %w", err)
	}
	if len(fc.Profiles) == 0 {
		return nil, nil, fmt.Errorf("profiles file defines no profiles")
	}
	good := make(map[string]*Profile, len(fc.Profiles))
	bad := make(map[string]error)
	for rawID, node := range fc.Profiles {
		id := normalizeID(rawID)
		p, err := decodeProfile(id, &node)
		if err != nil {
			bad[id] = err
			continue
		}
		good[id] = p
	}
	return good, bad, nil
}

func decodeProfile(id string, node *yaml.Node) (*Profile, error) {
	buf, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	if err := Prepare(id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ChangeListener 在 profile 集合变化时被调用。
type ChangeListener func(Set)

// Loader 负责加载 profile 文件并监听热更新。
// 校验失败的 profile 不会替换已生效版本（last-known-good）。
type Loader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	set       Set
	overrides map[string]bool // id -> disabled
	loadedAt  time.Time
	listeners []ChangeListener

	onReject func(id string, err error)
}

type LoaderOption func(*Loader)

// WithRejectHook is called once per rejected profile on every load attempt.
func WithRejectHook(fn func(id string, err error)) LoaderOption {
	return func(l *Loader) { l.onReject = fn }
}

func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	l := &Loader{path: path, overrides: make(map[string]bool)}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	if len(l.Snapshot().Profiles) == 0 {
		return nil, fmt.Errorf("no valid profile in %s", path)
	}
	return l, nil
}

// Watch 开始监听文件变化；变更后自动 Reload 并通知订阅者。
func (l *Loader) Watch() {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		logger.Warnf("profile watch disabled (%s): %v", l.path, err)
		return
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.Reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	l.mu.Lock()
	l.v = v
	l.mu.Unlock()
}

// Reload 重新读取文件。整体解析失败时保留当前集合并返回错误；
// 单个 profile 校验失败时沿用其上一个有效版本。
func (l *Loader) Reload() error {
	good, bad, err := ParseFile(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	prev := l.set
	next := Set{
		Version:  prev.Version + 1,
		Profiles: make(map[string]*Profile, len(good)+len(bad)),
		Rejected: make(map[string]string, len(bad)),
	}
	for id, p := range good {
		next.Profiles[id] = p
	}
	for id, perr := range bad {
		next.Rejected[id] = perr.Error()
		if old, ok := prev.Profiles[id]; ok {
			next.Profiles[id] = old
		}
	}
	applyOverrides(next.Profiles, l.overrides)
	l.set = next
	l.loadedAt = time.Now()
	l.mu.Unlock()

	for _, id := range sortedErrKeys(bad) {
		if _, kept := next.Profiles[id]; kept {
			logger.Errorf("!!! profile %s rejected, keeping last-known-good version: %v", id, bad[id])
		} else {
			logger.Errorf("!!! profile %s rejected and not loaded: %v", id, bad[id])
		}
		if l.onReject != nil {
			l.onReject(id, bad[id])
		}
	}
	logger.Infof("profiles loaded version=%d active=%v rejected=%d", next.Version, next.IDs(), len(bad))
	l.notify()
	return nil
}

// SetEnabled toggles a profile without touching the file; survives reloads.
func (l *Loader) SetEnabled(id string, enabled bool) error {
	id = normalizeID(id)
	l.mu.Lock()
	if _, ok := l.set.Profiles[id]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("profile %s not found", id)
	}
	l.overrides[id] = !enabled
	next := Set{
		Version:  l.set.Version + 1,
		Profiles: make(map[string]*Profile, len(l.set.Profiles)),
		Rejected: l.set.Rejected,
	}
	for pid, p := range l.set.Profiles {
		next.Profiles[pid] = p
	}
	applyOverrides(next.Profiles, l.overrides)
	l.set = next
	l.mu.Unlock()
	l.notify()
	return nil
}

// Snapshot 返回当前生效集合；集合与其中的 Profile 均视为只读。
func (l *Loader) Snapshot() Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set
}

func (l *Loader) LoadedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedAt
}

func (l *Loader) Path() string { return l.path }

func (l *Loader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Loader) notify() {
	l.mu.RLock()
	set := l.set
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(set)
		}(fn)
	}
}

// 开关状态变化时复制 Profile，避免修改正在被 tick 使用的对象。
func applyOverrides(profiles map[string]*Profile, overrides map[string]bool) {
	for id, disabled := range overrides {
		p, ok := profiles[id]
		if !ok || p.Disabled == disabled {
			continue
		}
		dup := *p
		dup.Disabled = disabled
		profiles[id] = &dup
	}
}

func sortedErrKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
