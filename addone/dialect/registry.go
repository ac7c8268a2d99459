package dialect

import (
	"fmt"
	"sort"
	"sync"
)

// 注册中心，按名称获取方言
var (
	registryMu sync.RWMutex
	registry   = map[string]*Dialect{}
)

// Register 注册一个方言；同名覆盖
func Register(d *Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
}

// Get 获取指定名称的方言
func Get(name string) (*Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if d, ok := registry[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// Names 已注册方言名称（有序）
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
