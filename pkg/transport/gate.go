package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GateConfig 主机并发限制
type GateConfig struct {
	// PerHost 同一主机同时存在的连接数，网络设备的 vty 数量有限
	PerHost     int           `mapstructure:"per_host"`
	MaxActive   int           `mapstructure:"max_active"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// Gate 按主机限制并发连接，空闲主机的槽位由后台协程回收
type Gate struct {
	cfg    GateConfig
	mutex  sync.Mutex
	hosts  map[string]*hostSlot
	active int
	stop   chan struct{}
	once   sync.Once
}

type hostSlot struct {
	sem      chan struct{}
	inUse    int
	lastUsed time.Time
}

// NewGate 创建 Gate 并启动清理协程
func NewGate(cfg GateConfig) *Gate {
	if cfg.PerHost <= 0 {
		cfg.PerHost = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	g := &Gate{
		cfg:   cfg,
		hosts: make(map[string]*hostSlot),
		stop:  make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// Acquire 占用主机槽位，返回的 release 必须调用且只调用一次
func (g *Gate) Acquire(ctx context.Context, host string) (func(), error) {
	g.mutex.Lock()
	if g.cfg.MaxActive > 0 && g.active >= g.cfg.MaxActive {
		active := g.active
		g.mutex.Unlock()
		return nil, fmt.Errorf("connection limit reached, active connections: %d", active)
	}
	slot, ok := g.hosts[host]
	if !ok {
		slot = &hostSlot{sem: make(chan struct{}, g.cfg.PerHost)}
		g.hosts[host] = slot
	}
	slot.inUse++
	g.active++
	g.mutex.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		g.done(slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			g.done(slot)
		})
	}, nil
}

func (g *Gate) done(slot *hostSlot) {
	g.mutex.Lock()
	slot.inUse--
	slot.lastUsed = time.Now()
	g.active--
	g.mutex.Unlock()
}

// Stats 当前状态；nil Gate 返回 nil
func (g *Gate) Stats() map[string]interface{} {
	if g == nil {
		return nil
	}
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return map[string]interface{}{
		"hosts":  len(g.hosts),
		"active": g.active,
	}
}

// Close 停止清理协程
func (g *Gate) Close() {
	g.once.Do(func() { close(g.stop) })
}

func (g *Gate) cleanup() {
	ticker := time.NewTicker(g.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep(time.Now())
		}
	}
}

// sweep 删除空闲超过 IdleTimeout 的主机槽位
func (g *Gate) sweep(now time.Time) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	for host, slot := range g.hosts {
		if slot.inUse == 0 && now.Sub(slot.lastUsed) > g.cfg.IdleTimeout {
			delete(g.hosts, host)
		}
	}
}
