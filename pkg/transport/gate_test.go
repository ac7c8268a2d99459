package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSerializesPerHost(t *testing.T) {
	g := NewGate(GateConfig{PerHost: 1})
	defer g.Close()

	release, err := g.Acquire(context.Background(), "sw1")
	require.NoError(t, err)

	// 其他主机不受影响
	other, err := g.Acquire(context.Background(), "sw2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "sw1")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "同一主机第二个连接应等待")

	acquired := make(chan struct{})
	go func() {
		r, err := g.Acquire(context.Background(), "sw1")
		if err == nil {
			r()
		}
		close(acquired)
	}()
	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release 后应能再次获取")
	}
	assert.Equal(t, 0, g.Stats()["active"])
}

func TestGateMaxActive(t *testing.T) {
	g := NewGate(GateConfig{PerHost: 2, MaxActive: 1})
	defer g.Close()

	r, err := g.Acquire(context.Background(), "sw1")
	require.NoError(t, err)
	_, err = g.Acquire(context.Background(), "sw2")
	assert.Error(t, err)
	r()
}

func TestGateSweep(t *testing.T) {
	g := NewGate(GateConfig{IdleTimeout: time.Minute})
	defer g.Close()

	r, err := g.Acquire(context.Background(), "sw1")
	require.NoError(t, err)
	g.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 1, g.Stats()["hosts"], "使用中的槽位不回收")

	r()
	g.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, g.Stats()["hosts"])
}

func TestNilGateStats(t *testing.T) {
	var g *Gate
	assert.Nil(t, g.Stats())
}
