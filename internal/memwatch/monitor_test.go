package memwatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

type fakeHeap struct {
	mu   sync.Mutex
	heap uint64
}

func (f *fakeHeap) set(v uint64) {
	f.mu.Lock()
	f.heap = v
	f.mu.Unlock()
}

func (f *fakeHeap) read(ms *runtime.MemStats) {
	f.mu.Lock()
	ms.HeapAlloc = f.heap
	f.mu.Unlock()
}

type countingPurger struct{ n atomic.Int32 }

func (p *countingPurger) InvalidateAll() { p.n.Add(1) }

func TestLevels(t *testing.T) {
	heap := &fakeHeap{}
	m := New(100, WithReader(heap.read)) // soft limit 80MB

	tests := []struct {
		heapMB uint64
		want   Level
	}{
		{10, LevelNormal},
		{64, LevelWarning},
		{80, LevelCritical},
		{95, LevelEmergency},
		{20, LevelNormal},
	}
	for _, tt := range tests {
		heap.set(tt.heapMB * mb)
		assert.Equal(t, tt.want, m.Check(), "heap %dMB", tt.heapMB)
	}
}

func TestZeroLimitStaysNormal(t *testing.T) {
	heap := &fakeHeap{heap: 4096 * mb}
	m := New(0, WithReader(heap.read))
	assert.Equal(t, LevelNormal, m.Check())
	assert.Zero(t, m.Stats().UsageRatio)
}

func TestListenersFireOnChangeOnly(t *testing.T) {
	heap := &fakeHeap{}
	m := New(100, WithReader(heap.read))

	var changes []Level
	m.AddListener(func(old, next Level, _ Stats) { changes = append(changes, next) })

	heap.set(10 * mb)
	m.Check()
	heap.set(85 * mb)
	m.Check()
	m.Check()

	assert.Equal(t, []Level{LevelCritical}, changes)
	assert.Equal(t, "critical", m.Stats().LevelName)
}

func TestRelievePurgesOnRisingPressure(t *testing.T) {
	heap := &fakeHeap{}
	p := &countingPurger{}
	m := New(100, WithReader(heap.read))
	m.AddListener(Relieve(p))

	heap.set(70 * mb) // warning
	m.Check()
	assert.EqualValues(t, 0, p.n.Load())

	heap.set(82 * mb) // critical
	m.Check()
	assert.EqualValues(t, 1, p.n.Load())

	heap.set(99 * mb) // emergency
	m.Check()
	assert.EqualValues(t, 2, p.n.Load())

	heap.set(82 * mb) // falling back to critical
	m.Check()
	assert.EqualValues(t, 2, p.n.Load())
}

func TestStartSamples(t *testing.T) {
	heap := &fakeHeap{heap: 90 * mb}
	m := New(100, WithReader(heap.read), WithInterval(5*time.Millisecond))

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.Level() == LevelCritical }, time.Second, 5*time.Millisecond)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "emergency", LevelEmergency.String())
	assert.Equal(t, "unknown", Level(42).String())
}
