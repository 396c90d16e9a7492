// Package memwatch samples heap usage against the configured memory limit
// and tells listeners when the pressure level changes.
package memwatch

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const defaultInterval = 5 * time.Second

// ---------------------------------------------------------------------------
// Pressure levels
// ---------------------------------------------------------------------------

// Level is the current memory pressure.
type Level int

const (
	LevelNormal   Level = iota
	LevelWarning        // >= 80% of the soft limit
	LevelCritical       // >= the soft limit
	LevelEmergency      // >= 95% of the hard limit
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Stats is the most recent sample.
type Stats struct {
	HeapMB     float64 `json:"heap_mb"`
	SysMB      float64 `json:"sys_mb"`
	NumGC      uint32  `json:"num_gc"`
	Level      Level   `json:"-"`
	LevelName  string  `json:"level"`
	UsageRatio float64 `json:"usage_ratio"`
}

// Listener is called on every level change, outside the monitor's lock.
type Listener func(old, new Level, stats Stats)

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithReader overrides the memory sampler (useful for testing).
func WithReader(read func(*runtime.MemStats)) Option {
	return func(m *Monitor) { m.read = read }
}

// Monitor samples heap usage. With a zero limit it never leaves LevelNormal.
type Monitor struct {
	softLimit float64
	hardLimit float64
	interval  time.Duration
	read      func(*runtime.MemStats)

	mu        sync.RWMutex
	level     Level
	stats     Stats
	listeners []Listener

	running atomic.Bool
	cancel  context.CancelFunc
}

// New creates a monitor for a hard limit of limitMB. The soft limit is 80%
// of it.
func New(limitMB int, opts ...Option) *Monitor {
	hard := float64(limitMB) * 1024 * 1024
	m := &Monitor{
		softLimit: hard * 0.8,
		hardLimit: hard,
		interval:  defaultInterval,
		read:      runtime.ReadMemStats,
		stats:     Stats{LevelName: LevelNormal.String()},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l for level changes.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start begins sampling. Non-blocking.
func (m *Monitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop halts sampling.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.running.Store(false)
}

// Level returns the current pressure level.
func (m *Monitor) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Stats returns the most recent sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample and fires listeners if the level changed.
func (m *Monitor) Check() Level {
	var ms runtime.MemStats
	m.read(&ms)

	heap := float64(ms.HeapAlloc)
	next := m.classify(heap)

	stats := Stats{
		HeapMB:    heap / 1024 / 1024,
		SysMB:     float64(ms.Sys) / 1024 / 1024,
		NumGC:     ms.NumGC,
		Level:     next,
		LevelName: next.String(),
	}
	if m.softLimit > 0 {
		stats.UsageRatio = heap / m.softLimit
	}

	m.mu.Lock()
	old := m.level
	m.level = next
	m.stats = stats
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if old != next {
		log.Printf("Memory level changed: %s -> %s (heap: %.1fMB, ratio: %.2f)",
			old, next, stats.HeapMB, stats.UsageRatio)
		for _, l := range listeners {
			l(old, next, stats)
		}
	}
	return next
}

func (m *Monitor) classify(heap float64) Level {
	switch {
	case m.hardLimit <= 0:
		return LevelNormal
	case heap >= m.hardLimit*0.95:
		return LevelEmergency
	case heap >= m.softLimit:
		return LevelCritical
	case heap >= m.softLimit*0.8:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// ---------------------------------------------------------------------------
// Pressure relief
// ---------------------------------------------------------------------------

// Purger drops reclaimable state. *cache.Cache satisfies it.
type Purger interface {
	InvalidateAll()
}

// Relieve returns a listener that purges p when pressure rises to critical
// or beyond, and also forces a GC in an emergency.
func Relieve(p Purger) Listener {
	return func(old, next Level, stats Stats) {
		if next <= old || next < LevelCritical {
			return
		}
		p.InvalidateAll()
		log.Printf("Memory %s: response cache purged", next)
		if next == LevelEmergency {
			runtime.GC()
		}
	}
}
