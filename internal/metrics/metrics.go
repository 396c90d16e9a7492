package metrics

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Prometheus-compatible Metrics Registry
// ---------------------------------------------------------------------------

// Registry holds all application metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram

	startTime time.Time
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		histos:    make(map[string]*Histogram),
		startTime: time.Now(),
	}
}

// Counter returns or creates a counter metric.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns or creates a gauge metric.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram metric.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[name]; ok {
		return h
	}
	h := NewHistogram(name, help, buckets)
	r.histos[name] = h
	return h
}

// Export returns all metrics in Prometheus text format, sorted by name.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	writeHeader(&b, "go_goroutines", "Number of goroutines.", "gauge")
	fmt.Fprintf(&b, "go_goroutines %d\n", runtime.NumGoroutine())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeHeader(&b, "go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", "gauge")
	fmt.Fprintf(&b, "go_memstats_heap_alloc_bytes %d\n", mem.HeapAlloc)

	writeHeader(&b, "process_uptime_seconds", "Time since process start.", "gauge")
	fmt.Fprintf(&b, "process_uptime_seconds %f\n", time.Since(r.startTime).Seconds())

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		writeHeader(&b, c.name, c.help, "counter")
		fmt.Fprintf(&b, "%s %d\n", c.name, c.Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		writeHeader(&b, g.name, g.help, "gauge")
		fmt.Fprintf(&b, "%s %f\n", g.name, g.Get())
	}
	for _, name := range sortedKeys(r.histos) {
		r.histos[name].export(&b)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	c.value.Add(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a metric that can go up and down.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Get returns the current gauge value.
func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks value distributions using cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []atomic.Int64
	sumBits atomic.Uint64
	count   atomic.Int64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i].Add(1)
		}
	}
	for {
		old := h.sumBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if h.sumBits.CompareAndSwap(old, next) {
			break
		}
	}
	h.count.Add(1)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	return h.count.Load()
}

func (h *Histogram) export(b *strings.Builder) {
	writeHeader(b, h.name, h.help, "histogram")
	for i, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", h.name, bound, h.counts[i].Load())
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count.Load())
	fmt.Fprintf(b, "%s_sum %f\n", h.name, math.Float64frombits(h.sumBits.Load()))
	fmt.Fprintf(b, "%s_count %d\n", h.name, h.count.Load())
}

// ---------------------------------------------------------------------------
// Default Registry
// ---------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// ---------------------------------------------------------------------------
// Pre-defined Application Metrics
// ---------------------------------------------------------------------------

var (
	// Upstream API
	UpstreamRequests = defaultRegistry.Counter("flightwatch_upstream_requests_total", "HTTP requests issued to the flight data API")
	UpstreamRetries  = defaultRegistry.Counter("flightwatch_upstream_retries_total", "Requests retried after 429, 5xx or transport failure")
	UpstreamErrors   = defaultRegistry.Counter("flightwatch_upstream_errors_total", "Requests that ended in a terminal error")
	UpstreamLatency  = defaultRegistry.Histogram("flightwatch_upstream_latency_seconds", "Upstream request latency", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})

	// Response cache
	CacheHits   = defaultRegistry.Counter("flightwatch_cache_hits_total", "Cache lookups served from memory")
	CacheMisses = defaultRegistry.Counter("flightwatch_cache_misses_total", "Cache lookups that missed or expired")

	// Refresh loop
	Refreshes        = defaultRegistry.Counter("flightwatch_refreshes_total", "Completed refresh cycles")
	RefreshFailures  = defaultRegistry.Counter("flightwatch_refresh_failures_total", "Refresh cycles that recorded an error")
	RefreshLatency   = defaultRegistry.Histogram("flightwatch_refresh_latency_seconds", "Refresh cycle latency", []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60})
	FlightsPublished = defaultRegistry.Gauge("flightwatch_flights", "Flights in the current published set")

	// Fan-out
	NotifierFailures = defaultRegistry.Counter("flightwatch_notifier_failures_total", "Notifier calls that failed")
	PublishFailures  = defaultRegistry.Counter("flightwatch_publish_failures_total", "Snapshot publishes that failed")
	StreamClients    = defaultRegistry.Gauge("flightwatch_stream_clients", "Connected websocket clients")

	// HTTP
	HTTPRequests = defaultRegistry.Counter("flightwatch_http_requests_total", "Total HTTP requests")
	HTTPLatency  = defaultRegistry.Histogram("flightwatch_http_latency_seconds", "HTTP request latency", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})
)
