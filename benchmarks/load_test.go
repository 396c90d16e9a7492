package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yash/flightwatch/internal/cache"
	"github.com/yash/flightwatch/internal/ingestion"
	"github.com/yash/flightwatch/internal/lookup"
	"github.com/yash/flightwatch/internal/reconcile"
	"github.com/yash/flightwatch/internal/refresh"
	"github.com/yash/flightwatch/internal/store"
	"github.com/yash/flightwatch/pkg/models"
)

// ---------------------------------------------------------------------------
// Synthetic upstream
// ---------------------------------------------------------------------------

var airlines = []string{"UAL", "ACA", "DAL", "AAL", "BAW", "AFR", "DLH", "SWA", "JBU", "WJA"}

// generateStates builds n distinct state vectors. The same seed always
// gives the same payload.
func generateStates(n int, seed int64) models.StatesResponse {
	rnd := rand.New(rand.NewSource(seed))
	const lastContact = 1700000000

	resp := models.StatesResponse{Time: lastContact, States: make([]models.StateVector, n)}
	for i := range resp.States {
		callsign := fmt.Sprintf("%s%04d  ", airlines[rnd.Intn(len(airlines))], rnd.Intn(9999))
		lat := 30.0 + rnd.Float64()*20
		lon := -130.0 + rnd.Float64()*60
		baro := float64(rnd.Intn(13000))
		speed := float64(60 + rnd.Intn(200))
		heading := float64(rnd.Intn(360))

		resp.States[i] = models.StateVector{
			ICAO24:        fmt.Sprintf("%06x", i),
			Callsign:      &callsign,
			OriginCountry: "United States",
			LastContact:   lastContact,
			Latitude:      &lat,
			Longitude:     &lon,
			BaroAltitude:  &baro,
			OnGround:      rnd.Float64() < 0.1,
			Velocity:      &speed,
			TrueTrack:     &heading,
		}
	}
	return resp
}

// upstream serves a fixed /states/all payload and counts requests.
type upstream struct {
	*httptest.Server
	body     []byte
	requests atomic.Int64
}

func newUpstream(tb testing.TB, resp models.StatesResponse) *upstream {
	tb.Helper()
	body, err := json.Marshal(resp)
	if err != nil {
		tb.Fatalf("encoding states: %v", err)
	}

	u := &upstream{body: body}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		if r.URL.Path != "/states/all" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(u.body)
	}))
	tb.Cleanup(u.Close)
	return u
}

// newPipeline wires client, reconciler and scheduler against baseURL.
// Cached states expire almost at once, so every refresh reaches upstream.
func newPipeline(baseURL string) (*ingestion.Client, *refresh.Scheduler) {
	opts := []ingestion.ClientOption{
		ingestion.WithBaseURL(baseURL),
		ingestion.WithMinInterval(0),
		ingestion.WithBackoff(&ingestion.BackoffPolicy{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 2}),
		ingestion.WithCache(cache.New(cache.WithSweepInterval(0))),
		ingestion.WithTTLs(time.Nanosecond, time.Nanosecond),
	}
	client := ingestion.NewClient(opts...)

	sched := refresh.New(client, reconcile.New(lookup.DefaultAirports()),
		refresh.WithStore(store.NewMemoryStore()),
		refresh.WithInterval(time.Hour),
	)
	return client, sched
}

// ---------------------------------------------------------------------------
// Concurrent Query Benchmark
// ---------------------------------------------------------------------------

// ConcurrentQueryBench measures read latency against a published set while
// refreshes replace it.
type ConcurrentQueryBench struct {
	sched *refresh.Scheduler
	ids   []string

	latencies []time.Duration
	latencyMu sync.Mutex
}

// NewConcurrentQueryBench publishes numFlights synthetic flights.
func NewConcurrentQueryBench(tb testing.TB, numFlights int) *ConcurrentQueryBench {
	states := generateStates(numFlights, 42)
	up := newUpstream(tb, states)

	_, sched := newPipeline(up.URL)
	if err := sched.Refresh(context.Background()); err != nil {
		tb.Fatalf("initial refresh: %v", err)
	}

	ids := make([]string, 0, 100)
	for i := 0; i < numFlights && len(ids) < 100; i += numFlights/100 + 1 {
		ids = append(ids, models.FlightID(states.States[i].ICAO24, states.States[i].LastContact))
	}
	for _, id := range ids[:len(ids)/10+1] {
		sched.Track(id)
	}

	return &ConcurrentQueryBench{
		sched:     sched,
		ids:       ids,
		latencies: make([]time.Duration, 0, 10000),
	}
}

// RunConcurrent executes parallel queries while one goroutine keeps
// refreshing.
func (cqb *ConcurrentQueryBench) RunConcurrent(numWorkers, queriesPerWorker int) ConcurrentStats {
	var wg sync.WaitGroup
	startTime := time.Now()

	queryFuncs := []func(i int){
		func(i int) { cqb.sched.Snapshot() },
		func(i int) { cqb.sched.Search(airlines[i%len(airlines)]) },
		func(i int) { cqb.sched.Flight(cqb.ids[i%len(cqb.ids)]) },
		func(i int) { cqb.sched.TrackedFlights() },
		func(i int) { cqb.sched.IsTracked(cqb.ids[i%len(cqb.ids)]) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		for ctx.Err() == nil {
			cqb.sched.Refresh(ctx)
		}
	}()

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for q := 0; q < queriesPerWorker; q++ {
				queryFunc := queryFuncs[(workerID+q)%len(queryFuncs)]

				start := time.Now()
				queryFunc(workerID*queriesPerWorker + q)
				latency := time.Since(start)

				cqb.latencyMu.Lock()
				cqb.latencies = append(cqb.latencies, latency)
				cqb.latencyMu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	totalTime := time.Since(startTime)
	cancel()
	<-refreshDone

	return cqb.calculateStats(totalTime, numWorkers, queriesPerWorker)
}

func (cqb *ConcurrentQueryBench) calculateStats(totalTime time.Duration, workers, qpw int) ConcurrentStats {
	cqb.latencyMu.Lock()
	defer cqb.latencyMu.Unlock()

	if len(cqb.latencies) == 0 {
		return ConcurrentStats{}
	}

	sorted := make([]time.Duration, len(cqb.latencies))
	copy(sorted, cqb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}

	totalQueries := workers * qpw
	return ConcurrentStats{
		TotalQueries:  totalQueries,
		TotalTime:     totalTime,
		QueriesPerSec: float64(totalQueries) / totalTime.Seconds(),
		P50:           sorted[len(sorted)*50/100],
		P95:           sorted[len(sorted)*95/100],
		P99:           sorted[len(sorted)*99/100],
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
		Avg:           total / time.Duration(len(sorted)),
	}
}

func (cqb *ConcurrentQueryBench) reset() {
	cqb.latencyMu.Lock()
	cqb.latencies = cqb.latencies[:0]
	cqb.latencyMu.Unlock()
}

// ConcurrentStats holds concurrent query benchmark results.
type ConcurrentStats struct {
	TotalQueries  int
	TotalTime     time.Duration
	QueriesPerSec float64
	P50           time.Duration
	P95           time.Duration
	P99           time.Duration
	Min           time.Duration
	Max           time.Duration
	Avg           time.Duration
}

// ---------------------------------------------------------------------------
// Memory Profile
// ---------------------------------------------------------------------------

// MemoryProfile captures memory usage at a point in time.
type MemoryProfile struct {
	HeapAlloc   uint64
	HeapObjects uint64
	Sys         uint64
	NumGC       uint32
}

// CaptureMemoryProfile returns current memory statistics.
func CaptureMemoryProfile() MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryProfile{
		HeapAlloc:   m.HeapAlloc,
		HeapObjects: m.HeapObjects,
		Sys:         m.Sys,
		NumGC:       m.NumGC,
	}
}

// HeapMB returns heap memory in megabytes.
func (mp MemoryProfile) HeapMB() float64 {
	return float64(mp.HeapAlloc) / 1024 / 1024
}

// ---------------------------------------------------------------------------
// Go Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkDecodeStates10k(b *testing.B) {
	body, err := json.Marshal(generateStates(10000, 1))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(body)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var resp models.StatesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReconcileAll10k(b *testing.B) {
	states := generateStates(10000, 1).States
	r := reconcile.New(lookup.DefaultAirports())
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		r.ReconcileAll(states)
	}
}

// BenchmarkCacheStatesPayload measures the compressed cache round trip for
// a full /states/all response.
func BenchmarkCacheStatesPayload(b *testing.B) {
	resp := generateStates(10000, 1)
	c := cache.New(cache.WithSweepInterval(0))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		c.Store("all_states", resp, time.Minute)
		var out models.StatesResponse
		if !c.Retrieve("all_states", &out) {
			b.Fatal("cache miss")
		}
	}
}

func BenchmarkRefreshCycle(b *testing.B) {
	up := newUpstream(b, generateStates(5000, 1))
	_, sched := newPipeline(up.URL)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := sched.Refresh(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentQueries10Workers(b *testing.B) {
	cqb := NewConcurrentQueryBench(b, 10000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cqb.reset()
		cqb.RunConcurrent(10, 100)
	}
}

func BenchmarkConcurrentQueries50Workers(b *testing.B) {
	cqb := NewConcurrentQueryBench(b, 10000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cqb.reset()
		cqb.RunConcurrent(50, 100)
	}
}

// BenchmarkLatencyDistribution reports query latency percentiles.
func BenchmarkLatencyDistribution(b *testing.B) {
	cqb := NewConcurrentQueryBench(b, 50000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cqb.reset()
		stats := cqb.RunConcurrent(20, 500)

		b.ReportMetric(float64(stats.P50.Microseconds()), "p50_us")
		b.ReportMetric(float64(stats.P95.Microseconds()), "p95_us")
		b.ReportMetric(float64(stats.P99.Microseconds()), "p99_us")
		b.ReportMetric(stats.QueriesPerSec, "qps")
	}
}
