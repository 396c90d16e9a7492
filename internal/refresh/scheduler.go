// Package refresh keeps the published flight set current. A Scheduler polls
// the upstream API on an interval, reconciles the vectors, and hands each
// new snapshot to its subscribers. It also owns the user's tracked flights.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yash/flightwatch/internal/metrics"
	"github.com/yash/flightwatch/internal/notify"
	"github.com/yash/flightwatch/internal/store"
	"github.com/yash/flightwatch/pkg/models"
)

const (
	DefaultInterval = 10 * time.Second

	// TrackedKey is the store key holding the tracked flight IDs.
	TrackedKey = "trackedFlights"

	notifyTimeout = 15 * time.Second

	refreshKey = "refresh"
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrEmptyID is returned by Track for a blank flight ID.
	ErrEmptyID = errors.New("empty flight id")
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Fetcher supplies raw state vectors.
type Fetcher interface {
	FetchAllStates(ctx context.Context) ([]models.StateVector, error)
}

// Reconciler turns vectors into flights.
type Reconciler interface {
	ReconcileAll(vectors []models.StateVector) []models.Flight
}

// Notifier receives tracked-flight subscription changes.
type Notifier interface {
	SubscribeToFlight(ctx context.Context, flightID, icao24, callsign string, types []notify.Type)
	UnsubscribeFromFlight(ctx context.Context, flightID string)
}

// Subscriber is called with every successfully published snapshot. It runs
// on the refreshing goroutine and must not block.
type Subscriber func(Snapshot)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the scheduler's activity.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "refreshing":
		*s = StateRefreshing
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Snapshot is a point-in-time view of the published set.
type Snapshot struct {
	Flights     []models.Flight `json:"flights"`
	State       State           `json:"state"`
	LastError   error           `json:"-"`
	LastRefresh time.Time       `json:"last_refresh"`
}

// Err returns the last error text, or "" after a successful refresh.
func (s Snapshot) Err() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the pause between refresh cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStore persists the tracked set.
func WithStore(st store.Store) Option {
	return func(s *Scheduler) { s.store = st }
}

// WithNotifier forwards Track and Untrack to a notification backend.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithNotificationTypes sets the event types requested on Track.
func WithNotificationTypes(types ...notify.Type) Option {
	return func(s *Scheduler) { s.types = types }
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler is safe for concurrent use.
type Scheduler struct {
	fetcher    Fetcher
	reconciler Reconciler
	interval   time.Duration
	store      store.Store
	notifier   Notifier
	types      []notify.Type
	now        func() time.Time

	group     singleflight.Group
	persistMu sync.Mutex
	notifyWG  sync.WaitGroup

	mu          sync.RWMutex
	flights     []models.Flight
	state       State
	lastErr     error
	lastRefresh time.Time
	tracked     map[string]struct{}
	subscribers []Subscriber
	running     bool
	loopCtx     context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a scheduler and loads the tracked set from the store, if one
// is configured. An unreadable tracked set is logged and starts empty.
func New(fetcher Fetcher, reconciler Reconciler, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:    fetcher,
		reconciler: reconciler,
		interval:   DefaultInterval,
		types:      notify.AllTypes(),
		now:        time.Now,
		tracked:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadTracked()
	return s
}

// Interval returns the pause between refresh cycles.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Subscribe registers fn for every future snapshot.
func (s *Scheduler) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Start begins periodic refresh. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.loopCtx = ctx
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
	return nil
}

// Stop halts the loop and waits for it and any pending notifier calls to
// finish. A refresh whose HTTP call is already in flight completes first;
// rate-gate and backoff waits end immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.loopCtx = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.notifyWG.Wait()
}

// IsRunning returns whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		if s.loopCtx == ctx {
			s.loopCtx = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// waits for the shared refresh even after ctx ends, so Stop
		// returns only once it has been published or failed
		<-s.group.DoChan(refreshKey, s.sharedRefresh)

		timer.Reset(s.interval)
	}
}

// Refresh fetches and publishes a new flight set. Concurrent calls share
// one upstream fetch and all receive its result. The fetch does not run
// under ctx: a caller whose ctx ends gets ctx.Err() while the fetch goes on
// for everyone else. Only Stop cancels it, and then only at a rate-gate or
// backoff wait.
func (s *Scheduler) Refresh(ctx context.Context) error {
	select {
	case res := <-s.group.DoChan(refreshKey, s.sharedRefresh):
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sharedRefresh() (interface{}, error) {
	return nil, s.refresh(s.workContext())
}

// workContext is the loop's context while running, otherwise Background.
func (s *Scheduler) workContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loopCtx != nil {
		return s.loopCtx
	}
	return context.Background()
}

func (s *Scheduler) refresh(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateRefreshing
	s.mu.Unlock()

	start := time.Now()
	vectors, err := s.fetcher.FetchAllStates(ctx)
	metrics.RefreshLatency.ObserveSince(start)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()

		log.Printf("Refresh cancelled: %v", err)
		return err
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.lastErr = err
		s.mu.Unlock()

		metrics.RefreshFailures.Inc()
		log.Printf("Refresh failed, keeping previous set: %v", err)
		return err
	}

	flights := s.reconciler.ReconcileAll(vectors)

	s.mu.Lock()
	s.flights = flights
	s.state = StateIdle
	s.lastErr = nil
	s.lastRefresh = s.now()
	snap := s.snapshotLocked()
	subs := append([]Subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	metrics.Refreshes.Inc()
	metrics.FlightsPublished.Set(float64(len(flights)))

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// Snapshot returns the current published set and refresh status.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// must be called with mu held
func (s *Scheduler) snapshotLocked() Snapshot {
	return Snapshot{
		Flights:     append([]models.Flight(nil), s.flights...),
		State:       s.state,
		LastError:   s.lastErr,
		LastRefresh: s.lastRefresh,
	}
}

// Flight returns the published flight with the given ID.
func (s *Scheduler) Flight(id string) (models.Flight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.flights {
		if f.ID == id {
			return f, true
		}
	}
	return models.Flight{}, false
}

// Search returns published flights whose callsign, ICAO24 address, or
// departure or arrival airport code contains query, case-insensitively. An
// empty query matches everything.
func (s *Scheduler) Search(query string) []models.Flight {
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Flight, 0)
	for _, f := range s.flights {
		if q == "" || matches(f, q) {
			out = append(out, f)
		}
	}
	return out
}

func matches(f models.Flight, q string) bool {
	fields := []string{strings.TrimSpace(f.Callsign), f.ICAO24}
	for _, ap := range []*models.Airport{f.DepartureAirport, f.ArrivalAirport} {
		if ap != nil {
			fields = append(fields, ap.ICAO, ap.IATA)
		}
	}
	for _, v := range fields {
		if v != "" && strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Tracked flights
// ---------------------------------------------------------------------------

// Track adds id to the tracked set, persists the set, and subscribes the
// registered device. Tracking an already tracked id is a no-op. The
// in-memory set is updated even when persisting fails.
func (s *Scheduler) Track(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if _, ok := s.tracked[id]; ok {
		s.mu.Unlock()
		return nil
	}
	s.tracked[id] = struct{}{}
	ids := s.trackedIDsLocked()
	icao24, callsign := s.identityLocked(id)
	s.mu.Unlock()

	err := s.persist(ids)
	s.notifyAsync(func(ctx context.Context, n Notifier) {
		n.SubscribeToFlight(ctx, id, icao24, callsign, s.types)
	})
	return err
}

// Untrack removes id from the tracked set, persists the set, and
// unsubscribes the registered device. Untracking an unknown id is a no-op.
func (s *Scheduler) Untrack(id string) error {
	id = strings.TrimSpace(id)

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if _, ok := s.tracked[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.tracked, id)
	ids := s.trackedIDsLocked()
	s.mu.Unlock()

	err := s.persist(ids)
	s.notifyAsync(func(ctx context.Context, n Notifier) {
		n.UnsubscribeFromFlight(ctx, id)
	})
	return err
}

// IsTracked reports whether id is in the tracked set.
func (s *Scheduler) IsTracked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracked[id]
	return ok
}

// TrackedIDs returns the tracked set, sorted.
func (s *Scheduler) TrackedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedIDsLocked()
}

// TrackedFlights returns the published flights whose ID is tracked.
func (s *Scheduler) TrackedFlights() []models.Flight {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Flight, 0)
	for _, f := range s.flights {
		if _, ok := s.tracked[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

// must be called with mu held
func (s *Scheduler) trackedIDsLocked() []string {
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// identityLocked finds the ICAO24 address and callsign for a flight ID,
// falling back to the address encoded in the ID when the flight is not in
// the published set. Must be called with mu held.
func (s *Scheduler) identityLocked(id string) (string, string) {
	for _, f := range s.flights {
		if f.ID == id {
			return f.ICAO24, f.Callsign
		}
	}
	if i := strings.LastIndex(id, "_"); i > 0 {
		return id[:i], ""
	}
	return id, ""
}

func (s *Scheduler) persist(ids []string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Put(TrackedKey, ids); err != nil {
		log.Printf("Persisting tracked flights failed: %v", err)
		return fmt.Errorf("persisting tracked flights: %w", err)
	}
	return nil
}

func (s *Scheduler) loadTracked() {
	if s.store == nil {
		return
	}
	var ids []string
	ok, err := s.store.Get(TrackedKey, &ids)
	if err != nil {
		log.Printf("Loading tracked flights failed, starting empty: %v", err)
		return
	}
	if !ok {
		return
	}
	for _, id := range ids {
		s.tracked[id] = struct{}{}
	}
	log.Printf("Loaded %d tracked flights", len(ids))
}

func (s *Scheduler) notifyAsync(call func(ctx context.Context, n Notifier)) {
	if s.notifier == nil {
		return
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		call(ctx, s.notifier)
	}()
}
