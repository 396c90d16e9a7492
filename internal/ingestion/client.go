package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skypies/geo"

	"github.com/yash/flightwatch/internal/cache"
	"github.com/yash/flightwatch/internal/metrics"
	"github.com/yash/flightwatch/pkg/models"
)

const (
	DefaultBaseURL = "https://opensky-network.org/api"

	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	DefaultStatesTTL  = 5 * time.Minute
	DefaultFlightsTTL = 10 * time.Minute

	// Per-aircraft history window ending now.
	aircraftWindow = 24 * time.Hour

	// Connection pool settings
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	statesCacheKey       = "all_states"
	flightsCacheKeyStem  = "flights_"
	maxErrorBodyLogBytes = 256
)

// Window is a closed time range for the /flights endpoints.
type Window struct {
	Begin time.Time
	End   time.Time
}

func (w Window) valid() bool {
	return !w.Begin.IsZero() && !w.End.IsZero() && !w.End.Before(w.Begin)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Timeout takes precedence
// over WithTimeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.customHTTP = true
	}
}

// WithBaseURL overrides the API endpoint (useful for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCache shares a response cache with other components.
func WithCache(rc *cache.Cache) ClientOption {
	return func(c *Client) { c.cache = rc }
}

// WithRateLimiter replaces the request gate.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = rl }
}

// WithMinInterval sets request spacing on a fresh gate.
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.limiter = NewRateLimiter(d) }
}

// WithBackoff replaces the retry policy. Its MaxAttempts takes precedence
// over WithMaxRetries.
func WithBackoff(b *BackoffPolicy) ClientOption {
	return func(c *Client) {
		c.backoff = b
		c.customBackoff = true
	}
}

// WithMaxRetries sets how many times a retryable failure is retried by the
// default policy.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTTLs overrides the cache lifetimes for /states/all and per-aircraft
// responses. Zero keeps the current value.
func WithTTLs(states, flights time.Duration) ClientOption {
	return func(c *Client) {
		if states > 0 {
			c.statesTTL = states
		}
		if flights > 0 {
			c.flightsTTL = flights
		}
	}
}

// WithOfflineStates serves fixtures instead of calling the network. A nil
// fixture makes every fetch fail with ErrNoData.
func WithOfflineStates(states *models.StatesResponse, flights []models.FlightRecord) ClientOption {
	return func(c *Client) {
		c.offline = true
		c.offlineStates = states
		c.offlineFlights = flights
	}
}

// WithBoundingBox restricts /states/all to an area.
func WithBoundingBox(box geo.LatlongBox) ClientOption {
	return func(c *Client) { c.bbox = &box }
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// ---------------------------------------------------------------------------
// Client with Connection Pooling
// ---------------------------------------------------------------------------

// Client fetches flight data from the OpenSky Network API. Every request
// passes through one rate gate and one retry policy; successful state and
// per-aircraft responses are cached.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *RateLimiter
	backoff    *BackoffPolicy

	statesTTL  time.Duration
	flightsTTL time.Duration
	bbox       *geo.LatlongBox
	now        func() time.Time

	offline        bool
	offlineStates  *models.StatesResponse
	offlineFlights []models.FlightRecord

	// applied after every option has run
	timeout       time.Duration
	maxRetries    int
	customHTTP    bool
	customBackoff bool
}

// NewClient creates an OpenSky API client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		limiter:    NewRateLimiter(DefaultMinInterval),
		backoff:    NewBackoffPolicy(DefaultMaxRetries),
		statesTTL:  DefaultStatesTTL,
		flightsTTL: DefaultFlightsTTL,
		now:        time.Now,
		maxRetries: -1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.timeout > 0 && !c.customHTTP {
		c.httpClient.Timeout = c.timeout
	}
	if c.maxRetries >= 0 && !c.customBackoff {
		c.backoff.MaxAttempts = c.maxRetries
	}

	if c.cache == nil {
		c.cache = cache.New(cache.WithSweepInterval(0))
	}
	return c
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Offline reports whether the client serves fixtures.
func (c *Client) Offline() bool {
	return c.offline
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// FetchAllStates returns the current state vectors, from cache when fresh.
func (c *Client) FetchAllStates(ctx context.Context) ([]models.StateVector, error) {
	if c.offline {
		return c.offlineAllStates()
	}

	var cached models.StatesResponse
	if c.cache.Retrieve(statesCacheKey, &cached) {
		return cached.States, nil
	}

	var query url.Values
	if c.bbox != nil {
		query = url.Values{
			"lamin": {formatCoord(c.bbox.SW.Lat)},
			"lomin": {formatCoord(c.bbox.SW.Long)},
			"lamax": {formatCoord(c.bbox.NE.Lat)},
			"lomax": {formatCoord(c.bbox.NE.Long)},
		}
	}

	var resp models.StatesResponse
	if err := c.get(ctx, "/states/all", query, &resp); err != nil {
		return nil, err
	}

	c.cache.Store(statesCacheKey, resp, c.statesTTL)
	return resp.States, nil
}

// FetchStatesForAircraft returns the last 24 hours of flights for one
// aircraft, from cache when fresh.
func (c *Client) FetchStatesForAircraft(ctx context.Context, icao24 string) ([]models.FlightRecord, error) {
	icao24 = strings.ToLower(strings.TrimSpace(icao24))
	if icao24 == "" {
		return nil, fmt.Errorf("%w: empty icao24", ErrInvalidRequest)
	}
	if c.offline {
		return c.offlineFlightRecords()
	}

	key := flightsCacheKeyStem + icao24
	var cached []models.FlightRecord
	if c.cache.Retrieve(key, &cached) {
		return cached, nil
	}

	end := c.now()
	query := windowQuery(Window{Begin: end.Add(-aircraftWindow), End: end})
	query.Set("icao24", icao24)

	var records []models.FlightRecord
	if err := c.get(ctx, "/flights/aircraft", query, &records); err != nil {
		return nil, err
	}

	c.cache.Store(key, records, c.flightsTTL)
	return records, nil
}

// FetchArrivals returns flights that arrived at airport within w. Never
// cached.
func (c *Client) FetchArrivals(ctx context.Context, airport string, w Window) ([]models.FlightRecord, error) {
	return c.fetchAirport(ctx, "/flights/arrival", airport, w)
}

// FetchDepartures returns flights that departed airport within w. Never
// cached.
func (c *Client) FetchDepartures(ctx context.Context, airport string, w Window) ([]models.FlightRecord, error) {
	return c.fetchAirport(ctx, "/flights/departure", airport, w)
}

func (c *Client) fetchAirport(ctx context.Context, endpoint, airport string, w Window) ([]models.FlightRecord, error) {
	airport = strings.ToUpper(strings.TrimSpace(airport))
	if airport == "" {
		return nil, fmt.Errorf("%w: empty airport", ErrInvalidRequest)
	}
	if !w.valid() {
		return nil, fmt.Errorf("%w: window %v..%v", ErrInvalidRequest, w.Begin, w.End)
	}
	if c.offline {
		return c.offlineFlightRecords()
	}

	query := windowQuery(w)
	query.Set("airport", airport)

	var records []models.FlightRecord
	if err := c.get(ctx, endpoint, query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) offlineAllStates() ([]models.StateVector, error) {
	if c.offlineStates == nil {
		return nil, ErrNoData
	}
	if c.bbox == nil {
		return c.offlineStates.States, nil
	}

	out := make([]models.StateVector, 0, len(c.offlineStates.States))
	for _, sv := range c.offlineStates.States {
		if sv.Latitude == nil || sv.Longitude == nil {
			continue
		}
		if c.bbox.Contains(geo.Latlong{Lat: *sv.Latitude, Long: *sv.Longitude}) {
			out = append(out, sv)
		}
	}
	return out, nil
}

func (c *Client) offlineFlightRecords() ([]models.FlightRecord, error) {
	if c.offlineFlights == nil {
		return nil, ErrNoData
	}
	return c.offlineFlights, nil
}

// ---------------------------------------------------------------------------
// Request loop
// ---------------------------------------------------------------------------

// get issues a GET and decodes a 200 body into dest. 429, 5xx and transport
// failures are retried under the backoff policy; everything else is
// terminal on first sight.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, dest interface{}) error {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s%s", ErrInvalidRequest, c.baseURL, endpoint)
	}
	u.RawQuery = query.Encode()
	target := u.String()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, body, err := c.do(ctx, target)

		var failure error
		switch {
		case err != nil:
			failure = &NetworkError{Err: err}
		case status == http.StatusOK:
			if err := json.Unmarshal(body, dest); err != nil {
				metrics.UpstreamErrors.Inc()
				return &DecodingError{Endpoint: endpoint, Err: err}
			}
			return nil
		case status == http.StatusTooManyRequests:
			failure = ErrRateLimitExceeded
		default:
			failure = &UpstreamError{StatusCode: status}
		}

		if !IsRetryable(failure) {
			metrics.UpstreamErrors.Inc()
			log.Printf("Upstream %s: HTTP %d: %s", endpoint, status, truncate(body, maxErrorBodyLogBytes))
			return failure
		}

		if !c.backoff.CanRetry(attempt) {
			metrics.UpstreamErrors.Inc()
			return failure
		}

		metrics.UpstreamRetries.Inc()
		log.Printf("Upstream %s: attempt %d failed (%v), backing off", endpoint, attempt+1, failure)
		if err := c.backoff.Sleep(ctx, attempt); err != nil {
			return err
		}
	}
}

// do runs one request to completion even if ctx is cancelled meanwhile;
// the HTTP client timeout bounds it.
func (c *Client) do(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	metrics.UpstreamRequests.Inc()
	start := time.Now()
	defer metrics.UpstreamLatency.ObserveSince(start)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func windowQuery(w Window) url.Values {
	return url.Values{
		"begin": {strconv.FormatInt(w.Begin.Unix(), 10)},
		"end":   {strconv.FormatInt(w.End.Unix(), 10)},
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// IsRetryable reports whether err is one the client would have retried
// had attempts remained.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	var ne *NetworkError
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return true
	case errors.As(err, &ue):
		return IsRetryableStatus(ue.StatusCode)
	case errors.As(err, &ne):
		return true
	}
	return false
}
