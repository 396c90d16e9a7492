package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/yash/flightwatch/internal/ingestion"
	"github.com/yash/flightwatch/internal/metrics"
	"github.com/yash/flightwatch/internal/refresh"
	"github.com/yash/flightwatch/pkg/models"
)

const (
	defaultAirportWindow = 2 * time.Hour
	maxAirportWindow     = 7 * 24 * time.Hour
)

// ---------------------------------------------------------------------------
// HTTP Server
// ---------------------------------------------------------------------------

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/ready", a.handleReady)
	mux.HandleFunc("/live", a.handleLive)

	mux.HandleFunc("/metrics", a.handleMetrics)

	// API endpoints
	mux.HandleFunc("/api/v1/flights", a.handleFlights)
	mux.HandleFunc("/api/v1/flights/", a.handleFlightByID)
	mux.HandleFunc("/api/v1/tracked", a.handleTracked)
	mux.HandleFunc("/api/v1/refresh", a.handleRefresh)
	mux.HandleFunc("/api/v1/airports", a.handleAirports)
	mux.HandleFunc("/api/v1/airports/", a.handleAirport)
	mux.HandleFunc("/api/v1/stats", a.handleStats)

	// Live updates
	mux.Handle("/ws", a.hub)

	return a.metricsMiddleware(mux)
}

func (a *App) startHTTPServer() {
	addr := a.config.Addr()
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := a.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
}

func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequests.Inc()

		next.ServeHTTP(w, r)

		metrics.HTTPLatency.ObserveSince(start)
	})
}

// ---------------------------------------------------------------------------
// Health Handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := a.scheduler.Snapshot()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.startTime).String(),
		"offline":   a.config.Offline,
	}
	if err := snap.Err(); err != "" {
		health["last_error"] = err
	}

	if !a.ready.Load() {
		health["status"] = "starting"
		respondJSONStatus(w, http.StatusServiceUnavailable, health)
		return
	}
	respondJSON(w, health)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(metrics.Default().Export()))
}

// ---------------------------------------------------------------------------
// Flight Handlers
// ---------------------------------------------------------------------------

func (a *App) handleFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	snap := a.scheduler.Snapshot()
	flights := snap.Flights
	if q := r.URL.Query().Get("q"); q != "" {
		flights = a.scheduler.Search(q)
	}
	if flights == nil {
		flights = []models.Flight{}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(flights) {
			flights = flights[:n]
		}
	}

	resp := map[string]interface{}{
		"flights":      flights,
		"count":        len(flights),
		"state":        snap.State,
		"last_refresh": snap.LastRefresh,
	}
	if err := snap.Err(); err != "" {
		resp["last_error"] = err
	}
	respondJSON(w, resp)
}

type flightDetail struct {
	models.Flight
	DisplayCallsign string `json:"display_callsign"`
	Route           string `json:"route,omitempty"`
	ConfidenceLevel string `json:"confidence_level,omitempty"`
	Tracked         bool   `json:"tracked"`
}

func (a *App) handleFlightByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/flights/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "flight ID required")
		return
	}

	f, ok := a.scheduler.Flight(id)
	if !ok {
		respondError(w, http.StatusNotFound, "flight not found")
		return
	}

	// Route data is best effort; the live vector is still useful without it.
	records, err := a.client.FetchStatesForAircraft(r.Context(), f.ICAO24)
	if err != nil {
		log.Printf("Route lookup for %s failed: %v", f.ICAO24, err)
	} else {
		f = a.reconciler.EnrichRoute(f, records)
	}

	detail := flightDetail{
		Flight:          f,
		DisplayCallsign: f.DisplayCallsign(),
		Tracked:         a.scheduler.IsTracked(f.ID),
	}
	if route, ok := f.Route(); ok {
		detail.Route = route
	}
	if f.DelayConfidence != nil {
		detail.ConfidenceLevel = f.DelayConfidence.ConfidenceLevel()
	}
	respondJSON(w, detail)
}

func (a *App) handleTracked(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, map[string]interface{}{
			"tracked": a.scheduler.TrackedIDs(),
			"flights": a.scheduler.TrackedFlights(),
		})

	case http.MethodPost, http.MethodDelete:
		id := r.URL.Query().Get("id")
		var err error
		if r.Method == http.MethodPost {
			err = a.scheduler.Track(id)
		} else {
			err = a.scheduler.Untrack(id)
		}
		switch {
		case errors.Is(err, refresh.ErrEmptyID):
			respondError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			// The in-memory set changed; only persistence failed.
			log.Printf("Tracked flights: %v", err)
			respondJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   err.Error(),
				"tracked": a.scheduler.TrackedIDs(),
			})
			return
		}
		respondJSON(w, map[string]interface{}{"tracked": a.scheduler.TrackedIDs()})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := a.scheduler.Refresh(r.Context()); err != nil {
		respondError(w, upstreamStatus(err), err.Error())
		return
	}

	snap := a.scheduler.Snapshot()
	respondJSON(w, map[string]interface{}{
		"count":        len(snap.Flights),
		"last_refresh": snap.LastRefresh,
	})
}

// ---------------------------------------------------------------------------
// Airport Handlers
// ---------------------------------------------------------------------------

func (a *App) handleAirports(w http.ResponseWriter, r *http.Request) {
	results := a.airports.All()
	if q := r.URL.Query().Get("q"); q != "" {
		results = a.airports.Search(q)
	}
	a.setAirportCache(w)
	respondJSON(w, map[string]interface{}{
		"airports": results,
		"count":    len(results),
	})
}

// handleAirport serves /api/v1/airports/{icao}[/arrivals|/departures].
func (a *App) handleAirport(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/airports/"), "/"), "/")
	code := strings.ToUpper(parts[0])
	if code == "" || len(parts) > 2 {
		respondError(w, http.StatusBadRequest, "airport code required")
		return
	}

	ap, ok := a.airports.Airport(code)
	if !ok {
		ap, ok = a.airports.AirportByIATA(code)
	}
	if !ok {
		respondError(w, http.StatusNotFound, "airport not found")
		return
	}

	if len(parts) == 1 {
		a.setAirportCache(w)
		respondJSON(w, ap)
		return
	}

	window, err := airportWindow(r, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []models.FlightRecord
	switch parts[1] {
	case "arrivals":
		records, err = a.client.FetchArrivals(r.Context(), ap.ICAO, window)
	case "departures":
		records, err = a.client.FetchDepartures(r.Context(), ap.ICAO, window)
	default:
		respondError(w, http.StatusNotFound, "unknown airport resource")
		return
	}
	if err != nil {
		respondError(w, upstreamStatus(err), err.Error())
		return
	}
	if records == nil {
		records = []models.FlightRecord{}
	}

	respondJSON(w, map[string]interface{}{
		"airport": ap.ICAO,
		"begin":   window.Begin.UTC(),
		"end":     window.End.UTC(),
		"flights": records,
		"count":   len(records),
	})
}

func (a *App) setAirportCache(w http.ResponseWriter) {
	if ttl := a.config.AirportInfoTTL; ttl > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	}
}

// airportWindow reads ?hours=N (default 2, at most a week) ending at now.
func airportWindow(r *http.Request, now time.Time) (ingestion.Window, error) {
	span := defaultAirportWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return ingestion.Window{}, fmt.Errorf("invalid hours %q", v)
		}
		span = time.Duration(n) * time.Hour
		if span > maxAirportWindow {
			span = maxAirportWindow
		}
	}
	return ingestion.Window{Begin: now.Add(-span), End: now}, nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := a.scheduler.Snapshot()

	stats := map[string]interface{}{
		"refresh": map[string]interface{}{
			"state":        snap.State,
			"running":      a.scheduler.IsRunning(),
			"interval":     a.scheduler.Interval().String(),
			"flights":      len(snap.Flights),
			"last_refresh": snap.LastRefresh,
			"last_error":   snap.Err(),
			"tracked":      len(a.scheduler.TrackedIDs()),
		},
		"upstream": map[string]interface{}{
			"offline":  a.client.Offline(),
			"requests": metrics.UpstreamRequests.Value(),
			"retries":  metrics.UpstreamRetries.Value(),
			"errors":   metrics.UpstreamErrors.Value(),
		},
		"cache":  a.cache.Stats(),
		"stream": map[string]interface{}{"clients": a.hub.Clients()},
		"memory": map[string]interface{}{
			"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
			"heap_alloc_mb": float64(memStats.HeapAlloc) / 1024 / 1024,
			"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
			"gc_runs":       memStats.NumGC,
		},
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"gomaxprocs": runtime.GOMAXPROCS(0),
			"uptime":     time.Since(a.startTime).String(),
		},
	}

	if a.sink != nil {
		stats["publish"] = map[string]interface{}{
			"topic":     a.config.KafkaTopic,
			"published": a.sink.Published(),
			"failures":  metrics.PublishFailures.Value(),
		}
	}
	if a.memory != nil {
		stats["memory"].(map[string]interface{})["pressure"] = a.memory.Stats()
	}

	respondJSON(w, stats)
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// upstreamStatus maps client errors onto HTTP statuses.
func upstreamStatus(err error) int {
	var netErr *ingestion.NetworkError
	switch {
	case errors.Is(err, ingestion.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.As(err, &netErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSONStatus(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
