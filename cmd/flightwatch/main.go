package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/yash/flightwatch/internal/cache"
	"github.com/yash/flightwatch/internal/config"
	"github.com/yash/flightwatch/internal/ingestion"
	"github.com/yash/flightwatch/internal/lookup"
	"github.com/yash/flightwatch/internal/memwatch"
	"github.com/yash/flightwatch/internal/notify"
	"github.com/yash/flightwatch/internal/publish"
	"github.com/yash/flightwatch/internal/reconcile"
	"github.com/yash/flightwatch/internal/refresh"
	"github.com/yash/flightwatch/internal/store"
	"github.com/yash/flightwatch/internal/stream"
)

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App holds all application components.
type App struct {
	config     config.Config
	cache      *cache.Cache
	client     *ingestion.Client
	airports   *lookup.Airports
	reconciler *reconcile.Reconciler
	scheduler  *refresh.Scheduler
	notifier   *notify.Client
	sink       *publish.Sink
	hub        *stream.Hub
	memory     *memwatch.Monitor
	server     *http.Server

	startTime time.Time
	ready     atomic.Bool
}

// NewApp wires the component graph from cfg.
func NewApp(cfg config.Config) (*App, error) {
	rc := cache.New(
		cache.WithDefaultTTL(cfg.CacheDefaultTTL),
		cache.WithSweepInterval(cfg.CacheSweepInterval),
	)

	clientOpts := []ingestion.ClientOption{
		ingestion.WithBaseURL(cfg.BaseURL),
		ingestion.WithTimeout(cfg.RequestTimeout),
		ingestion.WithMaxRetries(cfg.MaxRetries),
		ingestion.WithMinInterval(cfg.MinInterval),
		ingestion.WithTTLs(cfg.StatesTTL, cfg.FlightsTTL),
		ingestion.WithCache(rc),
	}
	if cfg.BoundingBox != nil {
		clientOpts = append(clientOpts, ingestion.WithBoundingBox(*cfg.BoundingBox))
	}
	if cfg.Offline {
		states, flights, err := ingestion.LoadFixtures()
		if err != nil {
			return nil, fmt.Errorf("loading offline fixtures: %w", err)
		}
		clientOpts = append(clientOpts, ingestion.WithOfflineStates(states, flights))
		log.Printf("Offline mode: serving %d bundled state vectors", len(states.States))
	}
	client := ingestion.NewClient(clientOpts...)

	airports := lookup.DefaultAirports()
	reconciler := reconcile.New(airports)

	var st store.Store
	if cfg.StorePath == "" {
		st = store.NewMemoryStore()
		log.Println("Tracked flights: in-memory only (STORE_PATH empty)")
	} else {
		fs, err := store.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		st = fs
	}

	schedOpts := []refresh.Option{
		refresh.WithInterval(cfg.RefreshInterval),
		refresh.WithStore(st),
	}

	app := &App{
		config:     cfg,
		cache:      rc,
		client:     client,
		airports:   airports,
		reconciler: reconciler,
		hub:        stream.NewHub(),
		startTime:  time.Now(),
	}

	if cfg.NotifierURL != "" {
		app.notifier = notify.New(cfg.NotifierURL)
		schedOpts = append(schedOpts, refresh.WithNotifier(app.notifier))
	}

	app.scheduler = refresh.New(client, reconciler, schedOpts...)
	app.scheduler.Subscribe(app.hub.Broadcast)

	if len(cfg.KafkaBrokers) > 0 {
		app.sink = publish.NewSink(publish.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		app.scheduler.Subscribe(app.sink.Handle)
		log.Printf("Kafka publishing enabled: brokers=%v topic=%s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	if cfg.MemoryLimitMB > 0 {
		app.memory = memwatch.New(cfg.MemoryLimitMB)
		app.memory.AddListener(memwatch.Relieve(rc))
	}

	return app, nil
}

// Run starts the application and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	log.Println("Flightwatch starting...")
	log.Printf("Configuration: addr=%s refresh=%s offline=%v", a.config.Addr(), a.config.RefreshInterval, a.config.Offline)

	a.cache.Start(ctx)
	if a.memory != nil {
		a.memory.Start(ctx)
	}
	if a.sink != nil {
		a.sink.Start(ctx)
	}
	if a.notifier != nil && a.config.DeviceToken != "" {
		a.notifier.RegisterDevice(ctx, a.config.DeviceToken)
	}

	a.startHTTPServer()

	log.Println("Fetching initial flight data...")
	if err := a.scheduler.Refresh(ctx); err != nil {
		log.Printf("Initial fetch failed: %v", err)
	} else {
		log.Printf("Published %d flights", len(a.scheduler.Snapshot().Flights))
	}

	a.ready.Store(true)
	log.Printf("Flightwatch ready. Tracking %d flights", len(a.scheduler.TrackedIDs()))

	if a.config.EnableRefresh {
		log.Println("Starting periodic refresh...")
		if err := a.scheduler.Start(ctx); err != nil {
			log.Printf("Failed to start refresh: %v", err)
		}
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	a.ready.Store(false)

	a.scheduler.Stop()
	if a.sink != nil {
		a.sink.Stop()
	}
	if a.memory != nil {
		a.memory.Stop()
	}
	a.cache.Stop()
	a.hub.Close()

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	log.Println("Flightwatch stopped")
	return nil
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	cfg.Apply()

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	if err := app.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
