// Package config loads flightwatch settings from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/skypies/geo"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds application configuration.
type Config struct {
	// Server
	HTTPAddr string
	HTTPPort int

	// Upstream API
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	MinInterval    time.Duration
	Offline        bool
	BoundingBox    *geo.LatlongBox

	// Response cache
	CacheDefaultTTL    time.Duration
	CacheSweepInterval time.Duration
	StatesTTL          time.Duration
	FlightsTTL         time.Duration
	AirportInfoTTL     time.Duration

	// Refresh loop
	RefreshInterval time.Duration
	EnableRefresh   bool

	// Tracked flights
	StorePath string

	// Downstream fan-out
	NotifierURL  string
	DeviceToken  string
	KafkaBrokers []string
	KafkaTopic   string

	// Runtime limits
	MemoryLimitMB int
	GCPercent     int
	MaxProcs      int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           "0.0.0.0",
		HTTPPort:           8080,
		BaseURL:            "https://opensky-network.org/api",
		RequestTimeout:     30 * time.Second,
		MaxRetries:         3,
		MinInterval:        time.Second,
		CacheDefaultTTL:    5 * time.Minute,
		CacheSweepInterval: time.Minute,
		StatesTTL:          5 * time.Minute,
		FlightsTTL:         10 * time.Minute,
		AirportInfoTTL:     24 * time.Hour,
		RefreshInterval:    10 * time.Second,
		EnableRefresh:      true,
		StorePath:          "flightwatch-store",
		KafkaTopic:         "flight-snapshots",
		MemoryLimitMB:      0,
		GCPercent:          0,
		MaxProcs:           0,
	}
}

// LoadFromEnv overlays environment variables on DefaultConfig. Malformed
// values keep the default.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)

	cfg.BaseURL = getEnv("OPENSKY_BASE_URL", cfg.BaseURL)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.MinInterval = getEnvDuration("MIN_REQUEST_INTERVAL", cfg.MinInterval)
	cfg.Offline = getEnvBool("OFFLINE", cfg.Offline)
	if v := os.Getenv("BOUNDING_BOX"); v != "" {
		box, err := ParseBoundingBox(v)
		if err != nil {
			log.Printf("Ignoring BOUNDING_BOX: %v", err)
		} else {
			cfg.BoundingBox = &box
		}
	}

	cfg.CacheDefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", cfg.CacheDefaultTTL)
	cfg.CacheSweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval)
	cfg.StatesTTL = getEnvDuration("STATES_TTL", cfg.StatesTTL)
	cfg.FlightsTTL = getEnvDuration("FLIGHTS_TTL", cfg.FlightsTTL)
	cfg.AirportInfoTTL = getEnvDuration("AIRPORT_INFO_TTL", cfg.AirportInfoTTL)

	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.EnableRefresh = getEnvBool("ENABLE_REFRESH", cfg.EnableRefresh)

	cfg.StorePath = getEnv("STORE_PATH", cfg.StorePath)

	cfg.NotifierURL = getEnv("NOTIFIER_URL", cfg.NotifierURL)
	cfg.DeviceToken = getEnv("DEVICE_TOKEN", cfg.DeviceToken)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.MemoryLimitMB = getEnvInt("MEMORY_LIMIT_MB", cfg.MemoryLimitMB)
	cfg.GCPercent = getEnvInt("GC_PERCENT", cfg.GCPercent)
	cfg.MaxProcs = getEnvInt("GOMAXPROCS", cfg.MaxProcs)

	return cfg
}

// Validate reports settings the application cannot run with.
func (c Config) Validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("invalid HTTP port %d", c.HTTPPort)
	case c.BaseURL == "" && !c.Offline:
		return fmt.Errorf("base URL required unless offline")
	case c.RefreshInterval <= 0:
		return fmt.Errorf("refresh interval must be positive, got %s", c.RefreshInterval)
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	case len(c.KafkaBrokers) > 0 && c.KafkaTopic == "":
		return fmt.Errorf("kafka topic required when brokers are set")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPAddr, c.HTTPPort)
}

// Apply applies the runtime limits to the process.
func (c Config) Apply() {
	if c.MaxProcs > 0 {
		runtime.GOMAXPROCS(c.MaxProcs)
	}
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}
	if c.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(c.MemoryLimitMB) * 1024 * 1024)
	}
}

// ParseBoundingBox reads "minLat,minLon,maxLat,maxLon".
func ParseBoundingBox(s string) (geo.LatlongBox, error) {
	parts := splitList(s)
	if len(parts) != 4 {
		return geo.LatlongBox{}, fmt.Errorf("bounding box %q: want 4 values, got %d", s, len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return geo.LatlongBox{}, fmt.Errorf("bounding box %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return geo.LatlongBox{}, fmt.Errorf("bounding box %q: min exceeds max", s)
	}

	return geo.LatlongBox{
		SW: geo.Latlong{Lat: v[0], Long: v[1]},
		NE: geo.Latlong{Lat: v[2], Long: v[3]},
	}, nil
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
