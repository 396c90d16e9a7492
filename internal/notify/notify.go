// Package notify forwards tracked-flight subscriptions to the push
// notification backend. Delivery is best effort: failures are logged and
// counted, never returned.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yash/flightwatch/internal/metrics"
)

// Type is a kind of flight event a device can subscribe to.
type Type string

const (
	TypeDeparture Type = "departure"
	TypeArrival   Type = "arrival"
	TypeDelay     Type = "delay"
	TypeGate      Type = "gate"
	TypeBoarding  Type = "boarding"
	TypeStatus    Type = "status"
)

// AllTypes returns every notification type.
func AllTypes() []Type {
	return []Type{TypeDeparture, TypeArrival, TypeDelay, TypeGate, TypeBoarding, TypeStatus}
}

const (
	defaultTimeout  = 10 * time.Second
	defaultPlatform = "server"
	requestIDHeader = "X-Request-ID"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPlatform sets the platform reported on device registration.
func WithPlatform(p string) Option {
	return func(c *Client) { c.platform = p }
}

// Client talks to the notification backend over HTTP POST with JSON
// bodies. A device must be registered before subscriptions are sent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	platform   string

	mu          sync.RWMutex
	deviceToken string
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		platform:   defaultPlatform,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceToken returns the registered token, or "" before registration.
func (c *Client) DeviceToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceToken
}

type registerRequest struct {
	DeviceToken string `json:"deviceToken"`
	Platform    string `json:"platform"`
}

type subscribeRequest struct {
	DeviceToken       string `json:"deviceToken"`
	FlightID          string `json:"flightId"`
	ICAO24            string `json:"icao24"`
	Callsign          string `json:"callsign"`
	NotificationTypes []Type `json:"notificationTypes"`
}

type unsubscribeRequest struct {
	DeviceToken string `json:"deviceToken"`
	FlightID    string `json:"flightId"`
}

// RegisterDevice stores token for later subscriptions and announces it to
// the backend. The token is kept even if the announcement fails.
func (c *Client) RegisterDevice(ctx context.Context, token string) {
	c.mu.Lock()
	c.deviceToken = token
	c.mu.Unlock()

	if c.post(ctx, "/register-device", registerRequest{DeviceToken: token, Platform: c.platform}) {
		log.Printf("Notifier: device registered (platform=%s)", c.platform)
	}
}

// SubscribeToFlight asks the backend to push the given event types for a
// flight. Skipped when no device is registered.
func (c *Client) SubscribeToFlight(ctx context.Context, flightID, icao24, callsign string, types []Type) {
	token := c.DeviceToken()
	if token == "" {
		log.Printf("Notifier: no device token, skipping subscribe for %s", flightID)
		return
	}
	if types == nil {
		types = []Type{}
	}

	body := subscribeRequest{
		DeviceToken:       token,
		FlightID:          flightID,
		ICAO24:            icao24,
		Callsign:          strings.TrimSpace(callsign),
		NotificationTypes: types,
	}
	if c.post(ctx, "/subscribe", body) {
		log.Printf("Notifier: subscribed to %s (%d types)", flightID, len(types))
	}
}

// UnsubscribeFromFlight cancels pushes for a flight. Skipped when no
// device is registered.
func (c *Client) UnsubscribeFromFlight(ctx context.Context, flightID string) {
	token := c.DeviceToken()
	if token == "" {
		log.Printf("Notifier: no device token, skipping unsubscribe for %s", flightID)
		return
	}
	if c.post(ctx, "/unsubscribe", unsubscribeRequest{DeviceToken: token, FlightID: flightID}) {
		log.Printf("Notifier: unsubscribed from %s", flightID)
	}
}

// post reports whether the backend answered 200.
func (c *Client) post(ctx context.Context, path string, body interface{}) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		c.fail(path, "", err)
		return false
	}

	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.fail(path, reqID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail(path, reqID, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		metrics.NotifierFailures.Inc()
		log.Printf("Notifier %s: HTTP %d (request %s)", path, resp.StatusCode, reqID)
		return false
	}
	return true
}

func (c *Client) fail(path, reqID string, err error) {
	metrics.NotifierFailures.Inc()
	log.Printf("Notifier %s failed (request %s): %v", path, reqID, err)
}
