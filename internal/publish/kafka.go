// Package publish forwards refreshed flight sets to Kafka, one message per
// flight keyed by ICAO24 address.
package publish

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yash/flightwatch/internal/metrics"
	"github.com/yash/flightwatch/internal/refresh"
	"github.com/yash/flightwatch/pkg/models"
)

const (
	writeTimeout = 10 * time.Second
	batchTimeout = 50 * time.Millisecond
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a Kafka writer that hashes on the message key, so every
// update for one aircraft lands on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
}

// FlightEvent is the message value.
type FlightEvent struct {
	Flight      models.Flight `json:"flight"`
	SnapshotAt  time.Time     `json:"snapshot_at"`
	SnapshotLen int           `json:"snapshot_len"`
}

// Sink publishes snapshots in the background. Only the newest pending
// snapshot is kept: a snapshot that arrives while another is being written
// replaces any older one still waiting.
type Sink struct {
	writer MessageWriter

	pending chan refresh.Snapshot
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	published int64
}

// NewSink wraps w.
func NewSink(w MessageWriter) *Sink {
	return &Sink{
		writer:  w,
		pending: make(chan refresh.Snapshot, 1),
	}
}

// Handle queues snap for publishing. It never blocks, so it can be passed
// directly to Scheduler.Subscribe.
func (s *Sink) Handle(snap refresh.Snapshot) {
	for {
		select {
		case s.pending <- snap:
			return
		default:
		}
		// drop the stale snapshot and retry
		select {
		case <-s.pending:
		default:
		}
	}
}

// Start runs the publishing loop until Stop or ctx is done.
func (s *Sink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the loop and closes the writer.
func (s *Sink) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := s.writer.Close(); err != nil {
		log.Printf("Kafka writer close: %v", err)
	}
}

func (s *Sink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.pending:
			if err := s.Publish(ctx, snap); err != nil && ctx.Err() == nil {
				log.Printf("Kafka publish failed (%d flights): %v", len(snap.Flights), err)
			}
		}
	}
}

// Publish writes one message per flight synchronously.
func (s *Sink) Publish(ctx context.Context, snap refresh.Snapshot) error {
	if len(snap.Flights) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(snap.Flights))
	for _, f := range snap.Flights {
		value, err := json.Marshal(FlightEvent{Flight: f, SnapshotAt: snap.LastRefresh, SnapshotLen: len(snap.Flights)})
		if err != nil {
			metrics.PublishFailures.Inc()
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(f.ICAO24),
			Value: value,
			Time:  snap.LastRefresh,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.PublishFailures.Inc()
		return err
	}

	s.mu.Lock()
	s.published += int64(len(msgs))
	s.mu.Unlock()
	return nil
}

// Published returns the number of messages written.
func (s *Sink) Published() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}
