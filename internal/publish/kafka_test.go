package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/flightwatch/internal/metrics"
	"github.com/yash/flightwatch/internal/refresh"
	"github.com/yash/flightwatch/pkg/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func snapshot(ids ...string) refresh.Snapshot {
	snap := refresh.Snapshot{LastRefresh: time.Unix(1700000000, 0).UTC()}
	for _, id := range ids {
		snap.Flights = append(snap.Flights, models.Flight{ID: models.FlightID(id, 1700000000), ICAO24: id})
	}
	return snap
}

func TestPublishKeysByICAO24(t *testing.T) {
	w := &fakeWriter{}
	s := NewSink(w)

	require.NoError(t, s.Publish(context.Background(), snapshot("a12345", "b67890")))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "a12345", string(w.msgs[0].Key))
	assert.Equal(t, "b67890", string(w.msgs[1].Key))

	var ev FlightEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "a12345_1700000000", ev.Flight.ID)
	assert.Equal(t, 2, ev.SnapshotLen)
	assert.EqualValues(t, 2, s.Published())
}

func TestPublishEmptySnapshotWritesNothing(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewSink(w).Publish(context.Background(), snapshot()))
	assert.Equal(t, 0, w.count())
}

func TestPublishFailureIsCounted(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := NewSink(w)

	before := metrics.PublishFailures.Value()
	assert.Error(t, s.Publish(context.Background(), snapshot("a12345")))
	assert.Equal(t, before+1, metrics.PublishFailures.Value())
	assert.EqualValues(t, 0, s.Published())
}

func TestSinkPublishesInBackground(t *testing.T) {
	w := &fakeWriter{}
	s := NewSink(w)
	s.Start(context.Background())

	s.Handle(snapshot("a12345", "b67890", "c11111"))

	assert.Eventually(t, func() bool { return w.count() == 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.True(t, w.closed)
}

func TestHandleNeverBlocks(t *testing.T) {
	s := NewSink(&fakeWriter{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Handle(snapshot("a12345"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked without a running loop")
	}
	assert.Len(t, s.pending, 1)
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"kafka-1:9092", "kafka-2:9092"}, "flight-snapshots")
	assert.Equal(t, "flight-snapshots", w.Topic)
	assert.NotNil(t, w.Addr)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
