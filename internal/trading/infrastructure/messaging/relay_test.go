package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"github.com/wyfcoding/trading-api/pkg/mq"
)

type fakeOutbox struct {
	mu      sync.Mutex
	pending []OutboxMessage
	sent    []OutboxMessage
}

func (f *fakeOutbox) Dispatch(ctx context.Context, limit int, fn func(context.Context, []OutboxMessage) error) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	if n == 0 {
		return 0, nil
	}
	batch := append([]OutboxMessage(nil), f.pending[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	f.sent = append(f.sent, batch...)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeOutbox) Cleanup(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeOutbox) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), len(f.sent)
}

type fakeProducer struct {
	mu       sync.Mutex
	failures int
	topics   []string
	msgs     []mq.Message
}

func (p *fakeProducer) Send(_ context.Context, topic string, msgs ...mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msgs...)
	return nil
}

type countingCollector struct {
	metrics.Nop
	mu        sync.Mutex
	published int
	failures  int
}

func (c *countingCollector) RecordOutboxPublish(count int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures++
		return
	}
	c.published += count
}

func pending(n int) []OutboxMessage {
	out := make([]OutboxMessage, n)
	for i := range out {
		out[i] = OutboxMessage{
			ID:        string(rune('a' + i)),
			EventType: "trade.recorded",
			MsgKey:    "u1",
			Payload:   `{"trade_id":1}`,
			Status:    StatusPending,
		}
	}
	return out
}

func TestRelayFlushPublishesBatch(t *testing.T) {
	outbox := &fakeOutbox{pending: pending(3)}
	producer := &fakeProducer{}
	collector := &countingCollector{}
	relay := NewRelay(outbox, producer, collector, RelayConfig{Topic: "trading.trades", BatchSize: 2})

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, producer.msgs, 2)
	assert.Equal(t, []string{"trading.trades"}, producer.topics)
	assert.Equal(t, "u1", producer.msgs[0].Key)
	assert.Equal(t, "trade.recorded", producer.msgs[0].Headers["event_type"])
	assert.Equal(t, "a", producer.msgs[0].Headers["event_id"])
	assert.Equal(t, 2, collector.published)

	left, sent := outbox.counts()
	assert.Equal(t, 1, left)
	assert.Equal(t, 2, sent)
}

func TestRelayFlushKeepsMessagesOnFailure(t *testing.T) {
	outbox := &fakeOutbox{pending: pending(2)}
	collector := &countingCollector{}
	relay := NewRelay(outbox, &fakeProducer{failures: 1}, collector, RelayConfig{Topic: "trading.trades"})

	_, err := relay.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, collector.failures)

	left, _ := outbox.counts()
	assert.Equal(t, 2, left)
}

func TestRelayRunRetriesUntilDrained(t *testing.T) {
	outbox := &fakeOutbox{pending: pending(5)}
	producer := &fakeProducer{failures: 2}
	relay := NewRelay(outbox, producer, nil, RelayConfig{
		Topic:     "trading.trades",
		Interval:  5 * time.Millisecond,
		BatchSize: 2,
	})

	relay.Start(context.Background())
	assert.Eventually(t, func() bool {
		left, sent := outbox.counts()
		return left == 0 && sent == 5
	}, 5*time.Second, 10*time.Millisecond)

	relay.Stop()
	relay.Stop()
}
