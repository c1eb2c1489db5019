package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"github.com/wyfcoding/trading-api/pkg/mq"
)

// Producer 消息发送方，由 mq.KafkaProducer 实现
type Producer interface {
	Send(ctx context.Context, topic string, msgs ...mq.Message) error
}

// Dispatcher outbox 的读取与清理，由 Outbox 实现
type Dispatcher interface {
	Dispatch(ctx context.Context, limit int, fn func(context.Context, []OutboxMessage) error) (int, error)
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// RelayConfig 投递配置
type RelayConfig struct {
	Topic     string
	Interval  time.Duration
	BatchSize int
	// 已发送消息保留时长，0 表示不清理
	Retention time.Duration
}

// Relay 周期性地把 outbox 中的待投递事件发送到 Kafka，失败时指数退避
type Relay struct {
	outbox    Dispatcher
	producer  Producer
	collector metrics.Collector
	cfg       RelayConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay 创建投递器
func NewRelay(outbox Dispatcher, producer Producer, collector metrics.Collector, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Relay{
		outbox:    outbox,
		producer:  producer,
		collector: collector,
		cfg:       cfg,
	}
}

// Start 在后台运行投递循环
func (r *Relay) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(ctx)
	}()
}

// Stop 停止投递循环并等待当前批次结束
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run 阻塞运行直到 ctx 结束
func (r *Relay) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Interval
	b.MaxInterval = 30 * time.Second

	var lastCleanup time.Time
	wait := r.cfg.Interval
	logger.Info(ctx, "outbox relay started", "topic", r.cfg.Topic, "interval", r.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "outbox relay stopped")
			return
		case <-time.After(wait):
		}

		n, err := r.Flush(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			wait = b.NextBackOff()
			logger.Warn(ctx, "outbox relay flush failed", "retry_in", wait.String(), "error", err)
			continue
		case n >= r.cfg.BatchSize:
			// 积压时立即继续
			wait = 0
		default:
			wait = r.cfg.Interval
		}
		b.Reset()

		if r.cfg.Retention > 0 && time.Since(lastCleanup) > r.cfg.Retention/4 {
			lastCleanup = time.Now()
			if removed, err := r.outbox.Cleanup(ctx, lastCleanup.Add(-r.cfg.Retention)); err != nil {
				logger.Warn(ctx, "outbox cleanup failed", "error", err)
			} else if removed > 0 {
				logger.Debug(ctx, "outbox cleanup", "removed", removed)
			}
		}
	}
}

// Flush 投递一批消息，返回发送条数
func (r *Relay) Flush(ctx context.Context) (int, error) {
	n, err := r.outbox.Dispatch(ctx, r.cfg.BatchSize, func(ctx context.Context, batch []OutboxMessage) error {
		msgs := make([]mq.Message, len(batch))
		for i := range batch {
			msgs[i] = mq.Message{
				Key:   batch[i].MsgKey,
				Value: []byte(batch[i].Payload),
				Headers: map[string]string{
					"event_id":   batch[i].ID,
					"event_type": batch[i].EventType,
				},
			}
		}
		return r.producer.Send(ctx, r.cfg.Topic, msgs...)
	})
	if err != nil {
		r.collector.RecordOutboxPublish(0, err)
		return 0, err
	}
	if n > 0 {
		r.collector.RecordOutboxPublish(n, nil)
	}
	return n, nil
}
