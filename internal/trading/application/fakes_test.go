package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/memory"
	rediscache "github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/redis"
	"github.com/wyfcoding/trading-api/pkg/metrics"
)

var errBoom = errors.New("boom")

func newRedisCache(t *testing.T) (*rediscache.PortfolioCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.NewPortfolioCache(client), mr
}

// countingRepo 统计回源次数，可选地在首次读取后阻塞
type countingRepo struct {
	*memory.Store
	gets atomic.Int32

	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func newCountingRepo() *countingRepo {
	return &countingRepo{Store: memory.NewStore()}
}

func (r *countingRepo) Get(ctx context.Context, userID string) (*domain.Portfolio, error) {
	r.gets.Add(1)
	p, err := r.Store.Get(ctx, userID)
	if r.release != nil {
		r.once.Do(func() {
			close(r.loaded)
			<-r.release
		})
	}
	return p, err
}

type brokenRepo struct{}

func (brokenRepo) Record(context.Context, *domain.Trade) error { return errBoom }
func (brokenRepo) List(context.Context, int, int) ([]*domain.Trade, int64, error) {
	return nil, 0, errBoom
}
func (brokenRepo) Get(context.Context, string) (*domain.Portfolio, error) { return nil, errBoom }

// brokenCache 所有操作都失败
type brokenCache struct {
	fills atomic.Int32
}

func (c *brokenCache) Lookup(context.Context, string) (*domain.Portfolio, domain.Fence, error) {
	return nil, "", errBoom
}

func (c *brokenCache) Fill(context.Context, *domain.Portfolio, domain.Fence, time.Duration) (bool, error) {
	c.fills.Add(1)
	return false, errBoom
}

func (c *brokenCache) Invalidate(context.Context, string) error { return errBoom }

type recordingCollector struct {
	metrics.Nop
	mu                   sync.Mutex
	lookups              map[string]int
	trades               map[string]int
	invalidationFailures int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{lookups: map[string]int{}, trades: map[string]int{}}
}

func (c *recordingCollector) RecordCacheLookup(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[result]++
}

func (c *recordingCollector) RecordTrade(side string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades[side]++
}

func (c *recordingCollector) RecordCacheInvalidationFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidationFailures++
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type slowPinger struct{}

func (slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
