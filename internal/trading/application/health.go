package application

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// 对外暴露的探测失败原因，不包含底层错误细节
var (
	ErrDatabaseUnavailable = errors.New("database unavailable")
	ErrCacheUnavailable    = errors.New("cache unavailable")
)

// HealthReport 探测结果
type HealthReport struct {
	Healthy   bool
	Detail    string
	CheckedAt time.Time
}

// HealthChecker 依赖存活探测，不持有锁
type HealthChecker struct {
	store   domain.Pinger
	cache   domain.Pinger
	timeout time.Duration
}

// NewHealthChecker 构造函数。timeout 为单次探测上限。
func NewHealthChecker(store, cache domain.Pinger, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{store: store, cache: cache, timeout: timeout}
}

// CheckHealth 并行探测存储与缓存
func (h *HealthChecker) CheckHealth(ctx context.Context) HealthReport {
	var storeErr, cacheErr error
	var g errgroup.Group
	g.Go(func() error {
		storeErr = h.ping(ctx, h.store)
		return nil
	})
	g.Go(func() error {
		cacheErr = h.ping(ctx, h.cache)
		return nil
	})
	_ = g.Wait()

	report := HealthReport{Healthy: true, CheckedAt: time.Now().UTC()}
	switch {
	case storeErr != nil:
		logger.Warn(ctx, "health check failed", "dependency", "database", "error", storeErr)
		report.Healthy, report.Detail = false, ErrDatabaseUnavailable.Error()
	case cacheErr != nil:
		logger.Warn(ctx, "health check failed", "dependency", "cache", "error", cacheErr)
		report.Healthy, report.Detail = false, ErrCacheUnavailable.Error()
	}
	return report
}

// CheckReady 只探测存储
func (h *HealthChecker) CheckReady(ctx context.Context) error {
	if err := h.ping(ctx, h.store); err != nil {
		logger.Warn(ctx, "readiness check failed", "dependency", "database", "error", err)
		return ErrDatabaseUnavailable
	}
	return nil
}

func (h *HealthChecker) ping(ctx context.Context, p domain.Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return p.Ping(ctx)
}
