// trading-api 主程序
// 功能：记录成交、维护用户组合并通过缓存对外提供组合与成交查询
// 架构：Gin + GORM(PostgreSQL) + Redis，成交事件经 outbox 投递到 Kafka
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/trading-api/internal/trading/application"
	"github.com/wyfcoding/trading-api/internal/trading/infrastructure/messaging"
	"github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/postgres"
	rediscache "github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/redis"
	httphandler "github.com/wyfcoding/trading-api/internal/trading/interfaces/http"
	"github.com/wyfcoding/trading-api/internal/trading/svc"
	"github.com/wyfcoding/trading-api/pkg/config"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"github.com/wyfcoding/trading-api/pkg/middleware"
	"github.com/wyfcoding/trading-api/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(svc.LoggerConfig(cfg.Logger)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting trading-api",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 连接存储、缓存与 Kafka
	sc, err := svc.NewServiceContext(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize dependencies", "error", err)
	}

	// 4. 建表
	if err := postgres.Migrate(sc.DB.DB); err != nil {
		logger.Fatal(ctx, "Failed to migrate ledger tables", "error", err)
	}
	if err := messaging.Migrate(sc.DB.DB); err != nil {
		logger.Fatal(ctx, "Failed to migrate outbox table", "error", err)
	}

	// 5. 仓储与 outbox
	var (
		events postgres.EventAppender
		relay  *messaging.Relay
	)
	if sc.Producer != nil {
		outbox := messaging.NewOutbox(sc.DB.DB)
		events = outbox
		relay = messaging.NewRelay(outbox, sc.Producer, sc.Metrics, messaging.RelayConfig{
			Topic:     cfg.Kafka.Topic,
			Interval:  time.Duration(cfg.Kafka.RelayInterval) * time.Millisecond,
			BatchSize: cfg.Kafka.RelayBatchSize,
			Retention: 7 * 24 * time.Hour,
		})
	} else {
		logger.Info(ctx, "Kafka brokers not configured, trade events disabled")
	}
	tradeRepo := postgres.NewTradeRepository(sc.DB.DB, events)
	portfolioRepo := postgres.NewPortfolioRepository(sc.DB.DB)
	portfolioCache := rediscache.NewPortfolioCache(sc.Redis.Client())

	// 6. 应用服务
	portfolioQuery := application.NewPortfolioQuery(portfolioRepo, portfolioCache, sc.Metrics, application.PortfolioQueryConfig{
		TTL:           cfg.Portfolio.TTL(),
		CoalesceReads: cfg.Portfolio.CoalesceReads,
	})
	tradeQuery := application.NewTradeQuery(tradeRepo, cfg.Trades.DefaultLimit, cfg.Trades.MaxLimit)
	tradeCommand := application.NewTradeCommand(tradeRepo, portfolioCache, sc.Metrics, time.Duration(cfg.Trades.WriteTimeout)*time.Second)
	healthChecker := application.NewHealthChecker(sc.DB, sc.Redis, time.Duration(cfg.Health.CheckTimeout)*time.Second)

	// 7. HTTP 服务器
	httpServer := createHTTPServer(cfg, sc, portfolioQuery, tradeQuery, tradeCommand, healthChecker)

	if relay != nil {
		relay.Start(ctx)
	}

	go func() {
		logger.Info(ctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "HTTP server error", "error", err)
		}
	}()

	// 8. 优雅关停：停止接收请求并等待在途请求，再停 relay，最后释放连接
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info(ctx, "Shutting down trading-api", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
	}
	if relay != nil {
		relay.Stop()
	}
	if err := sc.Close(); err != nil {
		logger.Error(ctx, "Failed to close dependencies", "error", err)
	}

	logger.Info(ctx, "trading-api stopped")
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(
	cfg *config.Config,
	sc *svc.ServiceContext,
	portfolioQuery *application.PortfolioQuery,
	tradeQuery *application.TradeQuery,
	tradeCommand *application.TradeCommand,
	healthChecker *application.HealthChecker,
) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := httphandler.RouterOptions{Collector: sc.Metrics}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewRedisLimiter(sc.Redis.Client(), "ratelimit:")
		opts.WriteLimiter = middleware.RateLimitMiddleware(limiter, ratelimit.PerSecond(cfg.RateLimit.QPS, cfg.RateLimit.Burst))
	}

	router := httphandler.NewRouter(
		httphandler.NewTradingHandler(portfolioQuery, tradeQuery, tradeCommand),
		httphandler.NewHealthHandler(healthChecker, sc.Metrics.Handler()),
		opts,
	)

	return &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
