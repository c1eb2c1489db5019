package http

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"github.com/wyfcoding/trading-api/pkg/middleware"
)

// RouterOptions 路由可选组件
type RouterOptions struct {
	Collector metrics.Collector
	// 写接口限流中间件，nil 表示不限流
	WriteLimiter gin.HandlerFunc
}

// NewRouter 组装 Gin 引擎与全部路由
func NewRouter(trading *TradingHandler, health *HealthHandler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.GinLoggingMiddleware(),
		middleware.GinRecoveryMiddleware(),
		middleware.GinSecureHeadersMiddleware(),
		middleware.GinCORSMiddleware(),
	)
	if opts.Collector != nil {
		r.Use(middleware.GinMetricsMiddleware(opts.Collector))
	}

	health.RegisterRoutes(r)

	var write []gin.HandlerFunc
	if opts.WriteLimiter != nil {
		write = append(write, opts.WriteLimiter)
	}
	trading.RegisterRoutes(r, write...)
	return r
}
