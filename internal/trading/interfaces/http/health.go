// Package http 提供交易 API 的 Gin 路由：组合、成交、健康检查与指标。
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/trading-api/internal/trading/application"
)

// HealthHandler 健康与就绪探针
type HealthHandler struct {
	checker *application.HealthChecker
	metrics http.Handler
}

// NewHealthHandler 创建探针处理器，metrics 为 nil 时不注册 /metrics
func NewHealthHandler(checker *application.HealthChecker, metrics http.Handler) *HealthHandler {
	return &HealthHandler{checker: checker, metrics: metrics}
}

// RegisterRoutes 注册路由
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// Health 探测存储与缓存
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.checker.CheckHealth(c.Request.Context())
	if !report.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": report.Detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": report.CheckedAt.Format(time.RFC3339Nano)})
}

// Ready 只探测存储
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.checker.CheckReady(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
