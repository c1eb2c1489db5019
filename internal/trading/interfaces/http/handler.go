package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/trading-api/internal/trading/application"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/pkg/logger"
)

const (
	msgInternal       = "Internal server error"
	msgMissingFields  = "Missing required fields"
	msgInvalidTrade   = "Invalid trade"
	msgInvalidPaging  = "Invalid paging parameters"
	paramUserID       = "user_id"
	queryLimit        = "limit"
	queryOffset       = "offset"
	headerTotalTrades = "X-Total-Count"
)

// TradingHandler 成交与组合的 HTTP 处理器
type TradingHandler struct {
	portfolios *application.PortfolioQuery
	trades     *application.TradeQuery
	commands   *application.TradeCommand
}

// NewTradingHandler 创建 HTTP 处理器
func NewTradingHandler(portfolios *application.PortfolioQuery, trades *application.TradeQuery, commands *application.TradeCommand) *TradingHandler {
	return &TradingHandler{
		portfolios: portfolios,
		trades:     trades,
		commands:   commands,
	}
}

// RegisterRoutes 注册路由，writeMiddleware 只作用于写接口
func (h *TradingHandler) RegisterRoutes(router gin.IRouter, writeMiddleware ...gin.HandlerFunc) {
	api := router.Group("/api")
	{
		api.GET("/portfolio/:user_id", h.GetPortfolio)
		api.GET("/trades", h.ListTrades)
		api.POST("/trade", append(writeMiddleware, h.RecordTrade)...)
	}
}

// GetPortfolio 获取用户组合
func (h *TradingHandler) GetPortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param(paramUserID)

	portfolio, err := h.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		logger.Error(ctx, "Failed to get portfolio", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}
	c.JSON(http.StatusOK, toPortfolioResponse(portfolio))
}

// ListTrades 分页获取成交历史
func (h *TradingHandler) ListTrades(c *gin.Context) {
	ctx := c.Request.Context()

	limit, ok := intQuery(c, queryLimit)
	if !ok {
		return
	}
	offset, ok := intQuery(c, queryOffset)
	if !ok {
		return
	}

	page, err := h.trades.ListTrades(ctx, limit, offset)
	if err != nil {
		if errors.Is(err, application.ErrInvalidPaging) {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidPaging})
			return
		}
		logger.Error(ctx, "Failed to list trades", "limit", limit, "offset", offset, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}
	c.Header(headerTotalTrades, strconv.FormatInt(page.Total, 10))
	c.JSON(http.StatusOK, toTradePageResponse(page))
}

// RecordTrade 写入一笔成交
func (h *TradingHandler) RecordTrade(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.TradeCandidate
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingFields})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidTrade, "detail": "malformed request body"})
		return
	}

	trade, err := h.commands.RecordTrade(ctx, req)
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingFields})
	case errors.Is(err, domain.ErrInvalidTrade):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidTrade, "detail": err.Error()})
	case err != nil:
		logger.Error(ctx, "Failed to record trade", "user_id", req.UserID, "symbol", req.Symbol, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	default:
		c.JSON(http.StatusCreated, toTradeResponse(trade))
	}
}

// intQuery 读取非负整数查询参数，缺省为 0；非法时直接写 400
func intQuery(c *gin.Context, name string) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidPaging, "detail": "invalid " + name})
		return 0, false
	}
	return v, true
}
