package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/trading-api/internal/trading/application"
	"github.com/wyfcoding/trading-api/internal/trading/domain"
	"github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/memory"
	rediscache "github.com/wyfcoding/trading-api/internal/trading/infrastructure/persistence/redis"
	"github.com/wyfcoding/trading-api/pkg/cache"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"github.com/wyfcoding/trading-api/pkg/middleware"
	"github.com/wyfcoding/trading-api/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type ledger interface {
	domain.TradeRepository
	domain.PortfolioRepository
}

type testServer struct {
	router  *gin.Engine
	store   *memory.Store
	mr      *miniredis.Miniredis
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, repo ledger, opts RouterOptions) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewStore()
	if repo == nil {
		repo = store
	}
	m := metrics.New()
	if opts.Collector == nil {
		opts.Collector = m
	}

	portfolioCache := rediscache.NewPortfolioCache(client)
	trading := NewTradingHandler(
		application.NewPortfolioQuery(repo, portfolioCache, m, application.PortfolioQueryConfig{TTL: 30 * time.Second, CoalesceReads: true}),
		application.NewTradeQuery(repo, 100, 1000),
		application.NewTradeCommand(repo, portfolioCache, m, time.Second),
	)
	health := NewHealthHandler(application.NewHealthChecker(store, cache.NewFromClient(client), time.Second), m.Handler())

	return &testServer{
		router:  NewRouter(trading, health, opts),
		store:   store,
		mr:      mr,
		metrics: m,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRecordTradeAndReadPortfolio(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodGet, "/api/portfolio/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	before := decode(t, w)
	assert.Equal(t, float64(0), before["balance"])

	start := time.Now().UTC().Add(-time.Second)
	w = s.do(http.MethodPost, "/api/trade", `{"user_id":"u1","symbol":"BTC","quantity":0.5,"price":45000,"side":"buy"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	trade := decode(t, w)
	assert.NotZero(t, trade["id"])
	assert.Equal(t, "buy", trade["side"])
	assert.Equal(t, 0.5, trade["quantity"])
	assert.Equal(t, float64(45000), trade["price"])
	ts, err := time.Parse(time.RFC3339Nano, trade["timestamp"].(string))
	require.NoError(t, err)
	assert.False(t, ts.Before(start))

	w = s.do(http.MethodGet, "/api/portfolio/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	after := decode(t, w)
	assert.Equal(t, float64(22500), after["balance"])
	positions := after["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].(map[string]any)["symbol"])
}

func TestDecimalsRenderAsNumbersWithoutGlobalSwitch(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodPost, "/api/trade", `{"user_id":"u9","symbol":"ETH","quantity":"1.25","price":"2000.5","side":"sell"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"quantity":1.25`)
	assert.Contains(t, w.Body.String(), `"price":2000.5`)

	w = s.do(http.MethodGet, "/api/portfolio/u9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"average_price":2000.5`)
	assert.Contains(t, s.mr.Keys(), "portfolio:{u9}")

	// 缓存快照沿用 decimal 的默认编码
	assert.False(t, decimal.MarshalJSONWithoutQuotes)
	snapshot, err := s.mr.Get("portfolio:{u9}")
	require.NoError(t, err)
	assert.Contains(t, snapshot, `"average_price":"2000.5"`)
}

func TestGetPortfolioUnknownUser(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodGet, "/api/portfolio/nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "nobody", body["user_id"])
	assert.Equal(t, float64(0), body["balance"])
	assert.Equal(t, []any{}, body["positions"])
}

func TestRecordTradeValidation(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing side", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":1}`, "Missing required fields"},
		{"null price", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":null,"side":"buy"}`, "Missing required fields"},
		{"empty body", ``, "Missing required fields"},
		{"negative quantity", `{"user_id":"u1","symbol":"BTC","quantity":-1,"price":45000,"side":"buy"}`, "Invalid trade"},
		{"bad side", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":45000,"side":"hold"}`, "Invalid trade"},
		{"malformed", `{"user_id":`, "Invalid trade"},
		{"wrong type", `{"user_id":"u1","symbol":"BTC","quantity":"many","price":1,"side":"buy"}`, "Invalid trade"},
		{"price below scale", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":0.0000000000000000001,"side":"buy"}`, "Invalid trade"},
		{"quantity below scale", `{"user_id":"u1","symbol":"BTC","quantity":0.0000000000000000001,"price":1,"side":"buy"}`, "Invalid trade"},
		{"quantity 21 digits", `{"user_id":"u1","symbol":"BTC","quantity":123456789012345678901,"price":1,"side":"buy"}`, "Invalid trade"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.want, decode(t, w)["error"])
		})
	}
	assert.Zero(t, s.store.TradeCount("u1"))
}

func TestRecordTradeRejectsBalanceOverflow(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodPost, "/api/trade", `{"user_id":"whale","symbol":"AAA","quantity":1,"price":90000000000000,"side":"buy"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/trade", `{"user_id":"whale","symbol":"BBB","quantity":1,"price":90000000000000,"side":"buy"}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Invalid trade", body["error"])
	assert.Equal(t, "invalid trade: balance out of range", body["detail"])
	assert.Equal(t, 1, s.store.TradeCount("whale"))
}

func TestListTrades(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	for i := 0; i < 12; i++ {
		w := s.do(http.MethodPost, "/api/trade", `{"user_id":"u2","symbol":"ETH","quantity":1,"price":10,"side":"buy"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodGet, "/api/trades?limit=10&offset=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(12), body["total"])
	trades := body["trades"].([]any)
	require.Len(t, trades, 10)
	first := trades[0].(map[string]any)["id"].(float64)
	second := trades[1].(map[string]any)["id"].(float64)
	assert.Greater(t, first, second)
	assert.Equal(t, "12", w.Header().Get("X-Total-Count"))

	w = s.do(http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["trades"].([]any), 12)

	for _, q := range []string{"limit=abc", "limit=-1", "offset=-3", "offset=x"} {
		w = s.do(http.MethodGet, "/api/trades?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "Invalid paging parameters", decode(t, w)["error"])
	}
}

func TestListTradesEmpty(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{}, body["trades"])
	assert.Equal(t, float64(0), body["total"])
}

type failingLedger struct{}

var errStore = errors.New("connection refused")

func (failingLedger) Record(context.Context, *domain.Trade) error { return errStore }
func (failingLedger) List(context.Context, int, int) ([]*domain.Trade, int64, error) {
	return nil, 0, errStore
}
func (failingLedger) Get(context.Context, string) (*domain.Portfolio, error) { return nil, errStore }

func TestStoreFailuresReturnGenericError(t *testing.T) {
	s := newTestServer(t, failingLedger{}, RouterOptions{})

	for _, w := range []*httptest.ResponseRecorder{
		s.do(http.MethodGet, "/api/portfolio/u1", ""),
		s.do(http.MethodGet, "/api/trades", ""),
		s.do(http.MethodPost, "/api/trade", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":1,"side":"sell"}`),
	} {
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Internal server error", decode(t, w)["error"])
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	w = s.do(http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])

	s.mr.Close()

	w = s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "cache unavailable", body["error"])

	w = s.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPortfolioServedWhenCacheDown(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	s.mr.Close()

	w := s.do(http.MethodPost, "/api/trade", `{"user_id":"u3","symbol":"SOL","quantity":2,"price":50,"side":"buy"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/api/portfolio/u3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(100), decode(t, w)["balance"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	s.do(http.MethodPost, "/api/trade", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":1,"side":"buy"}`)
	s.do(http.MethodGet, "/api/portfolio/u1", "")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	text := w.Body.String()
	assert.Contains(t, text, `http_request_duration_seconds_count{method="POST",route="/api/trade",status_code="201"} 1`)
	assert.Contains(t, text, `trades_recorded_total{side="buy"} 1`)
	assert.Contains(t, text, `portfolio_cache_requests_total{result="miss"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Limit) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 2 * time.Second}, nil
}

func TestRecordTradeRateLimited(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{
		WriteLimiter: middleware.RateLimitMiddleware(denyLimiter{}, ratelimit.PerSecond(1, 1)),
	})

	w := s.do(http.MethodPost, "/api/trade", `{"user_id":"u1","symbol":"BTC","quantity":1,"price":1,"side":"buy"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Zero(t, s.store.TradeCount("u1"))

	w = s.do(http.MethodGet, "/api/trades", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResponsesCarryRequestID(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
