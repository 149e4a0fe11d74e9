package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/greentrace/carbon-backend/internal/conf"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)
	return log
}

// matchAnyArgs 忽略参数匹配（脚本参数里有当前时间戳）
func matchAnyArgs(expected, actual []interface{}) error {
	return nil
}

func newLimitedRouter(t *testing.T, mock redismock.ClientMock, db *redis.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimiter(db, conf.RateLimitConfig{
		Enable:        true,
		MaxRequests:   10,
		WindowSeconds: 60,
		Strategy:      "ip",
	}, newTestLogger(t)))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

func doPing(router *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestRateLimiter_Allowed 未超限放行并带配额响应头
func TestRateLimiter_Allowed(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	client := redis.NewFromClient(rdb, newTestLogger(t))
	router := newLimitedRouter(t, mock, client)

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(slidingWindowScript, []string{"rate_limit:ip:192.0.2.1"}, 0, 0, 0).
		SetVal([]interface{}{int64(1), int64(9), int64(1700000060)})

	w := doPing(router)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000060", w.Header().Get("X-RateLimit-Reset"))
}

// TestRateLimiter_Blocked 超限返回 429 和 Retry-After
func TestRateLimiter_Blocked(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	client := redis.NewFromClient(rdb, newTestLogger(t))
	router := newLimitedRouter(t, mock, client)

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(slidingWindowScript, []string{"rate_limit:ip:192.0.2.1"}, 0, 0, 0).
		SetVal([]interface{}{int64(0), int64(0), int64(1700000060)})

	w := doPing(router)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

// TestRateLimiter_FailsOpen Redis 故障时降级放行
func TestRateLimiter_FailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	client := redis.NewFromClient(rdb, newTestLogger(t))
	router := newLimitedRouter(t, mock, client)

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(slidingWindowScript, []string{"rate_limit:ip:192.0.2.1"}, 0, 0, 0).
		SetErr(assert.AnError)

	w := doPing(router)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}
