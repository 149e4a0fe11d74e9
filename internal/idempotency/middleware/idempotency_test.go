package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greentrace/carbon-backend/internal/conf"
	"github.com/greentrace/carbon-backend/internal/idempotency/biz"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)
	return log
}

type recordKey struct {
	scope string
	key   string
}

// memRecordRepo 内存版仓储，够中间件端到端测试用
type memRecordRepo struct {
	mu      sync.Mutex
	records map[recordKey]*biz.Record
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[recordKey]*biz.Record)}
}

func (r *memRecordRepo) Reserve(ctx context.Context, rec *biz.Record) (bool, *biz.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{rec.Scope, rec.RequestKey}
	if existing, ok := r.records[k]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *rec
	r.records[k] = &cp
	return true, nil, nil
}

func (r *memRecordRepo) Complete(ctx context.Context, id string, statusCode int, body []byte, headersJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID == id {
			rec.State = biz.StateCompleted
			rec.StatusCode = statusCode
			rec.ResponseBody = body
			rec.ResponseHeaders = headersJSON
			return nil
		}
	}
	return nil
}

func (r *memRecordRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, rec := range r.records {
		if rec.ID == id {
			delete(r.records, k)
			return nil
		}
	}
	return nil
}

func (r *memRecordRepo) DeleteExpired(ctx context.Context, now time.Time, execTimeout time.Duration) (int64, error) {
	return 0, nil
}

func newTestRouter(t *testing.T, handlerCalls *int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := biz.NewGate(&conf.IdempotencyConfig{
		RequiredScopes: []string{"POST /orders"},
		RecordTTL:      24 * time.Hour,
		ExecTimeout:    5 * time.Minute,
	}, newMemRecordRepo(), newTestLogger(t))

	router := gin.New()
	router.Use(Idempotency(gate, newTestLogger(t)))

	router.POST("/orders", func(c *gin.Context) {
		*handlerCalls++
		c.Header("Location", "/orders/o-1")
		c.JSON(http.StatusCreated, gin.H{"order": "o-1"})
	})
	router.POST("/comments", func(c *gin.Context) {
		*handlerCalls++
		c.JSON(http.StatusCreated, gin.H{"comment": "c-1"})
	})
	router.POST("/reports", func(c *gin.Context) {
		*handlerCalls++
		if *handlerCalls == 1 {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"report": "r-1"})
	})
	router.GET("/orders", func(c *gin.Context) {
		*handlerCalls++
		c.JSON(http.StatusOK, gin.H{"orders": []string{}})
	})

	return router
}

func doRequest(router *gin.Engine, method, path, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if requestID != "" {
		req.Header.Set(HeaderRequestKey, requestID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const testKey = "550e8400-e29b-41d4-a716-446655440000"

// TestIdempotency_FirstRequestPassesThrough 首个请求正常执行
func TestIdempotency_FirstRequestPassesThrough(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	w := doRequest(router, http.MethodPost, "/orders", testKey)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"order":"o-1"}`, w.Body.String())
	assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))
}

// TestIdempotency_DuplicateReplaysResponse 重复键回放首次响应
func TestIdempotency_DuplicateReplaysResponse(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	first := doRequest(router, http.MethodPost, "/orders", testKey)
	second := doRequest(router, http.MethodPost, "/orders", testKey)

	assert.Equal(t, 1, calls, "handler must run exactly once")
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, "/orders/o-1", second.Header().Get("Location"))
}

// TestIdempotency_DistinctKeysExecuteSeparately 不同键各自执行
func TestIdempotency_DistinctKeysExecuteSeparately(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	doRequest(router, http.MethodPost, "/orders", testKey)
	doRequest(router, http.MethodPost, "/orders", "650e8400-e29b-41d4-a716-446655440000")

	assert.Equal(t, 2, calls)
}

// TestIdempotency_RequiredScopeMissingKey 必须携带键的路由缺键返回 400
func TestIdempotency_RequiredScopeMissingKey(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	w := doRequest(router, http.MethodPost, "/orders", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, calls)
}

// TestIdempotency_OptionalScopeMissingKey 可选路由缺键直接放行
func TestIdempotency_OptionalScopeMissingKey(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodPost, "/comments", "")
		assert.Equal(t, http.StatusCreated, w.Code)
	}
	assert.Equal(t, 2, calls)
}

// TestIdempotency_ServerErrorNotReplayed 5xx 响应按失败处理：原样透传、
// 不落记录，同键重试重新执行而非回放失败响应
func TestIdempotency_ServerErrorNotReplayed(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	first := doRequest(router, http.MethodPost, "/reports", testKey)
	assert.Equal(t, http.StatusBadGateway, first.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, first.Body.String())
	assert.Empty(t, first.Header().Get("X-Idempotent-Replay"))

	second := doRequest(router, http.MethodPost, "/reports", testKey)
	assert.Equal(t, 2, calls, "failed execution must not block a retry")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("X-Idempotent-Replay"))

	// 成功后的结果正常回放
	third := doRequest(router, http.MethodPost, "/reports", testKey)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "true", third.Header().Get("X-Idempotent-Replay"))
}

// TestIdempotency_ReadRequestsBypass 读请求不经过幂等网关
func TestIdempotency_ReadRequestsBypass(t *testing.T) {
	calls := 0
	router := newTestRouter(t, &calls)

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodGet, "/orders", testKey)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 2, calls, "GET requests are never deduplicated")
}
