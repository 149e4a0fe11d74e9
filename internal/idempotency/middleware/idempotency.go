package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greentrace/carbon-backend/internal/idempotency/biz"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// HeaderRequestKey 幂等键请求头
const HeaderRequestKey = "X-Request-ID"

// 回放时恢复的响应头白名单
var replayedHeaders = []string{"Content-Type", "Location"}

// Idempotency 幂等中间件
//
// 写操作以 "METHOD path" 为 scope，携带 X-Request-ID 的请求经幂等
// 网关执行：重复键回放首次响应，同键并发返回 409。GET/HEAD/OPTIONS
// 天然幂等，直接放行。
func Idempotency(gate *biz.Gate, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		scope := c.Request.Method + " " + c.FullPath()
		rawKey := c.GetHeader(HeaderRequestKey)

		res, err := gate.Execute(c.Request.Context(), scope, rawKey, func(ctx context.Context) (*biz.Result, error) {
			buf := newBufferingWriter(c.Writer)
			c.Writer = buf
			c.Next()
			c.Writer = buf.ResponseWriter

			captured := buf.result()
			if captured.StatusCode >= http.StatusInternalServerError {
				// 5xx 按执行失败处理，不落记录，同键重试可重新执行
				return nil, &serverFailure{res: captured}
			}
			return captured, nil
		})
		if err != nil {
			var failed *serverFailure
			if errors.As(err, &failed) {
				flushBuffered(c, failed.res)
				return
			}

			log.WithContext(c.Request.Context()).Warn("idempotency gate rejected request",
				zap.String("scope", scope),
				zap.Error(err),
			)
			response.HandleError(c, err)
			c.Abort()
			return
		}

		if res.Replayed {
			writeReplayed(c, res)
			c.Abort()
			return
		}

		// 非回放：handler 已把响应写进缓冲，这里统一刷出
		flushBuffered(c, res)
	}
}

// serverFailure 把 5xx 响应当作执行失败传出网关，携带缓冲的响应原样透传
type serverFailure struct {
	res *biz.Result
}

func (e *serverFailure) Error() string {
	return fmt.Sprintf("handler responded %d", e.res.StatusCode)
}

// bufferingWriter 捕获处理器写出的状态码和响应体，先缓冲不下发
type bufferingWriter struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
}

func newBufferingWriter(w gin.ResponseWriter) *bufferingWriter {
	return &bufferingWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *bufferingWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferingWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferingWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferingWriter) Status() int {
	return w.status
}

func (w *bufferingWriter) Size() int {
	return w.body.Len()
}

func (w *bufferingWriter) Written() bool {
	return w.body.Len() > 0
}

func (w *bufferingWriter) result() *biz.Result {
	headers := make(map[string]string)
	for _, name := range replayedHeaders {
		if v := w.Header().Get(name); v != "" {
			headers[name] = v
		}
	}
	return &biz.Result{
		StatusCode: w.status,
		Body:       append([]byte(nil), w.body.Bytes()...),
		Headers:    headers,
	}
}

func writeReplayed(c *gin.Context, res *biz.Result) {
	for name, value := range res.Headers {
		c.Header(name, value)
	}
	c.Header("X-Idempotent-Replay", "true")
	c.Status(res.StatusCode)
	if len(res.Body) > 0 {
		c.Writer.Write(res.Body) //nolint:errcheck
	}
}

func flushBuffered(c *gin.Context, res *biz.Result) {
	c.Writer.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		c.Writer.Write(res.Body) //nolint:errcheck
	}
}

// RequireKey 强制幂等键中间件，挂在必须携带键的路由上
func RequireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderRequestKey) == "" {
			response.ErrorWithCode(c, apperrors.ErrIdemKeyRequired)
			c.Abort()
			return
		}
		c.Next()
	}
}
