package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrQuotaExceeded, "dimension=uploads")

	assert.Equal(t, ErrQuotaExceeded, err.Code)
	assert.Equal(t, "Quota limit exceeded", err.Message)
	assert.Equal(t, "dimension=uploads", err.Details)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrStorageTimeout, "put object")

	assert.Equal(t, ErrStorageTimeout, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrStorageTimeout))
}

func TestWrap_PreservesExistingCode(t *testing.T) {
	inner := New(ErrFileNotFound, "id=abc")
	wrapped := Wrap(fmt.Errorf("loading: %w", inner), ErrInternalServer)

	// 已经是 AppError 时保留原始错误码
	assert.Equal(t, ErrFileNotFound, wrapped.Code)
}

func TestWrap_DoesNotMutateWrapped(t *testing.T) {
	inner := New(ErrFileNotFound, "id=abc")
	wrapped := Wrap(inner, ErrInternalServer, "while resolving download")

	// 重包装返回副本，原始错误值保持不变
	assert.Equal(t, "id=abc", inner.Details)
	assert.Equal(t, "while resolving download", wrapped.Details)
	assert.NotSame(t, inner, wrapped)
}

func TestIs(t *testing.T) {
	err := New(ErrIdemInFlight)

	assert.True(t, Is(err, ErrIdemInFlight))
	assert.False(t, Is(err, ErrIdemKeyRequired))
	assert.False(t, Is(errors.New("plain"), ErrIdemInFlight))
	assert.False(t, Is(nil, ErrIdemInFlight))

	// 包一层仍能识别
	assert.True(t, Is(fmt.Errorf("outer: %w", err), ErrIdemInFlight))
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, ErrQuotaExceeded, ExtractCode(New(ErrQuotaExceeded)))
	assert.Equal(t, ErrInternalServer, ExtractCode(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrStorageTimeout)))
	assert.True(t, IsRetryable(New(ErrIdemStoreFailed)))
	assert.True(t, IsRetryable(New(ErrServiceUnavail)))

	assert.False(t, IsRetryable(New(ErrQuotaExceeded)))
	assert.False(t, IsRetryable(New(ErrIdemInFlight)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code   int
		status int
	}{
		{Success, http.StatusOK},
		{ErrQuotaExceeded, http.StatusTooManyRequests},
		{ErrIdemInFlight, http.StatusConflict},
		{ErrIdemKeyRequired, http.StatusBadRequest},
		{ErrFileNotFound, http.StatusNotFound},
		{ErrStorageTimeout, http.StatusServiceUnavailable},
		{99999, http.StatusInternalServerError}, // 未注册的码按内部错误处理
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, GetHTTPStatus(tt.code), "code %d", tt.code)
	}
}
