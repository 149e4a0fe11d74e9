package biz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/greentrace/carbon-backend/internal/conf"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/requestkey"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Record lifecycle states
const (
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
)

// Record 幂等记录领域对象
type Record struct {
	ID              string
	Scope           string
	RequestKey      string
	State           string
	StatusCode      int
	ResponseBody    []byte
	ResponseHeaders string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Result 被包裹操作的执行结果
type Result struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	// Replayed 为 true 表示结果来自已完成记录的回放，处理器未执行
	Replayed bool
}

// Handler 被幂等网关包裹的业务操作
type Handler func(ctx context.Context) (*Result, error)

// RecordRepo 幂等记录仓储接口
type RecordRepo interface {
	// Reserve 原子地尝试插入 in_progress 记录；(scope, key) 已存在时
	// 返回 created=false 和现存记录。
	Reserve(ctx context.Context, rec *Record) (created bool, existing *Record, err error)

	// Complete 把执行结果写入记录并推进到 completed
	Complete(ctx context.Context, id string, statusCode int, body []byte, headersJSON string) error

	// Delete 删除记录（回到"不存在"，允许重试重新执行）
	Delete(ctx context.Context, id string) error

	// DeleteExpired 删除过期的 completed 记录和超过执行时限的
	// in_progress 残留，返回删除行数
	DeleteExpired(ctx context.Context, now time.Time, execTimeout time.Duration) (int64, error)
}

// Gate 幂等网关
//
// 先占坑再执行：处理器运行前 (scope, key) 已被唯一约束占住，
// 两个并发重试只会有一个真正执行副作用。
type Gate struct {
	repo   RecordRepo
	logger *logger.Logger
	now    func() time.Time

	requiredScopes map[string]bool
	recordTTL      time.Duration
	execTimeout    time.Duration
}

// NewGate 创建幂等网关
func NewGate(cfg *conf.IdempotencyConfig, repo RecordRepo, log *logger.Logger) *Gate {
	required := make(map[string]bool, len(cfg.RequiredScopes))
	for _, s := range cfg.RequiredScopes {
		required[s] = true
	}

	return &Gate{
		repo:           repo,
		logger:         log,
		now:            time.Now,
		requiredScopes: required,
		recordTTL:      cfg.RecordTTL,
		execTimeout:    cfg.ExecTimeout,
	}
}

// KeyRequired 该 scope 是否必须携带幂等键
func (g *Gate) KeyRequired(scope string) bool {
	return g.requiredScopes[scope]
}

// Execute 以幂等语义执行 handler
//
// 已完成记录直接回放存储结果；同键请求仍在执行中时返回冲突而非
// 回放，避免把半成品结果交给调用方；处理失败则删除记录，
// 同键重试可以干净地重新执行。
func (g *Gate) Execute(ctx context.Context, scope, rawKey string, handler Handler) (*Result, error) {
	key, ok := requestkey.Normalize(rawKey, false)
	if !ok {
		if g.KeyRequired(scope) {
			return nil, apperrors.New(apperrors.ErrIdemKeyRequired, "scope "+scope)
		}
		// 可选 scope 未携带键时直接透传执行
		return handler(ctx)
	}

	rec, completed, err := g.reserve(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	if completed != nil {
		g.logger.WithContext(ctx).Debug("idempotent replay",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Int("status", completed.StatusCode),
		)
		return &Result{
			StatusCode: completed.StatusCode,
			Body:       completed.ResponseBody,
			Headers:    decodeHeaders(completed.ResponseHeaders),
			Replayed:   true,
		}, nil
	}

	res, err := handler(ctx)
	if err != nil {
		if delErr := g.repo.Delete(ctx, rec.ID); delErr != nil {
			g.logger.WithContext(ctx).Error("failed to roll back idempotency record",
				zap.String("scope", scope),
				zap.String("key", key),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	headersJSON, err := encodeHeaders(res.Headers)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIdemRecordBroken, "encode headers")
	}

	// 标记完成失败时不重试：重试可能导致处理器被二次执行
	if err := g.repo.Complete(ctx, rec.ID, res.StatusCode, res.Body, headersJSON); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIdemStoreFailed, "mark completed")
	}

	return res, nil
}

// reserve 尝试把 (scope, key) 从"不存在"推进到 in_progress
//
// 返回 (rec, nil, nil) 表示占坑成功；(nil, completed, nil) 表示存在
// 可直接回放的完成记录；否则返回错误。占坑阶段的瞬时存储错误
// 内部有界重试一次。
func (g *Gate) reserve(ctx context.Context, scope, key string) (*Record, *Record, error) {
	var transientRetried bool

	for attempt := 0; attempt < 3; attempt++ {
		now := g.now()
		rec := &Record{
			ID:         uuid.NewString(),
			Scope:      scope,
			RequestKey: key,
			State:      StateInProgress,
			CreatedAt:  now,
			ExpiresAt:  now.Add(g.recordTTL),
		}

		created, existing, err := g.repo.Reserve(ctx, rec)
		if err != nil {
			if apperrors.IsRetryable(err) && !transientRetried {
				transientRetried = true
				continue
			}
			return nil, nil, err
		}
		if created {
			return rec, nil, nil
		}

		switch existing.State {
		case StateCompleted:
			if now.After(existing.ExpiresAt) {
				// 过期完成记录清掉后重新占坑
				if err := g.repo.Delete(ctx, existing.ID); err != nil {
					return nil, nil, apperrors.Wrap(err, apperrors.ErrIdemStoreFailed, "reclaim expired record")
				}
				continue
			}
			return nil, existing, nil

		case StateInProgress:
			if now.Sub(existing.CreatedAt) > g.execTimeout {
				// 执行超时的残留视为废弃，回收后重新占坑
				g.logger.WithContext(ctx).Warn("reclaiming abandoned idempotency record",
					zap.String("scope", scope),
					zap.String("key", key),
					zap.Time("started_at", existing.CreatedAt),
				)
				if err := g.repo.Delete(ctx, existing.ID); err != nil {
					return nil, nil, apperrors.Wrap(err, apperrors.ErrIdemStoreFailed, "reclaim abandoned record")
				}
				continue
			}
			return nil, nil, apperrors.New(apperrors.ErrIdemInFlight, "scope "+scope)

		default:
			return nil, nil, apperrors.New(apperrors.ErrIdemRecordBroken, "unknown state "+existing.State)
		}
	}

	return nil, nil, apperrors.New(apperrors.ErrIdemInFlight, "scope "+scope)
}

// Sweep 清理过期记录和废弃的 in_progress 残留
func (g *Gate) Sweep(ctx context.Context) (int64, error) {
	n, err := g.repo.DeleteExpired(ctx, g.now(), g.execTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.WithContext(ctx).Info("idempotency records swept", zap.Int64("count", n))
	}
	return n, nil
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHeaders(headersJSON string) map[string]string {
	headers := make(map[string]string)
	gjson.Parse(headersJSON).ForEach(func(k, v gjson.Result) bool {
		headers[k.String()] = v.String()
		return true
	})
	return headers
}
