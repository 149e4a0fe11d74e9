package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/greentrace/carbon-backend/internal/conf"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// WindowKind 时间窗口粒度
type WindowKind string

const (
	WindowDay    WindowKind = "day"
	WindowHour   WindowKind = "hour"
	WindowMinute WindowKind = "minute"
)

// WindowLimit 单个窗口的限额
type WindowLimit struct {
	Kind  WindowKind
	Limit int64
}

// Definition 配额维度定义，窗口按配置顺序依次校验
type Definition struct {
	Name    string
	Windows []WindowLimit
}

// WindowEntry 一次消费涉及的单个窗口
type WindowEntry struct {
	Kind      WindowKind
	WindowKey string
	Limit     int64
	EndsAt    time.Time
}

// Counter 事务内加锁后的计数器视图
type Counter struct {
	WindowKey string
	Consumed  int64
	Limit     int64
}

// QuotaRepo 配额计数器仓储接口
//
// WithLockedCounters 在单个事务内按 entries 顺序加行锁（缺行则以
// 零值新建），将计数器视图交给 fn；fn 返回 nil 时持久化对 Consumed
// 的修改并提交，否则整体回滚。
type QuotaRepo interface {
	WithLockedCounters(ctx context.Context, userID, dimension string, entries []WindowEntry, fn func(counters []*Counter) error) error

	// Usage 只读查询某窗口已消费量，缺行视为 0
	Usage(ctx context.Context, userID, dimension, windowKey string) (int64, error)

	// DeleteExpired 删除窗口已结束超过保留期的计数器行
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Ledger 配额账本
type Ledger struct {
	defs      []Definition
	retention time.Duration
	repo      QuotaRepo
	logger    *logger.Logger
	now       func() time.Time
}

// NewLedger 创建配额账本
func NewLedger(cfg *conf.QuotaConfig, repo QuotaRepo, log *logger.Logger) (*Ledger, error) {
	defs := make([]Definition, 0, len(cfg.Dimensions))
	seen := make(map[string]bool, len(cfg.Dimensions))

	for _, d := range cfg.Dimensions {
		if d.Name == "" {
			return nil, fmt.Errorf("quota dimension name must not be empty")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate quota dimension %q", d.Name)
		}
		seen[d.Name] = true

		def := Definition{Name: d.Name}
		for _, w := range d.Windows {
			kind := WindowKind(w.Kind)
			switch kind {
			case WindowDay, WindowHour, WindowMinute:
			default:
				return nil, fmt.Errorf("quota dimension %q: unknown window kind %q", d.Name, w.Kind)
			}
			if w.Limit <= 0 {
				return nil, fmt.Errorf("quota dimension %q: window limit must be positive", d.Name)
			}
			def.Windows = append(def.Windows, WindowLimit{Kind: kind, Limit: w.Limit})
		}
		if len(def.Windows) == 0 {
			return nil, fmt.Errorf("quota dimension %q has no windows", d.Name)
		}
		defs = append(defs, def)
	}

	return &Ledger{
		defs:      defs,
		retention: cfg.CounterRetention,
		repo:      repo,
		logger:    log,
		now:       time.Now,
	}, nil
}

// WindowKeyFor 计算窗口标识（UTC）
func WindowKeyFor(kind WindowKind, t time.Time) string {
	t = t.UTC()
	switch kind {
	case WindowDay:
		return t.Format("20060102")
	case WindowHour:
		return t.Format("2006010215")
	case WindowMinute:
		return t.Format("200601021504")
	}
	return ""
}

// WindowEndFor 计算窗口结束时间（UTC）
func WindowEndFor(kind WindowKind, t time.Time) time.Time {
	t = t.UTC()
	switch kind {
	case WindowDay:
		return t.Truncate(24 * time.Hour).Add(24 * time.Hour)
	case WindowHour:
		return t.Truncate(time.Hour).Add(time.Hour)
	case WindowMinute:
		return t.Truncate(time.Minute).Add(time.Minute)
	}
	return t
}

// CheckAndConsume 原子地校验并消费配额
//
// 按维度配置顺序逐窗口校验，任何一个窗口 consumed+amount > limit
// 则整体失败，所有窗口都不消费；全部有余量时在同一事务内一起消费。
// 恰好达到 limit 视为允许。
func (l *Ledger) CheckAndConsume(ctx context.Context, userID, dimension string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, apperrors.New(apperrors.ErrQuotaInvalidAmount, fmt.Sprintf("amount=%d", amount))
	}

	def, ok := l.definition(dimension)
	if !ok {
		return false, apperrors.New(apperrors.ErrQuotaUnknownDimension, dimension)
	}

	now := l.now()
	entries := make([]WindowEntry, 0, len(def.Windows))
	for _, w := range def.Windows {
		entries = append(entries, WindowEntry{
			Kind:      w.Kind,
			WindowKey: WindowKeyFor(w.Kind, now),
			Limit:     w.Limit,
			EndsAt:    WindowEndFor(w.Kind, now),
		})
	}

	err := l.repo.WithLockedCounters(ctx, userID, dimension, entries, func(counters []*Counter) error {
		for i, c := range counters {
			if c.Consumed+amount > c.Limit {
				return apperrors.New(apperrors.ErrQuotaExceeded,
					fmt.Sprintf("dimension=%s window=%s consumed=%d limit=%d", dimension, entries[i].Kind, c.Consumed, c.Limit))
			}
		}
		for _, c := range counters {
			c.Consumed += amount
		}
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrQuotaExceeded) {
			l.logger.WithContext(ctx).Info("quota exceeded",
				zap.String("user_id", userID),
				zap.String("dimension", dimension),
				zap.Int64("amount", amount),
			)
			return false, err
		}
		return false, err
	}
	return true, nil
}

// Usage 只读查询某维度某窗口当前消费量
func (l *Ledger) Usage(ctx context.Context, userID, dimension string, kind WindowKind) (int64, error) {
	if _, ok := l.definition(dimension); !ok {
		return 0, apperrors.New(apperrors.ErrQuotaUnknownDimension, dimension)
	}
	return l.repo.Usage(ctx, userID, dimension, WindowKeyFor(kind, l.now()))
}

// ListQuotaDefinitions 返回配置的维度名，顺序与配置一致
func (l *Ledger) ListQuotaDefinitions() []string {
	names := make([]string, 0, len(l.defs))
	for _, d := range l.defs {
		names = append(names, d.Name)
	}
	return names
}

// SweepExpired 清扫窗口早已结束的过期计数器
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	before := l.now().Add(-l.retention)
	n, err := l.repo.DeleteExpired(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.WithContext(ctx).Info("expired quota counters removed", zap.Int64("count", n))
	}
	return n, nil
}

func (l *Ledger) definition(name string) (Definition, bool) {
	for _, d := range l.defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
