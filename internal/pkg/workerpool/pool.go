package workerpool

import (
	"errors"
	"time"

	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Pool 后台任务池，ants 封装
//
// 用于幂等记录、配额计数器等后台清扫任务，不用于请求路径。
type Pool struct {
	pool   *ants.Pool
	logger *logger.Logger
}

// New 创建任务池
func New(size int, log *logger.Logger) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	p, err := ants.NewPool(size,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(v interface{}) {
			log.Error("worker panic recovered", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Pool{pool: p, logger: log}, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}
	return p.pool.Submit(task)
}

// Running 当前运行中的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release 关闭任务池
func (p *Pool) Release() {
	p.pool.Release()
}
