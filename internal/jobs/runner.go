package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/store"

	"go.uber.org/zap"
)

// Job 周期任务
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

// Runner 周期任务调度器
// 每个任务在每个 tick 先抢分布式租约锁：多实例部署下同一 tick
// 只有一个实例执行；抢不到锁直接跳过本轮，不排队。
// 正在执行的任务持有锁，超时的执行不会与自己的下一个 tick 重叠
type Runner struct {
	kv                store.KV
	lockTTL           time.Duration
	skipEscalateAfter int
	logger            *zap.Logger
}

func NewRunner(kv store.KV, lockTTL time.Duration, skipEscalateAfter int, logger *zap.Logger) *Runner {
	return &Runner{
		kv:                kv,
		lockTTL:           lockTTL,
		skipEscalateAfter: skipEscalateAfter,
		logger:            logger,
	}
}

// Start 启动全部任务，ctx 取消时停止
func (r *Runner) Start(ctx context.Context, jobs []Job) {
	for _, job := range jobs {
		go r.runLoop(ctx, job)
	}
}

func (r *Runner) runLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	consecutiveSkips := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			skipped := r.runOnce(ctx, job)
			if skipped {
				consecutiveSkips++
				// 连续拿不到锁说明有实例卡死占着租约，升级为告警级日志
				if consecutiveSkips >= r.skipEscalateAfter {
					r.logger.Error("Job starving, lock held for consecutive ticks",
						zap.String("job", job.Name),
						zap.Int("consecutive_skips", consecutiveSkips))
				} else {
					r.logger.Debug("Job tick skipped, lock held elsewhere",
						zap.String("job", job.Name))
				}
			} else {
				consecutiveSkips = 0
			}
		}
	}
}

// runOnce 执行一个 tick，返回是否因锁被持有而跳过
func (r *Runner) runOnce(ctx context.Context, job Job) bool {
	lock := store.NewLeaseLock(r.kv, fmt.Sprintf("fleet:job-lock:%s", job.Name), r.lockTTL)
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, store.ErrLockNotAcquired) {
			return true
		}
		r.logger.Error("Failed to acquire job lock",
			zap.String("job", job.Name), zap.Error(err))
		return false
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			r.logger.Warn("Failed to release job lock",
				zap.String("job", job.Name), zap.Error(err))
		}
	}()

	// 任务本体受租约时长约束
	jobCtx, cancel := context.WithTimeout(ctx, r.lockTTL)
	defer cancel()

	started := time.Now()
	if err := job.Fn(jobCtx); err != nil {
		r.logger.Error("Job failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return false
	}
	r.logger.Debug("Job completed",
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(started)))
	return false
}
