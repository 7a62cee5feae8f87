package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotAcquired 表示锁已被其他实例持有
var ErrLockNotAcquired = errors.New("lock not acquired")

// LeaseLock 基于 Redis SETNX + TTL 的租约锁
// 用于保证周期任务在多实例部署下同一时刻只有一个实例执行；
// 拿不到锁的实例跳过本轮 tick，不排队等待
type LeaseLock struct {
	kv      KV
	key     string
	ttl     time.Duration
	ownerID string
}

// NewLeaseLock 创建租约锁
// ttl 应略长于任务的预期执行时间，任务超时后租约自动过期
func NewLeaseLock(kv KV, key string, ttl time.Duration) *LeaseLock {
	return &LeaseLock{
		kv:      kv,
		key:     key,
		ttl:     ttl,
		ownerID: uuid.New().String(),
	}
}

// Acquire 尝试获取锁，已被持有时返回 ErrLockNotAcquired
func (l *LeaseLock) Acquire(ctx context.Context) error {
	ok, err := l.kv.SetNX(ctx, l.key, l.ownerID, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotAcquired
	}
	return nil
}

// Release 释放锁（仅当仍由本实例持有）
// GET/DEL 之间存在极小的窗口：租约已过期且被他人抢占时可能误删，
// 该窗口由 ttl 远大于任务时长的配置约束兜底
func (l *LeaseLock) Release(ctx context.Context) error {
	val, err := l.kv.Get(ctx, l.key)
	if err != nil {
		if err == ErrCacheMiss {
			return nil // 租约已过期
		}
		return err
	}
	if val != l.ownerID {
		return nil // 已被其他实例持有，不能删
	}
	return l.kv.Del(ctx, l.key)
}
