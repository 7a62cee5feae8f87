package deltasync

import (
	"context"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/cache"
	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// ChangeSource 设备增量变更查询
type ChangeSource interface {
	ListChangesForDevice(ctx context.Context, deviceID string, since time.Time) ([]domain.Change, error)
}

// CursorStore 设备同步游标持久化
type CursorStore interface {
	UpsertLastSync(ctx context.Context, deviceID string, at time.Time) error
}

// Engine 增量同步引擎
// 设备声明上次同步点，引擎给出自那之后的最小变更集；
// 同步点缺失、超出历史保留窗口或出现客户端时钟偏移时退化为全量快照
type Engine struct {
	changes ChangeSource
	cursors CursorStore
	cache   *cache.SyncCache
	horizon time.Duration
	logger  *zap.Logger

	// 可注入时钟（测试用）
	now func() time.Time
}

func NewEngine(changes ChangeSource, cursors CursorStore, syncCache *cache.SyncCache, horizon time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		changes: changes,
		cursors: cursors,
		cache:   syncCache,
		horizon: horizon,
		logger:  logger,
		now:     time.Now,
	}
}

// Sync 计算设备自 clientLastSync 以来的变更
// 返回 (结果, 是否命中缓存, 错误)
func (e *Engine) Sync(ctx context.Context, deviceID string, clientLastSync *time.Time) (*domain.DeltaResult, bool, error) {
	// 服务端时间在变更查询执行前采样：查询窗口内提交的变更
	// 会落在下一次轮询的区间里，不会被静默跳过
	serverTS := e.now().UTC()

	full := false
	switch {
	case clientLastSync == nil:
		full = true
	case clientLastSync.After(serverTS):
		// 客户端时钟偏移：声明的同步点在服务端未来，按无同步点处理
		e.logger.Warn("Clock skew detected, forcing full resync",
			zap.String("device_id", deviceID),
			zap.Time("client_last_sync", *clientLastSync),
			zap.Time("server_time", serverTS))
		full = true
	case serverTS.Sub(*clientLastSync) > e.horizon:
		// 超出历史保留窗口，增量不完整，必须全量
		full = true
	}

	if !full {
		if cached, ok := e.cache.GetDelta(ctx, deviceID, *clientLastSync); ok {
			return cached, true, nil
		}
	}

	since := time.Time{}
	if !full {
		since = clientLastSync.UTC()
	}

	changes, err := e.changes.ListChangesForDevice(ctx, deviceID, since)
	if err != nil {
		return nil, false, err
	}

	result := &domain.DeltaResult{
		Full:            full,
		Changes:         dedupeLatest(changes),
		ServerTimestamp: serverTS,
	}

	if !full {
		e.cache.SetDelta(ctx, deviceID, *clientLastSync, result)
	}
	e.cache.SetLastSync(ctx, deviceID, serverTS)
	if err := e.cursors.UpsertLastSync(ctx, deviceID, serverTS); err != nil {
		// 游标推进失败不影响本次结果，下次同步会重算
		e.logger.Warn("Failed to persist sync cursor",
			zap.String("device_id", deviceID), zap.Error(err))
	}

	return result, false, nil
}

// dedupeLatest 同一实体只保留最新版本，维持 updated_at 升序
func dedupeLatest(changes []domain.Change) []domain.Change {
	if len(changes) == 0 {
		return []domain.Change{}
	}
	type key struct{ entityType, entityID string }
	latest := make(map[key]domain.Change, len(changes))
	for _, c := range changes {
		k := key{c.EntityType, c.EntityID}
		if prev, ok := latest[k]; !ok || c.UpdatedAt.After(prev.UpdatedAt) {
			latest[k] = c
		}
	}
	out := make([]domain.Change, 0, len(latest))
	for _, c := range changes {
		k := key{c.EntityType, c.EntityID}
		if kept, ok := latest[k]; ok && kept.UpdatedAt.Equal(c.UpdatedAt) {
			out = append(out, kept)
			delete(latest, k)
		}
	}
	return out
}
