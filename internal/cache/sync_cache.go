package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/store"

	"go.uber.org/zap"
)

// 命名缓存键（集中定义，失效触发点见各 Invalidate 方法）
const (
	keyActivePlaylist  = "fleet:active-playlist:%s"    // deviceID
	keyConfig          = "fleet:config:%s"             // deviceID
	keyLastSync        = "fleet:last-sync:%s"          // deviceID
	keyDelta           = "fleet:delta:%s:%d"           // deviceID, lastSync unix
	keyDeltaPattern    = "fleet:delta:%s:*"            // deviceID
	keyPlaylistVersion = "fleet:playlist-version:%s"   // tenantID
)

// SyncCache 同步缓存
// ScheduleEvaluator 与设备配置读取前置的写穿缓存；
// 显式失效之外带安全网 TTL，漏失效时自愈；
// Redis 故障时读路径降级为 miss（正确性不受影响，只损失延迟）
type SyncCache struct {
	kv     store.KV
	logger *zap.Logger

	activePlaylistTTL time.Duration
	configTTL         time.Duration
	deltaTTL          time.Duration
}

func NewSyncCache(kv store.KV, activePlaylistTTL, configTTL, deltaTTL time.Duration, logger *zap.Logger) *SyncCache {
	return &SyncCache{
		kv:                kv,
		logger:            logger,
		activePlaylistTTL: activePlaylistTTL,
		configTTL:         configTTL,
		deltaTTL:          deltaTTL,
	}
}

// GetActivePlaylist 读取设备活动播放列表缓存，miss 时返回 (nil, false)
// 缓存的空标记（设备当前无活动播放列表）返回 (nil, true)
func (c *SyncCache) GetActivePlaylist(ctx context.Context, deviceID string) (json.RawMessage, bool) {
	val, err := c.kv.Get(ctx, fmt.Sprintf(keyActivePlaylist, deviceID))
	if err != nil {
		if err != store.ErrCacheMiss {
			c.logger.Warn("Cache degraded for active playlist read",
				zap.String("device_id", deviceID), zap.Error(err))
		}
		return nil, false
	}
	if val == "null" {
		return nil, true
	}
	return json.RawMessage(val), true
}

// SetActivePlaylist 写入设备活动播放列表缓存（nil 表示无活动播放列表）
func (c *SyncCache) SetActivePlaylist(ctx context.Context, deviceID string, selection any) {
	data, err := json.Marshal(selection)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, fmt.Sprintf(keyActivePlaylist, deviceID), string(data), c.activePlaylistTTL); err != nil {
		c.logger.Warn("Cache degraded for active playlist write",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

// GetConfig 读取设备配置快照缓存
func (c *SyncCache) GetConfig(ctx context.Context, deviceID string) (*domain.DeviceSettings, bool) {
	val, err := c.kv.Get(ctx, fmt.Sprintf(keyConfig, deviceID))
	if err != nil {
		if err != store.ErrCacheMiss {
			c.logger.Warn("Cache degraded for config read",
				zap.String("device_id", deviceID), zap.Error(err))
		}
		return nil, false
	}
	var s domain.DeviceSettings
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, false
	}
	return &s, true
}

// SetConfig 写入设备配置快照缓存
func (c *SyncCache) SetConfig(ctx context.Context, deviceID string, settings *domain.DeviceSettings) {
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, fmt.Sprintf(keyConfig, deviceID), string(data), c.configTTL); err != nil {
		c.logger.Warn("Cache degraded for config write",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

// InvalidatePlaylist 失效设备的活动播放列表及增量结果缓存
// 触发点：该设备关联的 Schedule / Assignment / Playlist 的任何写入
func (c *SyncCache) InvalidatePlaylist(ctx context.Context, deviceID string) error {
	keys := []string{fmt.Sprintf(keyActivePlaylist, deviceID)}
	deltaKeys, err := c.kv.ScanKeys(ctx, fmt.Sprintf(keyDeltaPattern, deviceID))
	if err == nil {
		keys = append(keys, deltaKeys...)
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate playlist cache: %w", err)
	}
	return nil
}

// InvalidateConfig 失效设备配置缓存
// 触发点：Device settings 的任何写入
func (c *SyncCache) InvalidateConfig(ctx context.Context, deviceID string) error {
	if err := c.kv.Del(ctx, fmt.Sprintf(keyConfig, deviceID)); err != nil {
		return fmt.Errorf("failed to invalidate config cache: %w", err)
	}
	return nil
}

// GetDelta 读取增量同步结果缓存（吸收重试客户端的重复轮询）
func (c *SyncCache) GetDelta(ctx context.Context, deviceID string, lastSync time.Time) (*domain.DeltaResult, bool) {
	val, err := c.kv.Get(ctx, fmt.Sprintf(keyDelta, deviceID, lastSync.Unix()))
	if err != nil {
		return nil, false
	}
	var r domain.DeltaResult
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, false
	}
	return &r, true
}

// SetDelta 写入增量同步结果缓存
func (c *SyncCache) SetDelta(ctx context.Context, deviceID string, lastSync time.Time, result *domain.DeltaResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := fmt.Sprintf(keyDelta, deviceID, lastSync.Unix())
	if err := c.kv.Set(ctx, key, string(data), c.deltaTTL); err != nil {
		c.logger.Warn("Cache degraded for delta write",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

// SetLastSync 记录设备最近一次成功同步的服务端时间
func (c *SyncCache) SetLastSync(ctx context.Context, deviceID string, at time.Time) {
	if err := c.kv.Set(ctx, fmt.Sprintf(keyLastSync, deviceID), at.UTC().Format(time.RFC3339Nano), 0); err != nil {
		c.logger.Warn("Cache degraded for last-sync write",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

// BumpPlaylistVersion 递增租户播放列表版本（排期/指派/播放列表写入时调用）
func (c *SyncCache) BumpPlaylistVersion(ctx context.Context, tenantID string) (int64, error) {
	v, err := c.kv.Incr(ctx, fmt.Sprintf(keyPlaylistVersion, tenantID))
	if err != nil {
		return 0, fmt.Errorf("failed to bump playlist version: %w", err)
	}
	return v, nil
}

// GetPlaylistVersion 读取租户当前播放列表版本（无记录视为 0）
func (c *SyncCache) GetPlaylistVersion(ctx context.Context, tenantID string) (int64, error) {
	val, err := c.kv.Get(ctx, fmt.Sprintf(keyPlaylistVersion, tenantID))
	if err != nil {
		if err == store.ErrCacheMiss {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt playlist version: %w", err)
	}
	return v, nil
}
