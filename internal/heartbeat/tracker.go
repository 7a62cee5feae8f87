package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/cache"
	"github.com/rgazeredo/aztv-sub002/internal/commands"
	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// DeviceStore 心跳追踪所需的设备持久化
type DeviceStore interface {
	TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time, ip, appVersion string) error
	UpdateStatus(ctx context.Context, deviceID, status string) error
	ListSilentDevices(ctx context.Context, threshold time.Duration) ([]domain.Device, error)
}

// LogStore 心跳日志持久化（追加写入）
type LogStore interface {
	Insert(ctx context.Context, log *domain.HeartbeatLog) error
}

// Report 设备心跳上报
type Report struct {
	Status       string
	CurrentMedia *string
	SystemInfo   json.RawMessage
	IPAddress    string
	AppVersion   string
}

// BeatResult 心跳响应
type BeatResult struct {
	ServerTime       time.Time
	Commands         []domain.CommandEntry
	PlaylistsUpdated bool
	// 心跳前设备是否处于 offline（用于触发报警解除）
	WasOffline bool
}

// Tracker 心跳追踪器
// 状态机：inactive -> active（首个心跳）；active <-> offline 完全由
// last_seen 与阈值推导（没有独立的断开信号，offline 是推断出来的）；
// active/offline -> error 仅在设备显式提交错误日志时发生，
// error -> active 在设备再次上报健康状态的心跳时发生
type Tracker struct {
	devices DeviceStore
	logs    LogStore
	queue   *commands.Queue
	cache   *cache.SyncCache
	logger  *zap.Logger

	threshold time.Duration
	now       func() time.Time
}

func NewTracker(devices DeviceStore, logs LogStore, queue *commands.Queue, syncCache *cache.SyncCache, threshold time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		devices:   devices,
		logs:      logs,
		queue:     queue,
		cache:     syncCache,
		logger:    logger,
		threshold: threshold,
		now:       time.Now,
	}
}

// Beat 处理一次心跳
// 刷新 last_seen、追加日志、取出待执行指令、给出"播放列表有更新"标记
func (t *Tracker) Beat(ctx context.Context, device *domain.Device, report Report) (*BeatResult, error) {
	now := t.now().UTC()
	wasOffline := device.Status == domain.DeviceStatusOffline

	if err := t.devices.TouchLastSeen(ctx, device.DeviceID, now, report.IPAddress, report.AppVersion); err != nil {
		return nil, err
	}

	// error 状态只由设备自身的健康心跳清除（TouchLastSeen 不碰 error，
	// 避免一台反复崩溃重启的设备在每次心跳里自动洗白）
	if device.Status == domain.DeviceStatusError && report.Status != "error" {
		if err := t.devices.UpdateStatus(ctx, device.DeviceID, domain.DeviceStatusActive); err != nil {
			t.logger.Warn("Failed to clear error status",
				zap.String("device_id", device.DeviceID), zap.Error(err))
		}
	}

	log := &domain.HeartbeatLog{
		TenantID:       device.TenantID,
		DeviceID:       device.DeviceID,
		ReportedStatus: report.Status,
		CurrentMedia:   report.CurrentMedia,
		SystemInfo:     report.SystemInfo,
	}
	if err := t.logs.Insert(ctx, log); err != nil {
		// 日志是观测数据，写入失败不拒绝心跳
		t.logger.Warn("Failed to append heartbeat log",
			zap.String("device_id", device.DeviceID), zap.Error(err))
	}

	cmds, err := t.queue.Drain(ctx, device.DeviceID)
	if err != nil {
		return nil, err
	}

	updated := false
	version, err := t.cache.GetPlaylistVersion(ctx, device.TenantID)
	if err != nil {
		// 版本计数不可用时保守返回"有更新"，设备多拉一次播放列表
		t.logger.Warn("Playlist version unavailable, reporting stale",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		updated = true
	} else {
		// 不等即视为有更新：计数器只存在 Redis 里，清库后会从 0 重新
		// 计数，version < 已确认版本（计数回退）与落后同样意味着设备
		// 持有的数据已不可信，必须重新拉取
		updated = version != device.PlaylistVersion
	}

	return &BeatResult{
		ServerTime:       now,
		Commands:         cmds,
		PlaylistsUpdated: updated,
		WasOffline:       wasOffline,
	}, nil
}

// MarkError 设备显式提交错误日志时标记 error 状态
func (t *Tracker) MarkError(ctx context.Context, deviceID string) error {
	return t.devices.UpdateStatus(ctx, deviceID, domain.DeviceStatusError)
}

// MarkOffline 立即标记设备离线（shutdown 指令确认后的主动离线路径）
func (t *Tracker) MarkOffline(ctx context.Context, deviceID string) error {
	return t.devices.UpdateStatus(ctx, deviceID, domain.DeviceStatusOffline)
}

// SweepOffline 把静默超过阈值的 active 设备标记为 offline
// 周期任务调用，返回本轮转移的设备
func (t *Tracker) SweepOffline(ctx context.Context) ([]domain.Device, error) {
	silent, err := t.devices.ListSilentDevices(ctx, t.threshold)
	if err != nil {
		return nil, err
	}
	var flipped []domain.Device
	for _, d := range silent {
		if err := t.devices.UpdateStatus(ctx, d.DeviceID, domain.DeviceStatusOffline); err != nil {
			t.logger.Error("Failed to mark device offline",
				zap.String("device_id", d.DeviceID), zap.Error(err))
			continue
		}
		flipped = append(flipped, d)
	}
	if len(flipped) > 0 {
		t.logger.Info("Marked silent devices offline", zap.Int("count", len(flipped)))
	}
	return flipped, nil
}
