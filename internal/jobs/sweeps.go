package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/alerts"
	"github.com/rgazeredo/aztv-sub002/internal/cache"
	"github.com/rgazeredo/aztv-sub002/internal/commands"
	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/heartbeat"
	"github.com/rgazeredo/aztv-sub002/internal/repository"
	"github.com/rgazeredo/aztv-sub002/internal/scheduler"

	"go.uber.org/zap"
)

// NewScheduleSweep 重算全部在线设备的活动播放列表并刷新缓存
// 保证就算设备一直不主动拉取，缓存里的选择结果也会跟着时间窗切换
func NewScheduleSweep(
	devices *repository.DevicesRepo,
	schedules *repository.SchedulesRepo,
	evaluator *scheduler.Evaluator,
	syncCache *cache.SyncCache,
	interval time.Duration,
	logger *zap.Logger,
) Job {
	return Job{
		Name:     "schedule-sweep",
		Interval: interval,
		Fn: func(ctx context.Context) error {
			active, err := devices.ListActiveDevices(ctx)
			if err != nil {
				return fmt.Errorf("list active devices: %w", err)
			}
			refreshed := 0
			for _, d := range active {
				assignments, err := schedules.ListAssignmentsForDevice(ctx, d.DeviceID)
				if err != nil {
					// 单台失败不中断整轮
					logger.Warn("Schedule sweep skipped device",
						zap.String("device_id", d.DeviceID), zap.Error(err))
					continue
				}
				// 时间窗按设备本地时间判定
				settings, err := domain.ParseDeviceSettings(d.Settings)
				if err != nil {
					settings = &domain.DeviceSettings{}
				}
				sel := evaluator.Evaluate(assignments, time.Now().In(settings.Location()))
				syncCache.SetActivePlaylist(ctx, d.DeviceID, sel)
				refreshed++
			}
			logger.Info("Schedule sweep finished",
				zap.Int("devices", len(active)), zap.Int("refreshed", refreshed))
			return nil
		},
	}
}

// NewStatusSweep 把超过存活阈值未心跳的设备标记为 offline
func NewStatusSweep(tracker *heartbeat.Tracker, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "status-sweep",
		Interval: interval,
		Fn: func(ctx context.Context) error {
			marked, err := tracker.SweepOffline(ctx)
			if err != nil {
				return fmt.Errorf("sweep offline: %w", err)
			}
			if len(marked) > 0 {
				for _, d := range marked {
					logger.Info("Device marked offline",
						zap.String("device_id", d.DeviceID),
						zap.Timep("last_seen_at", d.LastSeenAt))
				}
			}
			return nil
		},
	}
}

// NewAlertSweep 按租户规则评估离线/存储告警
func NewAlertSweep(engine *alerts.Engine, interval time.Duration) Job {
	return Job{
		Name:     "alert-sweep",
		Interval: interval,
		Fn: func(ctx context.Context) error {
			return engine.Sweep(ctx)
		},
	}
}

// NewCommandGC 清理已确认且超过保留期的指令
func NewCommandGC(queue *commands.Queue, interval, retention time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "command-gc",
		Interval: interval,
		Fn: func(ctx context.Context) error {
			deleted, err := queue.GC(ctx, retention)
			if err != nil {
				return fmt.Errorf("command gc: %w", err)
			}
			if deleted > 0 {
				logger.Info("Command gc removed rows", zap.Int64("deleted", deleted))
			}
			return nil
		},
	}
}
