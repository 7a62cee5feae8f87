package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/alerts"
	"github.com/rgazeredo/aztv-sub002/internal/auth"
	"github.com/rgazeredo/aztv-sub002/internal/cache"
	"github.com/rgazeredo/aztv-sub002/internal/commands"
	"github.com/rgazeredo/aztv-sub002/internal/deltasync"
	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/heartbeat"
	"github.com/rgazeredo/aztv-sub002/internal/repository"
	"github.com/rgazeredo/aztv-sub002/internal/scheduler"

	"go.uber.org/zap"
)

// PlayerService 设备侧核心编排
// HTTP Handler 只做参数解析和响应组装，流程都在这里
type PlayerService struct {
	devices     *repository.DevicesRepo
	schedules   *repository.SchedulesRepo
	playlists   *repository.PlaylistsRepo
	evaluator   *scheduler.Evaluator
	detector    *scheduler.ConflictDetector
	syncCache   *cache.SyncCache
	tracker     *heartbeat.Tracker
	queue       *commands.Queue
	delta       *deltasync.Engine
	alertEngine *alerts.Engine
	auther      *auth.Authenticator
	logger      *zap.Logger

	// 所有存储/缓存调用的请求级超时上限
	requestTimeout time.Duration
}

func NewPlayerService(
	devices *repository.DevicesRepo,
	schedules *repository.SchedulesRepo,
	playlists *repository.PlaylistsRepo,
	evaluator *scheduler.Evaluator,
	detector *scheduler.ConflictDetector,
	syncCache *cache.SyncCache,
	tracker *heartbeat.Tracker,
	queue *commands.Queue,
	delta *deltasync.Engine,
	alertEngine *alerts.Engine,
	auther *auth.Authenticator,
	requestTimeout time.Duration,
	logger *zap.Logger,
) *PlayerService {
	return &PlayerService{
		devices:        devices,
		schedules:      schedules,
		playlists:      playlists,
		evaluator:      evaluator,
		detector:       detector,
		syncCache:      syncCache,
		tracker:        tracker,
		queue:          queue,
		delta:          delta,
		alertEngine:    alertEngine,
		auther:         auther,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

func (s *PlayerService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.requestTimeout)
}

// AuthResult 认证响应
type AuthResult struct {
	Device   *domain.Device
	Bearer   string
	Settings *domain.DeviceSettings
}

// Authenticate 激活令牌换发 bearer token
func (s *PlayerService) Authenticate(ctx context.Context, activationToken, ip, appVersion string) (*AuthResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	device, bearer, err := s.auther.Authenticate(ctx, activationToken, ip, appVersion)
	if err != nil {
		return nil, err
	}
	settings, err := domain.ParseDeviceSettings(device.Settings)
	if err != nil {
		// 配置损坏不阻断认证，回退空配置
		s.logger.Warn("Corrupt device settings",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		settings = &domain.DeviceSettings{}
	}
	return &AuthResult{Device: device, Bearer: bearer, Settings: settings}, nil
}

// ValidateSession 校验请求头里的设备会话
func (s *PlayerService) ValidateSession(ctx context.Context, deviceID, bearer string) (*domain.Device, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.auther.Validate(ctx, deviceID, bearer); err != nil {
		return nil, err
	}
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.ErrAuthFailed
		}
		return nil, err
	}
	return device, nil
}

// Heartbeat 处理心跳：刷新在线状态、追加日志、下发指令和更新标记
// 设备从 offline 恢复时顺带关闭其离线报警
func (s *PlayerService) Heartbeat(ctx context.Context, device *domain.Device, report heartbeat.Report) (*heartbeat.BeatResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.tracker.Beat(ctx, device, report)
	if err != nil {
		return nil, err
	}
	if result.WasOffline {
		if err := s.alertEngine.ResolveOffline(ctx, device.DeviceID); err != nil {
			s.logger.Warn("Failed to resolve offline alert on heartbeat",
				zap.String("device_id", device.DeviceID), zap.Error(err))
		}
	}
	return result, nil
}

// ActivePlaylist 设备当前应播放的播放列表（经 SyncCache）
// 返回 (选择结果, 是否命中缓存, 错误)；无活动播放列表时选择结果为 nil
func (s *PlayerService) ActivePlaylist(ctx context.Context, device *domain.Device) (*scheduler.Selection, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if raw, ok := s.syncCache.GetActivePlaylist(ctx, device.DeviceID); ok {
		if raw == nil {
			return nil, true, nil
		}
		var sel scheduler.Selection
		if err := json.Unmarshal(raw, &sel); err == nil {
			return &sel, true, nil
		}
		// 缓存值损坏按 miss 处理
	}

	assignments, err := s.schedules.ListAssignmentsForDevice(ctx, device.DeviceID)
	if err != nil {
		return nil, false, err
	}
	// 时间窗和周几按设备本地时间判定
	settings, err := domain.ParseDeviceSettings(device.Settings)
	if err != nil {
		settings = &domain.DeviceSettings{}
	}
	sel := s.evaluator.Evaluate(assignments, time.Now().In(settings.Location()))
	s.syncCache.SetActivePlaylist(ctx, device.DeviceID, sel)
	return sel, false, nil
}

// PlaylistsResult 播放列表响应
type PlaylistsResult struct {
	Snapshots   []domain.PlaylistSnapshot
	LastUpdated time.Time
}

// Playlists 设备全部指派播放列表的快照
// 成功响应即视为设备确认了当前播放列表版本
func (s *PlayerService) Playlists(ctx context.Context, device *domain.Device) (*PlaylistsResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// 版本先于快照采样：快照查询执行期间提交的写入会把计数推到
	// 采样值之后，下一次心跳仍会提示有更新，不会被本次确认吞掉
	version, versionOK := int64(0), false
	if v, err := s.syncCache.GetPlaylistVersion(ctx, device.TenantID); err == nil {
		version, versionOK = v, true
	}

	snapshots, err := s.playlists.ListSnapshotsForDevice(ctx, device.DeviceID)
	if err != nil {
		return nil, err
	}

	var lastUpdated time.Time
	for _, snap := range snapshots {
		if snap.Playlist.UpdatedAt.After(lastUpdated) {
			lastUpdated = snap.Playlist.UpdatedAt
		}
		for _, it := range snap.Items {
			if it.UpdatedAt.After(lastUpdated) {
				lastUpdated = it.UpdatedAt
			}
		}
	}

	// 确认版本：下一次心跳的 playlistsUpdated 以此为基准
	if versionOK {
		if err := s.devices.SetPlaylistVersion(ctx, device.DeviceID, version); err != nil {
			s.logger.Warn("Failed to ack playlist version",
				zap.String("device_id", device.DeviceID), zap.Error(err))
		}
	}

	return &PlaylistsResult{Snapshots: snapshots, LastUpdated: lastUpdated}, nil
}

// SyncDelta 增量同步
func (s *PlayerService) SyncDelta(ctx context.Context, device *domain.Device, clientLastSync *time.Time) (*domain.DeltaResult, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.delta.Sync(ctx, device.DeviceID, clientLastSync)
}

// EnqueueCommand 运营侧入队指令
func (s *PlayerService) EnqueueCommand(ctx context.Context, tenantID, deviceID, cmdType string, params json.RawMessage, idempotencyKey string) (*domain.CommandEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queue.Enqueue(ctx, tenantID, deviceID, cmdType, params, idempotencyKey)
}

// ConfirmCommand 设备确认指令执行结果
// shutdown 指令确认执行成功后立即标记设备离线，不等阈值过期
func (s *PlayerService) ConfirmCommand(ctx context.Context, device *domain.Device, commandID, status string, message *string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.queue.Get(ctx, commandID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	transitioned, err := s.queue.Acknowledge(ctx, device.DeviceID, commandID, status, message)
	if err != nil {
		return err
	}
	if transitioned && entry != nil && entry.Type == domain.CommandTypeShutdown && status == "executed" {
		if err := s.tracker.MarkOffline(ctx, device.DeviceID); err != nil {
			s.logger.Warn("Failed to mark device offline after shutdown",
				zap.String("device_id", device.DeviceID), zap.Error(err))
		}
	}
	return nil
}

// ReportError 设备提交错误日志：active/offline -> error
func (s *PlayerService) ReportError(ctx context.Context, device *domain.Device) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tracker.MarkError(ctx, device.DeviceID)
}

// Invalidate CRUD 层在排期/指派/播放列表变更后必须调用的唯一钩子
// 失效设备缓存并递增租户播放列表版本
func (s *PlayerService) Invalidate(ctx context.Context, deviceID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.syncCache.InvalidatePlaylist(ctx, deviceID); err != nil {
		return err
	}
	if err := s.syncCache.InvalidateConfig(ctx, deviceID); err != nil {
		return err
	}
	if _, err := s.syncCache.BumpPlaylistVersion(ctx, device.TenantID); err != nil {
		return err
	}
	return nil
}

// InvalidateByPlaylist 播放列表（或其条目）变更后的批量失效钩子
// 对指派了该播放列表的全部设备失效缓存，租户版本只递增一次；
// 返回受影响的设备数
func (s *PlayerService) InvalidateByPlaylist(ctx context.Context, playlistID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pl, err := s.playlists.GetPlaylist(ctx, playlistID)
	if err != nil {
		return 0, err
	}
	deviceIDs, err := s.schedules.ListDeviceIDsForPlaylist(ctx, playlistID)
	if err != nil {
		return 0, err
	}
	for _, deviceID := range deviceIDs {
		if err := s.syncCache.InvalidatePlaylist(ctx, deviceID); err != nil {
			return 0, err
		}
	}
	if _, err := s.syncCache.BumpPlaylistVersion(ctx, pl.TenantID); err != nil {
		return 0, err
	}
	return len(deviceIDs), nil
}

// Conflicts 租户排期冲突报告（只读，不影响评估器）
func (s *PlayerService) Conflicts(ctx context.Context, tenantID string) ([]scheduler.Conflict, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	schedules, err := s.schedules.ListSchedules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.detector.Detect(ctx, schedules)
}
