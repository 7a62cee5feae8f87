package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordStore 报警规则与记录持久化
type RecordStore interface {
	ListTenantIDsWithRules(ctx context.Context, ruleType string) ([]string, error)
	ListEnabledRules(ctx context.Context, tenantID, ruleType string) ([]domain.AlertRule, error)
	CreateIfAbsent(ctx context.Context, a *domain.AlertRecord) (bool, error)
	Resolve(ctx context.Context, deviceID, alertType string, at time.Time) (int64, error)
}

// DeviceSource 报警扫描所需的设备查询
type DeviceSource interface {
	ListOfflineDevices(ctx context.Context, tenantID string, threshold time.Duration) ([]domain.Device, error)
	ListDevices(ctx context.Context, tenantID string) ([]domain.Device, error)
}

// TelemetrySource 设备最近一次自报系统信息
type TelemetrySource interface {
	LatestForDevice(ctx context.Context, deviceID string) (*domain.HeartbeatLog, error)
}

// Engine 报警引擎
// 独立于单个设备心跳的周期扫描；并发执行下保持幂等：
// 同一设备同一类型的未解决报警至多一条（由部分唯一索引兜底）
type Engine struct {
	records   RecordStore
	devices   DeviceSource
	telemetry TelemetrySource
	logger    *zap.Logger

	now func() time.Time
}

func NewEngine(records RecordStore, devices DeviceSource, telemetry TelemetrySource, logger *zap.Logger) *Engine {
	return &Engine{
		records:   records,
		devices:   devices,
		telemetry: telemetry,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep 执行一轮报警评估（device_offline + storage_pressure）
func (e *Engine) Sweep(ctx context.Context) error {
	if err := e.sweepOffline(ctx); err != nil {
		return err
	}
	return e.sweepStorage(ctx)
}

func (e *Engine) sweepOffline(ctx context.Context) error {
	tenants, err := e.records.ListTenantIDsWithRules(ctx, domain.AlertTypeDeviceOffline)
	if err != nil {
		return fmt.Errorf("failed to list offline-rule tenants: %w", err)
	}
	for _, tenantID := range tenants {
		rules, err := e.records.ListEnabledRules(ctx, tenantID, domain.AlertTypeDeviceOffline)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			threshold := time.Duration(rule.Threshold) * time.Second
			devices, err := e.devices.ListOfflineDevices(ctx, tenantID, threshold)
			if err != nil {
				return err
			}
			for _, d := range devices {
				cond, _ := json.Marshal(map[string]any{
					"threshold_seconds": rule.Threshold,
					"last_seen_at":      d.LastSeenAt,
				})
				created, err := e.records.CreateIfAbsent(ctx, &domain.AlertRecord{
					AlertID:   uuid.New().String(),
					TenantID:  tenantID,
					DeviceID:  d.DeviceID,
					Type:      domain.AlertTypeDeviceOffline,
					Condition: cond,
				})
				if err != nil {
					e.logger.Error("Failed to raise offline alert",
						zap.String("device_id", d.DeviceID), zap.Error(err))
					continue
				}
				if created {
					e.logger.Info("Device offline alert raised",
						zap.String("tenant_id", tenantID),
						zap.String("device_id", d.DeviceID))
				}
			}
		}
	}
	return nil
}

func (e *Engine) sweepStorage(ctx context.Context) error {
	tenants, err := e.records.ListTenantIDsWithRules(ctx, domain.AlertTypeStoragePressure)
	if err != nil {
		return fmt.Errorf("failed to list storage-rule tenants: %w", err)
	}
	for _, tenantID := range tenants {
		rules, err := e.records.ListEnabledRules(ctx, tenantID, domain.AlertTypeStoragePressure)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			continue
		}
		devices, err := e.devices.ListDevices(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, d := range devices {
			last, err := e.telemetry.LatestForDevice(ctx, d.DeviceID)
			if err != nil {
				continue // 没有心跳数据的设备跳过
			}
			var info domain.SystemInfo
			if len(last.SystemInfo) == 0 || json.Unmarshal(last.SystemInfo, &info) != nil {
				continue
			}
			pct := info.StoragePercent()
			if pct < 0 {
				continue
			}
			over := false
			for _, rule := range rules {
				if pct >= rule.Threshold {
					over = true
					cond, _ := json.Marshal(map[string]any{
						"threshold_percent": rule.Threshold,
						"storage_percent":   pct,
					})
					created, err := e.records.CreateIfAbsent(ctx, &domain.AlertRecord{
						AlertID:   uuid.New().String(),
						TenantID:  tenantID,
						DeviceID:  d.DeviceID,
						Type:      domain.AlertTypeStoragePressure,
						Condition: cond,
					})
					if err != nil {
						e.logger.Error("Failed to raise storage alert",
							zap.String("device_id", d.DeviceID), zap.Error(err))
						continue
					}
					if created {
						e.logger.Info("Storage pressure alert raised",
							zap.String("device_id", d.DeviceID), zap.Int("percent", pct))
					}
					break
				}
			}
			if !over {
				// 条件解除时自动关闭
				if _, err := e.records.Resolve(ctx, d.DeviceID, domain.AlertTypeStoragePressure, e.now().UTC()); err != nil {
					e.logger.Warn("Failed to resolve storage alert",
						zap.String("device_id", d.DeviceID), zap.Error(err))
				}
			}
		}
	}
	return nil
}

// ResolveOffline 设备恢复 active 后关闭其未解决的离线报警
func (e *Engine) ResolveOffline(ctx context.Context, deviceID string) error {
	n, err := e.records.Resolve(ctx, deviceID, domain.AlertTypeDeviceOffline, e.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("Device offline alert resolved",
			zap.String("device_id", deviceID))
	}
	return nil
}
