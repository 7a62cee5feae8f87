package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// DevicesRepo 设备仓库（devices 表）
type DevicesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDevicesRepo(db *sql.DB, logger *zap.Logger) *DevicesRepo {
	return &DevicesRepo{db: db, logger: logger}
}

const deviceColumns = `
	device_id::text, tenant_id::text, name, activation_token,
	status, last_seen_at, ip_address, app_version,
	playlist_version, COALESCE(settings::text, ''), created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (*domain.Device, error) {
	var d domain.Device
	var settings string
	err := row.Scan(
		&d.DeviceID, &d.TenantID, &d.Name, &d.ActivationToken,
		&d.Status, &d.LastSeenAt, &d.IPAddress, &d.AppVersion,
		&d.PlaylistVersion, &settings, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if settings != "" {
		d.Settings = json.RawMessage(settings)
	}
	return &d, nil
}

// GetDevice 按主键查询设备
func (r *DevicesRepo) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`
	return scanDevice(r.db.QueryRowContext(ctx, q, deviceID))
}

// GetDeviceByActivationToken 按激活令牌查询设备（激活流程）
func (r *DevicesRepo) GetDeviceByActivationToken(ctx context.Context, token string) (*domain.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE activation_token = $1`
	return scanDevice(r.db.QueryRowContext(ctx, q, token))
}

// ActivateDevice 首次认证时激活设备
// 激活令牌保留：设备用同一令牌重新认证（换发新的 bearer token）是受支持的，
// 单次使用语义只针对 inactive -> active 的激活本身
func (r *DevicesRepo) ActivateDevice(ctx context.Context, deviceID string) error {
	q := `UPDATE devices
	      SET status = CASE WHEN status = 'inactive' THEN 'active' ELSE status END,
	          updated_at = NOW()
	      WHERE device_id = $1`
	res, err := r.db.ExecContext(ctx, q, deviceID)
	if err != nil {
		return fmt.Errorf("failed to activate device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen 更新 last_seen 及自报信息
// GREATEST 保证同设备并发心跳按时间戳后写者胜，不会回退
func (r *DevicesRepo) TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time, ip, appVersion string) error {
	q := `UPDATE devices
	      SET last_seen_at = GREATEST(COALESCE(last_seen_at, 'epoch'::timestamptz), $2),
	          ip_address = COALESCE(NULLIF($3, ''), ip_address),
	          app_version = COALESCE(NULLIF($4, ''), app_version),
	          status = CASE WHEN status IN ('inactive', 'offline') THEN 'active' ELSE status END,
	          updated_at = NOW()
	      WHERE device_id = $1`
	res, err := r.db.ExecContext(ctx, q, deviceID, seenAt, ip, appVersion)
	if err != nil {
		return fmt.Errorf("failed to touch last_seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus 更新设备状态
func (r *DevicesRepo) UpdateStatus(ctx context.Context, deviceID, status string) error {
	q := `UPDATE devices SET status = $2, updated_at = NOW() WHERE device_id = $1`
	res, err := r.db.ExecContext(ctx, q, deviceID, status)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPlaylistVersion 记录设备最后确认的播放列表版本
// 允许版本回退（Redis 计数器清零重新计数后设备要能确认到新计数上），
// 并发确认互相覆盖时下一次心跳按"不等即有更新"重新拉取，自行收敛
func (r *DevicesRepo) SetPlaylistVersion(ctx context.Context, deviceID string, version int64) error {
	q := `UPDATE devices SET playlist_version = $2, updated_at = NOW()
	      WHERE device_id = $1 AND playlist_version <> $2`
	_, err := r.db.ExecContext(ctx, q, deviceID, version)
	return err
}

// ListSilentDevices 查询静默超过阈值且仍标记为 active 的设备（离线扫描用）
func (r *DevicesRepo) ListSilentDevices(ctx context.Context, threshold time.Duration) ([]domain.Device, error) {
	q := `SELECT ` + deviceColumns + `
	      FROM devices
	      WHERE status = 'active'
	        AND (last_seen_at IS NULL OR last_seen_at < NOW() - $1::interval)`
	rows, err := r.db.QueryContext(ctx, q, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to list silent devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListOfflineDevices 查询超过阈值静默的设备（含已标记 offline 的，报警扫描用）
func (r *DevicesRepo) ListOfflineDevices(ctx context.Context, tenantID string, threshold time.Duration) ([]domain.Device, error) {
	q := `SELECT ` + deviceColumns + `
	      FROM devices
	      WHERE tenant_id = $1
	        AND status IN ('active', 'offline')
	        AND (last_seen_at IS NULL OR last_seen_at < NOW() - $2::interval)`
	rows, err := r.db.QueryContext(ctx, q, tenantID, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to list offline devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListDevices 查询租户下全部设备（报表导出用）
func (r *DevicesRepo) ListDevices(ctx context.Context, tenantID string) ([]domain.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE tenant_id = $1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListActiveDevices 查询全部在线设备（活动播放列表重算扫描用，
// 带 settings 以便按设备时区评估）
func (r *DevicesRepo) ListActiveDevices(ctx context.Context) ([]domain.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE status = 'active'`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list active devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateSettings 更新设备配置（JSONB 全量替换）
func (r *DevicesRepo) UpdateSettings(ctx context.Context, deviceID string, settings json.RawMessage) error {
	q := `UPDATE devices SET settings = $2::jsonb, updated_at = NOW() WHERE device_id = $1`
	res, err := r.db.ExecContext(ctx, q, deviceID, string(settings))
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
