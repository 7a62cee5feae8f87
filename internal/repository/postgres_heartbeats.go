package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// HeartbeatLogsRepo 心跳日志仓库（device_heartbeat_logs 表，追加写入）
type HeartbeatLogsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewHeartbeatLogsRepo(db *sql.DB, logger *zap.Logger) *HeartbeatLogsRepo {
	return &HeartbeatLogsRepo{db: db, logger: logger}
}

// Insert 追加一条心跳日志（历史条目不可变，没有 UPDATE 路径）
func (r *HeartbeatLogsRepo) Insert(ctx context.Context, log *domain.HeartbeatLog) error {
	q := `INSERT INTO device_heartbeat_logs
	        (tenant_id, device_id, reported_status, current_media, system_info)
	      VALUES ($1, $2, $3, $4, NULLIF($5, '')::jsonb)`
	sysInfo := ""
	if len(log.SystemInfo) > 0 {
		sysInfo = string(log.SystemInfo)
	}
	_, err := r.db.ExecContext(ctx, q,
		log.TenantID, log.DeviceID, log.ReportedStatus, log.CurrentMedia, sysInfo)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat log: %w", err)
	}
	return nil
}

// LatestForDevice 设备最近一条心跳日志（存储压力评估用）
func (r *HeartbeatLogsRepo) LatestForDevice(ctx context.Context, deviceID string) (*domain.HeartbeatLog, error) {
	q := `SELECT log_id, tenant_id::text, device_id::text, reported_status,
	             current_media, COALESCE(system_info::text, ''), created_at
	      FROM device_heartbeat_logs
	      WHERE device_id = $1
	      ORDER BY log_id DESC
	      LIMIT 1`
	var l domain.HeartbeatLog
	var sysInfo string
	err := r.db.QueryRowContext(ctx, q, deviceID).Scan(
		&l.LogID, &l.TenantID, &l.DeviceID, &l.ReportedStatus,
		&l.CurrentMedia, &sysInfo, &l.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sysInfo != "" {
		l.SystemInfo = []byte(sysInfo)
	}
	return &l, nil
}
