package domain

import (
	"encoding/json"
	"time"
)

// HeartbeatLog 心跳日志（对应 device_heartbeat_logs 表）
// 追加写入，历史条目不可变
type HeartbeatLog struct {
	LogID    int64  `db:"log_id"`    // BIGSERIAL, PRIMARY KEY
	TenantID string `db:"tenant_id"` // UUID, NOT NULL
	DeviceID string `db:"device_id"` // UUID, NOT NULL

	ReportedStatus string          `db:"reported_status"` // 设备自报状态
	CurrentMedia   *string         `db:"current_media"`   // nullable
	SystemInfo     json.RawMessage `db:"system_info"`     // JSONB

	CreatedAt time.Time `db:"created_at"`
}

// SystemInfo 设备自报系统信息的类型化视图
type SystemInfo struct {
	StorageUsedMB  *int    `json:"storage_used_mb,omitempty"`
	StorageTotalMB *int    `json:"storage_total_mb,omitempty"`
	MemoryUsedMB   *int    `json:"memory_used_mb,omitempty"`
	CPUPercent     *float64 `json:"cpu_percent,omitempty"`
	Uptime         *int64  `json:"uptime_seconds,omitempty"`
}

// StoragePercent 已用存储百分比，信息不足时返回 -1
func (s *SystemInfo) StoragePercent() int {
	if s.StorageUsedMB == nil || s.StorageTotalMB == nil || *s.StorageTotalMB <= 0 {
		return -1
	}
	return int(float64(*s.StorageUsedMB) / float64(*s.StorageTotalMB) * 100)
}
