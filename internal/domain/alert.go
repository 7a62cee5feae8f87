package domain

import (
	"encoding/json"
	"time"
)

// 报警类型
const (
	AlertTypeDeviceOffline   = "device_offline"
	AlertTypeStoragePressure = "storage_pressure"
	AlertTypeJobStuck        = "job_stuck"
)

// AlertRule 报警规则（对应 alert_rules 表）
type AlertRule struct {
	RuleID   string `db:"rule_id"`   // UUID, PRIMARY KEY
	TenantID string `db:"tenant_id"` // UUID, NOT NULL

	Type    string `db:"type"`    // NOT NULL
	Enabled bool   `db:"enabled"` // NOT NULL, default true

	// device_offline: 静默时长阈值（秒）
	// storage_pressure: 已用空间百分比阈值
	Threshold int `db:"threshold"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AlertRecord 报警记录（对应 alert_records 表）
// 同一设备同一类型同时至多一条未解决记录
type AlertRecord struct {
	AlertID  string `db:"alert_id"`  // UUID, PRIMARY KEY
	TenantID string `db:"tenant_id"` // UUID, NOT NULL
	DeviceID string `db:"device_id"` // UUID, NOT NULL

	Type string `db:"type"` // NOT NULL

	// 触发时刻的条件快照（JSONB）
	Condition json.RawMessage `db:"condition"`

	Resolved   bool       `db:"resolved"`    // NOT NULL, default false
	ResolvedAt *time.Time `db:"resolved_at"` // nullable

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
