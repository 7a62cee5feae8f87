package domain

import (
	"encoding/json"
	"time"
)

// 指令状态机：pending -> delivered -> acknowledged | failed
// acknowledged/failed 为终态，终态后从 drain 结果中移除
const (
	CommandStatusPending      = "pending"
	CommandStatusDelivered    = "delivered"
	CommandStatusAcknowledged = "acknowledged"
	CommandStatusFailed       = "failed"
)

// 指令类型
const (
	CommandTypeRestart      = "restart"
	CommandTypeShutdown     = "shutdown"
	CommandTypeClearCache   = "clear_cache"
	CommandTypeScreenshot   = "screenshot"
	CommandTypeUpdateApp    = "update_app"
	CommandTypeReloadConfig = "reload_config"
)

// CommandEntry 设备指令（对应 device_commands 表）
// command_id 由调用方提供作为幂等键，缺省时服务端生成
type CommandEntry struct {
	CommandID string `db:"command_id"` // PRIMARY KEY（幂等键）
	TenantID  string `db:"tenant_id"`  // UUID, NOT NULL
	DeviceID  string `db:"device_id"`  // UUID, NOT NULL

	Type       string          `db:"type"`       // NOT NULL
	Parameters json.RawMessage `db:"parameters"` // JSONB

	Status string `db:"status"` // NOT NULL, default 'pending'

	// 设备回执
	ResultMessage *string    `db:"result_message"` // nullable
	DeliveredAt   *time.Time `db:"delivered_at"`   // nullable
	AcknowledgedAt *time.Time `db:"acknowledged_at"` // nullable

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Terminal 是否处于终态
func (c *CommandEntry) Terminal() bool {
	return c.Status == CommandStatusAcknowledged || c.Status == CommandStatusFailed
}
