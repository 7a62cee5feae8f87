package domain

import (
	"encoding/json"
	"time"
)

// 变更实体类型
const (
	ChangeEntitySchedule     = "schedule"
	ChangeEntityAssignment   = "assignment"
	ChangeEntityPlaylist     = "playlist"
	ChangeEntityPlaylistItem = "playlist_item"
)

// 变更动作
const (
	ChangeOpUpsert = "upsert"
	ChangeOpDelete = "delete"
)

// Change 一条下发给设备的增量变更
// 按 updated_at 升序，同一实体只保留最新版本
type Change struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         string          `json:"op"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DeltaResult 增量同步结果
// ServerTimestamp 在变更查询执行前采样（服务端时钟权威）
type DeltaResult struct {
	Full            bool      `json:"full"`
	Changes         []Change  `json:"changes"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}
