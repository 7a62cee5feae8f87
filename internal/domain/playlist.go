package domain

import "time"

// Playlist 播放列表领域模型（对应 playlists 表）
type Playlist struct {
	PlaylistID string `db:"playlist_id"` // UUID, PRIMARY KEY
	TenantID   string `db:"tenant_id"`   // UUID, NOT NULL

	Name     string `db:"name"`
	IsActive bool   `db:"is_active"`

	// 单项默认播放时长（秒），条目未指定时使用
	DefaultDuration int `db:"default_duration"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PlaylistItem 播放列表条目（对应 playlist_items 表）
// media_url 由外部媒体服务解析，这里只存引用
type PlaylistItem struct {
	ItemID     string `db:"item_id"`     // UUID, PRIMARY KEY
	PlaylistID string `db:"playlist_id"` // UUID, NOT NULL

	MediaID  string `db:"media_id"`  // 外部媒体服务的标识
	MediaURL string `db:"media_url"` // 已解析的下载地址
	MediaType string `db:"media_type"` // video | image | html

	Position int  `db:"position"` // 播放顺序
	Duration *int `db:"duration"` // 秒，nullable（用 playlist 默认值）

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PlaylistSnapshot 下发给设备的播放列表快照（含条目）
type PlaylistSnapshot struct {
	Playlist Playlist       `json:"playlist"`
	Items    []PlaylistItem `json:"items"`
}
