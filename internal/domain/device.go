package domain

import (
	"encoding/json"
	"time"
)

// 设备状态（对应 devices.status CHECK 约束）
const (
	DeviceStatusInactive = "inactive"
	DeviceStatusActive   = "active"
	DeviceStatusOffline  = "offline"
	DeviceStatusError    = "error"
)

// Device 播放终端领域模型（对应 devices 表）
// 软生命周期：被日志引用的设备不做物理删除
type Device struct {
	// 主键和租户
	DeviceID string `db:"device_id"` // UUID, PRIMARY KEY
	TenantID string `db:"tenant_id"` // UUID, NOT NULL

	// 标识
	Name            string  `db:"name"`             // NOT NULL
	ActivationToken *string `db:"activation_token"` // nullable, 激活后置空

	// 状态
	Status     string     `db:"status"`      // NOT NULL, default 'inactive'
	LastSeenAt *time.Time `db:"last_seen_at"` // nullable, 每次心跳/认证刷新
	IPAddress  *string    `db:"ip_address"`   // nullable
	AppVersion *string    `db:"app_version"`  // nullable

	// 设备自报的同步游标
	PlaylistVersion int64 `db:"playlist_version"` // 设备最后确认的播放列表版本

	// 自由配置（JSONB）
	Settings json.RawMessage `db:"settings"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DeviceSettings 设备配置的类型化视图（替代松散的 JSON key 查找）
// 读取时校验，消费方声明必填/可选字段
type DeviceSettings struct {
	Orientation     string `json:"orientation,omitempty"`      // landscape | portrait
	Volume          *int   `json:"volume,omitempty"`           // 0-100
	RebootHour      *int   `json:"reboot_hour,omitempty"`      // 0-23, 每日自动重启
	StorageLimitMB  *int   `json:"storage_limit_mb,omitempty"` // 本地缓存上限
	Timezone        string `json:"timezone,omitempty"`
	ScreenBrightness *int  `json:"screen_brightness,omitempty"`
}

// Location 设备所在时区（排期时间窗按设备本地时间判定）
// 未配置或无法识别的时区回退 UTC
func (s *DeviceSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseDeviceSettings 解析并校验设备配置
func ParseDeviceSettings(raw json.RawMessage) (*DeviceSettings, error) {
	s := &DeviceSettings{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	if s.Volume != nil && (*s.Volume < 0 || *s.Volume > 100) {
		v := clampInt(*s.Volume, 0, 100)
		s.Volume = &v
	}
	if s.RebootHour != nil && (*s.RebootHour < 0 || *s.RebootHour > 23) {
		s.RebootHour = nil
	}
	return s, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
