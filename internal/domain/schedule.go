package domain

import (
	"time"
)

// Schedule 播放排期领域模型（对应 schedules 表）
// 归属唯一租户和唯一播放列表；被历史日志引用后除 is_active 外不可变
type Schedule struct {
	ScheduleID string `db:"schedule_id"` // UUID, PRIMARY KEY
	TenantID   string `db:"tenant_id"`   // UUID, NOT NULL
	PlaylistID string `db:"playlist_id"` // UUID, NOT NULL

	Name string `db:"name"`

	// 有效日期范围（含两端），可空表示不限
	StartDate *time.Time `db:"start_date"` // DATE, nullable
	EndDate   *time.Time `db:"end_date"`   // DATE, nullable

	// 每日时间窗：含 start_time，不含 end_time（避免边界秒双激活）
	// 格式 "HH:MM" 或 "HH:MM:SS"
	StartTime *string `db:"start_time"` // nullable
	EndTime   *string `db:"end_time"`   // nullable

	// 周几生效：0=周日 ... 6=周六，空表示不限
	Weekdays []int `db:"weekdays"` // INT[]

	// 优先级：数值越大越优先
	Priority int  `db:"priority"` // NOT NULL, default 0
	IsActive bool `db:"is_active"` // NOT NULL, default true

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasDateRange 是否设置了日期范围
func (s *Schedule) HasDateRange() bool {
	return s.StartDate != nil || s.EndDate != nil
}

// HasTimeWindow 是否设置了每日时间窗
func (s *Schedule) HasTimeWindow() bool {
	return s.StartTime != nil && s.EndTime != nil
}

// HasWeekdays 是否设置了周几过滤
func (s *Schedule) HasWeekdays() bool {
	return len(s.Weekdays) > 0
}

// DeviceScheduleAssignment 设备-播放列表指派（多对多 join，自带优先级）
// schedule_id 可空：纯优先级指派（不挂排期，恒可用）
type DeviceScheduleAssignment struct {
	AssignmentID string  `db:"assignment_id"` // UUID, PRIMARY KEY
	TenantID     string  `db:"tenant_id"`     // UUID, NOT NULL
	DeviceID     string  `db:"device_id"`     // UUID, NOT NULL
	PlaylistID   string  `db:"playlist_id"`   // UUID, NOT NULL
	ScheduleID   *string `db:"schedule_id"`   // UUID, nullable

	Priority int `db:"priority"` // NOT NULL, default 0

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
