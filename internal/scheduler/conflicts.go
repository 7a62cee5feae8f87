package scheduler

import (
	"context"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
)

// 冲突严重度（仅用于报告，运行时由优先级规则裁决）
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// 优先级 <= 2 视为顶层优先级，冲突升为 high
const topTierPriority = 2

// Conflict 一对窗口重叠且共享设备的排期
type Conflict struct {
	ScheduleA string   `json:"schedule_a"`
	ScheduleB string   `json:"schedule_b"`
	DeviceIDs []string `json:"device_ids"`
	Severity  string   `json:"severity"`
}

// ScheduleDeviceLister 查询排期指派的设备
type ScheduleDeviceLister interface {
	ListDeviceIDsForSchedule(ctx context.Context, scheduleID string) ([]string, error)
}

// ConflictDetector 排期冲突检测器
// 只读分析工具，在排期创建/更新时提示运营人员，绝不阻塞评估器
type ConflictDetector struct {
	devices ScheduleDeviceLister
}

func NewConflictDetector(devices ScheduleDeviceLister) *ConflictDetector {
	return &ConflictDetector{devices: devices}
}

// Detect 对租户全部排期做两两冲突检测
func (d *ConflictDetector) Detect(ctx context.Context, schedules []domain.Schedule) ([]Conflict, error) {
	// 先取每个排期的设备集合
	deviceSets := make(map[string][]string, len(schedules))
	for _, s := range schedules {
		ids, err := d.devices.ListDeviceIDsForSchedule(ctx, s.ScheduleID)
		if err != nil {
			return nil, err
		}
		deviceSets[s.ScheduleID] = ids
	}

	var conflicts []Conflict
	pairsPerDevice := map[string]int{}

	for i := 0; i < len(schedules); i++ {
		for j := i + 1; j < len(schedules); j++ {
			a, b := schedules[i], schedules[j]
			shared := intersectStrings(deviceSets[a.ScheduleID], deviceSets[b.ScheduleID])
			if len(shared) == 0 {
				continue
			}
			if !windowsOverlap(&a, &b) {
				continue
			}
			c := Conflict{
				ScheduleA: a.ScheduleID,
				ScheduleB: b.ScheduleID,
				DeviceIDs: shared,
				Severity:  SeverityLow,
			}
			if a.Priority <= topTierPriority || b.Priority <= topTierPriority {
				c.Severity = SeverityHigh
			}
			conflicts = append(conflicts, c)
			for _, dev := range shared {
				pairsPerDevice[dev]++
			}
		}
	}

	// 同一设备冲突对数超过 2 时升级为 medium（不降级已判 high 的）
	for i := range conflicts {
		if conflicts[i].Severity != SeverityLow {
			continue
		}
		for _, dev := range conflicts[i].DeviceIDs {
			if pairsPerDevice[dev] > 2 {
				conflicts[i].Severity = SeverityMedium
				break
			}
		}
	}

	return conflicts, nil
}

// windowsOverlap 日期范围相交 && 周几集合相交 && 时间窗重叠
func windowsOverlap(a, b *domain.Schedule) bool {
	return dateRangesIntersect(a, b) && weekdaysIntersect(a, b) && timeWindowsOverlap(a, b)
}

func dateRangesIntersect(a, b *domain.Schedule) bool {
	// 未设置的一端视为开区间
	if a.StartDate != nil && b.EndDate != nil && a.StartDate.After(*b.EndDate) {
		return false
	}
	if b.StartDate != nil && a.EndDate != nil && b.StartDate.After(*a.EndDate) {
		return false
	}
	return true
}

func weekdaysIntersect(a, b *domain.Schedule) bool {
	if !a.HasWeekdays() || !b.HasWeekdays() {
		return true // 未设置表示每天
	}
	set := map[int]bool{}
	for _, w := range a.Weekdays {
		set[w] = true
	}
	for _, w := range b.Weekdays {
		if set[w] {
			return true
		}
	}
	return false
}

func timeWindowsOverlap(a, b *domain.Schedule) bool {
	if !a.HasTimeWindow() || !b.HasTimeWindow() {
		return true // 未设置表示全天
	}
	aStart, err1 := parseTimeOfDay(*a.StartTime)
	aEnd, err2 := parseTimeOfDay(*a.EndTime)
	bStart, err3 := parseTimeOfDay(*b.StartTime)
	bEnd, err4 := parseTimeOfDay(*b.EndTime)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	// 半开区间 [start, end) 的重叠判定
	return aStart < bEnd && bStart < aEnd
}

func intersectStrings(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
