package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeviceLister 内存版排期->设备映射
type fakeDeviceLister struct {
	byScheduleID map[string][]string
}

func (f *fakeDeviceLister) ListDeviceIDsForSchedule(_ context.Context, scheduleID string) ([]string, error) {
	return f.byScheduleID[scheduleID], nil
}

func windowSchedule(id string, startTime, endTime string, weekdays []int, priority int) domain.Schedule {
	return domain.Schedule{
		ScheduleID: id,
		TenantID:   "tenant-1",
		PlaylistID: "pl-" + id,
		StartTime:  strPtr(startTime),
		EndTime:    strPtr(endTime),
		Weekdays:   weekdays,
		Priority:   priority,
		IsActive:   true,
	}
}

func TestDetect_OverlappingWindowsSharedDevice(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1", "dev-2"},
		"s-2": {"dev-2", "dev-3"},
	}}
	d := scheduler.NewConflictDetector(lister)

	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", nil, 5),
		windowSchedule("s-2", "11:00", "14:00", nil, 5),
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "s-1", conflicts[0].ScheduleA)
	assert.Equal(t, "s-2", conflicts[0].ScheduleB)
	assert.Equal(t, []string{"dev-2"}, conflicts[0].DeviceIDs)
	assert.Equal(t, scheduler.SeverityLow, conflicts[0].Severity)
}

func TestDetect_NoSharedDevices(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-2"},
	}}
	d := scheduler.NewConflictDetector(lister)

	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", nil, 5),
		windowSchedule("s-2", "09:00", "12:00", nil, 5),
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_DisjointTimeWindows(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	// [09:00,12:00) 与 [12:00,15:00) 共享边界秒但不重叠
	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", nil, 5),
		windowSchedule("s-2", "12:00", "15:00", nil, 5),
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_DisjointWeekdays(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", []int{1, 2, 3}, 5),
		windowSchedule("s-2", "09:00", "12:00", []int{0, 6}, 5),
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_DisjointDateRanges(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	a := windowSchedule("s-1", "09:00", "12:00", nil, 5)
	a.StartDate = timePtr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	a.EndDate = timePtr(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	b := windowSchedule("s-2", "09:00", "12:00", nil, 5)
	b.StartDate = timePtr(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	conflicts, err := d.Detect(context.Background(), []domain.Schedule{a, b})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_TopTierPriorityIsHighSeverity(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", nil, 1),
		windowSchedule("s-2", "10:00", "13:00", nil, 8),
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, scheduler.SeverityHigh, conflicts[0].Severity)
}

func TestDetect_ManyPairsPerDeviceEscalatesToMedium(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
		"s-3": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	// 全天重叠的三个排期产生 3 对冲突，dev-1 超过 2 对
	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		windowSchedule("s-1", "09:00", "12:00", nil, 5),
		windowSchedule("s-2", "09:00", "12:00", nil, 5),
		windowSchedule("s-3", "09:00", "12:00", nil, 5),
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 3)
	for _, c := range conflicts {
		assert.Equal(t, scheduler.SeverityMedium, c.Severity)
	}
}

func TestDetect_MissingWindowTreatedAsAllDay(t *testing.T) {
	lister := &fakeDeviceLister{byScheduleID: map[string][]string{
		"s-1": {"dev-1"},
		"s-2": {"dev-1"},
	}}
	d := scheduler.NewConflictDetector(lister)

	allDay := domain.Schedule{
		ScheduleID: "s-1",
		PlaylistID: "pl-1",
		Priority:   5,
		IsActive:   true,
	}
	conflicts, err := d.Detect(context.Background(), []domain.Schedule{
		allDay,
		windowSchedule("s-2", "09:00", "12:00", []int{2}, 5),
	})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}
