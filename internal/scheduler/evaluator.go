package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/repository"
)

// Selection 评估结果：某一时刻设备应播放的唯一播放列表
type Selection struct {
	PlaylistID   string    `json:"playlist_id"`
	AssignmentID string    `json:"assignment_id"`
	ScheduleID   *string   `json:"schedule_id,omitempty"`
	Priority     int       `json:"priority"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Evaluator 排期评估器
// 纯函数：相同输入数据对同一 (device, instant) 的重复调用结果一致，
// 不依赖调用顺序，无隐藏随机性
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate 计算设备在 now 时刻的活动播放列表
// 无候选时返回 nil（合法的空结果，不是错误）
func (e *Evaluator) Evaluate(assignments []repository.AssignmentWithSchedule, now time.Time) *Selection {
	type candidate struct {
		item     repository.AssignmentWithSchedule
		priority int
	}

	var candidates []candidate
	for _, item := range assignments {
		if !eligible(item.Schedule, now) {
			continue
		}
		// 挂接排期的指派用排期优先级，纯指派用自身优先级
		prio := item.Assignment.Priority
		if item.Schedule != nil {
			prio = item.Schedule.Priority
		}
		candidates = append(candidates, candidate{item: item, priority: prio})
	}
	if len(candidates) == 0 {
		return nil
	}

	// 优先级降序；同优先级取最近更新的指派；再按 assignment_id 保证全序
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		ti := candidates[i].item.Assignment.UpdatedAt
		tj := candidates[j].item.Assignment.UpdatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return candidates[i].item.Assignment.AssignmentID < candidates[j].item.Assignment.AssignmentID
	})

	win := candidates[0]
	sel := &Selection{
		PlaylistID:   win.item.Assignment.PlaylistID,
		AssignmentID: win.item.Assignment.AssignmentID,
		Priority:     win.priority,
		EvaluatedAt:  now,
	}
	if win.item.Schedule != nil {
		id := win.item.Schedule.ScheduleID
		sel.ScheduleID = &id
	}
	return sel
}

// eligible 排期在 now 时刻是否生效
// 无排期的纯指派恒生效；无任何窗口约束的排期等价于纯指派
func eligible(s *domain.Schedule, now time.Time) bool {
	if s == nil {
		return true
	}
	if !s.IsActive {
		return false
	}

	// 日期范围：两端均含
	date := truncateToDate(now)
	if s.StartDate != nil && date.Before(truncateToDate(*s.StartDate)) {
		return false
	}
	if s.EndDate != nil && date.After(truncateToDate(*s.EndDate)) {
		return false
	}

	// 周几过滤：0=周日 ... 6=周六
	if s.HasWeekdays() {
		wd := int(now.Weekday())
		found := false
		for _, w := range s.Weekdays {
			if w == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// 每日时间窗：含 start_time，不含 end_time
	if s.HasTimeWindow() {
		start, err1 := parseTimeOfDay(*s.StartTime)
		end, err2 := parseTimeOfDay(*s.EndTime)
		if err1 != nil || err2 != nil {
			return false
		}
		sec := secondsOfDay(now)
		if sec < start || sec >= end {
			return false
		}
	}

	return true
}

// parseTimeOfDay 解析 "HH:MM" / "HH:MM:SS"，返回当天秒数
func parseTimeOfDay(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	return h*3600 + m*60 + sec, nil
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
