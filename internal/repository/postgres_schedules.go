package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SchedulesRepo 排期与指派仓库（schedules / device_schedule_assignments 表）
type SchedulesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSchedulesRepo(db *sql.DB, logger *zap.Logger) *SchedulesRepo {
	return &SchedulesRepo{db: db, logger: logger}
}

const scheduleColumns = `
	schedule_id::text, tenant_id::text, playlist_id::text, name,
	start_date, end_date, start_time, end_time, weekdays,
	priority, is_active, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*domain.Schedule, error) {
	var s domain.Schedule
	var weekdays pq.Int64Array
	err := row.Scan(
		&s.ScheduleID, &s.TenantID, &s.PlaylistID, &s.Name,
		&s.StartDate, &s.EndDate, &s.StartTime, &s.EndTime, &weekdays,
		&s.Priority, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, w := range weekdays {
		s.Weekdays = append(s.Weekdays, int(w))
	}
	return &s, nil
}

// GetSchedule 按主键查询排期
func (r *SchedulesRepo) GetSchedule(ctx context.Context, tenantID, scheduleID string) (*domain.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules WHERE schedule_id = $1 AND tenant_id = $2`
	return scanSchedule(r.db.QueryRowContext(ctx, q, scheduleID, tenantID))
}

// ListSchedules 查询租户下全部排期（冲突检测用）
func (r *SchedulesRepo) ListSchedules(ctx context.Context, tenantID string) ([]domain.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules WHERE tenant_id = $1 ORDER BY priority DESC, created_at`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SetScheduleActive 切换排期启用状态（被日志引用的排期只允许该变更）
func (r *SchedulesRepo) SetScheduleActive(ctx context.Context, tenantID, scheduleID string, active bool) error {
	q := `UPDATE schedules SET is_active = $3, updated_at = NOW()
	      WHERE schedule_id = $1 AND tenant_id = $2`
	res, err := r.db.ExecContext(ctx, q, scheduleID, tenantID, active)
	if err != nil {
		return fmt.Errorf("failed to toggle schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignmentWithSchedule 指派 + 其挂接的排期（可空）
type AssignmentWithSchedule struct {
	Assignment domain.DeviceScheduleAssignment
	Schedule   *domain.Schedule
}

// ListAssignmentsForDevice 查询设备的全部指派及挂接排期
// 不做任何隐式过滤（is_active / 时间窗判断在 evaluator 中显式进行）
func (r *SchedulesRepo) ListAssignmentsForDevice(ctx context.Context, deviceID string) ([]AssignmentWithSchedule, error) {
	q := `
		SELECT
			a.assignment_id::text, a.tenant_id::text, a.device_id::text,
			a.playlist_id::text,
			CASE WHEN a.schedule_id IS NULL THEN NULL ELSE a.schedule_id::text END,
			a.priority, a.created_at, a.updated_at,
			s.schedule_id::text, s.tenant_id::text, s.playlist_id::text, s.name,
			s.start_date, s.end_date, s.start_time, s.end_time, s.weekdays,
			s.priority, s.is_active, s.created_at, s.updated_at
		FROM device_schedule_assignments a
		LEFT JOIN schedules s ON a.schedule_id = s.schedule_id
		WHERE a.device_id = $1
		ORDER BY a.priority DESC, a.updated_at DESC`
	rows, err := r.db.QueryContext(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []AssignmentWithSchedule
	for rows.Next() {
		var a domain.DeviceScheduleAssignment
		var s domain.Schedule
		var sID, sTenant, sPlaylist, sName *string
		var sStartDate, sEndDate *sql.NullTime
		var sStartTime, sEndTime *string
		var weekdays pq.Int64Array
		var sPriority *int
		var sActive *bool
		var sCreated, sUpdated *sql.NullTime

		err := rows.Scan(
			&a.AssignmentID, &a.TenantID, &a.DeviceID,
			&a.PlaylistID, &a.ScheduleID,
			&a.Priority, &a.CreatedAt, &a.UpdatedAt,
			&sID, &sTenant, &sPlaylist, &sName,
			&sStartDate, &sEndDate, &sStartTime, &sEndTime, &weekdays,
			&sPriority, &sActive, &sCreated, &sUpdated,
		)
		if err != nil {
			return nil, err
		}

		item := AssignmentWithSchedule{Assignment: a}
		if sID != nil {
			s.ScheduleID = *sID
			s.TenantID = *sTenant
			s.PlaylistID = *sPlaylist
			s.Name = *sName
			if sStartDate != nil && sStartDate.Valid {
				t := sStartDate.Time
				s.StartDate = &t
			}
			if sEndDate != nil && sEndDate.Valid {
				t := sEndDate.Time
				s.EndDate = &t
			}
			s.StartTime = sStartTime
			s.EndTime = sEndTime
			for _, w := range weekdays {
				s.Weekdays = append(s.Weekdays, int(w))
			}
			if sPriority != nil {
				s.Priority = *sPriority
			}
			if sActive != nil {
				s.IsActive = *sActive
			}
			if sCreated != nil && sCreated.Valid {
				s.CreatedAt = sCreated.Time
			}
			if sUpdated != nil && sUpdated.Valid {
				s.UpdatedAt = sUpdated.Time
			}
			item.Schedule = &s
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListDeviceIDsForSchedule 查询指派了某排期的设备（冲突检测用）
func (r *SchedulesRepo) ListDeviceIDsForSchedule(ctx context.Context, scheduleID string) ([]string, error) {
	q := `SELECT DISTINCT device_id::text FROM device_schedule_assignments WHERE schedule_id = $1`
	rows, err := r.db.QueryContext(ctx, q, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListDeviceIDsForPlaylist 查询指派了某播放列表的设备（缓存失效用）
func (r *SchedulesRepo) ListDeviceIDsForPlaylist(ctx context.Context, playlistID string) ([]string, error) {
	q := `SELECT DISTINCT device_id::text FROM device_schedule_assignments WHERE playlist_id = $1`
	rows, err := r.db.QueryContext(ctx, q, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
