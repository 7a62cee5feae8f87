package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// ChangesRepo 设备增量变更仓库
// 跨 schedules / assignments / playlists / playlist_items 四张表取
// updated_at > since 的行，供 DeltaSyncEngine 计算增量
type ChangesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewChangesRepo(db *sql.DB, logger *zap.Logger) *ChangesRepo {
	return &ChangesRepo{db: db, logger: logger}
}

// ListChangesForDevice 查询设备关联实体在 since 之后的变更（updated_at 升序）
// 实体均为软生命周期（停用而非物理删除），is_active=false 的行
// 由引擎映射为 delete 变更
func (r *ChangesRepo) ListChangesForDevice(ctx context.Context, deviceID string, since time.Time) ([]domain.Change, error) {
	q := `
		SELECT entity_type, entity_id, updated_at, active, payload FROM (
			SELECT 'schedule' AS entity_type, s.schedule_id::text AS entity_id,
			       s.updated_at, s.is_active AS active, row_to_json(s)::text AS payload
			FROM schedules s
			WHERE s.updated_at > $2
			  AND s.schedule_id IN (
			        SELECT schedule_id FROM device_schedule_assignments
			        WHERE device_id = $1 AND schedule_id IS NOT NULL)

			UNION ALL

			SELECT 'assignment', a.assignment_id::text,
			       a.updated_at, true, row_to_json(a)::text
			FROM device_schedule_assignments a
			WHERE a.device_id = $1 AND a.updated_at > $2

			UNION ALL

			SELECT 'playlist', p.playlist_id::text,
			       p.updated_at, p.is_active, row_to_json(p)::text
			FROM playlists p
			WHERE p.updated_at > $2
			  AND p.playlist_id IN (
			        SELECT playlist_id FROM device_schedule_assignments WHERE device_id = $1)

			UNION ALL

			SELECT 'playlist_item', i.item_id::text,
			       i.updated_at, true, row_to_json(i)::text
			FROM playlist_items i
			WHERE i.updated_at > $2
			  AND i.playlist_id IN (
			        SELECT playlist_id FROM device_schedule_assignments WHERE device_id = $1)
		) changes
		ORDER BY updated_at ASC, entity_id ASC`
	rows, err := r.db.QueryContext(ctx, q, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list device changes: %w", err)
	}
	defer rows.Close()

	var out []domain.Change
	for rows.Next() {
		var c domain.Change
		var active bool
		var payload string
		if err := rows.Scan(&c.EntityType, &c.EntityID, &c.UpdatedAt, &active, &payload); err != nil {
			return nil, err
		}
		if active {
			c.Op = domain.ChangeOpUpsert
			c.Payload = json.RawMessage(payload)
		} else {
			// 停用实体下发 delete，设备侧丢弃
			c.Op = domain.ChangeOpDelete
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SyncStatesRepo 设备同步游标仓库（device_sync_states 表）
type SyncStatesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSyncStatesRepo(db *sql.DB, logger *zap.Logger) *SyncStatesRepo {
	return &SyncStatesRepo{db: db, logger: logger}
}

// UpsertLastSync 推进设备同步游标（只前进不后退）
func (r *SyncStatesRepo) UpsertLastSync(ctx context.Context, deviceID string, at time.Time) error {
	q := `INSERT INTO device_sync_states (device_id, last_sync_at)
	      VALUES ($1, $2)
	      ON CONFLICT (device_id)
	      DO UPDATE SET last_sync_at = GREATEST(device_sync_states.last_sync_at, EXCLUDED.last_sync_at),
	                    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, q, deviceID, at); err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return nil
}
