package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"go.uber.org/zap"
)

// PlaylistsRepo 播放列表仓库（playlists / playlist_items 表）
type PlaylistsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPlaylistsRepo(db *sql.DB, logger *zap.Logger) *PlaylistsRepo {
	return &PlaylistsRepo{db: db, logger: logger}
}

// GetPlaylist 按主键查询播放列表
func (r *PlaylistsRepo) GetPlaylist(ctx context.Context, playlistID string) (*domain.Playlist, error) {
	q := `SELECT playlist_id::text, tenant_id::text, name, is_active, default_duration,
	             created_at, updated_at
	      FROM playlists WHERE playlist_id = $1`
	var p domain.Playlist
	err := r.db.QueryRowContext(ctx, q, playlistID).Scan(
		&p.PlaylistID, &p.TenantID, &p.Name, &p.IsActive, &p.DefaultDuration,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListItems 查询播放列表条目（按播放顺序）
func (r *PlaylistsRepo) ListItems(ctx context.Context, playlistID string) ([]domain.PlaylistItem, error) {
	q := `SELECT item_id::text, playlist_id::text, media_id, media_url, media_type,
	             position, duration, created_at, updated_at
	      FROM playlist_items WHERE playlist_id = $1 ORDER BY position`
	rows, err := r.db.QueryContext(ctx, q, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist items: %w", err)
	}
	defer rows.Close()

	var out []domain.PlaylistItem
	for rows.Next() {
		var it domain.PlaylistItem
		err := rows.Scan(
			&it.ItemID, &it.PlaylistID, &it.MediaID, &it.MediaURL, &it.MediaType,
			&it.Position, &it.Duration, &it.CreatedAt, &it.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetSnapshot 播放列表 + 条目快照（下发给设备）
func (r *PlaylistsRepo) GetSnapshot(ctx context.Context, playlistID string) (*domain.PlaylistSnapshot, error) {
	p, err := r.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return &domain.PlaylistSnapshot{Playlist: *p, Items: items}, nil
}

// ListSnapshotsForDevice 设备全部指派播放列表的快照（全量同步用）
func (r *PlaylistsRepo) ListSnapshotsForDevice(ctx context.Context, deviceID string) ([]domain.PlaylistSnapshot, error) {
	q := `SELECT DISTINCT p.playlist_id::text
	      FROM playlists p
	      JOIN device_schedule_assignments a ON a.playlist_id = p.playlist_id
	      WHERE a.device_id = $1 AND p.is_active`
	rows, err := r.db.QueryContext(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device playlists: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.PlaylistSnapshot
	for _, id := range ids {
		snap, err := r.GetSnapshot(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}
