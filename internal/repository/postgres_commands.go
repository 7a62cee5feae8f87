package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// CommandsRepo 设备指令仓库（device_commands 表）
type CommandsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCommandsRepo(db *sql.DB, logger *zap.Logger) *CommandsRepo {
	return &CommandsRepo{db: db, logger: logger}
}

const commandColumns = `
	command_id, tenant_id::text, device_id::text, type,
	COALESCE(parameters::text, ''), status, result_message,
	delivered_at, acknowledged_at, created_at, updated_at`

func scanCommand(row interface{ Scan(...any) error }) (*domain.CommandEntry, error) {
	var c domain.CommandEntry
	var params string
	err := row.Scan(
		&c.CommandID, &c.TenantID, &c.DeviceID, &c.Type,
		&params, &c.Status, &c.ResultMessage,
		&c.DeliveredAt, &c.AcknowledgedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if params != "" {
		c.Parameters = []byte(params)
	}
	return &c, nil
}

// Insert 写入指令；幂等键冲突时不覆盖，返回已存在的条目
func (r *CommandsRepo) Insert(ctx context.Context, c *domain.CommandEntry) (*domain.CommandEntry, error) {
	q := `INSERT INTO device_commands
	        (command_id, tenant_id, device_id, type, parameters, status)
	      VALUES ($1, $2, $3, $4, NULLIF($5, '')::jsonb, 'pending')
	      ON CONFLICT (command_id) DO NOTHING`
	params := ""
	if len(c.Parameters) > 0 {
		params = string(c.Parameters)
	}
	_, err := r.db.ExecContext(ctx, q, c.CommandID, c.TenantID, c.DeviceID, c.Type, params)
	if err != nil {
		return nil, fmt.Errorf("failed to insert command: %w", err)
	}
	return r.Get(ctx, c.CommandID)
}

// Get 按幂等键查询指令
func (r *CommandsRepo) Get(ctx context.Context, commandID string) (*domain.CommandEntry, error) {
	q := `SELECT ` + commandColumns + ` FROM device_commands WHERE command_id = $1`
	return scanCommand(r.db.QueryRowContext(ctx, q, commandID))
}

// ListUndelivered 查询设备的待投递指令（pending + delivered，至少一次投递语义）
func (r *CommandsRepo) ListUndelivered(ctx context.Context, deviceID string) ([]domain.CommandEntry, error) {
	q := `SELECT ` + commandColumns + `
	      FROM device_commands
	      WHERE device_id = $1 AND status IN ('pending', 'delivered')
	      ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandEntry
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkDelivered 批量标记已投递（仅 pending -> delivered）
func (r *CommandsRepo) MarkDelivered(ctx context.Context, commandIDs []string, at time.Time) error {
	if len(commandIDs) == 0 {
		return nil
	}
	q := `UPDATE device_commands
	      SET status = 'delivered', delivered_at = $2, updated_at = NOW()
	      WHERE command_id = ANY($1) AND status = 'pending'`
	_, err := r.db.ExecContext(ctx, q, pq.Array(commandIDs), at)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return nil
}

// Acknowledge 确认指令执行结果，仅非终态可转移
// 返回本次是否真正发生了状态转移（重复确认返回 false，不报错）
func (r *CommandsRepo) Acknowledge(ctx context.Context, deviceID, commandID, status string, message *string, at time.Time) (bool, error) {
	q := `UPDATE device_commands
	      SET status = $3, result_message = $4, acknowledged_at = $5, updated_at = NOW()
	      WHERE command_id = $1 AND device_id = $2
	        AND status IN ('pending', 'delivered')`
	res, err := r.db.ExecContext(ctx, q, commandID, deviceID, status, message, at)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge command: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAcknowledged 回收已确认且超过保留期的指令
func (r *CommandsRepo) DeleteAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error) {
	q := `DELETE FROM device_commands
	      WHERE status IN ('acknowledged', 'failed')
	        AND acknowledged_at < NOW() - $1::interval`
	res, err := r.db.ExecContext(ctx, q, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to gc commands: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
