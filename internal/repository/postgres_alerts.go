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

// AlertsRepo 报警仓库（alert_rules / alert_records 表）
type AlertsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAlertsRepo(db *sql.DB, logger *zap.Logger) *AlertsRepo {
	return &AlertsRepo{db: db, logger: logger}
}

// ListEnabledRules 查询租户下启用的报警规则
func (r *AlertsRepo) ListEnabledRules(ctx context.Context, tenantID, ruleType string) ([]domain.AlertRule, error) {
	q := `SELECT rule_id::text, tenant_id::text, type, enabled, threshold, created_at, updated_at
	      FROM alert_rules
	      WHERE tenant_id = $1 AND type = $2 AND enabled`
	rows, err := r.db.QueryContext(ctx, q, tenantID, ruleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		err := rows.Scan(
			&rule.RuleID, &rule.TenantID, &rule.Type, &rule.Enabled,
			&rule.Threshold, &rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListTenantIDsWithRules 查询配置了某类启用规则的全部租户（报警扫描入口）
func (r *AlertsRepo) ListTenantIDsWithRules(ctx context.Context, ruleType string) ([]string, error) {
	q := `SELECT DISTINCT tenant_id::text FROM alert_rules WHERE type = $1 AND enabled`
	rows, err := r.db.QueryContext(ctx, q, ruleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule tenants: %w", err)
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

// CreateIfAbsent 写入报警记录
// 依赖部分唯一索引 (device_id, type) WHERE NOT resolved：
// 同一设备同一类型已有未解决记录时 DO NOTHING，并发扫描下保持幂等
func (r *AlertsRepo) CreateIfAbsent(ctx context.Context, a *domain.AlertRecord) (bool, error) {
	q := `INSERT INTO alert_records (alert_id, tenant_id, device_id, type, condition, resolved)
	      VALUES ($1, $2, $3, $4, NULLIF($5, '')::jsonb, false)
	      ON CONFLICT (device_id, type) WHERE NOT resolved DO NOTHING`
	cond := ""
	if len(a.Condition) > 0 {
		cond = string(a.Condition)
	}
	res, err := r.db.ExecContext(ctx, q, a.AlertID, a.TenantID, a.DeviceID, a.Type, cond)
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Resolve 解决设备的某类未解决报警
func (r *AlertsRepo) Resolve(ctx context.Context, deviceID, alertType string, at time.Time) (int64, error) {
	q := `UPDATE alert_records
	      SET resolved = true, resolved_at = $3, updated_at = NOW()
	      WHERE device_id = $1 AND type = $2 AND NOT resolved`
	res, err := r.db.ExecContext(ctx, q, deviceID, alertType, at)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListOpenAlerts 查询租户下全部未解决报警（报表导出用）
func (r *AlertsRepo) ListOpenAlerts(ctx context.Context, tenantID string) ([]domain.AlertRecord, error) {
	q := `SELECT alert_id::text, tenant_id::text, device_id::text, type,
	             COALESCE(condition::text, ''), resolved, resolved_at, created_at, updated_at
	      FROM alert_records
	      WHERE tenant_id = $1 AND NOT resolved
	      ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertRecord
	for rows.Next() {
		var a domain.AlertRecord
		var cond string
		err := rows.Scan(
			&a.AlertID, &a.TenantID, &a.DeviceID, &a.Type,
			&cond, &a.Resolved, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if cond != "" {
			a.Condition = json.RawMessage(cond)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
