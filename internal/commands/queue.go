package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repo 指令持久化
type Repo interface {
	Insert(ctx context.Context, c *domain.CommandEntry) (*domain.CommandEntry, error)
	Get(ctx context.Context, commandID string) (*domain.CommandEntry, error)
	ListUndelivered(ctx context.Context, deviceID string) ([]domain.CommandEntry, error)
	MarkDelivered(ctx context.Context, commandIDs []string, at time.Time) error
	Acknowledge(ctx context.Context, deviceID, commandID, status string, message *string, at time.Time) (bool, error)
	DeleteAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Queue 设备指令队列
// 投递语义为至少一次：设备不确认时下次 drain 仍会带上同一批指令；
// 重复确认是幂等的成功，不是错误
type Queue struct {
	repo   Repo
	logger *zap.Logger

	now func() time.Time
}

func NewQueue(repo Repo, logger *zap.Logger) *Queue {
	return &Queue{repo: repo, logger: logger, now: time.Now}
}

// Enqueue 入队指令
// idempotencyKey 为空时服务端生成；重复入队同一键返回已存在条目，不报错
func (q *Queue) Enqueue(ctx context.Context, tenantID, deviceID, cmdType string, params json.RawMessage, idempotencyKey string) (*domain.CommandEntry, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}
	entry := &domain.CommandEntry{
		CommandID:  idempotencyKey,
		TenantID:   tenantID,
		DeviceID:   deviceID,
		Type:       cmdType,
		Parameters: params,
		Status:     domain.CommandStatusPending,
	}
	return q.repo.Insert(ctx, entry)
}

// Drain 取出设备全部待执行指令并标记已投递
// pending 和 delivered 一并返回：未确认的指令在下次 drain 重复下发
func (q *Queue) Drain(ctx context.Context, deviceID string) ([]domain.CommandEntry, error) {
	entries, err := q.repo.ListUndelivered(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	var pendingIDs []string
	for _, e := range entries {
		if e.Status == domain.CommandStatusPending {
			pendingIDs = append(pendingIDs, e.CommandID)
		}
	}
	if len(pendingIDs) > 0 {
		if err := q.repo.MarkDelivered(ctx, pendingIDs, q.now().UTC()); err != nil {
			// 投递标记失败只影响重复下发次数，不影响正确性
			q.logger.Warn("Failed to mark commands delivered",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	return entries, nil
}

// Acknowledge 确认指令执行结果
// status: "executed" -> acknowledged, "failed" -> failed
// 未知/已确认的 command_id 返回成功（容忍设备重试），transitioned=false
func (q *Queue) Acknowledge(ctx context.Context, deviceID, commandID, status string, message *string) (bool, error) {
	target := domain.CommandStatusAcknowledged
	if status == "failed" {
		target = domain.CommandStatusFailed
	}
	return q.repo.Acknowledge(ctx, deviceID, commandID, target, message, q.now().UTC())
}

// Get 按幂等键查询指令
func (q *Queue) Get(ctx context.Context, commandID string) (*domain.CommandEntry, error) {
	return q.repo.Get(ctx, commandID)
}

// GC 回收已确认且超过保留期的指令
func (q *Queue) GC(ctx context.Context, retention time.Duration) (int64, error) {
	return q.repo.DeleteAcknowledged(ctx, retention)
}
