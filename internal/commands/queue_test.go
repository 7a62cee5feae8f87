package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCommandRepo 内存版指令存储，模拟主键幂等插入和状态机约束
type fakeCommandRepo struct {
	mu      sync.Mutex
	entries map[string]*domain.CommandEntry

	failMarkDelivered bool
}

func newFakeCommandRepo() *fakeCommandRepo {
	return &fakeCommandRepo{entries: map[string]*domain.CommandEntry{}}
}

func (f *fakeCommandRepo) Insert(_ context.Context, c *domain.CommandEntry) (*domain.CommandEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entries[c.CommandID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *c
	cp.CreatedAt = time.Now()
	f.entries[c.CommandID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeCommandRepo) Get(_ context.Context, commandID string) (*domain.CommandEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[commandID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeCommandRepo) ListUndelivered(_ context.Context, deviceID string) ([]domain.CommandEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CommandEntry
	for _, e := range f.entries {
		if e.DeviceID != deviceID {
			continue
		}
		if e.Status == domain.CommandStatusPending || e.Status == domain.CommandStatusDelivered {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) MarkDelivered(_ context.Context, commandIDs []string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkDelivered {
		return assert.AnError
	}
	for _, id := range commandIDs {
		if e, ok := f.entries[id]; ok && e.Status == domain.CommandStatusPending {
			e.Status = domain.CommandStatusDelivered
			e.DeliveredAt = &at
		}
	}
	return nil
}

func (f *fakeCommandRepo) Acknowledge(_ context.Context, deviceID, commandID, status string, message *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[commandID]
	if !ok || e.DeviceID != deviceID {
		return false, nil
	}
	if e.Status != domain.CommandStatusPending && e.Status != domain.CommandStatusDelivered {
		return false, nil
	}
	e.Status = status
	e.ResultMessage = message
	e.AcknowledgedAt = &at
	return true, nil
}

func (f *fakeCommandRepo) DeleteAcknowledged(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for id, e := range f.entries {
		if e.AcknowledgedAt != nil && e.AcknowledgedAt.Before(cutoff) {
			delete(f.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func TestEnqueue_GeneratesIdempotencyKey(t *testing.T) {
	q := NewQueue(newFakeCommandRepo(), zap.NewNop())

	entry, err := q.Enqueue(context.Background(), "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.CommandID)
	assert.Equal(t, domain.CommandStatusPending, entry.Status)
}

func TestEnqueue_SameKeyInsertsOnce(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "op-retry-1")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "op-retry-1")
	require.NoError(t, err)

	assert.Equal(t, first.CommandID, second.CommandID)
	assert.Len(t, repo.entries, 1)
}

func TestDrain_MarksPendingDelivered(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-1")
	require.NoError(t, err)

	entries, err := q.Drain(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CommandStatusDelivered, repo.entries["cmd-1"].Status)
}

// 至少一次投递：已投递未确认的指令在下次 drain 重复出现
func TestDrain_RedeliversUnacknowledged(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-1")
	require.NoError(t, err)

	first, err := q.Drain(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 设备没确认，重启后再次心跳
	second, err := q.Drain(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "cmd-1", second[0].CommandID)
}

func TestDrain_MarkDeliveredFailureIsNonFatal(t *testing.T) {
	repo := newFakeCommandRepo()
	repo.failMarkDelivered = true
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-1")
	require.NoError(t, err)

	entries, err := q.Drain(ctx, "dev-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAcknowledge_ExecutedTransitionsOnce(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-1")
	require.NoError(t, err)
	_, err = q.Drain(ctx, "dev-1")
	require.NoError(t, err)

	transitioned, err := q.Acknowledge(ctx, "dev-1", "cmd-1", "executed", nil)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, domain.CommandStatusAcknowledged, repo.entries["cmd-1"].Status)

	// 设备重试确认：幂等成功，但不再发生状态转移
	transitioned, err = q.Acknowledge(ctx, "dev-1", "cmd-1", "executed", nil)
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestAcknowledge_FailedStatus(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeClearCache, nil, "cmd-1")
	require.NoError(t, err)

	msg := "disk busy"
	transitioned, err := q.Acknowledge(ctx, "dev-1", "cmd-1", "failed", &msg)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, domain.CommandStatusFailed, repo.entries["cmd-1"].Status)
	require.NotNil(t, repo.entries["cmd-1"].ResultMessage)
	assert.Equal(t, "disk busy", *repo.entries["cmd-1"].ResultMessage)
}

// 未知指令的确认按成功处理（指令可能已被 GC 清理）
func TestAcknowledge_UnknownCommandIsSuccess(t *testing.T) {
	q := NewQueue(newFakeCommandRepo(), zap.NewNop())

	transitioned, err := q.Acknowledge(context.Background(), "dev-1", "never-seen", "executed", nil)
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestGC_RemovesOldAcknowledged(t *testing.T) {
	repo := newFakeCommandRepo()
	q := NewQueue(repo, zap.NewNop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-old")
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	repo.entries["cmd-old"].Status = domain.CommandStatusAcknowledged
	repo.entries["cmd-old"].AcknowledgedAt = &old

	_, err = q.Enqueue(ctx, "tenant-1", "dev-1", domain.CommandTypeRestart, nil, "cmd-live")
	require.NoError(t, err)

	deleted, err := q.GC(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.NotContains(t, repo.entries, "cmd-old")
	assert.Contains(t, repo.entries, "cmd-live")
}
