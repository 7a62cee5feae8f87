package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRecordStore 内存报警存储，模拟部分唯一索引的去重语义
type fakeRecordStore struct {
	mu      sync.Mutex
	rules   map[string][]domain.AlertRule // tenantID -> rules
	records []domain.AlertRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{rules: map[string][]domain.AlertRule{}}
}

func (f *fakeRecordStore) addRule(tenantID, ruleType string, threshold int) {
	f.rules[tenantID] = append(f.rules[tenantID], domain.AlertRule{
		RuleID:    ruleType + "-" + tenantID,
		TenantID:  tenantID,
		Type:      ruleType,
		Enabled:   true,
		Threshold: threshold,
	})
}

func (f *fakeRecordStore) ListTenantIDsWithRules(_ context.Context, ruleType string) ([]string, error) {
	var out []string
	for tenantID, rules := range f.rules {
		for _, r := range rules {
			if r.Type == ruleType && r.Enabled {
				out = append(out, tenantID)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRecordStore) ListEnabledRules(_ context.Context, tenantID, ruleType string) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	for _, r := range f.rules[tenantID] {
		if r.Type == ruleType && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordStore) CreateIfAbsent(_ context.Context, a *domain.AlertRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.DeviceID == a.DeviceID && r.Type == a.Type && !r.Resolved {
			return false, nil
		}
	}
	f.records = append(f.records, *a)
	return true, nil
}

func (f *fakeRecordStore) Resolve(_ context.Context, deviceID, alertType string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.records {
		if f.records[i].DeviceID == deviceID && f.records[i].Type == alertType && !f.records[i].Resolved {
			f.records[i].Resolved = true
			f.records[i].ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeRecordStore) open(deviceID, alertType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.records {
		if r.DeviceID == deviceID && r.Type == alertType && !r.Resolved {
			count++
		}
	}
	return count
}

// fakeDeviceSource 固定设备集合
type fakeDeviceSource struct {
	offline map[string][]domain.Device
	all     map[string][]domain.Device
}

func (f *fakeDeviceSource) ListOfflineDevices(_ context.Context, tenantID string, _ time.Duration) ([]domain.Device, error) {
	return f.offline[tenantID], nil
}

func (f *fakeDeviceSource) ListDevices(_ context.Context, tenantID string) ([]domain.Device, error) {
	return f.all[tenantID], nil
}

// fakeTelemetry 设备 -> 最近心跳
type fakeTelemetry struct {
	latest map[string]*domain.HeartbeatLog
}

func (f *fakeTelemetry) LatestForDevice(_ context.Context, deviceID string) (*domain.HeartbeatLog, error) {
	if log, ok := f.latest[deviceID]; ok {
		return log, nil
	}
	return nil, assert.AnError
}

func systemInfo(t *testing.T, usedMB, totalMB int) json.RawMessage {
	raw, err := json.Marshal(map[string]int{
		"storage_used_mb":  usedMB,
		"storage_total_mb": totalMB,
	})
	require.NoError(t, err)
	return raw
}

func TestSweep_RaisesOfflineAlert(t *testing.T) {
	records := newFakeRecordStore()
	records.addRule("tenant-1", domain.AlertTypeDeviceOffline, 300)
	seen := time.Now().Add(-time.Hour)
	devices := &fakeDeviceSource{offline: map[string][]domain.Device{
		"tenant-1": {{DeviceID: "dev-1", TenantID: "tenant-1", LastSeenAt: &seen}},
	}}
	e := NewEngine(records, devices, &fakeTelemetry{}, zap.NewNop())

	require.NoError(t, e.Sweep(context.Background()))
	assert.Equal(t, 1, records.open("dev-1", domain.AlertTypeDeviceOffline))
}

// 幂等：重复扫描不会为同一设备堆积重复报警
func TestSweep_OfflineAlertDeduplicated(t *testing.T) {
	records := newFakeRecordStore()
	records.addRule("tenant-1", domain.AlertTypeDeviceOffline, 300)
	devices := &fakeDeviceSource{offline: map[string][]domain.Device{
		"tenant-1": {{DeviceID: "dev-1", TenantID: "tenant-1"}},
	}}
	e := NewEngine(records, devices, &fakeTelemetry{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, e.Sweep(ctx))
	require.NoError(t, e.Sweep(ctx))
	require.NoError(t, e.Sweep(ctx))
	assert.Equal(t, 1, records.open("dev-1", domain.AlertTypeDeviceOffline))
}

func TestSweep_NoRuleNoAlert(t *testing.T) {
	records := newFakeRecordStore()
	devices := &fakeDeviceSource{offline: map[string][]domain.Device{
		"tenant-1": {{DeviceID: "dev-1", TenantID: "tenant-1"}},
	}}
	e := NewEngine(records, devices, &fakeTelemetry{}, zap.NewNop())

	require.NoError(t, e.Sweep(context.Background()))
	assert.Empty(t, records.records)
}

func TestResolveOffline_ClosesOpenAlert(t *testing.T) {
	records := newFakeRecordStore()
	records.addRule("tenant-1", domain.AlertTypeDeviceOffline, 300)
	devices := &fakeDeviceSource{offline: map[string][]domain.Device{
		"tenant-1": {{DeviceID: "dev-1", TenantID: "tenant-1"}},
	}}
	e := NewEngine(records, devices, &fakeTelemetry{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, e.Sweep(ctx))
	require.NoError(t, e.ResolveOffline(ctx, "dev-1"))
	assert.Equal(t, 0, records.open("dev-1", domain.AlertTypeDeviceOffline))

	// 再次离线可重新触发
	require.NoError(t, e.Sweep(ctx))
	assert.Equal(t, 1, records.open("dev-1", domain.AlertTypeDeviceOffline))
}

func TestSweep_StoragePressure(t *testing.T) {
	records := newFakeRecordStore()
	records.addRule("tenant-1", domain.AlertTypeStoragePressure, 90)
	devices := &fakeDeviceSource{all: map[string][]domain.Device{
		"tenant-1": {
			{DeviceID: "dev-full", TenantID: "tenant-1"},
			{DeviceID: "dev-ok", TenantID: "tenant-1"},
			{DeviceID: "dev-silent", TenantID: "tenant-1"},
		},
	}}
	telemetry := &fakeTelemetry{latest: map[string]*domain.HeartbeatLog{
		"dev-full": {DeviceID: "dev-full", SystemInfo: systemInfo(t, 95, 100)},
		"dev-ok":   {DeviceID: "dev-ok", SystemInfo: systemInfo(t, 40, 100)},
	}}
	e := NewEngine(records, devices, telemetry, zap.NewNop())

	require.NoError(t, e.Sweep(context.Background()))
	assert.Equal(t, 1, records.open("dev-full", domain.AlertTypeStoragePressure))
	assert.Equal(t, 0, records.open("dev-ok", domain.AlertTypeStoragePressure))
	assert.Equal(t, 0, records.open("dev-silent", domain.AlertTypeStoragePressure))
}

// 条件解除后的扫描自动关闭存储报警
func TestSweep_StorageAlertAutoResolves(t *testing.T) {
	records := newFakeRecordStore()
	records.addRule("tenant-1", domain.AlertTypeStoragePressure, 90)
	devices := &fakeDeviceSource{all: map[string][]domain.Device{
		"tenant-1": {{DeviceID: "dev-1", TenantID: "tenant-1"}},
	}}
	telemetry := &fakeTelemetry{latest: map[string]*domain.HeartbeatLog{
		"dev-1": {DeviceID: "dev-1", SystemInfo: systemInfo(t, 95, 100)},
	}}
	e := NewEngine(records, devices, telemetry, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, e.Sweep(ctx))
	require.Equal(t, 1, records.open("dev-1", domain.AlertTypeStoragePressure))

	// 设备清理了缓存
	telemetry.latest["dev-1"].SystemInfo = systemInfo(t, 30, 100)
	require.NoError(t, e.Sweep(ctx))
	assert.Equal(t, 0, records.open("dev-1", domain.AlertTypeStoragePressure))
}
