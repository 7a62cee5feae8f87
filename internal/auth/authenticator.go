package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/repository"
	"github.com/rgazeredo/aztv-sub002/internal/store"

	"go.uber.org/zap"
)

// ErrInvalidToken 激活令牌未知或设备记录缺失（设备应重新走开通流程）
var ErrInvalidToken = errors.New("invalid activation token")

// ErrAuthFailed bearer token 缺失、未知或不匹配
var ErrAuthFailed = errors.New("auth failed")

const tokenKeyPrefix = "auth:token:" // + deviceID

// DeviceStore 认证所需的设备持久化
type DeviceStore interface {
	GetDeviceByActivationToken(ctx context.Context, token string) (*domain.Device, error)
	ActivateDevice(ctx context.Context, deviceID string) error
	TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time, ip, appVersion string) error
}

// Authenticator 设备会话认证器
// bearer token 为不透明随机值，不携带可解码声明；
// 按 device_id 存入缓存层，吊销是 O(1) 的键删除
type Authenticator struct {
	devices DeviceStore
	kv      store.KV
	ttl     time.Duration
	logger  *zap.Logger

	now func() time.Time
}

func NewAuthenticator(devices DeviceStore, kv store.KV, ttl time.Duration, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		devices: devices,
		kv:      kv,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate 用激活令牌换取 bearer token
// 副作用：激活 inactive 设备，刷新 last_seen / ip_address / app_version
func (a *Authenticator) Authenticate(ctx context.Context, activationToken, ip, appVersion string) (*domain.Device, string, error) {
	if activationToken == "" {
		return nil, "", ErrInvalidToken
	}
	device, err := a.devices.GetDeviceByActivationToken(ctx, activationToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidToken
		}
		return nil, "", err
	}

	if err := a.devices.ActivateDevice(ctx, device.DeviceID); err != nil {
		return nil, "", err
	}
	if err := a.devices.TouchLastSeen(ctx, device.DeviceID, a.now().UTC(), ip, appVersion); err != nil {
		return nil, "", err
	}

	bearer, err := newBearerToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	if err := a.kv.Set(ctx, tokenKeyPrefix+device.DeviceID, bearer, a.ttl); err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	a.logger.Info("Device authenticated",
		zap.String("device_id", device.DeviceID),
		zap.String("tenant_id", device.TenantID))
	return device, bearer, nil
}

// Validate 校验 bearer token，成功时刷新 TTL
func (a *Authenticator) Validate(ctx context.Context, deviceID, bearer string) error {
	if deviceID == "" || bearer == "" {
		return ErrAuthFailed
	}
	stored, err := a.kv.Get(ctx, tokenKeyPrefix+deviceID)
	if err != nil {
		if err == store.ErrCacheMiss {
			return ErrAuthFailed
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(bearer)) != 1 {
		return ErrAuthFailed
	}
	// 每次成功校验滑动续期
	if err := a.kv.Set(ctx, tokenKeyPrefix+deviceID, stored, a.ttl); err != nil {
		a.logger.Warn("Failed to refresh token TTL",
			zap.String("device_id", deviceID), zap.Error(err))
	}
	return nil
}

// Revoke 吊销设备会话
func (a *Authenticator) Revoke(ctx context.Context, deviceID string) error {
	return a.kv.Del(ctx, tokenKeyPrefix+deviceID)
}

func newBearerToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
