package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// UpdateService APK 升级检查
// 发布信息来自外部发布源，短缓存避免每次设备轮询都打到源站
type UpdateService struct {
	httpClient *resty.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	cached    *domain.Release
	fetchedAt time.Time
	cacheTTL  time.Duration

	// 源站故障短暂记忆，心跳捎带的升级检查不被拖慢
	failedAt time.Time
	failTTL  time.Duration
}

// NewUpdateService 创建升级检查服务
func NewUpdateService(feedURL string, timeout time.Duration, logger *zap.Logger) *UpdateService {
	client := resty.New().
		SetBaseURL(feedURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	return &UpdateService{
		httpClient: client,
		logger:     logger,
		cacheTTL:   5 * time.Minute,
		failTTL:    30 * time.Second,
	}
}

// CheckUpdate 对比设备当前版本与最新发布
// 发布源不可用时返回"无可用更新"（设备下轮再查），不报错
func (s *UpdateService) CheckUpdate(ctx context.Context, currentVersion string) *domain.UpdateCheck {
	release, err := s.latestRelease(ctx)
	if err != nil {
		s.logger.Warn("Release feed unavailable", zap.Error(err))
		return &domain.UpdateCheck{UpdateAvailable: false}
	}
	if release == nil || release.Version == "" {
		return &domain.UpdateCheck{UpdateAvailable: false}
	}

	if compareVersions(currentVersion, release.Version) >= 0 {
		return &domain.UpdateCheck{UpdateAvailable: false, LatestVersion: release.Version}
	}

	force := release.ForceUpdate
	if release.MinVersion != "" && compareVersions(currentVersion, release.MinVersion) < 0 {
		force = true
	}
	return &domain.UpdateCheck{
		UpdateAvailable: true,
		LatestVersion:   release.Version,
		DownloadURL:     release.DownloadURL,
		ForceUpdate:     force,
	}
}

func (s *UpdateService) latestRelease(ctx context.Context) (*domain.Release, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.fetchedAt) < s.cacheTTL {
		defer s.mu.RUnlock()
		return s.cached, nil
	}
	if time.Since(s.failedAt) < s.failTTL {
		defer s.mu.RUnlock()
		return nil, fmt.Errorf("release feed unavailable (recent failure)")
	}
	s.mu.RUnlock()

	var release domain.Release
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetResult(&release).
		Get("/latest")
	if err != nil {
		s.markFailed()
		return nil, fmt.Errorf("failed to fetch release feed: %w", err)
	}
	if resp.IsError() {
		s.markFailed()
		return nil, fmt.Errorf("release feed returned %d", resp.StatusCode())
	}

	s.mu.Lock()
	s.cached = &release
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return &release, nil
}

func (s *UpdateService) markFailed() {
	s.mu.Lock()
	s.failedAt = time.Now()
	s.mu.Unlock()
}

// compareVersions 比较 "1.2.3" 形式的版本号：a<b 返回 -1，相等 0，a>b 返回 1
// 非数字段按 0 处理，空版本视为最旧
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(strings.TrimSpace(a), "v"), ".")
	pb := strings.Split(strings.TrimPrefix(strings.TrimSpace(b), "v"), ".")
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var va, vb int
		if i < len(pa) {
			va, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			vb, _ = strconv.Atoi(pb[i])
		}
		if va < vb {
			return -1
		}
		if va > vb {
			return 1
		}
	}
	return 0
}
