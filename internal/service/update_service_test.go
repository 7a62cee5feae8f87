package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"2.4", "2.4.0", 0},
		{"v2.4.0", "2.4.0", 0},
		{"", "0.1.0", -1},
		{"10.0.0", "9.9.9", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, compareVersions(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestCheckUpdate_NewerVersionAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"2.5.0","download_url":"https://cdn.example.com/player-2.5.0.apk","force_update":false}`))
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, 5*time.Second, zap.NewNop())

	check := s.CheckUpdate(context.Background(), "2.4.0")
	assert.True(t, check.UpdateAvailable)
	assert.Equal(t, "2.5.0", check.LatestVersion)
	assert.Equal(t, "https://cdn.example.com/player-2.5.0.apk", check.DownloadURL)
	assert.False(t, check.ForceUpdate)
}

func TestCheckUpdate_AlreadyCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"2.5.0"}`))
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, 5*time.Second, zap.NewNop())

	check := s.CheckUpdate(context.Background(), "2.5.0")
	assert.False(t, check.UpdateAvailable)
}

func TestCheckUpdate_BelowMinVersionForcesUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"2.5.0","min_version":"2.0.0","download_url":"https://cdn.example.com/apk"}`))
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, 5*time.Second, zap.NewNop())

	check := s.CheckUpdate(context.Background(), "1.9.0")
	assert.True(t, check.UpdateAvailable)
	assert.True(t, check.ForceUpdate)
}

// 发布源故障返回"无更新"，设备继续正常播放
func TestCheckUpdate_FeedDownIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, time.Second, zap.NewNop())

	check := s.CheckUpdate(context.Background(), "2.4.0")
	require.NotNil(t, check)
	assert.False(t, check.UpdateAvailable)
}

// 故障也要短暂记忆，避免心跳逐次重查故障源站
func TestCheckUpdate_FeedFailureNotRetriedImmediately(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, time.Second, zap.NewNop())
	ctx := context.Background()

	s.CheckUpdate(ctx, "2.4.0")
	s.CheckUpdate(ctx, "2.4.0")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCheckUpdate_FeedResponseCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"2.5.0"}`))
	}))
	defer srv.Close()

	s := NewUpdateService(srv.URL, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	s.CheckUpdate(ctx, "2.4.0")
	s.CheckUpdate(ctx, "2.4.0")
	s.CheckUpdate(ctx, "2.4.0")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
