package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.Database.Database != "aztv" {
		t.Errorf("Expected DB_NAME default 'aztv', got '%s'", cfg.Database.Database)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("Expected HTTP_ADDR default ':8080', got '%s'", cfg.HTTP.Addr)
	}

	if cfg.Player.LivenessThreshold != 5*time.Minute {
		t.Errorf("Expected PLAYER_LIVENESS_THRESHOLD default 5m, got %v", cfg.Player.LivenessThreshold)
	}

	if cfg.Sync.HistoryHorizon != 30*24*time.Hour {
		t.Errorf("Expected SYNC_HISTORY_HORIZON default 720h, got %v", cfg.Sync.HistoryHorizon)
	}

	if cfg.Jobs.LockTTL != 90*time.Second {
		t.Errorf("Expected JOB_LOCK_TTL default 90s, got %v", cfg.Jobs.LockTTL)
	}

	if cfg.Jobs.SkipEscalateAfter != 3 {
		t.Errorf("Expected JOB_SKIP_ESCALATE_AFTER default 3, got %d", cfg.Jobs.SkipEscalateAfter)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("PLAYER_TOKEN_TTL", "1h")
	os.Setenv("JOB_SCHEDULE_SWEEP_INTERVAL", "30s")
	os.Setenv("APK_FEED_URL", "https://releases.example.com")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("PLAYER_TOKEN_TTL")
		os.Unsetenv("JOB_SCHEDULE_SWEEP_INTERVAL")
		os.Unsetenv("APK_FEED_URL")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查环境变量值
	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Database != "test-db" {
		t.Errorf("Expected DB_NAME 'test-db', got '%s'", cfg.Database.Database)
	}

	if cfg.Player.TokenTTL != time.Hour {
		t.Errorf("Expected PLAYER_TOKEN_TTL 1h, got %v", cfg.Player.TokenTTL)
	}

	if cfg.Jobs.ScheduleSweepInterval != 30*time.Second {
		t.Errorf("Expected JOB_SCHEDULE_SWEEP_INTERVAL 30s, got %v", cfg.Jobs.ScheduleSweepInterval)
	}

	if cfg.Update.FeedURL != "https://releases.example.com" {
		t.Errorf("Expected APK_FEED_URL 'https://releases.example.com', got '%s'", cfg.Update.FeedURL)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestGetDSN(t *testing.T) {
	c := &DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "d",
		SSLMode:  "disable",
	}
	want := "host=db port=5433 user=u password=p dbname=d sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("Expected DSN '%s', got '%s'", want, got)
	}
}

func TestGetEnvDuration_InvalidFallsBack(t *testing.T) {
	os.Setenv("TEST_DURATION", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION")

	if d := getEnvDuration("TEST_DURATION", time.Minute); d != time.Minute {
		t.Errorf("Expected fallback 1m, got %v", d)
	}
}
