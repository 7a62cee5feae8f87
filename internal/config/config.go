package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 播放终端同步服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	HTTP struct {
		Addr            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Player struct {
		// 设备令牌 TTL（每次成功校验后刷新）
		TokenTTL time.Duration
		// 离线判定阈值：now - last_seen 超过该值视为离线
		LivenessThreshold time.Duration
		// 单次请求内调用存储/缓存的超时
		RequestTimeout time.Duration
	}

	Cache struct {
		// 显式失效之外的安全网 TTL
		ActivePlaylistTTL time.Duration
		ConfigTTL         time.Duration
		// 增量同步结果缓存 TTL（吸收客户端重试）
		DeltaTTL time.Duration
	}

	Sync struct {
		// 变更历史保留窗口，超过则返回全量快照
		HistoryHorizon time.Duration
	}

	Jobs struct {
		ScheduleSweepInterval time.Duration // 活动播放列表重算
		StatusSweepInterval   time.Duration // 离线状态检查
		AlertSweepInterval    time.Duration // 报警评估
		CommandGCInterval     time.Duration // 已确认指令清理
		CommandRetention      time.Duration // 确认后保留时长
		LockTTL               time.Duration // 分布式锁租约
		// 连续跳过多少个 tick 后升级告警
		SkipEscalateAfter int
	}

	Update struct {
		// APK 发布源（厂家发布接口）
		FeedURL string
		Timeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "aztv")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Player.TokenTTL = getEnvDuration("PLAYER_TOKEN_TTL", 30*24*time.Hour)
	cfg.Player.LivenessThreshold = getEnvDuration("PLAYER_LIVENESS_THRESHOLD", 5*time.Minute)
	cfg.Player.RequestTimeout = getEnvDuration("PLAYER_REQUEST_TIMEOUT", 10*time.Second)

	cfg.Cache.ActivePlaylistTTL = getEnvDuration("CACHE_ACTIVE_PLAYLIST_TTL", 5*time.Minute)
	cfg.Cache.ConfigTTL = getEnvDuration("CACHE_CONFIG_TTL", 5*time.Minute)
	cfg.Cache.DeltaTTL = getEnvDuration("CACHE_DELTA_TTL", 30*time.Second)

	cfg.Sync.HistoryHorizon = getEnvDuration("SYNC_HISTORY_HORIZON", 30*24*time.Hour)

	cfg.Jobs.ScheduleSweepInterval = getEnvDuration("JOB_SCHEDULE_SWEEP_INTERVAL", time.Minute)
	cfg.Jobs.StatusSweepInterval = getEnvDuration("JOB_STATUS_SWEEP_INTERVAL", 2*time.Minute)
	cfg.Jobs.AlertSweepInterval = getEnvDuration("JOB_ALERT_SWEEP_INTERVAL", 5*time.Minute)
	cfg.Jobs.CommandGCInterval = getEnvDuration("JOB_COMMAND_GC_INTERVAL", time.Hour)
	cfg.Jobs.CommandRetention = getEnvDuration("JOB_COMMAND_RETENTION", 7*24*time.Hour)
	cfg.Jobs.LockTTL = getEnvDuration("JOB_LOCK_TTL", 90*time.Second)
	cfg.Jobs.SkipEscalateAfter = getEnvInt("JOB_SKIP_ESCALATE_AFTER", 3)

	cfg.Update.FeedURL = getEnv("APK_FEED_URL", "")
	cfg.Update.Timeout = getEnvDuration("APK_FEED_TIMEOUT", 10*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
