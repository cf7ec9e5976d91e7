package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
)

// 默认值（毫秒）
const (
	DefaultWriteIntervalMs  = 2000
	DefaultStaleThresholdMs = 8000
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

// TrackerConfig 配置文件中的 tracker 条目
type TrackerConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// UpstreamConfig 上游心率推送服务配置
type UpstreamConfig struct {
	URL   string `toml:"url"`   // websocket 地址，如 "wss://example.com/socket/websocket"
	Token string `toml:"token"` // bearer token，作为 URL 参数传递
}

// WebsocketURL 构建带 token 参数的连接地址
func (c *UpstreamConfig) WebsocketURL() string {
	if c.Token == "" {
		return c.URL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	q := u.Query()
	q.Set("token", c.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// CollectorConfig 采集与持久化配置
type CollectorConfig struct {
	PersistenceEnabled bool `toml:"persistence_enabled"`
	WriteIntervalMs    int  `toml:"write_interval_ms"`
	StaleThresholdMs   int  `toml:"stale_threshold_ms"`
}

// Config pulselink 服务配置
// 基础设施（数据库/Redis/日志）来自环境变量；采集参数、上游地址和
// tracker 列表来自 TOML 配置文件，注册新 tracker 时回写该文件
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	Upstream  UpstreamConfig
	Collector CollectorConfig
	Trackers  []TrackerConfig

	Control struct {
		Addr string // 运行时控制接口监听地址
	}

	Log struct {
		Level  string
		Format string
	}

	path string     // 配置文件路径，用于回写
	mu   sync.Mutex // 保护回写期间的 Trackers
}

// fileConfig TOML 配置文件结构
type fileConfig struct {
	Collector CollectorConfig `toml:"collector"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Trackers  []TrackerConfig `toml:"trackers"`
}

// Load 加载配置
// 配置文件缺失或损坏时不报错：回退到全默认值（持久化关闭、tracker 列表为空）
func Load() (*Config, error) {
	cfg := &Config{}

	// 基础设施配置从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "pulselink")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Control.Addr = getEnv("CONTROL_ADDR", "127.0.0.1:8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 采集配置默认值：配置文件缺失时持久化保持关闭
	cfg.Collector.PersistenceEnabled = false
	cfg.Collector.WriteIntervalMs = DefaultWriteIntervalMs
	cfg.Collector.StaleThresholdMs = DefaultStaleThresholdMs

	cfg.path = getEnv("PULSELINK_CONFIG", "pulselink.toml")

	var fc fileConfig
	if _, err := toml.DecodeFile(cfg.path, &fc); err == nil {
		cfg.Collector = fc.Collector
		cfg.Upstream = fc.Upstream
		cfg.Trackers = fc.Trackers
	}
	// 文件缺失或解析失败时保持默认值，不视为错误

	// 环境变量可覆盖上游地址和 token（便于部署时注入密钥）
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}

	// 非法数值回退默认值
	if cfg.Collector.WriteIntervalMs < 1 {
		cfg.Collector.WriteIntervalMs = DefaultWriteIntervalMs
	}
	if cfg.Collector.StaleThresholdMs < 1 {
		cfg.Collector.StaleThresholdMs = DefaultStaleThresholdMs
	}

	return cfg, nil
}

// SaveTrackers 回写 tracker 列表到配置文件
// 运行时注册新 tracker 后调用，保证进程重启后列表仍然完整
func (c *Config) SaveTrackers(trackers []TrackerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Trackers = trackers

	fc := fileConfig{
		Collector: c.Collector,
		Upstream:  c.Upstream,
		Trackers:  trackers,
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("failed to open config file for write-back: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
