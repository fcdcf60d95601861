package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
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

// MQTTConfig MQTT配置（传感器测量值上报）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Thresholds 超限等级边界（百分比），默认 50/80/100
type Thresholds struct {
	Moderate float64
	Elevated float64
	Critical float64
}

// TrendConfig 趋势分析参数
type TrendConfig struct {
	MediumChangePercent float64 // >= 视为 medium
	HighChangePercent   float64 // >  视为 high
	TargetSampleCount   int
}

// Config 暴露监测服务配置
type Config struct {
	Database  DatabaseConfig
	DBEnabled bool
	Redis     RedisConfig

	// RedisEnabled 关闭时不启用评估缓存、警报事件流和测量值流消费
	RedisEnabled bool

	MQTT MQTTConfig

	HTTP struct {
		Addr string
	}

	Exposure struct {
		Thresholds Thresholds
		Trend      TrendConfig

		RiskGroup struct {
			MinGroupSize int
		}

		// Redis 键和流
		Cache struct {
			EvaluationKeyPrefix string // 如 "exposure:"
			EvaluationSuffix    string // 如 ":evaluation"
			EvaluationTTL       int    // 秒
		}
		Stream struct {
			Measurements  string // 测量值输入流
			Alerts        string // 警报事件输出流
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int64
		}
	}

	Narrative struct {
		URL     string
		APIKey  string
		Timeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 可选，环境变量优先）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "sahtee")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "true") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "sahtee-exposure")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "sahtee/exposure/+/measurements")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Exposure.Thresholds.Moderate = parseFloat(getEnv("THRESHOLD_MODERATE", "50"), 50)
	cfg.Exposure.Thresholds.Elevated = parseFloat(getEnv("THRESHOLD_ELEVATED", "80"), 80)
	cfg.Exposure.Thresholds.Critical = parseFloat(getEnv("THRESHOLD_CRITICAL", "100"), 100)

	cfg.Exposure.Trend.MediumChangePercent = parseFloat(getEnv("TREND_MEDIUM_PERCENT", "10"), 10)
	cfg.Exposure.Trend.HighChangePercent = parseFloat(getEnv("TREND_HIGH_PERCENT", "25"), 25)
	cfg.Exposure.Trend.TargetSampleCount = parseInt(getEnv("TREND_TARGET_SAMPLES", "6"), 6)

	cfg.Exposure.RiskGroup.MinGroupSize = parseInt(getEnv("RISK_GROUP_MIN_SIZE", "3"), 3)

	cfg.Exposure.Cache.EvaluationKeyPrefix = getEnv("CACHE_EVALUATION_PREFIX", "exposure:")
	cfg.Exposure.Cache.EvaluationSuffix = ":evaluation"
	cfg.Exposure.Cache.EvaluationTTL = 3600

	cfg.Exposure.Stream.Measurements = getEnv("STREAM_MEASUREMENTS", "exposure:measurements")
	cfg.Exposure.Stream.Alerts = getEnv("STREAM_ALERTS", "exposure:alerts")
	cfg.Exposure.Stream.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "sahtee-exposure")
	cfg.Exposure.Stream.ConsumerName = getEnv("STREAM_CONSUMER_NAME", "sahtee-exposure-1")
	cfg.Exposure.Stream.BatchSize = int64(parseInt(getEnv("STREAM_BATCH_SIZE", "50"), 50))

	cfg.Narrative.URL = getEnv("NARRATIVE_URL", "")
	cfg.Narrative.APIKey = getEnv("NARRATIVE_API_KEY", "")
	cfg.Narrative.Timeout = time.Duration(parseInt(getEnv("NARRATIVE_TIMEOUT_SEC", "10"), 10)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 配置自检：阈值必须严格递增
func (c *Config) Validate() error {
	t := c.Exposure.Thresholds
	if !(t.Moderate > 0 && t.Moderate < t.Elevated && t.Elevated < t.Critical) {
		return fmt.Errorf("thresholds must satisfy 0 < moderate < elevated < critical, got %v/%v/%v",
			t.Moderate, t.Elevated, t.Critical)
	}
	tr := c.Exposure.Trend
	if tr.MediumChangePercent < 0 || tr.HighChangePercent < tr.MediumChangePercent {
		return fmt.Errorf("trend thresholds must satisfy 0 <= medium <= high, got %v/%v",
			tr.MediumChangePercent, tr.HighChangePercent)
	}
	if tr.TargetSampleCount <= 0 {
		return fmt.Errorf("trend target sample count must be positive, got %d", tr.TargetSampleCount)
	}
	return nil
}

// Default 返回不读取环境变量的默认配置（测试和离线分析使用）
func Default() *Config {
	cfg := &Config{}
	cfg.Exposure.Thresholds = Thresholds{Moderate: 50, Elevated: 80, Critical: 100}
	cfg.Exposure.Trend = TrendConfig{MediumChangePercent: 10, HighChangePercent: 25, TargetSampleCount: 6}
	cfg.Exposure.RiskGroup.MinGroupSize = 3
	cfg.Exposure.Cache.EvaluationKeyPrefix = "exposure:"
	cfg.Exposure.Cache.EvaluationSuffix = ":evaluation"
	cfg.Exposure.Cache.EvaluationTTL = 3600
	cfg.Exposure.Stream.Measurements = "exposure:measurements"
	cfg.Exposure.Stream.Alerts = "exposure:alerts"
	cfg.Exposure.Stream.ConsumerGroup = "sahtee-exposure"
	cfg.Exposure.Stream.ConsumerName = "sahtee-exposure-1"
	cfg.Exposure.Stream.BatchSize = 50
	cfg.Narrative.Timeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
