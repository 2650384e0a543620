package config

import (
	"os"
	"strconv"
	"time"

	"pumpbridge/common/config"
)

// Config is the bridge service configuration.
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string
	}

	Ingest struct {
		Workers        int           // per-device shards
		QueueSize      int           // buffered messages per shard
		MessageTimeout time.Duration // store deadline per message
	}

	Cache struct {
		SnapshotPrefix string
		SnapshotTTL    time.Duration
	}

	Events struct {
		Stream string
		MaxLen int64
	}

	Scheduler struct {
		Spec             string // cron spec with seconds field
		TickTimeout      time.Duration
		AlarmCooldown    time.Duration
		DisconnectMinAge time.Duration
		DisconnectMaxAge time.Duration
	}

	Aggregator struct {
		RefillRatio             float64
		RefillFallbackThreshold float64
		DefaultDays             int
		MaxDays                 int
	}

	Mail struct {
		RelayURL string
		Token    string
		From     string
		SiteURL  string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "pumps")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "pumpbridge")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 2
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.ConnectTimeout = getEnvDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second)
	cfg.MQTT.PublishTimeout = getEnvDuration("MQTT_PUBLISH_TIMEOUT", 5*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 16)
	cfg.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 256)
	cfg.Ingest.MessageTimeout = getEnvDuration("INGEST_MESSAGE_TIMEOUT", 10*time.Second)

	cfg.Cache.SnapshotPrefix = getEnv("SNAPSHOT_CACHE_PREFIX", "pump:snapshot:")
	cfg.Cache.SnapshotTTL = getEnvDuration("SNAPSHOT_CACHE_TTL", 10*time.Minute)

	cfg.Events.Stream = getEnv("EVENT_STREAM", "pump:events")
	cfg.Events.MaxLen = int64(getEnvInt("EVENT_STREAM_MAXLEN", 100000))

	cfg.Scheduler.Spec = getEnv("SCHEDULER_SPEC", "0 * * * * *")
	cfg.Scheduler.TickTimeout = getEnvDuration("SCHEDULER_TICK_TIMEOUT", 50*time.Second)
	cfg.Scheduler.AlarmCooldown = getEnvDuration("ALARM_COOLDOWN", 24*time.Hour)
	cfg.Scheduler.DisconnectMinAge = getEnvDuration("DISCONNECT_MIN_AGE", time.Hour)
	cfg.Scheduler.DisconnectMaxAge = getEnvDuration("DISCONNECT_MAX_AGE", 8*time.Hour)

	cfg.Aggregator.RefillRatio = getEnvFloat("REFILL_RATIO", 0.10)
	cfg.Aggregator.RefillFallbackThreshold = getEnvFloat("REFILL_FALLBACK_THRESHOLD", 10)
	cfg.Aggregator.DefaultDays = 30
	cfg.Aggregator.MaxDays = 180

	cfg.Mail.RelayURL = getEnv("MAIL_RELAY_URL", "http://localhost:8025")
	cfg.Mail.Token = getEnv("MAIL_RELAY_TOKEN", "")
	cfg.Mail.From = getEnv("MAIL_FROM", "alerts@localhost")
	cfg.Mail.SiteURL = getEnv("SITE_URL", "http://localhost")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
