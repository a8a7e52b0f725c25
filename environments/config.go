package environments

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Facebook   PlatformConfig
	WhatsApp   PlatformConfig
	Webhook    WebhookConfig
	Outbound   OutboundConfig
	Worker     WorkerConfig
	Enrichment EnrichmentConfig
	Broadcast  BroadcastConfig
	Scheduler  SchedulerConfig
	Auth       AuthConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port string
	// AllowedOrigins feed CORS and the WebSocket origin check.
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver   string // mysql or sqlite
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	// Path is the SQLite database file when Driver is sqlite.
	Path string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// PlatformConfig holds the app-level credentials for one messaging platform.
type PlatformConfig struct {
	BaseURL     string
	APIVersion  string
	AppID       string
	AppSecret   string
	VerifyToken string
	Timeout     time.Duration
}

type WebhookConfig struct {
	VerifySignatures bool
	SubmitTimeout    time.Duration
	ReplayGrace      time.Duration
	ReplayBatchSize  int
	// MaxReplayAttempts caps sweep retries per delivery.
	MaxReplayAttempts int
}

type OutboundConfig struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxWait            time.Duration
	MaxRetryAttempts   int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	MaxContentLength   int
}

type WorkerConfig struct {
	PoolSize      int
	QueueCapacity int
}

type EnrichmentConfig struct {
	SweepBatchSize int
	Timeout        time.Duration
}

type BroadcastConfig struct {
	HeartbeatInterval time.Duration
	SubscriberBuffer  int
}

type SchedulerConfig struct {
	Interval  time.Duration
	AutoStart bool
}

type AuthConfig struct {
	JWTSecret   string
	AdminAPIKey string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           GetEnv("SERVER_PORT", "8080"),
			AllowedOrigins: GetEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:   GetEnv("DB_DRIVER", "mysql"),
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "bridge"),
			Password: GetEnv("DB_PASSWORD", "bridge123"),
			DBName:   GetEnv("DB_NAME", "messaging_bridge"),
			Path:     GetEnv("DB_PATH", "messaging_bridge.db"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
			Enabled:  GetEnvAsBool("REDIS_ENABLED", true),
		},
		Facebook: PlatformConfig{
			BaseURL:     GetEnv("FACEBOOK_API_BASE_URL", "https://graph.facebook.com"),
			APIVersion:  GetEnv("FACEBOOK_API_VERSION", "v19.0"),
			AppID:       GetEnv("FACEBOOK_APP_ID", ""),
			AppSecret:   GetEnv("FACEBOOK_APP_SECRET", ""),
			VerifyToken: GetEnv("FACEBOOK_VERIFY_TOKEN", ""),
			Timeout:     GetEnvAsDuration("FACEBOOK_API_TIMEOUT", 15*time.Second),
		},
		WhatsApp: PlatformConfig{
			BaseURL:     GetEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
			APIVersion:  GetEnv("WHATSAPP_API_VERSION", "v19.0"),
			AppID:       GetEnv("WHATSAPP_APP_ID", ""),
			AppSecret:   GetEnv("WHATSAPP_APP_SECRET", ""),
			VerifyToken: GetEnv("WHATSAPP_VERIFY_TOKEN", ""),
			Timeout:     GetEnvAsDuration("WHATSAPP_API_TIMEOUT", 15*time.Second),
		},
		Webhook: WebhookConfig{
			VerifySignatures:  GetEnvAsBool("WEBHOOK_VERIFY_SIGNATURES", true),
			SubmitTimeout:     GetEnvAsDuration("WEBHOOK_SUBMIT_TIMEOUT", 2*time.Second),
			ReplayGrace:       GetEnvAsDuration("WEBHOOK_REPLAY_GRACE", 5*time.Minute),
			ReplayBatchSize:   GetEnvAsInt("WEBHOOK_REPLAY_BATCH_SIZE", 100),
			MaxReplayAttempts: GetEnvAsInt("WEBHOOK_MAX_REPLAY_ATTEMPTS", 5),
		},
		Outbound: OutboundConfig{
			RateLimitPerMinute: GetEnvAsInt("OUTBOUND_RATE_LIMIT_PER_MINUTE", 200),
			RateLimitBurst:     GetEnvAsInt("OUTBOUND_RATE_LIMIT_BURST", 10),
			MaxWait:            GetEnvAsDuration("OUTBOUND_RATE_LIMIT_MAX_WAIT", 5*time.Second),
			MaxRetryAttempts:   GetEnvAsInt("OUTBOUND_MAX_RETRY_ATTEMPTS", 3),
			RetryDelay:         GetEnvAsDuration("OUTBOUND_RETRY_DELAY", time.Second),
			ExponentialBackoff: GetEnvAsBool("OUTBOUND_RETRY_EXPONENTIAL", true),
			MaxContentLength:   GetEnvAsInt("OUTBOUND_MAX_CONTENT_LENGTH", 4096),
		},
		Worker: WorkerConfig{
			PoolSize:      GetEnvAsInt("WORKER_POOL_SIZE", 8),
			QueueCapacity: GetEnvAsInt("WORKER_QUEUE_CAPACITY", 500),
		},
		Enrichment: EnrichmentConfig{
			SweepBatchSize: GetEnvAsInt("ENRICHMENT_SWEEP_BATCH_SIZE", 50),
			Timeout:        GetEnvAsDuration("ENRICHMENT_TIMEOUT", 10*time.Second),
		},
		Broadcast: BroadcastConfig{
			HeartbeatInterval: GetEnvAsDuration("BROADCAST_HEARTBEAT_INTERVAL", 20*time.Second),
			SubscriberBuffer:  GetEnvAsInt("BROADCAST_SUBSCRIBER_BUFFER", 64),
		},
		Scheduler: SchedulerConfig{
			Interval:  GetEnvAsDuration("SCHEDULER_INTERVAL", 5*time.Minute),
			AutoStart: GetEnvAsBool("AUTO_START_SCHEDULER", true),
		},
		Auth: AuthConfig{
			JWTSecret:   GetEnv("JWT_SECRET", ""),
			AdminAPIKey: GetEnv("ADMIN_API_KEY", ""),
		},
		Log: LogConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "text"),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsSlice splits a comma-separated value, dropping empty items.
func GetEnvAsSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
