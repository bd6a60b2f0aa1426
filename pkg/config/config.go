package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	HTTP       HTTPConfig
	WAQI       WAQIConfig
	Collection CollectionConfig
	Chat       ChatConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnectionString prefers DATABASE_URL (hosted Postgres) over discrete fields.
func (d DatabaseConfig) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	URL      string
	Addr     string
	Username string
	Password string
	DB       int
	TLS      bool
}

type KafkaConfig struct {
	Brokers         []string
	TopicReadings   string
	TopicAggregates string
	ArchiverGroup   string
	NumPartitions   int
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string
}

type WAQIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type CollectionConfig struct {
	TimeZone   string
	WardDelay  time.Duration
	ReadingTTL time.Duration
	WardsFile  string
	RunOnStart bool
	// HourlyMinute is the minute past each hour the collection runs
	HourlyMinute int
	// DailyAt is the "HH:MM" local time the daily aggregation runs
	DailyAt string
}

type ChatConfig struct {
	MessageTTL      time.Duration
	SessionTTL      time.Duration
	HistorySize     int
	RateLimitWindow time.Duration
	RateLimitMax    int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "jandrishti"),
			Password: getEnv("DB_PASSWORD", "jandrishti"),
			DBName:   getEnv("DB_NAME", "jandrishti"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Addr:     fmt.Sprintf("%s:%d", getEnv("REDIS_HOST", "localhost"), getEnvAsInt("REDIS_PORT", 6379)),
			Username: getEnv("REDIS_USERNAME", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TLS:      getEnvAsBool("REDIS_SSL", false),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvAsList("KAFKA_BROKERS"),
			TopicReadings:   getEnv("KAFKA_TOPIC_READINGS", "aqi.readings.hourly"),
			TopicAggregates: getEnv("KAFKA_TOPIC_AGGREGATES", "aqi.aggregates.daily"),
			ArchiverGroup:   getEnv("KAFKA_ARCHIVER_GROUP", "aqi-archiver"),
			NumPartitions:   getEnvAsInt("KAFKA_PARTITIONS", 3),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 8000),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			AdminToken:      getEnv("ADMIN_TOKEN", ""),
		},
		WAQI: WAQIConfig{
			BaseURL: getEnv("WAQI_BASE_URL", "https://api.waqi.info"),
			Token:   getEnv("WAQI_TOKEN", ""),
			Timeout: getEnvAsDuration("WAQI_TIMEOUT", 10*time.Second),
		},
		Collection: CollectionConfig{
			TimeZone:     getEnv("COLLECTION_TIMEZONE", "Asia/Kolkata"),
			WardDelay:    getEnvAsDuration("COLLECTION_WARD_DELAY", 500*time.Millisecond),
			ReadingTTL:   getEnvAsDuration("COLLECTION_READING_TTL", 48*time.Hour),
			WardsFile:    getEnv("WARDS_FILE", ""),
			RunOnStart:   getEnvAsBool("COLLECTION_RUN_ON_START", true),
			HourlyMinute: getEnvAsInt("COLLECTION_HOURLY_MINUTE", 0),
			DailyAt:      getEnv("COLLECTION_DAILY_AT", "00:00"),
		},
		Chat: ChatConfig{
			MessageTTL:      getEnvAsDuration("CHAT_MESSAGE_TTL", 24*time.Hour),
			SessionTTL:      getEnvAsDuration("CHAT_SESSION_TTL", 2*time.Hour),
			HistorySize:     getEnvAsInt("CHAT_HISTORY_SIZE", 50),
			RateLimitWindow: getEnvAsDuration("CHAT_RATE_LIMIT_WINDOW", time.Minute),
			RateLimitMax:    getEnvAsInt("CHAT_RATE_LIMIT_MAX", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.WAQI.Token == "" {
		errs = append(errs, errors.New("WAQI_TOKEN is required"))
	}
	if _, err := time.LoadLocation(c.Collection.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid COLLECTION_TIMEZONE %q: %w", c.Collection.TimeZone, err))
	}
	if c.Chat.HistorySize <= 0 {
		errs = append(errs, errors.New("CHAT_HISTORY_SIZE must be positive"))
	}
	if c.Chat.RateLimitMax <= 0 || c.Chat.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("chat rate limit must have a positive max and window"))
	}
	if c.Collection.HourlyMinute < 0 || c.Collection.HourlyMinute > 59 {
		errs = append(errs, errors.New("COLLECTION_HOURLY_MINUTE must be within 0-59"))
	}
	if c.Collection.ReadingTTL <= 0 {
		errs = append(errs, errors.New("COLLECTION_READING_TTL must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
