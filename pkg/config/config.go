package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	HTTP      HTTPConfig
	Model     ModelConfig
	Forecast  ForecastConfig
	Simulator SimulatorConfig
	Log       LogConfig
}

// Supported record store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver        string
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	Path          string // SQLite file
	MigrationsDir string
}

// ConnectionString returns the DSN for the configured driver.
func (d DatabaseConfig) ConnectionString() string {
	if d.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", d.Path)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// MigrationsPath returns the migrations directory, defaulting to the
// per-driver directory under ./migrations.
func (d DatabaseConfig) MigrationsPath() string {
	if d.MigrationsDir != "" {
		return d.MigrationsDir
	}
	if d.Driver == DriverPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

type RedisConfig struct {
	Addr       string // empty disables the recent-readings cache
	Password   string
	DB         int
	RecentSize int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicReadings string
	ConsumerGroup string // shared by every writer so each reading is stored once
	NumPartitions int
	BatchSize     int
	FlushInterval time.Duration
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type ModelConfig struct {
	Path              string
	Trees             int
	Seed              int64
	MinRows           int
	RetrainThreshold  int
	RetrainCheckEvery time.Duration
	RetryBackoff      time.Duration
	FeatureSet        string
	Workers           int
}

type ForecastConfig struct {
	MinRows      int
	DefaultSteps int
	MaxSteps     int
}

type SimulatorConfig struct {
	Enabled  bool
	Interval time.Duration
	Target   string // kafka | http
	URL      string
	Seed     int64
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
			Driver:        getEnv("DB_DRIVER", DriverSQLite),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "beehive_user"),
			Password:      getEnv("DB_PASSWORD", "beehive_pass"),
			DBName:        getEnv("DB_NAME", "beehive_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			Path:          getEnv("DB_PATH", "./data.db"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", ""),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			RecentSize: getEnvAsInt("REDIS_RECENT_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "hive.readings.raw"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "beehive-writers"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			FlushInterval: getEnvAsDuration("KAFKA_FLUSH_INTERVAL", 5*time.Second),
		},
		HTTP: HTTPConfig{
			Addr:           getEnv("HTTP_ADDR", ":8001"),
			AllowedOrigins: strings.Split(getEnv("HTTP_ALLOWED_ORIGINS", "*"), ","),
		},
		Model: ModelConfig{
			Path:              getEnv("MODEL_PATH", "./model.json"),
			Trees:             getEnvAsInt("MODEL_TREES", 120),
			Seed:              getEnvAsInt64("MODEL_SEED", 42),
			MinRows:           getEnvAsInt("MODEL_MIN_ROWS", 20),
			RetrainThreshold:  getEnvAsInt("MODEL_RETRAIN_THRESHOLD", 50),
			RetrainCheckEvery: getEnvAsDuration("MODEL_RETRAIN_CHECK_INTERVAL", time.Minute),
			RetryBackoff:      getEnvAsDuration("MODEL_RETRY_BACKOFF", 5*time.Minute),
			FeatureSet:        getEnv("MODEL_FEATURE_SET", "standard"),
			Workers:           getEnvAsInt("MODEL_WORKERS", 4),
		},
		Forecast: ForecastConfig{
			MinRows:      getEnvAsInt("FORECAST_MIN_ROWS", 20),
			DefaultSteps: getEnvAsInt("FORECAST_DEFAULT_STEPS", 10),
			MaxSteps:     getEnvAsInt("FORECAST_MAX_STEPS", 200),
		},
		Simulator: SimulatorConfig{
			Enabled:  getEnvAsBool("SIMULATOR_ENABLED", false),
			Interval: getEnvAsDuration("SIMULATOR_INTERVAL", 5*time.Second),
			Target:   getEnv("SIMULATOR_TARGET", "kafka"),
			URL:      getEnv("SIMULATOR_URL", "http://127.0.0.1:8001/api/data/ingest"),
			Seed:     getEnvAsInt64("SIMULATOR_SEED", time.Now().UnixNano()),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Model.Trees < 1 {
		return fmt.Errorf("MODEL_TREES must be at least 1, got %d", c.Model.Trees)
	}
	if c.Model.MinRows < 2 {
		return fmt.Errorf("MODEL_MIN_ROWS must be at least 2, got %d", c.Model.MinRows)
	}
	if c.Model.RetrainThreshold < 1 {
		return fmt.Errorf("MODEL_RETRAIN_THRESHOLD must be at least 1, got %d", c.Model.RetrainThreshold)
	}
	switch c.Model.FeatureSet {
	case "standard", "extended":
	default:
		return fmt.Errorf("unsupported MODEL_FEATURE_SET %q", c.Model.FeatureSet)
	}
	if c.Forecast.MaxSteps < 1 {
		return fmt.Errorf("FORECAST_MAX_STEPS must be at least 1, got %d", c.Forecast.MaxSteps)
	}
	switch c.Simulator.Target {
	case "kafka", "http":
	default:
		return fmt.Errorf("unsupported SIMULATOR_TARGET %q", c.Simulator.Target)
	}
	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
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
