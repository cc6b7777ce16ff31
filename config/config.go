package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix prefixes environment overrides, e.g. COURIERSYNC_DATABASE_PASSWORD.
const EnvPrefix = "couriersync"

const (
	StorageModePostgres = "postgres"
	StorageModeMemory   = "memory"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Kafka       KafkaConfig       `yaml:"kafka" envconfig:"KAFKA"`
	Redis       RedisConfig       `yaml:"redis" envconfig:"REDIS"`
	CourierSync CourierSyncConfig `yaml:"couriersync" envconfig:"APP"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Username string `yaml:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DBName   string `yaml:"name" envconfig:"NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE"`
}

func (c DatabaseConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

type KafkaConfig struct {
	Host                      string `yaml:"host" envconfig:"HOST"`
	Port                      int    `yaml:"port" envconfig:"PORT"`
	OrderStatusTopicName      string `yaml:"order_status_topic_name" envconfig:"ORDER_STATUS_TOPIC"`
	BookingRequestedTopicName string `yaml:"booking_requested_topic_name" envconfig:"BOOKING_REQUESTED_TOPIC"`
	BookingConsumerGroup      string `yaml:"booking_consumer_group" envconfig:"BOOKING_CONSUMER_GROUP"`
}

// Enabled is false when no broker is configured; events are then dropped.
func (c KafkaConfig) Enabled() bool {
	return c.Host != ""
}

func (c KafkaConfig) Brokers() []string {
	port := c.Port
	if port == 0 {
		port = 9092
	}
	return []string{fmt.Sprintf("%s:%d", c.Host, port)}
}

type RedisConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

type PickupConfig struct {
	Name    string `yaml:"name"`
	Phone   string `yaml:"phone"`
	Line1   string `yaml:"line1"`
	Line2   string `yaml:"line2"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
}

type CourierSyncConfig struct {
	StorageMode  string `yaml:"storage_mode" envconfig:"STORAGE_MODE"`
	HTTPAddr     string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	CouriersPath string `yaml:"couriers_path" envconfig:"COURIERS_PATH"`

	SettingsTTLSeconds      int `yaml:"settings_ttl_seconds"`
	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`
	JobTimeoutSeconds       int `yaml:"job_timeout_seconds"`

	PickupAddress      PickupConfig `yaml:"pickup_address"`
	DefaultCourierCode string       `yaml:"default_courier_code"`
	KgPerUnit          int64        `yaml:"kg_per_unit"`

	BookingMaxRetries          int   `yaml:"booking_max_retries"`
	BookingRetryBackoffMinutes []int `yaml:"booking_retry_backoff_minutes"`
	BookingRetryBatchSize      int   `yaml:"booking_retry_batch_size"`
	BookingRetryLeaseSeconds   int   `yaml:"booking_retry_lease_seconds"`

	WorkerHTTPAddr            string           `yaml:"worker_http_addr" envconfig:"WORKER_HTTP_ADDR"`
	WorkerPollIntervalSeconds int              `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int              `yaml:"worker_batch_size"`
	WorkerConcurrency         int              `yaml:"worker_concurrency"`
	WorkerItemTimeoutSeconds  int              `yaml:"worker_item_timeout_seconds"`
	WorkerRateLimitPerMinute  int64            `yaml:"worker_rate_limit_per_minute"`
	WorkerCourierRateLimits   map[string]int64 `yaml:"worker_courier_rate_limits"`

	VerificationBatchSize         int `yaml:"verification_batch_size"`
	VerificationRecheckAfterHours int `yaml:"verification_recheck_after_hours"`

	// cron expressions (robfig/cron, 5 fields); empty disables the job
	ScheduleBookingRetries       string `yaml:"schedule_booking_retries" envconfig:"SCHEDULE_BOOKING_RETRIES"`
	ScheduleTrackingSync         string `yaml:"schedule_tracking_sync" envconfig:"SCHEDULE_TRACKING_SYNC"`
	ScheduleDeliveryVerification string `yaml:"schedule_delivery_verification" envconfig:"SCHEDULE_DELIVERY_VERIFICATION"`
	ScheduleReservedStock        string `yaml:"schedule_reserved_stock" envconfig:"SCHEDULE_RESERVED_STOCK"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if config.CourierSync.StorageMode == "" {
		config.CourierSync.StorageMode = StorageModePostgres
	}
	switch config.CourierSync.StorageMode {
	case StorageModePostgres, StorageModeMemory:
	default:
		return nil, fmt.Errorf("unknown storage_mode %q", config.CourierSync.StorageMode)
	}

	return &config, nil
}
