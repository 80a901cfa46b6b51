package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Lock backends
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Transport drivers
const (
	TransportSMTP     = "smtp"
	TransportPostmark = "postmark"
	TransportRabbitMQ = "rabbitmq"
	TransportLog      = "log"
)

// StatusUpdateTimeout bounds the delivery log write that follows a send.
const StatusUpdateTimeout = 5 * time.Second

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Lock      LockConfig      `yaml:"lock"`
	Transport TransportConfig `yaml:"transport"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// DeliveryConfig controls the delivery worker.
type DeliveryConfig struct {
	// MaxRetries is the total number of send attempts per job.
	MaxRetries      int           `yaml:"max_retries"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	Backoff         BackoffConfig `yaml:"backoff"`
	Retention       time.Duration `yaml:"retention"`
	PruneCron       string        `yaml:"prune_cron"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ClaimWindow is the longest a live worker keeps one claim IN_FLIGHT: the
// send timeout plus the status write that ends it.
func (d DeliveryConfig) ClaimWindow() time.Duration {
	return d.SendTimeout + StatusUpdateTimeout
}

// BackoffConfig selects the retry delay strategy.
type BackoffConfig struct {
	Strategy string        `yaml:"strategy"` // constant, linear, exponential, jitter
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// RecoveryConfig controls startup recovery and the periodic re-drive job.
type RecoveryConfig struct {
	InFlightGrace   time.Duration `yaml:"in_flight_grace"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	RedriveInterval time.Duration `yaml:"redrive_interval"`
}

// SchedulerConfig holds scheduled job settings
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Timezone        string        `yaml:"timezone" env:"SCHEDULER_TIMEZONE"`
	OverdueCheck    CronJobConfig `yaml:"overdue_check"`
	ArchiveTasks    ArchiveConfig `yaml:"archive_completed_tasks"`
}

// CronJobConfig enables a cron-scheduled job.
type CronJobConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// ArchiveConfig configures archiving of completed tasks.
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Cron          string `yaml:"cron"`
	RetentionDays int    `yaml:"retention_days"`
}

// LockConfig selects the distributed lock backend.
type LockConfig struct {
	Backend   string      `yaml:"backend" env:"LOCK_BACKEND"`
	Namespace int32       `yaml:"namespace"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds the lease lock connection settings.
type RedisConfig struct {
	Addr          string        `yaml:"addr" env:"REDIS_ADDR"`
	Password      string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int           `yaml:"db"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// TransportConfig selects how notifications leave the process.
type TransportConfig struct {
	Driver   string         `yaml:"driver" env:"TRANSPORT_DRIVER"`
	From     string         `yaml:"from" env:"MAIL_FROM"`
	ReplyTo  string         `yaml:"reply_to"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Postmark PostmarkConfig `yaml:"postmark"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// SMTPConfig holds mail server settings
type SMTPConfig struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env:"SMTP_PORT"`
	Username string        `yaml:"username" env:"SMTP_USERNAME"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PostmarkConfig holds Postmark API credentials
type PostmarkConfig struct {
	ServerToken  string `yaml:"server_token" env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	Tag          string `yaml:"tag"`
}

// RabbitMQConfig holds the notification gateway exchange settings
type RabbitMQConfig struct {
	Host           string        `yaml:"host" env:"RABBITMQ_HOST"`
	Port           int           `yaml:"port" env:"RABBITMQ_PORT"`
	User           string        `yaml:"user" env:"RABBITMQ_USER"`
	Password       string        `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost          string        `yaml:"vhost"`
	Exchange       string        `yaml:"exchange"`
	ExchangeType   string        `yaml:"exchange_type"`
	Queue          string        `yaml:"queue"`
	RoutingKey     string        `yaml:"routing_key"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// Load reads the configuration file, applies environment overrides and
// fills unset values with defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.RetryInterval == 0 {
		c.Database.RetryInterval = 2 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Delivery.MaxRetries == 0 {
		c.Delivery.MaxRetries = 3
	}
	if c.Delivery.SendTimeout == 0 {
		c.Delivery.SendTimeout = 10 * time.Second
	}
	if c.Delivery.Backoff.Strategy == "" {
		c.Delivery.Backoff.Strategy = "exponential"
	}
	if c.Delivery.Backoff.Initial == 0 {
		c.Delivery.Backoff.Initial = time.Second
	}
	if c.Delivery.Backoff.Max == 0 {
		c.Delivery.Backoff.Max = time.Minute
	}
	if c.Delivery.PruneCron == "" {
		c.Delivery.PruneCron = "30 3 * * *"
	}
	if c.Delivery.ShutdownTimeout == 0 {
		c.Delivery.ShutdownTimeout = c.Delivery.ClaimWindow()
	}
	if c.Recovery.InFlightGrace == 0 {
		c.Recovery.InFlightGrace = c.Delivery.ClaimWindow()
	}
	if c.Recovery.StaleAfter == 0 {
		c.Recovery.StaleAfter = 15 * time.Minute
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = time.Second
	}
	if c.Scheduler.ShutdownTimeout == 0 {
		c.Scheduler.ShutdownTimeout = 30 * time.Second
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.OverdueCheck.Cron == "" {
		c.Scheduler.OverdueCheck.Cron = "0 9 * * *"
	}
	if c.Scheduler.ArchiveTasks.Cron == "" {
		c.Scheduler.ArchiveTasks.Cron = "0 2 * * *"
	}
	if c.Scheduler.ArchiveTasks.RetentionDays == 0 {
		c.Scheduler.ArchiveTasks.RetentionDays = 30
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockBackendPostgres
	}
	if c.Lock.Redis.LeaseTTL == 0 {
		c.Lock.Redis.LeaseTTL = 30 * time.Second
	}
	if c.Lock.Redis.RenewInterval == 0 {
		c.Lock.Redis.RenewInterval = c.Lock.Redis.LeaseTTL / 3
	}
	if c.Transport.Driver == "" {
		c.Transport.Driver = TransportLog
	}
	if c.Transport.SMTP.Timeout == 0 {
		c.Transport.SMTP.Timeout = 10 * time.Second
	}
}

// ValidateAPIConfig checks the settings required by the api-service.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return c.validateCommon()
}

// ValidateWorkerConfig checks the settings required by the worker-service.
func (c *Config) ValidateWorkerConfig() error {
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	var errs []error

	if c.Database.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		errs = append(errs, fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort))
	}
	if c.Database.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if c.Delivery.MaxRetries < 1 {
		errs = append(errs, errors.New("delivery max_retries must be at least 1"))
	}
	if c.Delivery.SendTimeout <= 0 {
		errs = append(errs, errors.New("delivery send_timeout must be greater than 0"))
	}
	if c.Delivery.Backoff.Max < c.Delivery.Backoff.Initial {
		errs = append(errs, errors.New("delivery backoff max must not be lower than initial"))
	}
	switch c.Delivery.Backoff.Strategy {
	case "constant", "linear", "exponential", "jitter":
	default:
		errs = append(errs, fmt.Errorf("unknown backoff strategy %q", c.Delivery.Backoff.Strategy))
	}

	if c.Recovery.InFlightGrace < c.Delivery.ClaimWindow() {
		errs = append(errs, fmt.Errorf("recovery in_flight_grace must be at least send_timeout + %s (%s)",
			StatusUpdateTimeout, c.Delivery.ClaimWindow()))
	}
	if c.Recovery.RedriveInterval > 0 && c.Recovery.StaleAfter <= c.Delivery.ClaimWindow() {
		errs = append(errs, fmt.Errorf("recovery stale_after must exceed send_timeout + %s", StatusUpdateTimeout))
	}

	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("scheduler tick_interval must be greater than 0"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid scheduler timezone: %w", err))
	}
	if c.Scheduler.ArchiveTasks.RetentionDays < 0 {
		errs = append(errs, errors.New("archive retention_days must not be negative"))
	}

	switch c.Lock.Backend {
	case LockBackendPostgres, LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, errors.New("lock redis addr is required for the redis backend"))
		}
		if c.Lock.Redis.RenewInterval >= c.Lock.Redis.LeaseTTL {
			errs = append(errs, errors.New("lock redis renew_interval must be shorter than lease_ttl"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.Lock.Backend))
	}

	errs = append(errs, c.validateTransport()...)

	return errors.Join(errs...)
}

func (c *Config) validateTransport() []error {
	var errs []error

	switch c.Transport.Driver {
	case TransportLog:
	case TransportSMTP:
		if c.Transport.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp host is required"))
		}
		if c.Transport.SMTP.Port < MinPort || c.Transport.SMTP.Port > MaxPort {
			errs = append(errs, fmt.Errorf("invalid smtp port: %d", c.Transport.SMTP.Port))
		}
		if c.Transport.From == "" {
			errs = append(errs, errors.New("transport from address is required"))
		}
	case TransportPostmark:
		if c.Transport.Postmark.ServerToken == "" {
			errs = append(errs, errors.New("postmark server_token is required"))
		}
		if c.Transport.From == "" {
			errs = append(errs, errors.New("transport from address is required"))
		}
	case TransportRabbitMQ:
		if c.Transport.RabbitMQ.Host == "" {
			errs = append(errs, errors.New("rabbitmq host is required"))
		}
		if c.Transport.RabbitMQ.Exchange == "" {
			errs = append(errs, errors.New("rabbitmq exchange is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport driver %q", c.Transport.Driver))
	}
	return errs
}
