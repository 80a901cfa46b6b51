package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, "task-notifier-api", cfg.App.Name)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "tasks_db", cfg.Database.Database)
			assert.True(t, cfg.Database.AutoMigrate)
			assert.Equal(t, 5, cfg.Delivery.MaxRetries)
			assert.Equal(t, 5*time.Second, cfg.Delivery.SendTimeout)
			assert.Equal(t, "jitter", cfg.Delivery.Backoff.Strategy)
			assert.Equal(t, 500*time.Millisecond, cfg.Delivery.Backoff.Initial)
			assert.Equal(t, 720*time.Hour, cfg.Delivery.Retention)
			assert.Equal(t, time.Minute, cfg.Recovery.InFlightGrace)
			assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Scheduler.Timezone)
			assert.Equal(t, 45, cfg.Scheduler.ArchiveTasks.RetentionDays)
			assert.Equal(t, int32(4242), cfg.Lock.Namespace)
			assert.Equal(t, TransportSMTP, cfg.Transport.Driver)
			assert.Equal(t, 587, cfg.Transport.SMTP.Port)

			assert.NoError(t, cfg.ValidateAPIConfig())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Delivery.SendTimeout)
	assert.Equal(t, "exponential", cfg.Delivery.Backoff.Strategy)
	assert.Equal(t, 15*time.Second, cfg.Delivery.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Recovery.InFlightGrace, "grace covers send timeout plus status write")
	assert.Equal(t, "0 9 * * *", cfg.Scheduler.OverdueCheck.Cron)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.ArchiveTasks.Cron)
	assert.Equal(t, 30, cfg.Scheduler.ArchiveTasks.RetentionDays)
	assert.Equal(t, LockBackendPostgres, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.Redis.RenewInterval)
	assert.Equal(t, TransportLog, cfg.Transport.Driver)

	assert.NoError(t, cfg.ValidateWorkerConfig())
	assert.Error(t, cfg.ValidateAPIConfig(), "api-service needs a server port")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SMTP_PASSWORD", "smtp-secret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, LockBackendRedis, cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, "smtp-secret", cfg.Transport.SMTP.Password)
	assert.Equal(t, "mailer", cfg.Transport.SMTP.Username, "unset variables keep the file value")
}

func validConfig() *Config {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Database: "tasks_db"},
	}
	cfg.setDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "zero max retries",
			mutate:    func(c *Config) { c.Delivery.MaxRetries = -1 },
			errString: "max_retries must be at least 1",
		},
		{
			name:      "unknown backoff strategy",
			mutate:    func(c *Config) { c.Delivery.Backoff.Strategy = "fibonacci" },
			errString: "unknown backoff strategy",
		},
		{
			name: "stale_after shorter than send timeout",
			mutate: func(c *Config) {
				c.Recovery.RedriveInterval = time.Minute
				c.Recovery.StaleAfter = time.Second
			},
			errString: "stale_after must exceed",
		},
		{
			name:      "in_flight_grace shorter than a live claim",
			mutate:    func(c *Config) { c.Recovery.InFlightGrace = c.Delivery.SendTimeout },
			errString: "in_flight_grace must be at least",
		},
		{
			name:   "in_flight_grace equal to the claim window",
			mutate: func(c *Config) { c.Recovery.InFlightGrace = c.Delivery.ClaimWindow() },
		},
		{
			name: "raising send_timeout requires a longer grace",
			mutate: func(c *Config) {
				c.Recovery.InFlightGrace = 20 * time.Second
				c.Delivery.SendTimeout = time.Minute
			},
			errString: "in_flight_grace must be at least",
		},
		{
			name:      "invalid timezone",
			mutate:    func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			errString: "invalid scheduler timezone",
		},
		{
			name:      "unknown lock backend",
			mutate:    func(c *Config) { c.Lock.Backend = "etcd" },
			errString: "unknown lock backend",
		},
		{
			name:      "redis backend without addr",
			mutate:    func(c *Config) { c.Lock.Backend = LockBackendRedis },
			errString: "lock redis addr is required",
		},
		{
			name: "redis renew interval not shorter than ttl",
			mutate: func(c *Config) {
				c.Lock.Backend = LockBackendRedis
				c.Lock.Redis.Addr = "localhost:6379"
				c.Lock.Redis.RenewInterval = c.Lock.Redis.LeaseTTL
			},
			errString: "renew_interval must be shorter",
		},
		{
			name:      "smtp without host",
			mutate:    func(c *Config) { c.Transport.Driver = TransportSMTP },
			errString: "smtp host is required",
		},
		{
			name:      "postmark without token",
			mutate:    func(c *Config) { c.Transport.Driver = TransportPostmark },
			errString: "postmark server_token is required",
		},
		{
			name:      "rabbitmq without exchange",
			mutate:    func(c *Config) { c.Transport.Driver = TransportRabbitMQ; c.Transport.RabbitMQ.Host = "mq" },
			errString: "rabbitmq exchange is required",
		},
		{
			name:      "unknown transport",
			mutate:    func(c *Config) { c.Transport.Driver = "pigeon" },
			errString: "unknown transport driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestValidateWorkerConfig_IgnoresServer(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.ValidateWorkerConfig())
	assert.Error(t, cfg.ValidateAPIConfig())
}

func TestShippedConfigs_ProtectLiveClaims(t *testing.T) {
	tests := []struct {
		path     string
		validate func(c *Config) error
	}{
		{"../../configs/api-service.yaml", (*Config).ValidateAPIConfig},
		{"../../configs/worker-service.yaml", (*Config).ValidateWorkerConfig},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg, err := Load(tt.path)
			require.NoError(t, err)

			require.NoError(t, tt.validate(cfg))
			assert.GreaterOrEqual(t, cfg.Recovery.InFlightGrace, cfg.Delivery.ClaimWindow(),
				"a restarting process must not reset rows another worker is still sending")
		})
	}
}
