package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue backends
const (
	QueueBackendMemory   = "memory"
	QueueBackendRedis    = "redis"
	QueueBackendTemporal = "temporal"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Telemetry    TelemetryConfig
	CRM          CRMConfig
	Queue        QueueConfig
	Temporal     TemporalConfig
	Sync         SyncConfig
	Notification NotificationConfig
	HTTP         HTTPConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // file path or :memory:, sqlite driver only
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port for the Redis client
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
}

// CRMConfig holds the external contact and messaging API settings
type CRMConfig struct {
	BaseURL   string
	APIKey    string
	Channel   string // messaging channel checked for availability
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
}

// QueueConfig holds job transport and worker pool settings
type QueueConfig struct {
	Backend       string // memory, redis, temporal
	Concurrency   int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	LeaseDuration time.Duration
	ReapInterval  time.Duration
}

// TemporalConfig holds Temporal settings, used when queue.backend is temporal
type TemporalConfig struct {
	HostPort        string
	Namespace       string
	TaskQueue       string
	ActivityTimeout time.Duration
}

// SyncConfig holds order sync settings
type SyncConfig struct {
	Branches         []string // branch codes in the target region
	MaxAttempts      int
	BackoffDelay     time.Duration
	BackfillEnabled  bool
	BackfillInterval time.Duration
	BackfillPageSize int
}

// NotificationConfig holds confirmation message delivery settings
type NotificationConfig struct {
	Template     string
	InitialDelay time.Duration
	MaxAttempts  int
	BackoffDelay time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	IdempotencyTTL time.Duration // how long an Idempotency-Key is remembered
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDERSYNC_ prefix (e.g., ORDERSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ordersync")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		CRM: CRMConfig{
			BaseURL:   v.GetString("crm.base_url"),
			APIKey:    v.GetString("crm.api_key"),
			Channel:   v.GetString("crm.channel"),
			Timeout:   v.GetDuration("crm.timeout"),
			RateLimit: v.GetFloat64("crm.rate_limit"),
			Burst:     v.GetInt("crm.burst"),
		},
		Queue: QueueConfig{
			Backend:       v.GetString("queue.backend"),
			Concurrency:   v.GetInt("queue.concurrency"),
			PollInterval:  v.GetDuration("queue.poll_interval"),
			JobTimeout:    v.GetDuration("queue.job_timeout"),
			LeaseDuration: v.GetDuration("queue.lease_duration"),
			ReapInterval:  v.GetDuration("queue.reap_interval"),
		},
		Temporal: TemporalConfig{
			HostPort:        v.GetString("temporal.host_port"),
			Namespace:       v.GetString("temporal.namespace"),
			TaskQueue:       v.GetString("temporal.task_queue"),
			ActivityTimeout: v.GetDuration("temporal.activity_timeout"),
		},
		Sync: SyncConfig{
			Branches:         v.GetStringSlice("sync.branches"),
			MaxAttempts:      v.GetInt("sync.max_attempts"),
			BackoffDelay:     v.GetDuration("sync.backoff_delay"),
			BackfillEnabled:  v.GetBool("sync.backfill_enabled"),
			BackfillInterval: v.GetDuration("sync.backfill_interval"),
			BackfillPageSize: v.GetInt("sync.backfill_page_size"),
		},
		Notification: NotificationConfig{
			Template:     v.GetString("notification.template"),
			InitialDelay: v.GetDuration("notification.initial_delay"),
			MaxAttempts:  v.GetInt("notification.max_attempts"),
			BackoffDelay: v.GetDuration("notification.backoff_delay"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			IdempotencyTTL: v.GetDuration("http.idempotency_ttl"),
		},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ordersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ordersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "ordersync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ordersync:queue"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ordersync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	// CRM defaults
	if cfg.CRM.Channel == "" {
		cfg.CRM.Channel = "whatsapp"
	}
	if cfg.CRM.Timeout == 0 {
		cfg.CRM.Timeout = 30 * time.Second
	}
	if cfg.CRM.RateLimit == 0 {
		cfg.CRM.RateLimit = 10
	}
	if cfg.CRM.Burst == 0 {
		cfg.CRM.Burst = 5
	}

	// Queue defaults
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = QueueBackendRedis
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 5
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = time.Second
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = 90 * time.Second
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = 5 * time.Minute
	}
	if cfg.Queue.ReapInterval == 0 {
		cfg.Queue.ReapInterval = 30 * time.Second
	}
	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "ordersync"
	}
	if cfg.Temporal.ActivityTimeout == 0 {
		cfg.Temporal.ActivityTimeout = 2 * time.Minute
	}

	// Sync defaults
	if len(cfg.Sync.Branches) == 0 {
		cfg.Sync.Branches = []string{"il"}
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.BackoffDelay == 0 {
		cfg.Sync.BackoffDelay = 30 * time.Second
	}
	if cfg.Sync.BackfillInterval == 0 {
		cfg.Sync.BackfillInterval = 15 * time.Minute
	}
	if cfg.Sync.BackfillPageSize == 0 {
		cfg.Sync.BackfillPageSize = 100
	}

	// Notification defaults
	if cfg.Notification.Template == "" {
		cfg.Notification.Template = "order_confirmation"
	}
	if cfg.Notification.InitialDelay == 0 {
		cfg.Notification.InitialDelay = 30 * time.Second
	}
	if cfg.Notification.MaxAttempts == 0 {
		cfg.Notification.MaxAttempts = 5
	}
	if cfg.Notification.BackoffDelay == 0 {
		cfg.Notification.BackoffDelay = time.Minute
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.IdempotencyTTL == 0 {
		cfg.HTTP.IdempotencyTTL = 24 * time.Hour
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Queue.Backend {
	case QueueBackendMemory, QueueBackendRedis, QueueBackendTemporal:
	default:
		return fmt.Errorf("queue.backend must be one of memory, redis, temporal, got %q", c.Queue.Backend)
	}
	if c.Queue.LeaseDuration <= c.Queue.JobTimeout {
		return fmt.Errorf("queue.lease_duration (%s) must exceed queue.job_timeout (%s)",
			c.Queue.LeaseDuration, c.Queue.JobTimeout)
	}
	if c.CRM.RateLimit < 0 {
		return fmt.Errorf("crm.rate_limit cannot be negative")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.CRM.BaseURL == "" {
			return fmt.Errorf("crm.base_url is required in production")
		}
		if c.CRM.APIKey == "" {
			return fmt.Errorf("crm.api_key is required in production")
		}
		// Jobs in memory do not survive a restart
		if c.Queue.Backend == QueueBackendMemory {
			return fmt.Errorf("queue.backend cannot be 'memory' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values.
// For the sqlite driver it is the database file path.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
