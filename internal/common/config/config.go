// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Risk          RiskConfig              `mapstructure:"risk"`
	Security      SecurityConfig          `mapstructure:"security"`
	Credit        CreditConfig            `mapstructure:"credit"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Template      TemplateConfig          `mapstructure:"template"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// RedisConfig.Address is host:port or a redis:// URL.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// StorageConfig selects the persistence collaborator.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
}

// SchedulerConfig holds the execution scheduler policy. Durations are milliseconds.
type SchedulerConfig struct {
	Driver         string `mapstructure:"driver"` // memory | redis
	QueueKey       string `mapstructure:"queue_key"`
	Workers        int    `mapstructure:"workers"`
	BatchSize      int    `mapstructure:"batch_size"`
	PollInterval   int    `mapstructure:"poll_interval"`
	BackoffInitial int    `mapstructure:"backoff_initial"`
	BackoffMax     int    `mapstructure:"backoff_max"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
}

// RiskConfig holds the risk policy constants.
type RiskConfig struct {
	HighAmount      float64 `mapstructure:"high_amount"`
	MediumAmount    float64 `mapstructure:"medium_amount"`
	LowAmount       float64 `mapstructure:"low_amount"`
	HighFrequency   int     `mapstructure:"high_frequency"`
	MediumFrequency int     `mapstructure:"medium_frequency"`
	FrequencyWindow int     `mapstructure:"frequency_window"` // milliseconds
	PatternDefault  float64 `mapstructure:"pattern_default"`
	GateActions     bool    `mapstructure:"gate_actions"`
}

// SecurityConfig holds key material for the sealing collaborator.
type SecurityConfig struct {
	EncryptionKey string            `mapstructure:"encryption_key"` // hex, 32 bytes
	PartyKeys     map[string]string `mapstructure:"party_keys"`     // partyId -> base64 ed25519 public key
}

// CreditConfig points CREDIT_CHECK at an external bureau. Empty BaseURL keeps the always-true stub.
type CreditConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// IntegrationConfig holds settings for external notification services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// AuditConfig enables mirroring of transaction records into Elasticsearch.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// TemplateConfig locates the template registry file seeded at startup.
type TemplateConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	CacheTTL     int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the Redis cache
}

// WorkerConfig holds the core settings applicable to every scheduler task type.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // attempt limit; 0 inherits scheduler.max_attempts
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ObservabilityConfig struct {
	MetricsAddr    string `mapstructure:"metrics_addr"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
