// Package config loads fusiond configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/helixsec/fusion/internal/models"
)

// Config holds all configuration for fusiond.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	CaseSystem  CaseSystemConfig  `mapstructure:"case_system"`
	Sources     SourcesConfig     `mapstructure:"sources"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds the pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for ingestion deduplication.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"` // Dedupe key lifetime
}

// NATSConfig holds message bus configuration.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// ArchiveConfig holds OpenSearch audit archive configuration.
type ArchiveConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Enabled  bool   `mapstructure:"enabled"`
	Index    string `mapstructure:"index"`
}

// CorrelationConfig controls window discipline and key canonicalization.
type CorrelationConfig struct {
	WindowDuration time.Duration `mapstructure:"window_duration"` // Sliding window per append
	WindowCap      time.Duration `mapstructure:"window_cap"`      // Hard cap on total window length
	BurstThreshold int           `mapstructure:"burst_threshold"` // Early close above this member count
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	LockRetries    int           `mapstructure:"lock_retries"` // Before overflow-group fallback
	SynonymsFile   string        `mapstructure:"synonyms_file"`
}

// ProviderConfig describes one enrichment provider behind the gateway.
// Type selects the indicator kinds routed to it: url, ip, hash or service.
type ProviderConfig struct {
	Type             string        `mapstructure:"type"`
	URL              string        `mapstructure:"url"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// EnrichmentConfig controls the enrichment orchestrator.
type EnrichmentConfig struct {
	Deadline          time.Duration             `mapstructure:"deadline"`
	CompletenessFloor float64                   `mapstructure:"completeness_floor"`
	Providers         map[string]ProviderConfig `mapstructure:"providers"`
}

// ScoringConfig holds global thresholds plus per-tenant overrides.
type ScoringConfig struct {
	Thresholds      models.ScoreThresholds            `mapstructure:"thresholds"`
	TenantOverrides map[string]models.ScoreThresholds `mapstructure:"tenant_overrides"`
}

// ThresholdsFor resolves the thresholds in effect for a tenant.
func (s ScoringConfig) ThresholdsFor(tenantID string) models.ScoreThresholds {
	if t, ok := s.TenantOverrides[tenantID]; ok {
		return t
	}
	return s.Thresholds
}

// EscalationConfig controls routing and the human-approval gate.
type EscalationConfig struct {
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	SigningKey      string        `mapstructure:"signing_key"` // HMAC key for approval tokens

	// ActionAllowlist maps tenant ID to the alert-type classes for which
	// automated action is policy-permitted.
	ActionAllowlist map[string][]string `mapstructure:"action_allowlist"`

	// ClassActions maps an alert-type class to the action type emitted when
	// automated action is permitted. Classes absent here never trigger one.
	ClassActions map[string]string `mapstructure:"class_actions"`

	// DestructiveActions names the action types that require human approval
	// before execution.
	DestructiveActions []string `mapstructure:"destructive_actions"`
}

// ActionPermitted reports whether the tenant's policy permits automated
// action for the given alert-type class.
func (e EscalationConfig) ActionPermitted(tenantID, alertClass string) bool {
	for _, c := range e.ActionAllowlist[tenantID] {
		if c == alertClass {
			return true
		}
	}
	return false
}

// ActionFor returns the automated action type configured for an alert-type
// class; empty means no automated action exists for the class.
func (e EscalationConfig) ActionFor(alertClass string) string {
	return e.ClassActions[alertClass]
}

// IsDestructive reports whether an action type requires approval.
func (e EscalationConfig) IsDestructive(actionType string) bool {
	for _, a := range e.DestructiveActions {
		if a == actionType {
			return true
		}
	}
	return false
}

// CaseSystemConfig holds the external case/ticketing system endpoint.
type CaseSystemConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SourceMapping declares how to resolve canonical alert fields from one
// source system's raw payload. Each entry lists candidate raw field names
// in priority order.
type SourceMapping struct {
	TenantID          []string `mapstructure:"tenant_id"`
	AlertType         []string `mapstructure:"alert_type"`
	SourceAlertID     []string `mapstructure:"source_alert_id"`
	Timestamp         []string `mapstructure:"timestamp"`
	Severity          []string `mapstructure:"severity"`
	ServiceOrProvider []string `mapstructure:"service_or_provider"`
	FailureReason     []string `mapstructure:"failure_reason"`
	Timezone          string   `mapstructure:"timezone"` // IANA name; empty means UTC assumed
}

// SourcesConfig maps source system name to its field mapping.
type SourcesConfig struct {
	Mappings map[string]SourceMapping `mapstructure:"mappings"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8097)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "fusion")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "fusion")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.retention", "24h")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)

	v.SetDefault("archive.url", "https://localhost:9200")
	v.SetDefault("archive.username", "admin")
	v.SetDefault("archive.password", "")
	v.SetDefault("archive.insecure", true)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.index", "fusion-groups")

	v.SetDefault("correlation.window_duration", "15m")
	v.SetDefault("correlation.window_cap", "1h")
	v.SetDefault("correlation.burst_threshold", 500)
	v.SetDefault("correlation.sweep_interval", "5s")
	v.SetDefault("correlation.lock_retries", 3)
	v.SetDefault("correlation.synonyms_file", "")

	v.SetDefault("enrichment.deadline", "2m")
	v.SetDefault("enrichment.completeness_floor", 0.5)

	v.SetDefault("scoring.thresholds.high", 90)
	v.SetDefault("scoring.thresholds.medium", 60)

	v.SetDefault("escalation.approval_timeout", "30m")
	v.SetDefault("escalation.signing_key", "")
	v.SetDefault("escalation.destructive_actions", []string{
		"disable_account", "isolate_host", "revoke_sessions", "block_sender",
	})

	v.SetDefault("case_system.url", "http://localhost:8098")
	v.SetDefault("case_system.timeout", "10s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix("FUSION")
	v.AutomaticEnv()

	return v
}
