package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/statemachine"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Log struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"json" validate:"oneof=json console"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"1"`
		} `yaml:"collect"`
	} `yaml:"log"`
	Metrics struct {
		Disabled bool   `yaml:"disabled"`
		Path     string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	// Backend selects the audit store: every committed audit event is written there.
	Backend struct {
		Type          string        `yaml:"type" default:"sqlite" validate:"oneof=kafka clickhouse sqlite"`
		OutboxSize    int           `yaml:"outbox_size" default:"4096" validate:"gt=0"`
		BatchSize     int           `yaml:"batch_size" default:"100" validate:"gt=0"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"1s"`
	} `yaml:"backend"`
	Kafka struct {
		Enabled         bool     `yaml:"enabled"`
		Brokers         []string `yaml:"brokers"`
		AuditTopic      string   `yaml:"audit_topic" default:"fundguard.audit"`
		LogTopic        string   `yaml:"log_topic" default:"fundguard.logs"`
		GovernanceTopic string   `yaml:"governance_topic" default:"fundguard.governance"`
		MetricsTopic    string   `yaml:"metrics_topic" default:"fundguard.investor-metrics"`
		RequiredAcks    int      `yaml:"required_acks" default:"-1"`
		Compression     string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer        struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"fundguard"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"fundguard.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"fundguard"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	SQLite struct {
		Path        string        `yaml:"path" default:"fundguard.db"`
		NoWAL       bool          `yaml:"no_wal"`
		BusyTimeout time.Duration `yaml:"busy_timeout" default:"5s"`
	} `yaml:"sqlite"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size" default:"10" validate:"gt=0"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	} `yaml:"redis"`
	Cache struct {
		MemoryMaxSize int           `yaml:"memory_max_size" default:"10000"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
		ReviewTTL     time.Duration `yaml:"review_ttl" default:"168h"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2"`
		MaxRetries int           `yaml:"max_retries" default:"5"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
	} `yaml:"queue"`
	Oracle struct {
		URL                 string        `yaml:"url" default:"http://localhost:8090"`
		Timeout             time.Duration `yaml:"timeout" default:"3s"`
		StakeToken          string        `yaml:"stake_token" default:"TOSS" validate:"required"`
		FreshWindow         time.Duration `yaml:"fresh_window" default:"30s"`
		MaxStaleness        time.Duration `yaml:"max_staleness" default:"10m"`
		MaxDecayDiscountPct float64       `yaml:"max_decay_discount_pct" default:"5" validate:"gte=0,lt=100"`
		MaxDiscountPct      float64       `yaml:"max_discount_pct" default:"5" validate:"gt=0"`
		MaxBridgeDelay      time.Duration `yaml:"max_bridge_delay" default:"10m"`
		HealthTTL           time.Duration `yaml:"health_ttl" default:"1s"`
		Assets              []string      `yaml:"assets"`
		Stream              struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
			MaxTicksPerSec int           `yaml:"max_ticks_per_sec" default:"200"`
		} `yaml:"stream"`
	} `yaml:"oracle"`
	Registry struct {
		URL      string        `yaml:"url" default:"http://localhost:8091"`
		Timeout  time.Duration `yaml:"timeout" default:"3s"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"5s"`
	} `yaml:"registry"`
	Risk struct {
		Weights        models.Weights    `yaml:"weights"`
		Gamma          int               `yaml:"gamma" default:"80"`
		Alpha          string            `yaml:"alpha" default:"1.0"`
		MinSlashingFI  int               `yaml:"min_slashing_fi" default:"30"`
		BanThresholdFI int               `yaml:"ban_threshold_fi" default:"90"`
		WarningFI      int               `yaml:"warning_fi" default:"10"`
		Tiers          []models.RiskTier `yaml:"tiers" validate:"dive"`
		MaxDeposit     string            `yaml:"max_deposit" default:"0"`
		MaxWithdrawal  string            `yaml:"max_withdrawal" default:"0"`
	} `yaml:"risk"`
	StateMachine statemachine.Thresholds `yaml:"state_machine"`
	Scheduler    struct {
		RecoverySweep string `yaml:"recovery_sweep" default:"0 */5 * * * *"`
		NAVReconcile  string `yaml:"nav_reconcile" default:"*/30 * * * * *"`
		PriceRefresh  string `yaml:"price_refresh" default:"*/15 * * * * *"`
	} `yaml:"scheduler"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" default:"50"`
		Burst int     `yaml:"burst" default:"100"`
	} `yaml:"rate_limit"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FUNDGUARD_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("ORACLE_URL"); v != "" {
		c.Oracle.URL = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if c.Risk.Weights.Sum() == 0 {
		c.Risk.Weights = models.Weights{L: 30, B: 25, D: 25, I: 20}
	}
	if len(c.Risk.Tiers) == 0 {
		c.Risk.Tiers = DefaultTiers()
	}
	return nil
}

// DefaultTiers are the three stock risk tiers, from conservative to aggressive.
func DefaultTiers() []models.RiskTier {
	return []models.RiskTier{
		{ID: 1, MaxPositionPct: 5, MaxConcentrationPct: 10, MaxExposurePct: 100, MaxVolatilityPct: 30, MaxDrawdownPct: 10},
		{ID: 2, MaxPositionPct: 10, MaxConcentrationPct: 25, MaxExposurePct: 150, MaxVolatilityPct: 60, MaxDrawdownPct: 20},
		{ID: 3, MaxPositionPct: 20, MaxConcentrationPct: 40, MaxExposurePct: 300, MaxVolatilityPct: 120, MaxDrawdownPct: 35},
	}
}

// Validate checks if the configuration is valid. Governance bounds of the
// risk section are checked separately by RiskParams.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Backend.Type {
	case "kafka":
		if !c.Kafka.Enabled || len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("backend.type kafka needs kafka.enabled and kafka.brokers")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("backend.type clickhouse needs clickhouse.host")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Oracle.Stream.Enabled && c.Oracle.Stream.URL == "" {
		return fmt.Errorf("oracle.stream.url is required when the stream is enabled")
	}
	if c.Oracle.FreshWindow > c.Oracle.MaxStaleness {
		return fmt.Errorf("oracle.fresh_window must not exceed oracle.max_staleness")
	}
	return nil
}

// RiskParams converts the risk section into governance parameters. Bounds are
// enforced by models.NewRiskConfig.
func (c *Config) RiskParams() (models.RiskParams, error) {
	alpha, err := decimal.NewFromString(c.Risk.Alpha)
	if err != nil {
		return models.RiskParams{}, &models.PreconditionError{Field: "alpha", Reason: err.Error()}
	}
	return models.RiskParams{
		Weights:        c.Risk.Weights,
		Gamma:          c.Risk.Gamma,
		Alpha:          alpha,
		MinSlashingFI:  c.Risk.MinSlashingFI,
		BanThresholdFI: c.Risk.BanThresholdFI,
		WarningFI:      c.Risk.WarningFI,
		Tiers:          append([]models.RiskTier(nil), c.Risk.Tiers...),
	}, nil
}

// Caps parses the base deposit and withdrawal caps. Zero means uncapped.
func (c *Config) Caps() (deposit, withdrawal decimal.Decimal, err error) {
	if deposit, err = decimal.NewFromString(c.Risk.MaxDeposit); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("risk.max_deposit: %w", err)
	}
	if withdrawal, err = decimal.NewFromString(c.Risk.MaxWithdrawal); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("risk.max_withdrawal: %w", err)
	}
	return deposit, withdrawal, nil
}
