package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.PoolSize)
}

// RedisConfig contains Redis settings for the market snapshot cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// Addr returns the host:port address for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	DecisionTopic string `mapstructure:"decision_topic"`
	AlertTopic    string `mapstructure:"alert_topic"`
}

// LLMConfig contains LLM gateway settings
type LLMConfig struct {
	Endpoint        string  `mapstructure:"endpoint"` // OpenAI-compatible chat completions URL
	APIKey          string  `mapstructure:"api_key"`  // empty key switches the engine to simulated decisions
	DefaultModel    string  `mapstructure:"default_model"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	TimeoutMS       int     `mapstructure:"timeout_ms"`        // per-call deadline
	MaxRetries      int     `mapstructure:"max_retries"`       // transport retries before fallback
	BudgetPerMinute int     `mapstructure:"budget_per_minute"` // global request budget shared by all agents
}

// Timeout returns the per-call deadline as a duration
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMS) * time.Millisecond
}

// TradingConfig contains orchestration-wide trading settings
type TradingConfig struct {
	MaxAgents          int    `mapstructure:"max_agents"`          // capacity cap for concurrent agents
	SchedulerTickMS    int    `mapstructure:"scheduler_tick_ms"`   // manager wake-up granularity
	StaleFactor        int    `mapstructure:"stale_factor"`        // snapshot older than factor*interval is stale
	ContractMultiplier int    `mapstructure:"contract_multiplier"` // default lots-to-notional multiplier
	PoolsFile          string `mapstructure:"pools_file"`          // optional commodity pool override file
}

// SchedulerTick returns the manager wake-up granularity
func (t TradingConfig) SchedulerTick() time.Duration {
	return time.Duration(t.SchedulerTickMS) * time.Millisecond
}

// RiskConfig contains portfolio-wide risk limits
type RiskConfig struct {
	MaxTotalCapitalUsage    float64 `mapstructure:"max_total_capital_usage"`   // fraction of combined capital
	MaxCorrelationThreshold float64 `mapstructure:"max_correlation_threshold"` // pairwise same-direction correlation cap
	MaxSectorConcentration  float64 `mapstructure:"max_sector_concentration"`  // fraction of total exposure in one sector
	PortfolioStopLoss       float64 `mapstructure:"portfolio_stop_loss"`       // rolling drawdown that halts everything
	DailyLossLimit          float64 `mapstructure:"daily_loss_limit"`          // daily PnL floor as a fraction of capital
	MaxLeverageTotal        float64 `mapstructure:"max_leverage_total"`
	CorrelationWindow       int     `mapstructure:"correlation_window"` // returns per symbol kept for correlation
	DailyResetSpec          string  `mapstructure:"daily_reset_spec"`   // cron spec for the trading-day rollover
}

// APIConfig contains operator REST/WS API settings
type APIConfig struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	RateLimitPerMin  int      `mapstructure:"rate_limit_per_min"`
	ReadTimeoutSec   int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec  int      `mapstructure:"write_timeout_sec"`
	ShutdownGraceSec int      `mapstructure:"shutdown_grace_sec"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains notification sink settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CHERRYQUANT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "cherryquant")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cherryquant")
	v.SetDefault("database.database", "cherryquant")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 30)

	// NATS
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.decision_topic", "cherryquant.decisions")
	v.SetDefault("nats.alert_topic", "cherryquant.alerts")

	// LLM
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.default_model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout_ms", 30000)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.budget_per_minute", 30)

	// Trading
	v.SetDefault("trading.max_agents", 20)
	v.SetDefault("trading.scheduler_tick_ms", 500)
	v.SetDefault("trading.stale_factor", 2)
	v.SetDefault("trading.contract_multiplier", 10)

	// Risk
	v.SetDefault("risk.max_total_capital_usage", 0.8)
	v.SetDefault("risk.max_correlation_threshold", 0.7)
	v.SetDefault("risk.max_sector_concentration", 0.4)
	v.SetDefault("risk.portfolio_stop_loss", 0.10)
	v.SetDefault("risk.daily_loss_limit", 0.05)
	v.SetDefault("risk.max_leverage_total", 10.0)
	v.SetDefault("risk.correlation_window", 60)
	v.SetDefault("risk.daily_reset_spec", "0 0 * * *")

	// API
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.rate_limit_per_min", 120)
	v.SetDefault("api.read_timeout_sec", 15)
	v.SetDefault("api.write_timeout_sec", 15)
	v.SetDefault("api.shutdown_grace_sec", 10)

	// Monitoring
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior
func (c *Config) Validate() error {
	if c.Trading.MaxAgents <= 0 {
		return fmt.Errorf("trading.max_agents must be positive, got %d", c.Trading.MaxAgents)
	}
	if c.Trading.StaleFactor <= 0 {
		return fmt.Errorf("trading.stale_factor must be positive, got %d", c.Trading.StaleFactor)
	}
	if c.LLM.BudgetPerMinute <= 0 {
		return fmt.Errorf("llm.budget_per_minute must be positive, got %d", c.LLM.BudgetPerMinute)
	}
	if c.LLM.TimeoutMS <= 0 {
		return fmt.Errorf("llm.timeout_ms must be positive, got %d", c.LLM.TimeoutMS)
	}
	if c.Risk.MaxTotalCapitalUsage <= 0 || c.Risk.MaxTotalCapitalUsage > 1 {
		return fmt.Errorf("risk.max_total_capital_usage must be in (0,1], got %f", c.Risk.MaxTotalCapitalUsage)
	}
	if c.Risk.MaxSectorConcentration <= 0 || c.Risk.MaxSectorConcentration > 1 {
		return fmt.Errorf("risk.max_sector_concentration must be in (0,1], got %f", c.Risk.MaxSectorConcentration)
	}
	if c.Risk.MaxCorrelationThreshold < 0 || c.Risk.MaxCorrelationThreshold > 1 {
		return fmt.Errorf("risk.max_correlation_threshold must be in [0,1], got %f", c.Risk.MaxCorrelationThreshold)
	}
	if c.Risk.PortfolioStopLoss <= 0 || c.Risk.PortfolioStopLoss >= 1 {
		return fmt.Errorf("risk.portfolio_stop_loss must be in (0,1), got %f", c.Risk.PortfolioStopLoss)
	}
	if c.Risk.DailyLossLimit <= 0 || c.Risk.DailyLossLimit >= 1 {
		return fmt.Errorf("risk.daily_loss_limit must be in (0,1), got %f", c.Risk.DailyLossLimit)
	}
	return nil
}
