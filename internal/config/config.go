// Package config loads the Brain's configuration surface once at startup
// (defaults, then YAML, then environment overrides); it does not watch for
// or reload changes while running.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/brainhouse/capital-brain/pkg/types"
)

// AllocationConfig configures the allocation engine's transition points and leverage caps.
type AllocationConfig struct {
	StartP2 decimal.Decimal `mapstructure:"startP2"`
	FullP2  decimal.Decimal `mapstructure:"fullP2"`
	StartP3 decimal.Decimal `mapstructure:"startP3"`

	LeverageCaps map[types.EquityTier]decimal.Decimal `mapstructure:"-"`
}

// PerformanceConfig configures the performance tracker's modifier curve.
type PerformanceConfig struct {
	WindowDays      int             `mapstructure:"windowDays"`
	MinTradeCount   int             `mapstructure:"minTradeCount"`
	MalusMultiplier decimal.Decimal `mapstructure:"malusMultiplier"`
	BonusMultiplier decimal.Decimal `mapstructure:"bonusMultiplier"`
	MalusThreshold  decimal.Decimal `mapstructure:"malusThreshold"`
	BonusThreshold  decimal.Decimal `mapstructure:"bonusThreshold"`
}

// InferenceConfig configures the active inference engine.
type InferenceConfig struct {
	BinCount     int             `mapstructure:"binCount"`
	MinHistory   int             `mapstructure:"minHistory"`
	Sensitivity  decimal.Decimal `mapstructure:"sensitivity"`
	SurpriseOffset decimal.Decimal `mapstructure:"surpriseOffset"`
}

// RiskConfig configures the risk guardian's per-signal checks.
type RiskConfig struct {
	MaxCorrelation            decimal.Decimal `mapstructure:"maxCorrelation"`
	CorrelationPenalty        decimal.Decimal `mapstructure:"correlationPenalty"`
	BetaUpdateInterval        time.Duration   `mapstructure:"betaUpdateInterval"`
	CorrelationUpdateInterval time.Duration   `mapstructure:"correlationUpdateInterval"`
	MinStopDistanceMultiplier decimal.Decimal `mapstructure:"minStopDistanceMultiplier"`
	MaxPortfolioBeta          decimal.Decimal `mapstructure:"maxPortfolioBeta"`
	NetDeltaCapPerSymbol      decimal.Decimal `mapstructure:"netDeltaCapPerSymbol"`
}

// BreakerConfig configures the circuit breaker's trip conditions.
type BreakerConfig struct {
	MaxDailyDrawdown        decimal.Decimal `mapstructure:"maxDailyDrawdown"`
	MinEquity               decimal.Decimal `mapstructure:"minEquity"`
	ConsecutiveLossLimit    int             `mapstructure:"consecutiveLossLimit"`
	ConsecutiveLossWindow   time.Duration   `mapstructure:"consecutiveLossWindow"`
	CooldownMinutes         int             `mapstructure:"cooldownMinutes"`
}

// CapitalFlowConfig configures the capital flow manager's sweep schedule.
type CapitalFlowConfig struct {
	SweepThreshold decimal.Decimal `mapstructure:"sweepThreshold"`
	ReserveLimit   decimal.Decimal `mapstructure:"reserveLimit"`
	SweepSchedule  string          `mapstructure:"sweepSchedule"`
	MaxRetries     int             `mapstructure:"maxRetries"`
	RetryBaseDelay time.Duration   `mapstructure:"retryBaseDelay"`
}

// BrainOrchestratorConfig configures the signal processor itself.
type BrainOrchestratorConfig struct {
	SignalTimeout       time.Duration `mapstructure:"signalTimeout"`
	MetricUpdateInterval time.Duration `mapstructure:"metricUpdateInterval"`
	DashboardCacheTTL   time.Duration `mapstructure:"dashboardCacheTTL"`
	MaxQueueSize        int           `mapstructure:"maxQueueSize"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotencyTTL"`
	RecentDecisionsRing int           `mapstructure:"recentDecisionsRing"`
}

// ReconciliationConfig configures the reconciliation service.
type ReconciliationConfig struct {
	IntervalMs  int      `mapstructure:"intervalMs"`
	Exchanges   []string `mapstructure:"exchanges"`
	AutoResolve bool     `mapstructure:"autoResolve"`
}

// SnapshotConfig configures the snapshot/recovery subsystem.
type SnapshotConfig struct {
	IntervalSeconds int `mapstructure:"intervalSeconds"`
}

// ServerConfig configures the HTTP/WS surface.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	WebhookSecret string `mapstructure:"-"`
}

// BrainConfig is the complete, typed configuration surface for the Brain.
type BrainConfig struct {
	Allocation     AllocationConfig        `mapstructure:"allocation"`
	Performance    PerformanceConfig       `mapstructure:"performance"`
	Inference      InferenceConfig         `mapstructure:"inference"`
	Risk           RiskConfig              `mapstructure:"risk"`
	Breaker        BreakerConfig           `mapstructure:"breaker"`
	CapitalFlow    CapitalFlowConfig       `mapstructure:"capitalFlow"`
	Brain          BrainOrchestratorConfig `mapstructure:"brain"`
	Reconciliation ReconciliationConfig    `mapstructure:"reconciliation"`
	Snapshot       SnapshotConfig          `mapstructure:"snapshot"`
	Server         ServerConfig            `mapstructure:"server"`

	InstanceID    string `mapstructure:"-"`
	DBDriver      string `mapstructure:"-"`
	DBDSN         string `mapstructure:"-"`
	RedisURL      string `mapstructure:"-"`
	RedisDisabled bool   `mapstructure:"-"`

	// NATSURL is accepted for forward-compatibility with a future message-bus
	// driver but is not dialed by anything in this process.
	NATSURL       string  `mapstructure:"-"`
	WSPort        int     `mapstructure:"-"`
	LogLevel      string  `mapstructure:"-"`
	InitialEquity decimal.Decimal `mapstructure:"-"`
}

// Default returns the configuration defaults, before env/flag/file overrides.
func Default() BrainConfig {
	return BrainConfig{
		Allocation: AllocationConfig{
			StartP2: decimal.NewFromInt(1500),
			FullP2:  decimal.NewFromInt(5000),
			StartP3: decimal.NewFromInt(20000),
			LeverageCaps: map[types.EquityTier]decimal.Decimal{
				types.TierMicro:         decimal.NewFromInt(3),
				types.TierSmall:         decimal.NewFromInt(5),
				types.TierMedium:        decimal.NewFromInt(8),
				types.TierLarge:         decimal.NewFromInt(10),
				types.TierInstitutional: decimal.NewFromInt(15),
			},
		},
		Performance: PerformanceConfig{
			WindowDays:      14,
			MinTradeCount:   10,
			MalusMultiplier: decimal.NewFromFloat(0.5),
			BonusMultiplier: decimal.NewFromFloat(1.2),
			MalusThreshold:  decimal.Zero,
			BonusThreshold:  decimal.NewFromFloat(2.0),
		},
		Inference: InferenceConfig{
			BinCount:       20,
			MinHistory:     30,
			Sensitivity:    decimal.NewFromFloat(3.0),
			SurpriseOffset: decimal.Zero,
		},
		Risk: RiskConfig{
			MaxCorrelation:            decimal.NewFromFloat(0.75),
			CorrelationPenalty:        decimal.NewFromFloat(0.5),
			BetaUpdateInterval:        5 * time.Minute,
			CorrelationUpdateInterval: 5 * time.Minute,
			MinStopDistanceMultiplier: decimal.NewFromFloat(1.0),
			MaxPortfolioBeta:          decimal.NewFromFloat(1.5),
			NetDeltaCapPerSymbol:      decimal.NewFromInt(100000),
		},
		Breaker: BreakerConfig{
			MaxDailyDrawdown:      decimal.NewFromFloat(0.15),
			MinEquity:             decimal.NewFromInt(100),
			ConsecutiveLossLimit:  5,
			ConsecutiveLossWindow: time.Hour,
			CooldownMinutes:       60,
		},
		CapitalFlow: CapitalFlowConfig{
			SweepThreshold: decimal.NewFromFloat(1.1),
			ReserveLimit:   decimal.NewFromInt(1000),
			SweepSchedule:  "@every 15m",
			MaxRetries:     5,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Brain: BrainOrchestratorConfig{
			SignalTimeout:        100 * time.Millisecond,
			MetricUpdateInterval: 10 * time.Second,
			DashboardCacheTTL:    2 * time.Second,
			MaxQueueSize:         1000,
			IdempotencyTTL:       5 * time.Minute,
			RecentDecisionsRing:  50,
		},
		Reconciliation: ReconciliationConfig{
			IntervalMs:  30000,
			Exchanges:   []string{"binance"},
			AutoResolve: true,
		},
		Snapshot: SnapshotConfig{
			IntervalSeconds: 60,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		InstanceID:    "brain-1",
		DBDriver:      "sqlite",
		DBDSN:         "brain.db",
		LogLevel:      "info",
		InitialEquity: decimal.NewFromInt(1000),
	}
}

// Load builds a BrainConfig from defaults, an optional YAML file, and environment
// variables, in that precedence order (env wins).
func Load(configFile string) (BrainConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		if err := v.UnmarshalKey("allocation", &cfg.Allocation); err != nil {
			return cfg, fmt.Errorf("decoding allocation config: %w", err)
		}
		if err := v.UnmarshalKey("performance", &cfg.Performance); err != nil {
			return cfg, fmt.Errorf("decoding performance config: %w", err)
		}
		if err := v.UnmarshalKey("inference", &cfg.Inference); err != nil {
			return cfg, fmt.Errorf("decoding inference config: %w", err)
		}
		if err := v.UnmarshalKey("risk", &cfg.Risk); err != nil {
			return cfg, fmt.Errorf("decoding risk config: %w", err)
		}
		if err := v.UnmarshalKey("breaker", &cfg.Breaker); err != nil {
			return cfg, fmt.Errorf("decoding breaker config: %w", err)
		}
		if err := v.UnmarshalKey("capitalFlow", &cfg.CapitalFlow); err != nil {
			return cfg, fmt.Errorf("decoding capitalFlow config: %w", err)
		}
		if err := v.UnmarshalKey("brain", &cfg.Brain); err != nil {
			return cfg, fmt.Errorf("decoding brain config: %w", err)
		}
		if err := v.UnmarshalKey("reconciliation", &cfg.Reconciliation); err != nil {
			return cfg, fmt.Errorf("decoding reconciliation config: %w", err)
		}
		if err := v.UnmarshalKey("snapshot", &cfg.Snapshot); err != nil {
			return cfg, fmt.Errorf("decoding snapshot config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *BrainConfig) {
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		cfg.DBDSN = dsn
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.DBDriver = driver
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	cfg.RedisDisabled = os.Getenv("REDIS_DISABLED") == "true"
	cfg.NATSURL = os.Getenv("NATS_URL")
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Server.WebhookSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if equity := os.Getenv("INITIAL_EQUITY"); equity != "" {
		if parsed, err := decimal.NewFromString(equity); err == nil {
			cfg.InitialEquity = parsed
		}
	}
	if wsPort := os.Getenv("WS_PORT"); wsPort != "" {
		fmt.Sscanf(wsPort, "%d", &cfg.WSPort)
	}
}
