package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Alpaca struct {
		APIKey         string        `yaml:"api_key"`
		SecretKey      string        `yaml:"secret_key"`
		DataBaseURL    string        `yaml:"data_base_url" default:"https://data.alpaca.markets/v1beta3/crypto/us"`
		TradingBaseURL string        `yaml:"trading_base_url" default:"https://api.alpaca.markets"`
		StreamURL      string        `yaml:"stream_url" default:"wss://stream.data.alpaca.markets/v1beta3/crypto/us"`
		Symbols        []string      `yaml:"symbols"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
		MaxReconnects  int           `yaml:"max_reconnects" default:"10"`
		BackoffMin     time.Duration `yaml:"backoff_min" default:"1s"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"30s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
		RequestsPerSec float64       `yaml:"requests_per_sec" default:"10"`
	} `yaml:"alpaca"`
	Pollers struct {
		Bars       PollerConfig `yaml:"bars"`
		OrderBooks PollerConfig `yaml:"orderbooks"`
	} `yaml:"pollers"`
	Stream struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"stream"`
	Strategy struct {
		TickInterval    time.Duration `yaml:"tick_interval" default:"1s"`
		ShortWindow     int           `yaml:"short_window" default:"10" validate:"gt=1"`
		LongWindow      int           `yaml:"long_window" default:"30" validate:"gt=1"`
		HistorySize     int           `yaml:"history_size" default:"100" validate:"gt=0"`
		SignalThreshold float64       `yaml:"signal_threshold" default:"0.3" validate:"gt=0,lt=1"`
		VolCeiling      float64       `yaml:"vol_ceiling" default:"0.05" validate:"gt=0"`
		VolReference    float64       `yaml:"vol_reference" default:"0.02" validate:"gt=0"`
		Weights         struct {
			Crossover  float64 `yaml:"crossover" default:"1"`
			Imbalance  float64 `yaml:"imbalance" default:"1"`
			Volatility float64 `yaml:"volatility" default:"1"`
		} `yaml:"weights"`
		RiskTolerance   float64 `yaml:"risk_tolerance" default:"0.02"`
		TakeProfitRatio float64 `yaml:"take_profit_ratio" default:"0.05"`
		StopLossRatio   float64 `yaml:"stop_loss_ratio" default:"0.03"`
		Equity          float64 `yaml:"equity" default:"100000"`
	} `yaml:"strategy"`
	Kafka struct {
		Enabled        bool          `yaml:"enabled"`
		Brokers        []string      `yaml:"brokers"`
		SignalsTopic   string        `yaml:"signals_topic" default:"quantpull.signals"`
		DecisionsTopic string        `yaml:"decisions_topic" default:"quantpull.decisions"`
		RequiredAcks   int           `yaml:"required_acks" default:"-1"`
		Compression    string        `yaml:"compression" default:"gzip"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"quantpull-audit"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"250ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"quantpull"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"1m"`
	} `yaml:"redis"`
	Backfill struct {
		Enabled   bool          `yaml:"enabled"`
		Timeframe string        `yaml:"timeframe" default:"1Min"`
		Lookback  time.Duration `yaml:"lookback" default:"2h"`
	} `yaml:"backfill"`
}

// PollerConfig parameterizes one persistent polling loop.
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" default:"1s"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Alpaca.SecretKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Alpaca.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field rules plus the cross-field constraints that field
// tags cannot express. A failure here is a ConfigurationError: nothing may
// start with a config that does not pass.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.Alpaca.Symbols) == 0 {
		return fmt.Errorf("alpaca.symbols cannot be empty")
	}
	if c.Alpaca.APIKey == "" || c.Alpaca.SecretKey == "" {
		return fmt.Errorf("alpaca credentials are required")
	}
	if c.Pollers.Bars.Enabled && c.Pollers.Bars.Interval <= 0 {
		return fmt.Errorf("pollers.bars.interval must be > 0")
	}
	if c.Pollers.OrderBooks.Enabled && c.Pollers.OrderBooks.Interval <= 0 {
		return fmt.Errorf("pollers.orderbooks.interval must be > 0")
	}
	if c.Strategy.ShortWindow >= c.Strategy.LongWindow {
		return fmt.Errorf("strategy.short_window must be less than long_window")
	}
	if c.Strategy.HistorySize < c.Strategy.LongWindow {
		return fmt.Errorf("strategy.history_size must cover long_window")
	}
	if err := validateRiskRatios(c.Strategy.RiskTolerance, c.Strategy.TakeProfitRatio, c.Strategy.StopLossRatio); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Backfill.Enabled && c.Backfill.Lookback <= 0 {
		return fmt.Errorf("backfill.lookback must be > 0")
	}
	return nil
}

// validateRiskRatios rejects ratios that would produce nonsensical stop and
// target prices: ratios outside (0, 1) or a stop wider than the target.
func validateRiskRatios(tolerance, takeProfit, stopLoss float64) error {
	if tolerance <= 0 || tolerance >= 1 {
		return fmt.Errorf("risk_tolerance must be in (0, 1), got %v", tolerance)
	}
	if takeProfit <= 0 || takeProfit >= 1 {
		return fmt.Errorf("take_profit_ratio must be in (0, 1), got %v", takeProfit)
	}
	if stopLoss <= 0 || stopLoss >= 1 {
		return fmt.Errorf("stop_loss_ratio must be in (0, 1), got %v", stopLoss)
	}
	if stopLoss >= takeProfit {
		return fmt.Errorf("stop_loss_ratio %v must be below take_profit_ratio %v", stopLoss, takeProfit)
	}
	return nil
}

// ValidateRiskRatios is the exported form used by components constructed
// outside of a full Config (tests, embedding callers).
func ValidateRiskRatios(tolerance, takeProfit, stopLoss float64) error {
	return validateRiskRatios(tolerance, takeProfit, stopLoss)
}
