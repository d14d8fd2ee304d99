package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		Name         string `yaml:"name"`
		Mode         string `yaml:"mode"` // "paper" or "live"
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		PaperEquity  float64 `yaml:"paper_equity"`
		FeePct       float64 `yaml:"fee_pct"`
	} `yaml:"exchange"`

	Trading struct {
		Symbol    string `yaml:"symbol"`
		Timeframe string `yaml:"timeframe"`
		Lookback  int    `yaml:"lookback"`
		Timezone  string `yaml:"timezone"`
	} `yaml:"trading"`

	Risk struct {
		RiskPerTradePct      float64 `yaml:"risk_per_trade_pct"`
		DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"`
		StopLossATRMult      float64 `yaml:"stop_loss_atr_multiplier"`
		TakeProfit1ATRMult   float64 `yaml:"take_profit_1_atr_multiplier"`
		TakeProfit2ATRMult   float64 `yaml:"take_profit_2_atr_multiplier"`
		MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		CooldownHours        int     `yaml:"cooldown_duration_hours"`
		MinNotional          float64 `yaml:"min_notional"`
		MaxPositionPct       float64 `yaml:"max_position_pct"`
		MaxRiskMultiplier    float64 `yaml:"max_risk_multiplier"`
		LargeLossPct         float64 `yaml:"large_loss_pct"`
		TrailingWindow       int     `yaml:"trailing_window"`
		MaxAPIFailures       int     `yaml:"max_api_failures"`
	} `yaml:"risk"`

	Strategy struct {
		TrendStrengthFloor float64 `yaml:"trend_strength_floor"`
		RSIEntry           float64 `yaml:"rsi_entry"`
		RSIMax             float64 `yaml:"rsi_max"` // 0 disables the overbought check
		RSIMin             float64 `yaml:"rsi_min"` // 0 disables the oversold check
		MinATRPct          float64 `yaml:"min_atr_pct"`
		AvoidHours         []int   `yaml:"avoid_hours"`
		AvoidWeekdays      []string `yaml:"avoid_weekdays"`
	} `yaml:"strategy"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		Token    string `yaml:"token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads the YAML config, applies defaults and environment overrides for
// secrets, and validates the values the core depends on.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.Mode == "" {
		c.Exchange.Mode = "paper"
	}
	if c.Exchange.PaperEquity == 0 {
		c.Exchange.PaperEquity = 10000
	}
	if c.Exchange.FeePct == 0 {
		c.Exchange.FeePct = 0.001
	}
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "SOLUSDT"
	}
	if c.Trading.Timeframe == "" {
		c.Trading.Timeframe = "15m"
	}
	if c.Trading.Lookback == 0 {
		c.Trading.Lookback = 200
	}
	if c.Trading.Timezone == "" {
		c.Trading.Timezone = "UTC"
	}
	if c.Risk.RiskPerTradePct == 0 {
		c.Risk.RiskPerTradePct = 0.005
	}
	if c.Risk.DailyLossLimitPct == 0 {
		c.Risk.DailyLossLimitPct = 0.03
	}
	if c.Risk.StopLossATRMult == 0 {
		c.Risk.StopLossATRMult = 2.2
	}
	if c.Risk.TakeProfit1ATRMult == 0 {
		c.Risk.TakeProfit1ATRMult = 1.5
	}
	if c.Risk.TakeProfit2ATRMult == 0 {
		c.Risk.TakeProfit2ATRMult = 3.0
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 0.08
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if c.Risk.CooldownHours == 0 {
		c.Risk.CooldownHours = 24
	}
	if c.Risk.MinNotional == 0 {
		c.Risk.MinNotional = 1.0
	}
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = 0.15
	}
	if c.Risk.MaxRiskMultiplier == 0 {
		c.Risk.MaxRiskMultiplier = 1.5
	}
	if c.Risk.LargeLossPct == 0 {
		c.Risk.LargeLossPct = 0.01
	}
	if c.Risk.TrailingWindow == 0 {
		c.Risk.TrailingWindow = 20
	}
	if c.Risk.MaxAPIFailures == 0 {
		c.Risk.MaxAPIFailures = 5
	}
	if c.Strategy.TrendStrengthFloor == 0 {
		c.Strategy.TrendStrengthFloor = 0.003
	}
	if c.Strategy.RSIEntry == 0 {
		c.Strategy.RSIEntry = 50
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "bot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Secrets come from the environment when set, so the YAML file can be
// committed without them.
func (c *Config) applyEnv() {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
}

func (c *Config) validate() error {
	if c.Exchange.Mode != "paper" && c.Exchange.Mode != "live" {
		return fmt.Errorf("invalid exchange mode %q", c.Exchange.Mode)
	}
	if c.Exchange.Mode == "live" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("live mode requires api_key and api_secret")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 0.05 {
		return fmt.Errorf("risk_per_trade_pct %f out of range (0, 0.05]", c.Risk.RiskPerTradePct)
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct > 0.2 {
		return fmt.Errorf("daily_loss_limit_pct %f out of range (0, 0.2]", c.Risk.DailyLossLimitPct)
	}
	if c.Risk.TakeProfit1ATRMult >= c.Risk.TakeProfit2ATRMult {
		return fmt.Errorf("take_profit_1 multiplier must be below take_profit_2")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Trading.Timezone, err)
	}
	if _, err := ParseTimeframe(c.Trading.Timeframe); err != nil {
		return err
	}
	return nil
}

// ParseTimeframe converts an exchange interval string to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", tf)
}
