package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string  `yaml:"addr"`
	WebhookSecret  string  `yaml:"webhook_secret"` // env TRADEGATE_WEBHOOK_SECRET wins
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
	ReadTimeoutMs  int     `yaml:"read_timeout_ms"`
	WriteTimeoutMs int     `yaml:"write_timeout_ms"`
}

type Risk struct {
	BaseRiskPct    float64 `yaml:"base_risk_pct"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss_usd"`
	MaxPerSector   int     `yaml:"max_per_sector"`
	CorrelationMax float64 `yaml:"correlation_max"`
	MinRelVolume   float64 `yaml:"min_rel_volume"`
	LongRSFloor    float64 `yaml:"long_rs_floor"`
	ShortRSCeiling float64 `yaml:"short_rs_ceiling"`
}

type Window struct {
	OpenHour    int    `yaml:"open_hour"`
	OpenMinute  int    `yaml:"open_minute"`
	CloseHour   int    `yaml:"close_hour"`
	CloseMinute int    `yaml:"close_minute"`
	Timezone    string `yaml:"timezone"`
}

type EconomicEvent struct {
	Date       string `yaml:"date"` // YYYY-MM-DD
	Name       string `yaml:"name"`
	Importance string `yaml:"importance"`
}

type Calendar struct {
	EarningsDaysBefore int               `yaml:"earnings_days_before"`
	EarningsDaysAfter  int               `yaml:"earnings_days_after"`
	Earnings           map[string]string `yaml:"earnings"` // symbol -> YYYY-MM-DD
	EconomicEvents     []EconomicEvent   `yaml:"economic_events"`
}

type Regime struct {
	RefreshIntervalSecs int    `yaml:"refresh_interval_seconds"`
	MaxAgeSecs          int    `yaml:"max_age_seconds"`
	IndicatorsPath      string `yaml:"indicators_path"`
}

type Broker struct {
	DialTimeoutMs     int `yaml:"dial_timeout_ms"`
	IdleTimeoutMs     int `yaml:"idle_timeout_ms"`
	MaxRetries        int `yaml:"max_retries"`
	SubmitTimeoutMs   int `yaml:"submit_timeout_ms"`
	PaperLatencyMsMin int `yaml:"paper_latency_ms_min"`
	PaperLatencyMsMax int `yaml:"paper_latency_ms_max"`
}

type Store struct {
	Driver string `yaml:"driver"` // memory | sqlite
	Path   string `yaml:"path"`
}

type Portfolio struct {
	Equity     float64 `yaml:"equity_usd"`
	PeakEquity float64 `yaml:"peak_equity_usd"`
	StatePath  string  `yaml:"state_path"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Root struct {
	Canary           bool                          `yaml:"canary"`
	KillSwitchFile   string                        `yaml:"kill_switch_file"`
	Watchlist        []string                      `yaml:"watchlist"`
	Sectors          map[string]string             `yaml:"sectors"` // symbol -> sector
	Correlations     map[string]map[string]float64 `yaml:"correlations"`
	OutboxPath       string                        `yaml:"outbox_path"`
	PendingTTLSecs   int                           `yaml:"pending_ttl_seconds"` // 0 disables the reaper
	DedupeWindowSecs int                           `yaml:"dedupe_window_seconds"`
	Server           Server                        `yaml:"server"`
	Risk             Risk                          `yaml:"risk"`
	Window           Window                        `yaml:"window"`
	Calendar         Calendar                      `yaml:"calendar"`
	Regime           Regime                        `yaml:"regime"`
	Broker           Broker                        `yaml:"broker"`
	Store            Store                         `yaml:"store"`
	Portfolio        Portfolio                     `yaml:"portfolio"`
	Log              Log                           `yaml:"log"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if v := os.Getenv("TRADEGATE_WEBHOOK_SECRET"); v != "" {
		c.Server.WebhookSecret = v
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 5
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 10
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 5000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 10000
	}

	if c.Risk.BaseRiskPct == 0 {
		c.Risk.BaseRiskPct = 1.0
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 1000
	}
	if c.Risk.MaxPerSector == 0 {
		c.Risk.MaxPerSector = 1
	}
	if c.Risk.CorrelationMax == 0 {
		c.Risk.CorrelationMax = 0.7
	}
	if c.Risk.MinRelVolume == 0 {
		c.Risk.MinRelVolume = 1.2
	}
	if c.Risk.LongRSFloor == 0 {
		c.Risk.LongRSFloor = 0.60
	}
	if c.Risk.ShortRSCeiling == 0 {
		c.Risk.ShortRSCeiling = 0.40
	}

	// Regular session, exchange local time.
	if c.Window.OpenHour == 0 && c.Window.OpenMinute == 0 {
		c.Window.OpenHour, c.Window.OpenMinute = 9, 30
	}
	if c.Window.CloseHour == 0 && c.Window.CloseMinute == 0 {
		c.Window.CloseHour = 16
	}
	if c.Window.Timezone == "" {
		c.Window.Timezone = "America/New_York"
	}

	if c.Calendar.EarningsDaysBefore == 0 {
		c.Calendar.EarningsDaysBefore = 5
	}
	if c.Calendar.EarningsDaysAfter == 0 {
		c.Calendar.EarningsDaysAfter = 2
	}

	if c.Regime.RefreshIntervalSecs == 0 {
		c.Regime.RefreshIntervalSecs = 300
	}
	if c.Regime.MaxAgeSecs == 0 {
		c.Regime.MaxAgeSecs = 1800
	}
	if c.Regime.IndicatorsPath == "" {
		c.Regime.IndicatorsPath = "data/macro.json"
	}

	if c.Broker.DialTimeoutMs == 0 {
		c.Broker.DialTimeoutMs = 10000
	}
	if c.Broker.IdleTimeoutMs == 0 {
		c.Broker.IdleTimeoutMs = 600000
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.SubmitTimeoutMs == 0 {
		c.Broker.SubmitTimeoutMs = 30000
	}
	if c.Broker.PaperLatencyMsMin == 0 {
		c.Broker.PaperLatencyMsMin = 100
	}
	if c.Broker.PaperLatencyMsMax == 0 {
		c.Broker.PaperLatencyMsMax = 1500
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "data/intents.db"
	}

	if c.Portfolio.Equity == 0 {
		c.Portfolio.Equity = 100000
	}
	if c.Portfolio.PeakEquity == 0 {
		c.Portfolio.PeakEquity = c.Portfolio.Equity
	}
	if c.Portfolio.StatePath == "" {
		c.Portfolio.StatePath = "data/portfolio.json"
	}

	if c.KillSwitchFile == "" {
		c.KillSwitchFile = "data/KILL_SWITCH"
	}
	if c.OutboxPath == "" {
		c.OutboxPath = "data/outbox.jsonl"
	}
	if c.DedupeWindowSecs == 0 {
		c.DedupeWindowSecs = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return c, c.validate()
}

func (c Root) validate() error {
	if c.Server.WebhookSecret == "" {
		return fmt.Errorf("config: webhook secret not set (server.webhook_secret or TRADEGATE_WEBHOOK_SECRET)")
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := time.LoadLocation(c.Window.Timezone); err != nil {
		return fmt.Errorf("config: window timezone: %w", err)
	}
	return nil
}

// Location resolves the session timezone. Load already validated the name.
func (w Window) Location() (*time.Location, error) {
	return time.LoadLocation(w.Timezone)
}

func (b Broker) DialTimeout() time.Duration   { return time.Duration(b.DialTimeoutMs) * time.Millisecond }
func (b Broker) IdleTimeout() time.Duration   { return time.Duration(b.IdleTimeoutMs) * time.Millisecond }
func (b Broker) SubmitTimeout() time.Duration { return time.Duration(b.SubmitTimeoutMs) * time.Millisecond }

func (s Server) ReadTimeout() time.Duration  { return time.Duration(s.ReadTimeoutMs) * time.Millisecond }
func (s Server) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutMs) * time.Millisecond }
