package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Tavily     TavilyConfig     `mapstructure:"tavily"`
	Kalshi     KalshiConfig     `mapstructure:"kalshi"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Trading    TradingConfig    `mapstructure:"trading"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LLMConfig points at an OpenAI-compatible chat-completions endpoint.
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TavilyConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type KalshiConfig struct {
	KeyID          string        `mapstructure:"key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	UseDemo        bool          `mapstructure:"use_demo"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PolymarketConfig struct {
	GammaBaseURL string        `mapstructure:"gamma_base_url"`
	ClobBaseURL  string        `mapstructure:"clob_base_url"`
	PrivateKey   string        `mapstructure:"private_key"`
	SafeAddress  string        `mapstructure:"safe_address"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type ScannerConfig struct {
	IntervalHours   int `mapstructure:"interval_hours"`
	MinMarketVolume int `mapstructure:"min_market_volume"`
	MaxDaysToExpiry int `mapstructure:"max_days_to_expiry"`
	PageLimit       int `mapstructure:"page_limit"`
	MaxPages        int `mapstructure:"max_pages"`
}

type TradingConfig struct {
	Bankroll              float64 `mapstructure:"bankroll"`
	MinEdgeThreshold      float64 `mapstructure:"min_edge_threshold"`
	MaxPositionPct        float64 `mapstructure:"max_position_pct"` // percent of bankroll, e.g. 5.0
	MaxConcurrentPosition int     `mapstructure:"max_concurrent_positions"`
	DailyDrawdownLimitPct float64 `mapstructure:"daily_drawdown_limit_pct"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-sonnet-4-6")
	v.SetDefault("llm.timeout", "3m")
	v.SetDefault("tavily.api_key", "")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.timeout", "20s")
	v.SetDefault("kalshi.key_id", "")
	v.SetDefault("kalshi.private_key_path", "")
	v.SetDefault("kalshi.use_demo", true)
	v.SetDefault("kalshi.timeout", "15s")
	v.SetDefault("polymarket.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.private_key", "")
	v.SetDefault("polymarket.safe_address", "")
	v.SetDefault("polymarket.timeout", "15s")
	v.SetDefault("scanner.interval_hours", 6)
	v.SetDefault("scanner.min_market_volume", 200)
	v.SetDefault("scanner.max_days_to_expiry", 30)
	v.SetDefault("scanner.page_limit", 100)
	v.SetDefault("scanner.max_pages", 5)
	v.SetDefault("trading.bankroll", 10000)
	v.SetDefault("trading.min_edge_threshold", 0.05)
	v.SetDefault("trading.max_position_pct", 5.0)
	v.SetDefault("trading.max_concurrent_positions", 15)
	v.SetDefault("trading.daily_drawdown_limit_pct", 2.0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// MaxPositionFraction converts the percent-of-bankroll setting to a fraction.
func (t TradingConfig) MaxPositionFraction() float64 {
	return t.MaxPositionPct / 100.0
}

// ScanInterval is the scanner period as a duration.
func (s ScannerConfig) ScanInterval() time.Duration {
	h := s.IntervalHours
	if h <= 0 {
		h = 6
	}
	return time.Duration(h) * time.Hour
}
