package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market_ingest/pkg/logger"
	"market_ingest/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"
	envPrefix         = "INGEST"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	CompaniesPostgres = "postgres"
	CompaniesSQLite   = "sqlite"
	CompaniesStatic   = "static"

	WatermarkPostgres = "postgres"
	WatermarkSQLite   = "sqlite"
	WatermarkRedis    = "redis"
	WatermarkNone     = "none"

	NewsProviderNewsAPI = "newsapi"
	NewsProviderFinnhub = "finnhub"

	MarketProviderOKX  = "okx"
	MarketProviderFile = "file"
)

// RateLimit is a provider budget: Calls per Window.
type RateLimit struct {
	Calls  int           `yaml:"calls"`
	Window time.Duration `yaml:"window"`
}

type News struct {
	Enabled           bool          `yaml:"enabled"`
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	PageSize          int           `yaml:"page_size"`
	PageDays          int           `yaml:"page_days"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RateLimit         RateLimit     `yaml:"rate_limit"`
	Lookback          time.Duration `yaml:"lookback"`
	Overlap           time.Duration `yaml:"overlap"`
	MaxPerTicker      int           `yaml:"max_per_ticker"`
	Concurrency       int           `yaml:"concurrency"`
	EnrichConcurrency int           `yaml:"enrich_concurrency"`
}

type Sentiment struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
}

type Market struct {
	Enabled        bool          `yaml:"enabled"`
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	FilePath       string        `yaml:"file_path"`
	Timeframes     []string      `yaml:"timeframes"`
	PageSize       int           `yaml:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	Lookback       time.Duration `yaml:"lookback"`
	Concurrency    int           `yaml:"concurrency"`
}

// Config ...
type Config struct {
	ServiceName string         `yaml:"service_name"`
	Log         logger.Config  `yaml:"log"`
	Tracing     tracing.Config `yaml:"tracing"`

	DB       string `yaml:"db_dsn"`
	DBMinCon int    `yaml:"db_min_conns"`
	DBMaxCon int    `yaml:"db_max_conns"`

	Store struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Companies struct {
		Source  string   `yaml:"source"`
		Tickers []string `yaml:"tickers"`
	} `yaml:"companies"`

	Watermark struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"watermark"`

	Governor struct {
		MaxRateLimitRetries int       `yaml:"max_rate_limit_retries"`
		Default             RateLimit `yaml:"default"`
	} `yaml:"governor"`

	// TrackingParams extends the built-in list of query parameters stripped from
	// article URLs.
	TrackingParams []string `yaml:"tracking_params"`

	News      News      `yaml:"news"`
	Sentiment Sentiment `yaml:"sentiment"`
	Market    Market    `yaml:"market"`

	Notify struct {
		OnSuccess bool `yaml:"on_success"`
		Telegram  struct {
			Token  string `yaml:"token"`
			ChatID int64  `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notify"`
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}
	path := configFileName
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(configDir, configFileName)
	}
	return Load(path)
}

// Load decodes the YAML file over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Defaults()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}

	applyEnv(cfg, newEnv())

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// Defaults returns the configuration used for keys absent from the file.
func Defaults() *Config {
	cfg := &Config{
		ServiceName: "market-ingest",
		Log:         logger.Config{Level: "info", Format: "json"},
		Tracing:     tracing.Config{Host: "localhost", Port: 6831},
		DBMinCon:    1,
		DBMaxCon:    10,
		News: News{
			Enabled:           true,
			Provider:          NewsProviderNewsAPI,
			PageSize:          100,
			PageDays:          7,
			RequestTimeout:    10 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      500 * time.Millisecond,
			RateLimit:         RateLimit{Calls: 60, Window: time.Minute},
			Lookback:          7 * 24 * time.Hour,
			Overlap:           time.Hour,
			Concurrency:       4,
			EnrichConcurrency: 4,
		},
		Sentiment: Sentiment{
			Enabled:        true,
			BaseURL:        "https://api.cerebras.ai/v1",
			Model:          "gpt-oss-120b",
			RequestTimeout: 15 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			RateLimit:      RateLimit{Calls: 30, Window: time.Minute},
		},
		Market: Market{
			Enabled:        true,
			Provider:       MarketProviderOKX,
			BaseURL:        "https://www.okx.com",
			Timeframes:     []string{"1d"},
			PageSize:       100,
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			RateLimit:      RateLimit{Calls: 20, Window: 2 * time.Second},
			Lookback:       30 * 24 * time.Hour,
			Concurrency:    4,
		},
	}
	cfg.Store.Driver = StoreDriverPostgres
	cfg.Store.SQLitePath = "market_ingest.db"
	cfg.Companies.Source = CompaniesPostgres
	cfg.Watermark.Backend = WatermarkPostgres
	cfg.Watermark.Redis.Addr = "localhost:6379"
	cfg.Governor.MaxRateLimitRetries = 5
	cfg.Governor.Default = RateLimit{Calls: 10, Window: time.Second}
	return cfg
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("db_dsn", "DATABASE_DSN", envPrefix+"_DB_DSN")
	_ = v.BindEnv("notify.telegram.token", "TELEGRAM_TOKEN", envPrefix+"_NOTIFY_TELEGRAM_TOKEN")
	return v
}

func applyEnv(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("db_dsn", &cfg.DB)
	str("store.driver", &cfg.Store.Driver)
	str("store.sqlite_path", &cfg.Store.SQLitePath)
	str("watermark.backend", &cfg.Watermark.Backend)
	str("watermark.redis.addr", &cfg.Watermark.Redis.Addr)
	str("watermark.redis.password", &cfg.Watermark.Redis.Password)
	str("news.provider", &cfg.News.Provider)
	str("news.api_key", &cfg.News.APIKey)
	str("news.base_url", &cfg.News.BaseURL)
	str("sentiment.api_key", &cfg.Sentiment.APIKey)
	str("sentiment.base_url", &cfg.Sentiment.BaseURL)
	str("sentiment.model", &cfg.Sentiment.Model)
	str("market.provider", &cfg.Market.Provider)
	str("market.base_url", &cfg.Market.BaseURL)
	str("market.file_path", &cfg.Market.FilePath)
	str("notify.telegram.token", &cfg.Notify.Telegram.Token)
	str("log.level", &cfg.Log.Level)

	if v.IsSet("notify.telegram.chat_id") {
		cfg.Notify.Telegram.ChatID = v.GetInt64("notify.telegram.chat_id")
	}
	if v.IsSet("tracing.enabled") {
		cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("companies.tickers") {
		cfg.Companies.Tickers = strings.Split(v.GetString("companies.tickers"), ",")
	}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.DB == "" {
			return errors.New("db_dsn is required for store.driver=postgres")
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for store.driver=sqlite")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	switch c.Companies.Source {
	case CompaniesPostgres:
		if c.DB == "" {
			return errors.New("db_dsn is required for companies.source=postgres")
		}
	case CompaniesSQLite:
		if c.Store.Driver != StoreDriverSQLite {
			return errors.New("companies.source=sqlite requires store.driver=sqlite")
		}
	case CompaniesStatic:
		if len(c.Companies.Tickers) == 0 {
			return errors.New("companies.tickers is required for companies.source=static")
		}
	default:
		return fmt.Errorf("companies.source must be postgres, sqlite or static, got %q", c.Companies.Source)
	}

	switch c.Watermark.Backend {
	case WatermarkPostgres:
		if c.DB == "" {
			return errors.New("db_dsn is required for watermark.backend=postgres")
		}
	case WatermarkSQLite:
		if c.Store.Driver != StoreDriverSQLite {
			return errors.New("watermark.backend=sqlite requires store.driver=sqlite")
		}
	case WatermarkRedis:
		if c.Watermark.Redis.Addr == "" {
			return errors.New("watermark.redis.addr is required for watermark.backend=redis")
		}
	case WatermarkNone:
	default:
		return fmt.Errorf("watermark.backend must be postgres, sqlite, redis or none, got %q", c.Watermark.Backend)
	}

	if err := c.Governor.Default.validate("governor.default"); err != nil {
		return err
	}

	if c.News.Enabled {
		if c.News.Provider != NewsProviderNewsAPI && c.News.Provider != NewsProviderFinnhub {
			return fmt.Errorf("news.provider must be newsapi or finnhub, got %q", c.News.Provider)
		}
		if c.News.BaseURL == "" {
			return errors.New("news.base_url is required")
		}
		if c.News.PageSize < 1 {
			return errors.New("news.page_size must be >= 1")
		}
		if c.News.Concurrency < 1 || c.News.EnrichConcurrency < 1 {
			return errors.New("news.concurrency and news.enrich_concurrency must be >= 1")
		}
		if c.News.Lookback <= 0 {
			return errors.New("news.lookback must be > 0")
		}
		if err := c.News.RateLimit.validate("news.rate_limit"); err != nil {
			return err
		}
	}

	if c.Sentiment.Enabled {
		if c.Sentiment.BaseURL == "" || c.Sentiment.Model == "" {
			return errors.New("sentiment.base_url and sentiment.model are required")
		}
		if c.Sentiment.MaxRetries < 1 {
			return errors.New("sentiment.max_retries must be >= 1")
		}
		if err := c.Sentiment.RateLimit.validate("sentiment.rate_limit"); err != nil {
			return err
		}
	}

	if c.Market.Enabled {
		switch c.Market.Provider {
		case MarketProviderOKX:
			if c.Market.BaseURL == "" {
				return errors.New("market.base_url is required for market.provider=okx")
			}
		case MarketProviderFile:
			if c.Market.FilePath == "" {
				return errors.New("market.file_path is required for market.provider=file")
			}
		default:
			return fmt.Errorf("market.provider must be okx or file, got %q", c.Market.Provider)
		}
		if len(c.Market.Timeframes) == 0 {
			return errors.New("market.timeframes must not be empty")
		}
		if c.Market.Concurrency < 1 {
			return errors.New("market.concurrency must be >= 1")
		}
		if c.Market.Lookback <= 0 {
			return errors.New("market.lookback must be > 0")
		}
		if err := c.Market.RateLimit.validate("market.rate_limit"); err != nil {
			return err
		}
	}

	return nil
}

func (r RateLimit) validate(prefix string) error {
	if r.Calls < 1 {
		return fmt.Errorf("%s.calls must be >= 1", prefix)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%s.window must be > 0", prefix)
	}
	return nil
}
