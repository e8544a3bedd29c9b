package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Relay      RelayConfig      `mapstructure:"relay"`
	Finnhub    FinnhubConfig    `mapstructure:"finnhub"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	TwelveData TwelveDataConfig `mapstructure:"twelvedata"`
	Server     ServerConfig     `mapstructure:"server"`
	Hub        HubConfig        `mapstructure:"hub"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
}

type RelayConfig struct {
	TrackedSymbols  []string          `mapstructure:"tracked_symbols" validate:"min=1,dive,required"`
	ProviderSymbols map[string]string `mapstructure:"provider_symbols"` // UI symbol -> provider symbol
	HistoryCapacity int               `mapstructure:"history_capacity" validate:"gt=0"`
	FreshnessWindow time.Duration     `mapstructure:"freshness_window" validate:"gt=0"`
	PollInterval    time.Duration     `mapstructure:"poll_interval" validate:"gt=0"`
	SnapshotPoints  int               `mapstructure:"snapshot_points" validate:"gt=0"`
	FlushInterval   time.Duration     `mapstructure:"flush_interval" validate:"gt=0"`
	Seed            SeedConfig        `mapstructure:"seed"`
}

type SeedConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	PointCount int                `mapstructure:"point_count" validate:"gt=0"`
	MinHistory int                `mapstructure:"min_history" validate:"gte=0"`
	Prices     map[string]float64 `mapstructure:"prices"`
}

type FinnhubConfig struct {
	APIKey          string          `mapstructure:"api_key"`
	APIKeyParameter string          `mapstructure:"api_key_parameter"` // SSM parameter name, read in prod
	WS              FinnhubWSConfig `mapstructure:"ws"`
	REST            RESTConfig      `mapstructure:"rest"`
}

type FinnhubWSConfig struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" validate:"gte=0"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type FallbackConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=finnhub twelvedata"`
}

type TwelveDataConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            bool          `mapstructure:"cors"`
}

type HubConfig struct {
	SendBuffer            int           `mapstructure:"send_buffer" validate:"gt=0"`
	WriteWait             time.Duration `mapstructure:"write_wait"`
	PongWait              time.Duration `mapstructure:"pong_wait"`
	PingPeriod            time.Duration `mapstructure:"ping_period"`
	SubscribeAllOnConnect bool          `mapstructure:"subscribe_all_on_connect"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.tracked_symbols", []string{"AAPL", "MSFT", "TSLA"})
	v.SetDefault("relay.provider_symbols", map[string]string{})
	v.SetDefault("relay.history_capacity", 600)
	v.SetDefault("relay.freshness_window", 10*time.Second)
	v.SetDefault("relay.poll_interval", 3*time.Second)
	v.SetDefault("relay.snapshot_points", 120)
	v.SetDefault("relay.flush_interval", 30*time.Second)
	v.SetDefault("relay.seed.enabled", true)
	v.SetDefault("relay.seed.point_count", 30)
	v.SetDefault("relay.seed.min_history", 10)
	v.SetDefault("relay.seed.prices", map[string]float64{})

	v.SetDefault("finnhub.api_key", "")
	v.SetDefault("finnhub.api_key_parameter", "")
	v.SetDefault("finnhub.ws.url", "wss://ws.finnhub.io")
	v.SetDefault("finnhub.ws.reconnect_delay", 2*time.Second)
	v.SetDefault("finnhub.ws.backoff_max", 0)
	v.SetDefault("finnhub.ws.ping_interval", 30*time.Second)
	v.SetDefault("finnhub.rest.base_url", "https://finnhub.io")
	v.SetDefault("finnhub.rest.timeout", 5*time.Second)

	v.SetDefault("fallback.provider", "finnhub")
	v.SetDefault("twelvedata.base_url", "https://api.twelvedata.com")
	v.SetDefault("twelvedata.api_key", "")
	v.SetDefault("twelvedata.timeout", 5*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors", true)

	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.write_wait", 5*time.Second)
	v.SetDefault("hub.pong_wait", 60*time.Second)
	v.SetDefault("hub.ping_period", 50*time.Second)
	v.SetDefault("hub.subscribe_all_on_connect", false)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "tickrelay")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.parameter_prefix", "/tickrelay/db/")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "stock:")
	v.SetDefault("redis.channel_prefix", "prices.")
	v.SetDefault("redis.ttl", 0)
	v.SetDefault("redis.queue_size", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	// TODO: env path
	var paths []string
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		paths = append(paths, filepath.Join(pwd, "../../config"))
	} else {
		paths = append(paths, filepath.Join(filepath.Dir(ex), "../config"))
	}
	paths = append(paths, "./config")

	cfg, err := LoadFrom(paths...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from the first matching path, applies .env and
// environment overrides, validates the result and resolves secrets.
// A missing config file is not an error; defaults apply.
func LoadFrom(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., FINNHUB_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("finnhub.api_key", "FINNHUB_API_KEY", "FINNHUB_TOKEN")
	_ = v.BindEnv("twelvedata.api_key", "TWELVEDATA_API_KEY", "TWELVE_DATA_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.resolveSecrets()
	return &cfg, nil
}

// normalize upper-cases symbols. Viper lower-cases map keys, so the
// provider and seed maps are rebuilt.
func (cfg *Config) normalize() {
	for i, s := range cfg.Relay.TrackedSymbols {
		cfg.Relay.TrackedSymbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	providers := make(map[string]string, len(cfg.Relay.ProviderSymbols))
	for ui, p := range cfg.Relay.ProviderSymbols {
		providers[strings.ToUpper(strings.TrimSpace(ui))] = strings.TrimSpace(p)
	}
	cfg.Relay.ProviderSymbols = providers

	prices := make(map[string]float64, len(cfg.Relay.Seed.Prices))
	for ui, p := range cfg.Relay.Seed.Prices {
		prices[strings.ToUpper(strings.TrimSpace(ui))] = p
	}
	cfg.Relay.Seed.Prices = prices
}

// resolveSecrets fills credentials from AWS SSM Parameter Store in prod.
func (cfg *Config) resolveSecrets() {
	if cfg.Log.Environment != "prod" {
		return
	}
	if cfg.Finnhub.APIKey == "" && cfg.Finnhub.APIKeyParameter != "" {
		cfg.Finnhub.APIKey = getParameterStoreValue(cfg.Finnhub.APIKeyParameter, true)
	}
}

// ProviderSymbol returns the upstream symbol for a tracked UI symbol.
func (cfg *RelayConfig) ProviderSymbol(ui string) string {
	if p, ok := cfg.ProviderSymbols[ui]; ok && p != "" {
		return p
	}
	return ui
}
