package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Routing RoutingConfig `mapstructure:"routing"`
	Mail    MailConfig    `mapstructure:"mail"`
	Catenda CatendaConfig `mapstructure:"catenda"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxMemoryBytes  int64         `mapstructure:"max_memory_bytes"`
	MaxFileBytes    int64         `mapstructure:"max_file_bytes"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	// Driver is memory, sqlite, postgres or oxidb. Empty means detect from URL.
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	OxiDBHost    string `mapstructure:"oxidb_host"`
	OxiDBPort    int    `mapstructure:"oxidb_port"`
	PoolSize     int    `mapstructure:"pool_size"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// Addr enables the Redis-backed duplicate guard. Empty keeps it in memory.
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type RoutingConfig struct {
	HandlerEmail string `mapstructure:"handler_email"`
	BaseURL      string `mapstructure:"base_url"`
}

type MailConfig struct {
	Driver   string `mapstructure:"driver"` // smtp or log
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CatendaConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	ProjectID    string        `mapstructure:"project_id"`
	LibraryID    string        `mapstructure:"library_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json or console
	GelfAddr string `mapstructure:"gelf_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_memory_bytes", 32<<20)
	v.SetDefault("server.max_file_bytes", 10<<20)
	v.SetDefault("server.rate_limit_rps", 2.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.url", "")
	v.SetDefault("storage.sqlite_path", "data/fravik.db")
	v.SetDefault("storage.oxidb_host", "127.0.0.1")
	v.SetDefault("storage.oxidb_port", 4444)
	v.SetDefault("storage.pool_size", 3)
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl", "24h")

	v.SetDefault("routing.handler_email", "miljoradgiver@oslobygg.no")
	v.SetDefault("routing.base_url", "https://skjema.oslobygg.no")

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "noreply@oslobygg.no")

	v.SetDefault("catenda.base_url", "https://api.catenda.com")
	v.SetDefault("catenda.token_url", "")
	v.SetDefault("catenda.client_id", "")
	v.SetDefault("catenda.client_secret", "")
	v.SetDefault("catenda.project_id", "")
	v.SetDefault("catenda.library_id", "")
	v.SetDefault("catenda.timeout", "30s")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.gelf_addr", "")
}

// Load reads configuration from defaults, an optional config file and
// FRAVIK_* environment variables, in increasing order of precedence. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/fravik/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FRAVIK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Routing.HandlerEmail) == "" {
		errs = append(errs, errors.New("routing.handler_email is required"))
	}
	if strings.TrimSpace(c.Routing.BaseURL) == "" {
		errs = append(errs, errors.New("routing.base_url is required"))
	}
	switch c.Storage.Driver {
	case "", "memory", "sqlite", "postgres", "oxidb":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Mail.Driver {
	case "smtp":
		if c.Mail.Host == "" {
			errs = append(errs, errors.New("mail.host is required for the smtp driver"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("mail.driver %q is not supported", c.Mail.Driver))
	}
	return errors.Join(errs...)
}
