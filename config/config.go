package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Board  BoardConfig  `mapstructure:"board"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DBConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	SSLMode        string `mapstructure:"sslmode"`
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// DSN returns the lib/pq keyword connection string. Values are quoted so
// spaces and quotes in credentials survive.
func (c DBConfig) DSN() string {
	pairs := [][2]string{
		{"host", c.Host},
		{"port", c.Port},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.DBName},
		{"sslmode", c.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, fmt.Sprintf("%s='%s'", kv[0], dsnEscaper.Replace(kv[1])))
	}
	return strings.Join(parts, " ")
}

// URL returns the postgres:// form used by migrate, with credentials escaped.
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BoardConfig struct {
	GeohashPrecision uint `mapstructure:"geohash_precision"`
	SpatialIndex     bool `mapstructure:"spatial_index"`
}

type IngestConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Queue        string        `mapstructure:"queue"`
	Consumers    int           `mapstructure:"consumers"`
	Prefetch     int64         `mapstructure:"prefetch"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "ridetracker")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.migrations_path", "file://database/migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("board.geohash_precision", 5)
	v.SetDefault("board.spatial_index", true)

	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.queue", "driver-sightings")
	v.SetDefault("ingest.consumers", 2)
	v.SetDefault("ingest.prefetch", 100)
	v.SetDefault("ingest.poll_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads path (or ./config.yaml when empty) and RIDETRACKER_* environment
// overrides. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ridetracker")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Board.GeohashPrecision < 1 || c.Board.GeohashPrecision > 12 {
		return fmt.Errorf("board.geohash_precision must be between 1 and 12, got %d", c.Board.GeohashPrecision)
	}
	if c.Ingest.Enabled {
		if c.Ingest.Queue == "" {
			return fmt.Errorf("ingest.queue must be set when ingest is enabled")
		}
		if c.Ingest.Consumers < 1 {
			return fmt.Errorf("ingest.consumers must be at least 1")
		}
		if !c.Redis.Enabled {
			return fmt.Errorf("ingest requires redis.enabled")
		}
	}
	return nil
}
