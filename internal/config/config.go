// Package config loads leaguechat settings from a YAML file, an optional .env
// file and LEAGUECHAT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEAGUECHAT_"

type Config struct {
	Log    Log    `yaml:"log"`
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
}

type Log struct {
	Level string `yaml:"level"` // debug|info|warn|error
	Dev   bool   `yaml:"dev"`
}

// Server configures the reference backend.
type Server struct {
	GRPCAddr    string        `yaml:"grpc_addr"`
	HTTPAddr    string        `yaml:"http_addr"`
	DatabaseDSN string        `yaml:"database_dsn"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	TLS         struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`
	SendRate struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"send_rate"`
	MaxMessageLen int `yaml:"max_message_len"`
}

// Client configures the CLI.
type Client struct {
	Addr           string        `yaml:"addr"`
	PushURL        string        `yaml:"push_url"`
	CAFile         string        `yaml:"ca_file"`
	Plaintext      bool          `yaml:"plaintext"`
	PageSize       int           `yaml:"page_size"`
	CacheDir       string        `yaml:"cache_dir"`
	CacheSecret    string        `yaml:"cache_secret"`
	ReconnectEvery time.Duration `yaml:"reconnect_every"`
}

// Default returns the built-in settings.
func Default() *Config {
	c := &Config{}
	c.Log.Level = "info"
	c.Server.GRPCAddr = ":8443"
	c.Server.HTTPAddr = ":8080"
	c.Server.TokenTTL = 24 * time.Hour
	c.Server.SendRate.RPS = 5
	c.Server.SendRate.Burst = 10
	c.Server.MaxMessageLen = 4000
	c.Client.Addr = "localhost:8443"
	c.Client.PushURL = "ws://localhost:8080/ws"
	c.Client.PageSize = 50
	c.Client.ReconnectEvery = 2 * time.Second
	return c
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error. envFiles are loaded with godotenv before the
// environment is read and never override variables that are already set.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var firstErr error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(name string, set func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || firstErr != nil {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			firstErr = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	integer := func(name string, dst *int) {
		parse(name, func(v string) (err error) { *dst, err = strconv.Atoi(v); return })
	}
	boolean := func(name string, dst *bool) {
		parse(name, func(v string) (err error) { *dst, err = strconv.ParseBool(v); return })
	}
	duration := func(name string, dst *time.Duration) {
		parse(name, func(v string) (err error) { *dst, err = time.ParseDuration(v); return })
	}

	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_DEV", &c.Log.Dev)

	str("GRPC_ADDR", &c.Server.GRPCAddr)
	str("HTTP_ADDR", &c.Server.HTTPAddr)
	str("DATABASE_DSN", &c.Server.DatabaseDSN)
	str("JWT_SECRET", &c.Server.JWTSecret)
	duration("TOKEN_TTL", &c.Server.TokenTTL)
	str("TLS_CERT", &c.Server.TLS.CertFile)
	str("TLS_KEY", &c.Server.TLS.KeyFile)
	parse("SEND_RPS", func(v string) (err error) { c.Server.SendRate.RPS, err = strconv.ParseFloat(v, 64); return })
	integer("SEND_BURST", &c.Server.SendRate.Burst)
	integer("MAX_MESSAGE_LEN", &c.Server.MaxMessageLen)

	str("ADDR", &c.Client.Addr)
	str("PUSH_URL", &c.Client.PushURL)
	str("CA_FILE", &c.Client.CAFile)
	boolean("PLAINTEXT", &c.Client.Plaintext)
	integer("PAGE_SIZE", &c.Client.PageSize)
	str("CACHE_DIR", &c.Client.CacheDir)
	str("CACHE_SECRET", &c.Client.CacheSecret)
	duration("RECONNECT_EVERY", &c.Client.ReconnectEvery)

	return firstErr
}

// Validate reports settings the backend cannot start without.
func (s Server) Validate() error {
	var problems []string
	if s.DatabaseDSN == "" {
		problems = append(problems, "database_dsn is required")
	}
	if s.JWTSecret == "" {
		problems = append(problems, "jwt_secret is required")
	}
	if s.TokenTTL <= 0 {
		problems = append(problems, "token_ttl must be positive")
	}
	if (s.TLS.CertFile == "") != (s.TLS.KeyFile == "") {
		problems = append(problems, "tls cert_file and key_file must be set together")
	}
	if s.SendRate.RPS <= 0 || s.SendRate.Burst <= 0 {
		problems = append(problems, "send_rate rps and burst must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid server config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate reports unusable client settings.
func (c Client) Validate() error {
	if c.Addr == "" {
		return errors.New("invalid client config: addr is required")
	}
	if c.PageSize <= 0 {
		return errors.New("invalid client config: page_size must be positive")
	}
	return nil
}
