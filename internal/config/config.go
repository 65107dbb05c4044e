// Package config loads process configuration for the relay and the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/codeshui/internal/provider"
)

// EnvPrefix starts every environment override, e.g. CODESHUI_SERVER_PORT.
const EnvPrefix = "CODESHUI_"

// Defaults for settings left unset.
const (
	DefaultPort           = 3001
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 120 * time.Second
	DefaultGatewayTimeout = 60 * time.Second
	DefaultStoreDir       = ".codeshui"
)

// DefaultAllowedOrigins are the front-end origins the relay accepts when
// none are configured.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"https://*.netlify.app",
	"https://*.render.com",
}

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig            `koanf:"server"`
	Vendors map[string]VendorConfig `koanf:"vendors"`
	Gateway GatewayConfig           `koanf:"gateway"`
	Store   StoreConfig             `koanf:"store"`
	Log     LogConfig               `koanf:"log"`
}

// ServerConfig holds relay HTTP server settings.
type ServerConfig struct {
	Port           int           `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// VendorConfig overrides where the relay reaches one vendor. Mostly useful
// for pointing at a proxy or a test double.
type VendorConfig struct {
	BaseURL string `koanf:"base_url"`
}

// GatewayConfig controls how the CLI reaches vendors.
type GatewayConfig struct {
	RelayURL     string        `koanf:"relay_url"`
	DirectAccess bool          `koanf:"direct_access"`
	PreferDirect bool          `koanf:"prefer_direct"`
	Timeout      time.Duration `koanf:"timeout"`
}

// StoreConfig selects the durable backend for the active LLM configuration.
type StoreConfig struct {
	Backend       string `koanf:"backend"` // "file" or "redis"
	Dir           string `koanf:"dir"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	Key           string `koanf:"key"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// Load reads configuration from an optional YAML file, layers environment
// variable overrides on top, fills in defaults and validates the result.
// A path that doesn't exist is skipped, so the binary runs with no file.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.RedisPassword = expand(cfg.Store.RedisPassword)
	cfg.Gateway.RelayURL = expand(cfg.Gateway.RelayURL)

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable name to a koanf key path. Only the
// first underscore separates section from key, so multi-word keys survive;
// the vendors map takes one more level for the vendor name.
//
//	CODESHUI_SERVER_READ_TIMEOUT     -> server.read_timeout
//	CODESHUI_VENDORS_GOOGLE_BASE_URL -> vendors.google.base_url
func envKey(s string) string {
	section, key, _ := strings.Cut(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_")
	if key == "" {
		return section
	}
	if section == "vendors" {
		if vendor, rest, ok := strings.Cut(key, "_"); ok {
			return section + "." + vendor + "." + rest
		}
	}
	return section + "." + key
}

// expand resolves a whole-value ${VAR} placeholder from the environment.
func expand(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		// Hosting platforms hand the port over in $PORT.
		if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
			c.Server.Port = p
		} else {
			c.Server.Port = DefaultPort
		}
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = DefaultGatewayTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports the first setting that can't work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("store.backend %q: want file or redis", c.Store.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	for name := range c.Vendors {
		if _, ok := provider.ParseKey(name); !ok {
			return fmt.Errorf("vendors.%s: unknown vendor", name)
		}
	}
	return nil
}

// VendorBaseURL returns the configured base URL override for key, or "".
func (c *Config) VendorBaseURL(key provider.Key) string {
	return c.Vendors[string(key)].BaseURL
}
