// Package config loads the configuration for the static-site host through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	FileDir     string         `mapstructure:"file_dir"`
	CORS        bool           `mapstructure:"cors"`
	AdminConfig *AdminConfig   `mapstructure:"admin_config"`
	HTTP        *ListenConfig  `mapstructure:"http"`
	HTTPS       *HTTPSConfig   `mapstructure:"https"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Domains     []DomainConfig `mapstructure:"domains"`
	Log         LogConfig      `mapstructure:"log"`
}

// AdminConfig configures the authenticated admin API.
type AdminConfig struct {
	Addr                   string                  `mapstructure:"addr"`
	Port                   int                     `mapstructure:"port"`
	Token                  string                  `mapstructure:"token"`
	DeprecatedVersionDelete *DeprecatedDeleteConfig `mapstructure:"deprecated_version_delete"`
}

// DeprecatedDeleteConfig drives the periodic version-GC job.
type DeprecatedDeleteConfig struct {
	Cron       string `mapstructure:"cron"`
	MaxReserve int    `mapstructure:"max_reserve"`
}

// ListenConfig is a bare address/port listener configuration.
type ListenConfig struct {
	Addr string `mapstructure:"addr"`
	Port int    `mapstructure:"port"`
}

// HTTPSConfig configures the TLS listener.
type HTTPSConfig struct {
	Addr                 string      `mapstructure:"addr"`
	Port                 int         `mapstructure:"port"`
	SSL                  *SSLConfig  `mapstructure:"ssl"`
	HTTPRedirectToHTTPS  bool        `mapstructure:"http_redirect_to_https"`
	ACME                 *ACMEConfig `mapstructure:"acme"`
}

// SSLConfig names a static certificate/key pair on disk.
type SSLConfig struct {
	Public  string `mapstructure:"public"`
	Private string `mapstructure:"private"`
}

// ACMEConfig drives the ACME Engine.
type ACMEConfig struct {
	Emails     []string `mapstructure:"emails"`
	ACMEType   string   `mapstructure:"acme_type"` // stage | prod | ci
	Dir        string   `mapstructure:"dir"`
	CICAPath   string   `mapstructure:"ci_ca_path"`
	DisableACME []string `mapstructure:"disable_acme"`
}

// CacheConfig is the default per-extension client-cache and compression policy.
type CacheConfig struct {
	MaxSize      int64              `mapstructure:"max_size"`
	Compression  bool               `mapstructure:"compression"`
	ClientCache  []ClientCacheEntry `mapstructure:"client_cache"`
}

// ClientCacheEntry maps a set of extensions to a max-age.
type ClientCacheEntry struct {
	ExtensionNames []string      `mapstructure:"extension_names"`
	Expire         time.Duration `mapstructure:"expire"`
}

// DomainConfig is a per-host override of CORS/HTTPS/cache/alias behavior.
type DomainConfig struct {
	Domain string       `mapstructure:"domain"`
	CORS   *bool        `mapstructure:"cors"`
	HTTPS  *HTTPSConfig `mapstructure:"https"`
	Cache  *CacheConfig `mapstructure:"cache"`
	Alias  []string     `mapstructure:"alias"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig reads configuration from configPath (YAML, JSON, TOML or any
// other format viper parses, chosen by extension; HOCON is not supported)
// layered under environment-variable overrides, then validates it.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("file_dir", "./data")
	v.SetDefault("cors", false)

	v.SetDefault("cache.max_size", 1<<20) // 1 MiB inline threshold
	v.SetDefault("cache.compression", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// DefaultCompressibleExtensions is the default compressible-file set.
var DefaultCompressibleExtensions = map[string]bool{
	"html": true,
	"js":   true,
	"css":  true,
	"json": true,
	"icon": true,
}

// Validate enforces cross-field invariants at startup.
func (c *Config) Validate() error {
	if c.FileDir == "" {
		return fmt.Errorf("file_dir cannot be empty")
	}
	if c.HTTP == nil && c.HTTPS == nil {
		return fmt.Errorf("at least one of http or https must be configured")
	}
	if c.HTTPS != nil && c.HTTPS.SSL != nil && c.HTTPS.ACME != nil {
		return fmt.Errorf("https certificate file and acme don't support together")
	}
	for _, d := range c.Domains {
		if d.Domain == "" {
			return fmt.Errorf("domain entry missing domain name")
		}
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	return nil
}

// AliasTable returns alias_host -> primary_host, derived from domains[].alias.
func (c *Config) AliasTable() map[string]string {
	table := make(map[string]string)
	for _, d := range c.Domains {
		for _, alias := range d.Alias {
			table[alias] = d.Domain
		}
	}
	return table
}

// DomainByHost looks up a domain's configuration override, if any.
func (c *Config) DomainByHost(host string) (DomainConfig, bool) {
	for _, d := range c.Domains {
		if d.Domain == host {
			return d, true
		}
	}
	return DomainConfig{}, false
}
