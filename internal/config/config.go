// Package config provides configuration management for quill using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports YAML files (.quill.yml), environment
// variable overrides with the QUILL_ prefix (QUILL_CACHE_CAPACITY,
// QUILL_SERVER_PORT), defaults for every key, and validation. It covers the
// template source directory, the compiled template cache, render locale,
// bundle precompilation, the preview server and logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/conneroisu/quill/internal/logging"
)

type Config struct {
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Render     RenderConfig     `yaml:"render" mapstructure:"render"`
	Precompile PrecompileConfig `yaml:"precompile" mapstructure:"precompile"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

type TemplatesConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	Ext string `yaml:"ext" mapstructure:"ext"`
}

type CacheConfig struct {
	Capacity int           `yaml:"capacity" mapstructure:"capacity"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type RenderConfig struct {
	Locale string `yaml:"locale" mapstructure:"locale"`
}

type PrecompileConfig struct {
	Output  string `yaml:"output" mapstructure:"output"`
	Workers int    `yaml:"workers" mapstructure:"workers"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	LiveReload     bool     `yaml:"live_reload" mapstructure:"live_reload"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Defaults holds the value of every configuration key when nothing else
// sets it.
var Defaults = map[string]interface{}{
	"templates.dir":          "./templates",
	"templates.ext":          ".tpl",
	"cache.capacity":         512,
	"cache.ttl":              time.Duration(0),
	"render.locale":          "en",
	"precompile.output":      "quill-bundle.json",
	"precompile.workers":     4,
	"server.host":            "localhost",
	"server.port":            8080,
	"server.live_reload":     true,
	"server.allowed_origins": []string{},
	"log.level":              "info",
	"log.format":             "text",
}

// EnvKeyReplacer maps nested keys to environment names, so cache.ttl is
// read from QUILL_CACHE_TTL.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// SetDefaults registers Defaults on v. Registering every key also lets
// AutomaticEnv find QUILL_ variables for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LanguageTag returns the configured render locale.
func (c *Config) LanguageTag() language.Tag {
	tag, err := language.Parse(c.Render.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// LoggerConfig converts the log section into a logger configuration.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format

	return cfg
}

// Address returns the preview server listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
