package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./templates", cfg.Templates.Dir)
	assert.Equal(t, ".tpl", cfg.Templates.Ext)
	assert.Equal(t, 512, cfg.Cache.Capacity)
	assert.Equal(t, time.Duration(0), cfg.Cache.TTL)
	assert.Equal(t, "en", cfg.Render.Locale)
	assert.Equal(t, "quill-bundle.json", cfg.Precompile.Output)
	assert.Equal(t, 4, cfg.Precompile.Workers)
	assert.Equal(t, "localhost:8080", cfg.Address())
	assert.True(t, cfg.Server.LiveReload)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, language.English, cfg.LanguageTag())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "overrides",
			setup: func() {
				viper.Set("cache.capacity", 16)
				viper.Set("cache.ttl", "90s")
				viper.Set("server.live_reload", false)
				viper.Set("render.locale", "de-DE")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Cache.Capacity)
				assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
				assert.False(t, cfg.Server.LiveReload)
				assert.Equal(t, language.MustParse("de-DE"), cfg.LanguageTag())
			},
		},
		{
			name: "allowed origins",
			setup: func() {
				viper.Set("server.allowed_origins", []string{"localhost:3000"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"localhost:3000"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name:        "invalid port type",
			setup:       func() { viper.Set("server.port", "invalid_port") },
			expectError: true,
		},
		{
			name:        "port out of range",
			setup:       func() { viper.Set("server.port", 70000) },
			expectError: true,
		},
		{
			name:        "dangerous host",
			setup:       func() { viper.Set("server.host", "localhost;rm") },
			expectError: true,
		},
		{
			name:        "zero capacity",
			setup:       func() { viper.Set("cache.capacity", 0) },
			expectError: true,
		},
		{
			name:        "negative ttl",
			setup:       func() { viper.Set("cache.ttl", "-1s") },
			expectError: true,
		},
		{
			name:        "template dir traversal",
			setup:       func() { viper.Set("templates.dir", "../secrets") },
			expectError: true,
		},
		{
			name:        "bad extension",
			setup:       func() { viper.Set("templates.ext", "tpl") },
			expectError: true,
		},
		{
			name:        "bad locale",
			setup:       func() { viper.Set("render.locale", "not a locale!") },
			expectError: true,
		},
		{
			name:        "no workers",
			setup:       func() { viper.Set("precompile.workers", 0) },
			expectError: true,
		},
		{
			name:        "bad log level",
			setup:       func() { viper.Set("log.level", "loud") },
			expectError: true,
		},
		{
			name:        "bad log format",
			setup:       func() { viper.Set("log.format", "xml") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			tt.setup()

			cfg, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidationErrorsAreConfigErrors(t *testing.T) {
	v := viper.New()
	v.Set("cache.capacity", -3)

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrorTypeConfig, qerrors.TypeOf(err))
	assert.Contains(t, err.Error(), "cache config")
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".quill.yml")
	content := `templates:
  dir: ./views
  ext: .html
cache:
  capacity: 64
  ttl: 5m
server:
  port: 9000
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("QUILL_SERVER_PORT", "9100")
	t.Setenv("QUILL_PRECOMPILE_WORKERS", "8")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUILL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "./views", cfg.Templates.Dir)
	assert.Equal(t, ".html", cfg.Templates.Ext)
	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 9100, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, 8, cfg.Precompile.Workers, "environment reaches keys absent from the file")

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
}
