package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/validation"
)

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	checks := []struct {
		section string
		check   func(*Config) error
	}{
		{"templates", validateTemplatesConfig},
		{"cache", validateCacheConfig},
		{"render", validateRenderConfig},
		{"precompile", validatePrecompileConfig},
		{"server", validateServerConfig},
		{"log", validateLogConfig},
	}

	for _, c := range checks {
		if err := c.check(config); err != nil {
			return qerrors.NewConfigError(qerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("%s config: %v", c.section, err)).WithContext("section", c.section)
		}
	}

	return nil
}

func validateTemplatesConfig(config *Config) error {
	if err := validation.ValidatePath(config.Templates.Dir); err != nil {
		return fmt.Errorf("invalid dir: %w", err)
	}

	ext := config.Templates.Ext
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\ `) {
		return fmt.Errorf("ext %q must look like .tpl", ext)
	}

	return nil
}

func validateCacheConfig(config *Config) error {
	if config.Cache.Capacity <= 0 {
		return fmt.Errorf("capacity %d must be positive", config.Cache.Capacity)
	}
	if config.Cache.TTL < 0 {
		return fmt.Errorf("ttl %s cannot be negative", config.Cache.TTL)
	}

	return nil
}

func validateRenderConfig(config *Config) error {
	if _, err := language.Parse(config.Render.Locale); err != nil {
		return fmt.Errorf("locale %q: %w", config.Render.Locale, err)
	}

	return nil
}

func validatePrecompileConfig(config *Config) error {
	if err := validation.ValidatePath(config.Precompile.Output); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if config.Precompile.Workers < 1 {
		return fmt.Errorf("workers %d must be at least 1", config.Precompile.Workers)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *Config) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Server.Port)
	}

	// Basic validation - no dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
	for _, char := range dangerousChars {
		if strings.Contains(config.Server.Host, char) {
			return fmt.Errorf("host contains dangerous character: %q", char)
		}
	}

	return nil
}

func validateLogConfig(config *Config) error {
	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		return err
	}

	switch config.Log.Format {
	case "text", "json":
		return nil
	}

	return fmt.Errorf("format %q must be text or json", config.Log.Format)
}
