package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/quill/internal/validation"
)

// dataExtensions are the accepted render context file types.
var dataExtensions = []string{".json", ".yaml", ".yml"}

// bindFlags binds flags of fs to configuration keys, keyed by flag name.
// Only flags set on the command line override the file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag --%s", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: flag.Value.Set,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// ValidatePort checks a port flag value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateWorkers checks a worker count flag value.
func ValidateWorkers(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid worker count: %s", s)
	}
	if n < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", n)
	}

	return nil
}

// ValidateDataFile checks that a render context file is JSON or YAML and
// exists.
func ValidateDataFile(filename string) error {
	if filename == "" {
		return nil
	}
	if err := validation.ValidateFileExtension(filename, dataExtensions); err != nil {
		return err
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	return nil
}

// loadData decodes a JSON or YAML render context file. An empty name yields
// an empty context.
func loadData(filename string) (any, error) {
	if filename == "" {
		return map[string]any{}, nil
	}
	if err := ValidateDataFile(filename); err != nil {
		return nil, err
	}
	if err := validation.ValidatePath(filename); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var data any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to decode data file %s: %w", filename, err)
	}
	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}
