// Package cmd provides the quill command-line interface.
//
// Configuration System:
//
//	The CLI reads configuration from several sources with clear precedence:
//	1. Command-line flags (--templates, --port, etc.) - highest priority
//	2. Individual environment variables (QUILL_SERVER_PORT, etc.)
//	3. The configuration file: --config, else QUILL_CONFIG_FILE, else
//	   .quill.yml in the current directory - lowest priority
//
// Environment Variables:
//
//	QUILL_CONFIG_FILE: Path to custom configuration file
//	QUILL_TEMPLATES_DIR: Override the template directory
//	QUILL_CACHE_CAPACITY: Override the compiled template cache size
//	And many more following the QUILL_<SECTION>_<OPTION> pattern
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/quill/internal/config"
	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/registry"
)

// app holds the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	logOut  io.Writer
}

// workspace is everything a command needs to compile and render.
type workspace struct {
	cfg      *config.Config
	logger   logging.Logger
	views    *loader.DirLoader
	registry *registry.Registry
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the quill command tree with its own configuration.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Compile and render quill templates",
		Long: `quill compiles logic-light HTML templates into cached render programs.

Templates use {expr} for escaped output, {{expr}} for raw output and
{{{ if }}} / {{{ each }}} / {{{ import }}} blocks for structure.

Quick Start:
  quill render index --data data.yml    Render a template to stdout
  quill check                           Compile every template and report errors
  quill precompile -o bundle.json       Write a precompiled bundle
  quill serve                           Preview templates with live reload`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			return bindFlags(a.v, cmd.Root().PersistentFlags(), map[string]string{
				"templates":  "templates.dir",
				"ext":        "templates.ext",
				"log-level":  "log.level",
				"log-format": "log.format",
			})
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is .quill.yml, can also use QUILL_CONFIG_FILE env var)")
	flags.StringP("templates", "t", "", "template directory (default ./templates)")
	flags.String("ext", "", "template file extension (default .tpl)")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	rootCmd.AddCommand(
		newRenderCmd(a),
		newCheckCmd(a),
		newPrecompileCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// initConfig selects the configuration file and enables QUILL_ environment
// variables. A missing default file is not an error; a missing explicit one
// is.
func (a *app) initConfig() error {
	explicit := true
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if envConfigFile := os.Getenv("QUILL_CONFIG_FILE"); envConfigFile != "" {
		a.v.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".quill")
	}

	a.v.SetEnvPrefix("QUILL")
	a.v.AutomaticEnv()
	a.v.SetEnvKeyReplacer(config.EnvKeyReplacer)

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return qerrors.NewConfigError(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read config file: %v", err))
	}

	return nil
}

// workspace loads the configuration and wires the registry over the
// template directory. dir, when set, replaces the configured directory.
func (a *app) workspace(dir string, opts ...registry.Option) (*workspace, error) {
	if dir != "" {
		a.v.Set("templates.dir", dir)
	}

	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerConfig()
	if a.logOut != nil {
		logCfg.Output = a.logOut
	}
	logger := logging.NewLogger(logCfg)

	views := loader.NewDirLoader(cfg.Templates.Dir, cfg.Templates.Ext)
	base := []registry.Option{
		registry.WithLoader(views),
		registry.WithHelpers(helpers.Builtins(cfg.LanguageTag())),
		registry.WithCapacity(cfg.Cache.Capacity),
		registry.WithTTL(cfg.Cache.TTL),
		registry.WithLogger(logger),
	}

	return &workspace{
		cfg:      cfg,
		logger:   logger,
		views:    views,
		registry: registry.New(append(base, opts...)...),
	}, nil
}
