// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command annotations read by the root's PersistentPreRunE.
const (
	// annotationTerminal marks commands that own the terminal, so logs go
	// to a file instead of stderr.
	annotationTerminal = "streamchat/terminal"

	// annotationLenientConfig marks commands that must work even when the
	// config file is broken.
	annotationLenientConfig = "streamchat/lenient-config"
)

// globalOptions are the persistent flags.
type globalOptions struct {
	configPath string
	verbose    bool
	backendURL string
	noStorage  bool
}

// env is what every command gets once the root has loaded the configuration.
type env struct {
	opts    globalOptions
	cfg     *config.Config
	cfgPath string
	logger  *zap.Logger

	// configErr is set when a lenient command started on defaults.
	configErr error
}

// NewRootCommand builds the streamchat command tree.
func NewRootCommand() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:   "streamchat",
		Short: "Terminal client for a streaming chat backend",
		Long: `streamchat talks to a conversational backend that streams its answers,
turning whatever the backend sends (a JSON document, an event stream or plain
partial text) into a stable conversation.

Run without arguments to start the full-screen chat. When stdin or stdout is
not a terminal, the line-mode REPL is used instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{annotationTerminal: "true"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, e)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&e.opts.configPath, "config", "c", "", "config file (default ~/.streamchat/config.toml)")
	flags.BoolVarP(&e.opts.verbose, "verbose", "v", false, "log at debug level")
	flags.StringVar(&e.opts.backendURL, "backend", "", "backend base URL, overrides the config file")
	flags.BoolVar(&e.opts.noStorage, "no-storage", false, "do not read or write the local database")

	root.AddCommand(
		newChatCommand(e),
		newReplCommand(e),
		newHealthCommand(e),
		newLockoutCommand(e),
		newEventsCommand(e),
		newConfigCommand(e),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		DisplayError(os.Stderr, err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// setup loads .env, the config file and flag overrides, then builds the logger.
func (e *env) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	path := e.opts.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		path = p
	}
	e.cfgPath = path

	cfg, err := config.Load(path)
	if err != nil {
		if !hasAnnotation(cmd, annotationLenientConfig) {
			return &ConfigError{Path: path, Err: err}
		}
		e.configErr = err
		cfg = config.Default()
	}

	if e.opts.backendURL != "" {
		cfg.Backend.URL = e.opts.backendURL
	}
	if e.opts.noStorage {
		cfg.Storage.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	e.cfg = cfg

	logCfg := cfg.Log
	if logCfg.File == "" && hasAnnotation(cmd, annotationTerminal) {
		logCfg.File = logging.DefaultFile()
	}
	logger, err := logging.New(logCfg, e.opts.verbose)
	if err != nil {
		return err
	}
	e.logger = logger

	if e.configErr != nil {
		logger.Warn("config file could not be loaded, using defaults",
			zap.String("path", path), zap.Error(e.configErr))
	}
	return nil
}

func hasAnnotation(cmd *cobra.Command, key string) bool {
	return cmd.Annotations[key] == "true"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Needs neither config nor logger.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
