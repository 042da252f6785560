// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/config"
)

func newConfigCommand(e *env) *cobra.Command {
	lenient := map[string]string{annotationLenientConfig: "true"}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
		Long: `Shows and edits ~/.streamchat/config.toml (or the file given with --config).

Keys use the TOML names in dot notation, for example:
  streamchat config get session.max_retries
  streamchat config set admission.min_interval 1s`,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the default settings",
		Args:        cobra.NoArgs,
		Annotations: lenient,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(e.cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", e.cfgPath)
			}
			if err := config.Save(config.Default(), e.cfgPath); err != nil {
				return &CommandError{Command: "config", Action: "init", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", successStyle.Render("[OK]"), e.cfgPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Long:  "Prints the configuration after defaults, the file, environment variables and flags are applied.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), e.cfg.String())
				return nil
			},
		},
		initCmd,
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := e.cfg.Get(args[0])
				if err != nil {
					return &ValidationError{Field: "key", Value: args[0], Reason: err.Error()}
				}
				if d, ok := v.(config.Duration); ok {
					v = d.Duration
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:         "set KEY VALUE",
			Short:       "Change one setting in the config file",
			Args:        cobra.ExactArgs(2),
			Annotations: lenient,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSet(cmd, e, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:         "path",
			Short:       "Print the config file path",
			Args:        cobra.NoArgs,
			Annotations: lenient,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), e.cfgPath)
			},
		},
		&cobra.Command{
			Use:         "keys",
			Short:       "List every setting",
			Args:        cobra.NoArgs,
			Annotations: lenient,
			Run: func(cmd *cobra.Command, args []string) {
				for _, k := range config.Keys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
			},
		},
	)
	return cmd
}

// runConfigSet edits the file itself, not the effective configuration, so
// environment overrides and flags never leak into it.
func runConfigSet(cmd *cobra.Command, e *env, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(e.cfgPath); err == nil {
		if err := config.LoadTOML(cfg, e.cfgPath); err != nil {
			return &ConfigError{Path: e.cfgPath, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &ConfigError{Path: e.cfgPath, Err: err}
	}
	cfg.SetDefaults()

	if err := cfg.Set(key, value); err != nil {
		return &ValidationError{Field: key, Value: value, Reason: err.Error()}
	}
	if err := config.Save(cfg, e.cfgPath); err != nil {
		return &CommandError{Command: "config", Action: "set", Err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", successStyle.Render("[OK]"), key, value)
	return nil
}
