// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for streamchat.
//
// Configuration is TOML with sections for the backend, stream parser,
// coalescer, session, admission gate, security monitor, storage, logging
// and UI. Durations are written as Go duration strings.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (STREAMCHAT_*), including those from a .env file
//   - ~/.streamchat/config.toml (or the --config path)
//   - Built-in defaults
//
// # Usage
//
//	if err := config.LoadDotEnv(); err != nil {
//		return err
//	}
//	cfg, err := config.Load("")
//	if err != nil {
//		return err
//	}
//	ctl := session.New(deps, cfg.SessionControllerConfig())
//
// Watch for edits while running:
//
//	w, err := config.Watch(path, 0, logger, func(cfg *config.Config) {
//		ctl.SetConfig(cfg.SessionControllerConfig())
//	})
package config
