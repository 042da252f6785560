// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the streamchat command tree.
//
// # Commands
//
//   - chat: full-screen chat (the default when run without arguments)
//   - repl: line-mode chat, used automatically when there is no terminal
//   - health: probe the backend
//   - lockout [status|clear]: inspect or lift the security lockout
//   - events: list recorded security events
//   - config [show|init|get|set|path|keys]: configuration management
//
// Every command first loads .env, then the config file, then environment
// overrides and finally the --backend and --no-storage flags. Errors are
// returned, printed once by Execute and mapped to an exit code by ExitCode.
package cli
