// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across streamchat packages.
//
//   - AtomicWriteFile: crash-safe file replacement used for persisted lockout state
//   - TruncateWidth / PadRight: display-width aware string fitting for the UI
//   - SingleLine: whitespace collapsing for one-line previews and log fields
package util
