// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security guards what the user sends.
//
// # Package Organization
//
//   - sanitize.go: input sanitization and length validation run before
//     every send (NFC normalization, control characters, script-like
//     markup)
//   - monitor.go: ActivityMonitor, an in-memory activity log that detects
//     bursts, repeats and injection-like content and raises a time-boxed
//     lockout after repeated detections
//   - lockout.go: LockoutStore, the HMAC-signed file that lets a lockout
//     survive restarts
//
// Detections and rejections are logged at WARN with a reason field and, when
// an EventSink is configured, recorded in the local database.
package security
