// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the full-screen Bubble Tea chat screen.
//
// The screen is a thin view over a session controller: it submits text,
// sends feedback and redraws from the controller's snapshot whenever a
// StateChangedMsg arrives. Every key, mouse, focus and blur event is
// forwarded to a Recorder before it is handled, which is where the
// behavioral scorer gets its input.
package chat
