// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// MESSAGES
// =============================================================================

// StateChangedMsg tells the screen the session changed and must be redrawn.
type StateChangedMsg struct{}

// submitResultMsg carries the synchronous outcome of a Submit call.
type submitResultMsg struct {
	err error
}

// feedbackResultMsg carries the outcome of a feedback submission.
type feedbackResultMsg struct {
	positive bool
	err      error
}

// noticeExpiredMsg clears the notice with the given id, if still shown.
type noticeExpiredMsg struct {
	id int
}

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier forwards session change callbacks to a running program. Bursts
// collapse into one StateChangedMsg, and Notify never blocks, so it is safe
// to register with the session controller.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify records that something changed.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Run delivers StateChangedMsg through send until ctx is done.
func (n *Notifier) Run(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.ch:
			send(StateChangedMsg{})
		}
	}
}
