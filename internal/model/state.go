// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// ExchangeState describes the single exchange that may be open at a time.
//
// OpenAssistantMessageID references an existing assistant message whenever
// IsSending or IsStreaming is true.
type ExchangeState struct {
	IsSending   bool
	IsStreaming bool
	IsColdStart bool

	// Err holds the last user-visible error, if any.
	Err error

	// CurrentInteractionID is set by a completion event and cleared after
	// one feedback submission attempt.
	CurrentInteractionID *int64

	OpenAssistantMessageID string
}

// Busy reports whether an exchange is in flight.
func (s ExchangeState) Busy() bool {
	return s.IsSending || s.IsStreaming
}

// Clone copies the state, including the interaction id pointer target.
func (s ExchangeState) Clone() ExchangeState {
	c := s
	if s.CurrentInteractionID != nil {
		id := *s.CurrentInteractionID
		c.CurrentInteractionID = &id
	}
	return c
}
