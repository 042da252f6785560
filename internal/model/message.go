// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// FEEDBACK
// =============================================================================

// Feedback records the user's rating of an assistant message.
type Feedback struct {
	Given    bool `json:"given"`
	Positive bool `json:"positive"`
	// SyncFailed is set when the rating could not be delivered to the backend.
	// The local rating is kept regardless.
	SyncFailed bool `json:"sync_failed,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Content is append-only while Open is true. Once a newer exchange starts the
// message is never mutated again, except for its Feedback.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Open is true while the assistant message is still receiving text.
	Open bool `json:"-"`

	Feedback *Feedback `json:"feedback,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty, open assistant message.
func NewAssistantMessage() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.Open = true
	return msg
}

// Append adds text to an open message. Closed messages are left untouched.
func (m *Message) Append(text string) bool {
	if !m.Open || text == "" {
		return false
	}
	m.Content += text
	return true
}

// Close marks the message as complete.
func (m *Message) Close() {
	m.Open = false
}

// IsEmpty returns true if the message has no content at all. Whitespace
// received from the backend counts as content.
func (m *Message) IsEmpty() bool {
	return m.Content == ""
}

// Clone returns a deep copy safe to hand to readers.
func (m *Message) Clone() *Message {
	c := *m
	if m.Feedback != nil {
		fb := *m.Feedback
		c.Feedback = &fb
	}
	return &c
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if maxLen < 4 || len(runes) <= maxLen {
		return m.Content
	}
	return string(runes[:maxLen-3]) + "..."
}
