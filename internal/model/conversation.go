// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages kept in memory.
// Older closed pairs are pruned once the limit is exceeded.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the ordered message list of a chat session.
//
// Messages alternate user -> assistant. Conversation is not safe for
// concurrent use; the session controller owns it and guards it with its lock.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	messages []*Message
	index    map[string]int
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		index:     make(map[string]int),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message at the end of the conversation.
func (c *Conversation) Append(msg *Message) {
	c.messages = append(c.messages, msg)
	c.index[msg.ID] = len(c.messages) - 1
	c.UpdatedAt = time.Now()
	c.prune()
}

// Get returns the message with the given ID, or nil.
func (c *Conversation) Get(id string) *Message {
	i, ok := c.index[id]
	if !ok {
		return nil
	}
	return c.messages[i]
}

// Remove deletes the message with the given ID.
func (c *Conversation) Remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	c.reindex()
	c.UpdatedAt = time.Now()
	return true
}

// AppendContent appends text to an open message. It returns false when the
// message does not exist or is already closed.
func (c *Conversation) AppendContent(id, text string) bool {
	msg := c.Get(id)
	if msg == nil {
		return false
	}
	if msg.Append(text) {
		c.UpdatedAt = time.Now()
		return true
	}
	return false
}

// LastAssistant returns the most recent assistant message, or nil.
func (c *Conversation) LastAssistant() *Message {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i]
		}
	}
	return nil
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Snapshot returns deep copies of all messages.
func (c *Conversation) Snapshot() []*Message {
	out := make([]*Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Load replaces the conversation content with previously stored messages.
// Loaded messages are always closed.
func (c *Conversation) Load(msgs []*Message) {
	c.messages = c.messages[:0]
	for _, m := range msgs {
		m.Open = false
		c.messages = append(c.messages, m)
	}
	c.reindex()
	c.prune()
}

// prune drops the oldest messages two at a time so pairs stay aligned.
func (c *Conversation) prune() {
	if len(c.messages) <= MaxMessages {
		return
	}
	excess := len(c.messages) - MaxMessages
	if excess%2 == 1 {
		excess++
	}
	c.messages = append([]*Message(nil), c.messages[excess:]...)
	c.reindex()
}

func (c *Conversation) reindex() {
	c.index = make(map[string]int, len(c.messages))
	for i, m := range c.messages {
		c.index[m.ID] = i
	}
}
