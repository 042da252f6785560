// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

func TestMessageAppendOnlyWhileOpen(t *testing.T) {
	msg := NewAssistantMessage()

	if !msg.Append("Hello") {
		t.Fatal("expected append on open message to succeed")
	}
	msg.Close()
	if msg.Append(" world") {
		t.Error("append on closed message should be rejected")
	}
	if msg.Content != "Hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "Hello")
	}
}

func TestWhitespaceIsContent(t *testing.T) {
	msg := NewAssistantMessage()
	if !msg.IsEmpty() {
		t.Error("new assistant message should be empty")
	}
	msg.Append("  ")
	if msg.IsEmpty() {
		t.Error("whitespace-only content should not count as empty")
	}
}

func TestConversationRemoveKeepsIndex(t *testing.T) {
	conv := NewConversation()
	u := NewUserMessage("hi")
	a := NewAssistantMessage()
	u2 := NewUserMessage("again")
	conv.Append(u)
	conv.Append(a)
	conv.Append(u2)

	if !conv.Remove(a.ID) {
		t.Fatal("Remove returned false")
	}
	if conv.Get(a.ID) != nil {
		t.Error("removed message still reachable")
	}
	if got := conv.Get(u2.ID); got == nil || got.Content != "again" {
		t.Errorf("Get(u2) = %v after removal", got)
	}
	if conv.Len() != 2 {
		t.Errorf("Len = %d, want 2", conv.Len())
	}
}

func TestConversationLastAssistant(t *testing.T) {
	conv := NewConversation()
	if conv.LastAssistant() != nil {
		t.Fatal("expected nil on empty conversation")
	}
	a1 := NewAssistantMessage()
	conv.Append(NewUserMessage("one"))
	conv.Append(a1)
	conv.Append(NewUserMessage("two"))

	if got := conv.LastAssistant(); got == nil || got.ID != a1.ID {
		t.Errorf("LastAssistant = %v, want %s", got, a1.ID)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	conv := NewConversation()
	a := NewAssistantMessage()
	a.Feedback = &Feedback{Given: true}
	conv.Append(a)

	snap := conv.Snapshot()
	snap[0].Content = "mutated"
	snap[0].Feedback.Positive = true

	if a.Content != "" || a.Feedback.Positive {
		t.Error("snapshot mutation leaked into conversation")
	}
}

func TestConversationPrunesInPairs(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < MaxMessages/2+3; i++ {
		conv.Append(NewUserMessage("q"))
		conv.Append(NewAssistantMessage())
	}
	if conv.Len() > MaxMessages {
		t.Errorf("Len = %d, exceeds MaxMessages", conv.Len())
	}
	if first := conv.Snapshot()[0]; first.Role != RoleUser {
		t.Errorf("first message role = %s, want user", first.Role)
	}
}

func TestExchangeStateClone(t *testing.T) {
	id := int64(42)
	s := ExchangeState{IsSending: true, CurrentInteractionID: &id}
	c := s.Clone()
	*c.CurrentInteractionID = 7
	if *s.CurrentInteractionID != 42 {
		t.Error("Clone shares interaction id pointer")
	}
	if !c.Busy() {
		t.Error("Busy() should be true while sending")
	}
}
