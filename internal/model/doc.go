// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: ordered user/assistant message list of one chat session
//   - Message: single message with role, append-only content and feedback
//   - ExchangeState: flags of the exchange currently in flight
//   - Role: message role enumeration (user, assistant)
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserMessage("Olá"))
//	reply := model.NewAssistantMessage()
//	conv.Append(reply)
//	conv.AppendContent(reply.ID, "Olá, mundo")
package model
