// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a chat response body into an ordered sequence of
// semantic events, whatever shape the backend chose for it.
//
// Three shapes are recognized without negotiation: a single JSON document,
// a line stream of "data:" frames, and unstructured text. The Parser is a
// push parser fed with raw reads; the Reader pulls from an io.Reader and
// hands out one Event at a time.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is one of Fragment, Completion or Terminal.
type Event interface {
	isEvent()
}

// Fragment is a piece of assistant text.
type Fragment struct {
	Text string
}

// Completion carries end-of-answer metadata.
type Completion struct {
	InteractionID int64
	TokenUsage    *TokenUsage
	Temperature   *float64

	// GeneratedID is true when the backend sent no usable interaction id and
	// one was derived from the clock.
	GeneratedID bool

	// Synthesized is true when the stream ended without a completion frame.
	Synthesized bool
}

// Terminal is the explicit end-of-stream marker.
type Terminal struct{}

func (Fragment) isEvent()   {}
func (Completion) isEvent() {}
func (Terminal) isEvent()   {}

func (f Fragment) String() string { return fmt.Sprintf("Fragment(%q)", f.Text) }
func (c Completion) String() string {
	return fmt.Sprintf("Completion(id=%d, synthesized=%t)", c.InteractionID, c.Synthesized)
}
func (Terminal) String() string { return "Terminal" }

// =============================================================================
// TOKEN USAGE
// =============================================================================

// TokenUsage reports token counts for an answer.
type TokenUsage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
}

// UnmarshalJSON accepts either a bare number (the total) or an object.
func (u *TokenUsage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		type plain TokenUsage
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*u = TokenUsage(p)
		if u.Total == 0 {
			u.Total = u.Prompt + u.Completion
		}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("token_usage: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("token_usage: %w", err)
	}
	*u = TokenUsage{Total: int(f)}
	return nil
}

// =============================================================================
// WIRE PAYLOAD
// =============================================================================

// payload is the union of the JSON shapes the backend sends, both for whole
// responses and for individual "data:" frames.
type payload struct {
	Type string `json:"type"`

	Message  *string `json:"message"`
	Content  *string `json:"content"`
	Response *string `json:"response"`
	Answer   *string `json:"answer"`
	Text     *string `json:"text"`
	Delta    *string `json:"delta"`

	InteractionID    json.RawMessage `json:"interaction_id"`
	InteractionIDAlt json.RawMessage `json:"interactionId"`
	TokenUsage       *TokenUsage     `json:"token_usage"`
	Temperature      *float64        `json:"temperature"`

	Error json.RawMessage `json:"error"`
}

// wholeText returns the answer text of a whole-JSON response, in field
// precedence order.
func (p *payload) wholeText() (string, bool) {
	for _, f := range []*string{p.Message, p.Content, p.Response, p.Answer} {
		if f != nil {
			return *f, true
		}
	}
	return "", false
}

// frameText returns the text of a content frame.
func (p *payload) frameText() (string, bool) {
	for _, f := range []*string{p.Content, p.Text, p.Delta, p.Message, p.Response, p.Answer} {
		if f != nil {
			return *f, true
		}
	}
	return "", false
}

// interactionID returns a positive interaction id if the payload has one.
// Numbers and numeric strings are accepted.
func (p *payload) interactionID() (int64, bool) {
	raw := p.InteractionID
	if len(raw) == 0 || string(raw) == "null" {
		raw = p.InteractionIDAlt
	}
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return id, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f == float64(int64(f)) {
		return int64(f), true
	}
	return 0, false
}

func (p *payload) hasMetadata() bool {
	_, ok := p.interactionID()
	return ok || p.TokenUsage != nil || p.Temperature != nil
}
