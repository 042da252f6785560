// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"math"
	"time"

	"github.com/jeranaias/streamchat/internal/coalesce"
	"github.com/jeranaias/streamchat/internal/security"
	"github.com/jeranaias/streamchat/internal/stream"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase is the controller's position in the exchange state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseAwaitingFirstFragment
	PhaseStreaming
	PhaseCompleted
	PhaseRetrying
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingFirstFragment:
		return "awaiting-first-fragment"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the controller's limits and timings.
type Config struct {
	MinLength int
	MaxLength int

	// WatchdogTimeout is how long to wait for the first fragment.
	WatchdogTimeout time.Duration
	// IdleTimeout ends a stream that goes quiet after content arrived.
	IdleTimeout time.Duration

	MaxRetries          int // retries outside cold start
	MaxColdStartRetries int // retries while cold start is active
	BackoffBase         time.Duration
	BackoffFactor       float64
	BackoffMax          time.Duration

	FeedbackRetries int
	FeedbackBackoff time.Duration

	FallbackThreshold int // unstructured fallback threshold of the parser
	Coalesce          coalesce.Config
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		MinLength:           security.MinMessageLength,
		MaxLength:           security.MaxMessageLength,
		WatchdogTimeout:     25 * time.Second,
		IdleTimeout:         60 * time.Second,
		MaxRetries:          3,
		MaxColdStartRetries: 10,
		BackoffBase:         time.Second,
		BackoffFactor:       2,
		BackoffMax:          10 * time.Second,
		FeedbackRetries:     2,
		FeedbackBackoff:     500 * time.Millisecond,
		FallbackThreshold:   stream.DefaultFallbackThreshold,
		Coalesce:            coalesce.DefaultConfig(),
	}
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.MinLength <= 0 {
		c.MinLength = d.MinLength
	}
	if c.MaxLength <= 0 {
		c.MaxLength = d.MaxLength
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = d.WatchdogTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxColdStartRetries < 0 {
		c.MaxColdStartRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.FeedbackRetries < 0 {
		c.FeedbackRetries = 0
	}
	if c.FeedbackBackoff <= 0 {
		c.FeedbackBackoff = d.FeedbackBackoff
	}
	if c.FallbackThreshold <= 0 {
		c.FallbackThreshold = d.FallbackThreshold
	}
}

// Backoff returns the delay before retry n (1-based):
// base * factor^(n-1), capped at BackoffMax.
func (c Config) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(c.BackoffBase) * math.Pow(c.BackoffFactor, float64(n-1))
	if d > float64(c.BackoffMax) {
		return c.BackoffMax
	}
	return time.Duration(d)
}
