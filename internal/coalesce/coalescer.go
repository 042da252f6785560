// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coalesce batches streamed text before it is committed to the
// visible message, bounding how often the message changes.
package coalesce

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// =============================================================================
// TARGET
// =============================================================================

// Target receives flushed text. Append is called with non-empty text in
// arrival order; Seal is called once, after the last Append.
type Target interface {
	Append(text string)
	Seal(fallback string)
}

// =============================================================================
// CONFIG
// =============================================================================

// DefaultFallbackNotice replaces an answer that ended up empty.
const DefaultFallbackNotice = "Sorry, no answer was received. Please try again."

// Config holds the flush thresholds.
type Config struct {
	SizeThreshold       int           // buffered characters that force a flush
	FlushDelay          time.Duration // max age of buffered text
	MaxFlushesPerSecond int
	FallbackNotice      string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		SizeThreshold:       30,
		FlushDelay:          100 * time.Millisecond,
		MaxFlushesPerSecond: 8,
		FallbackNotice:      DefaultFallbackNotice,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.SizeThreshold <= 0 {
		c.SizeThreshold = d.SizeThreshold
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = d.FlushDelay
	}
	if c.MaxFlushesPerSecond <= 0 {
		c.MaxFlushesPerSecond = d.MaxFlushesPerSecond
	}
	if c.FallbackNotice == "" {
		c.FallbackNotice = d.FallbackNotice
	}
}

// =============================================================================
// COALESCER
// =============================================================================

// Coalescer buffers fragments and flushes them to a Target.
//
// Text is flushed when the buffer reaches SizeThreshold characters or has
// waited FlushDelay, but never more than MaxFlushesPerSecond times a second;
// excess text stays buffered until a later Tick. Finalize flushes
// unconditionally and seals the target.
//
// All flush paths go through one locked primitive, so a fragment is appended
// exactly once. The Target is called with the coalescer's lock held.
type Coalescer struct {
	mu     sync.Mutex
	cfg    Config
	target Target
	now    func() time.Time

	buffer  strings.Builder
	pending int // runes in buffer

	lastFlush time.Time
	recent    []time.Time // capped flushes within the last second
	flushes   int
	sealed    bool
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coalescer writing to target.
func New(target Target, cfg Config, opts ...Option) *Coalescer {
	cfg.setDefaults()
	c := &Coalescer{
		cfg:    cfg,
		target: target,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastFlush = c.now()
	return c
}

// Accept buffers a fragment and flushes inline if a threshold is met.
// It reports whether a flush happened. Fragments after Finalize are dropped.
func (c *Coalescer) Accept(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed || text == "" {
		return false
	}
	c.buffer.WriteString(text)
	c.pending += utf8.RuneCountInString(text)

	now := c.now()
	if c.shouldFlushLocked(now) {
		return c.flushLocked(now, false)
	}
	return false
}

// Tick is the timer path: it flushes if a threshold is met.
func (c *Coalescer) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return false
	}
	now := c.now()
	if c.shouldFlushLocked(now) {
		return c.flushLocked(now, false)
	}
	return false
}

// Finalize flushes everything left, ignoring thresholds and the rate cap,
// then seals the target. Later calls do nothing.
func (c *Coalescer) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return
	}
	c.flushLocked(c.now(), true)
	c.sealed = true
	c.target.Seal(c.cfg.FallbackNotice)
}

// Pending returns the number of buffered characters.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Flushes returns the number of flushes so far.
func (c *Coalescer) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Sealed reports whether Finalize has run.
func (c *Coalescer) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// TickInterval is how often the owner should call Tick.
func (c *Coalescer) TickInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval := time.Second / time.Duration(c.cfg.MaxFlushesPerSecond)
	if c.cfg.FlushDelay < interval {
		interval = c.cfg.FlushDelay
	}
	return interval
}

// SetConfig applies new thresholds to the buffer in flight.
func (c *Coalescer) SetConfig(cfg Config) {
	cfg.setDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// shouldFlushLocked checks size and age. Caller must hold c.mu.
func (c *Coalescer) shouldFlushLocked(now time.Time) bool {
	if c.buffer.Len() == 0 {
		return false
	}
	if c.pending >= c.cfg.SizeThreshold {
		return true
	}
	return now.Sub(c.lastFlush) >= c.cfg.FlushDelay
}

// flushLocked appends the buffer to the target and clears it as one step.
// Unless force is set, the per-second cap applies. Caller must hold c.mu.
func (c *Coalescer) flushLocked(now time.Time, force bool) bool {
	if c.buffer.Len() == 0 {
		return false
	}

	c.pruneRecentLocked(now)
	if !force && len(c.recent) >= c.cfg.MaxFlushesPerSecond {
		return false
	}

	content := c.buffer.String()
	c.buffer.Reset()
	c.pending = 0

	c.target.Append(content)

	c.lastFlush = now
	c.recent = append(c.recent, now)
	c.flushes++
	return true
}

// pruneRecentLocked drops flush times older than one second, so the cap
// holds over any one-second span. Caller must hold c.mu.
func (c *Coalescer) pruneRecentLocked(now time.Time) {
	i := 0
	for i < len(c.recent) && now.Sub(c.recent[i]) >= time.Second {
		i++
	}
	if i > 0 {
		c.recent = append(c.recent[:0], c.recent[i:]...)
	}
}
