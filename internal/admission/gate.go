// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admission decides whether a user message may be sent at all.
//
// The Gate combines three checks in a fixed order: the behavior score, the
// security lockout, and the send rate. Only an admitted first attempt counts
// toward the rate; retries of an admitted message are re-checked for score and
// lockout only.
package admission

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/chaterr"
)

// =============================================================================
// REJECTION
// =============================================================================

// Reason explains a rejection.
type Reason string

const (
	ReasonLikelyBot Reason = "likely-bot"
	ReasonLockout   Reason = "security-lockout"
	ReasonThrottled Reason = "throttled"
)

// RejectedError is returned when the gate refuses a message.
type RejectedError struct {
	Reason     Reason
	RetryAfter time.Duration // zero unless throttled
}

func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("admission rejected: %s (retry in %s)", e.Reason, e.RetryAfter.Round(time.Millisecond))
	}
	return "admission rejected: " + string(e.Reason)
}

// Unwrap exposes the rejection as a chaterr AdmissionRejected error.
func (e *RejectedError) Unwrap() error {
	return chaterr.New(chaterr.KindAdmissionRejected, "admit", string(e.Reason))
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ScoreSource supplies the current humanness score.
type ScoreSource interface {
	Score() int
}

// Monitor supplies the lockout state and records rejections.
type Monitor interface {
	IsLockoutActive() bool
	RecordRejection(reason, detail string)
}

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the admission thresholds.
type Config struct {
	BotThreshold int           // scores below this are rejected
	MinInterval  time.Duration // minimum time between admitted sends
	Window       time.Duration // horizon of the rate window
	MaxPerWindow int           // admitted sends allowed inside Window
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		BotThreshold: 20,
		MinInterval:  800 * time.Millisecond,
		Window:       60 * time.Second,
		MaxPerWindow: 10,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.BotThreshold <= 0 {
		c.BotThreshold = d.BotThreshold
	}
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = d.MaxPerWindow
	}
}

// =============================================================================
// GATE
// =============================================================================

// Gate approves or rejects outgoing messages. It is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	scorer  ScoreSource
	monitor Monitor
	limiter *rate.Limiter
	window  *RateWindow
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gate. monitor may be nil, in which case no lockout applies.
func New(scorer ScoreSource, monitor Monitor, cfg Config, opts ...Option) *Gate {
	cfg.setDefaults()
	g := &Gate{
		cfg:     cfg,
		scorer:  scorer,
		monitor: monitor,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	g.window = NewRateWindow(cfg.Window)
	return g
}

// Admit checks a first attempt and, when admitted, records the send.
func (g *Gate) Admit(text string) error {
	g.mu.Lock()
	now := g.now()
	rej := g.checkLocked(now, true)
	if rej == nil {
		g.limiter.AllowN(now, 1)
		g.window.Record(now)
	}
	g.mu.Unlock()

	if rej != nil {
		g.reject(rej, len([]rune(text)))
		return rej
	}
	return nil
}

// Readmit re-checks an already admitted message before a retry attempt.
// The rate is neither checked nor recorded.
func (g *Gate) Readmit() error {
	g.mu.Lock()
	rej := g.checkLocked(g.now(), false)
	g.mu.Unlock()

	if rej != nil {
		g.reject(rej, 0)
		return rej
	}
	return nil
}

// RetryAfter reports how long a caller must wait before the rate allows
// another send.
func (g *Gate) RetryAfter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retryAfterLocked(g.now())
}

// SetConfig applies new thresholds, keeping the recorded sends.
func (g *Gate) SetConfig(cfg Config) {
	cfg.setDefaults()

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.cfg = cfg
	g.limiter.SetLimitAt(now, rate.Every(cfg.MinInterval))
	g.window.SetHorizon(cfg.Window)
}

// Config returns the active thresholds.
func (g *Gate) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// checkLocked runs the checks in order. Caller must hold g.mu.
func (g *Gate) checkLocked(now time.Time, withRate bool) *RejectedError {
	if g.scorer != nil && g.scorer.Score() < g.cfg.BotThreshold {
		return &RejectedError{Reason: ReasonLikelyBot}
	}
	if g.monitor != nil && g.monitor.IsLockoutActive() {
		return &RejectedError{Reason: ReasonLockout}
	}
	if !withRate {
		return nil
	}
	if g.limiter.TokensAt(now) < 1 || g.window.Count(now) >= g.cfg.MaxPerWindow {
		return &RejectedError{Reason: ReasonThrottled, RetryAfter: g.retryAfterLocked(now)}
	}
	return nil
}

func (g *Gate) retryAfterLocked(now time.Time) time.Duration {
	var wait time.Duration
	if tokens := g.limiter.TokensAt(now); tokens < 1 {
		wait = time.Duration((1 - tokens) * float64(g.cfg.MinInterval))
	}
	if g.window.Count(now) >= g.cfg.MaxPerWindow {
		if w := g.window.Oldest().Add(g.cfg.Window).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

func (g *Gate) reject(rej *RejectedError, length int) {
	g.logger.Warn("security event",
		zap.String("kind", "admission-rejected"),
		zap.String("reason", string(rej.Reason)),
		zap.Duration("retry_after", rej.RetryAfter))
	if g.monitor != nil {
		detail := ""
		if length > 0 {
			detail = fmt.Sprintf("length=%d", length)
		}
		g.monitor.RecordRejection(string(rej.Reason), detail)
	}
}
