// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// ACTIVITY EVENTS
// =============================================================================

// ActivityKind classifies a logged activity event.
type ActivityKind string

const (
	ActivitySubmission        ActivityKind = "submission"
	ActivityRejected          ActivityKind = "admission-rejected"
	ActivitySuspiciousContent ActivityKind = "suspicious-content"
	ActivityBurst             ActivityKind = "burst"
	ActivityRepeat            ActivityKind = "repeat"
	ActivityLockoutRaised     ActivityKind = "lockout-raised"
	ActivityLockoutExpired    ActivityKind = "lockout-expired"
	ActivityLockoutCleared    ActivityKind = "lockout-cleared"
	ActivityLockoutTampered   ActivityKind = "lockout-tampered"
)

// ActivityEvent is one entry of the activity log.
type ActivityEvent struct {
	At     time.Time    `json:"at"`
	Kind   ActivityKind `json:"kind"`
	Reason string       `json:"reason,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// EventSink receives a copy of every activity event, e.g. a database.
type EventSink interface {
	RecordEvent(ctx context.Context, ev ActivityEvent) error
}

// =============================================================================
// MONITOR CONFIG
// =============================================================================

// MonitorConfig holds the detection thresholds.
type MonitorConfig struct {
	LogSize         int
	BurstThreshold  int           // submissions allowed inside BurstWindow
	BurstWindow     time.Duration
	RepeatThreshold int           // identical submissions that count as a repeat
	RepeatWindow    time.Duration
	StrikeThreshold int           // detections inside StrikeWindow that raise a lockout
	StrikeWindow    time.Duration
	LockoutDuration time.Duration
	MaxRunLength    int // a single character repeated this often is suspicious
}

// DefaultMonitorConfig returns the default thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		LogSize:         200,
		BurstThreshold:  5,
		BurstWindow:     10 * time.Second,
		RepeatThreshold: 3,
		RepeatWindow:    60 * time.Second,
		StrikeThreshold: 3,
		StrikeWindow:    10 * time.Minute,
		LockoutDuration: 5 * time.Minute,
		MaxRunLength:    64,
	}
}

func (c *MonitorConfig) setDefaults() {
	d := DefaultMonitorConfig()
	if c.LogSize <= 0 {
		c.LogSize = d.LogSize
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = d.BurstThreshold
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = d.BurstWindow
	}
	if c.RepeatThreshold <= 0 {
		c.RepeatThreshold = d.RepeatThreshold
	}
	if c.RepeatWindow <= 0 {
		c.RepeatWindow = d.RepeatWindow
	}
	if c.StrikeThreshold <= 0 {
		c.StrikeThreshold = d.StrikeThreshold
	}
	if c.StrikeWindow <= 0 {
		c.StrikeWindow = d.StrikeWindow
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = d.LockoutDuration
	}
	if c.MaxRunLength <= 0 {
		c.MaxRunLength = d.MaxRunLength
	}
}

// =============================================================================
// CONTENT PATTERNS
// =============================================================================

type contentPattern struct {
	reason string
	re     *regexp.Regexp
}

var suspiciousPatterns = []contentPattern{
	{"script-injection", regexp.MustCompile(`(?i)<\s*script\b|\bjavascript\s*:|\bon(?:load|error|click|mouseover)\s*=`)},
	{"sql-injection", regexp.MustCompile(`(?i)\bunion\s+(?:all\s+)?select\b|\bdrop\s+table\b|;\s*delete\s+from\b|'\s*or\s+'?1'?\s*=\s*'?1`)},
	{"prompt-injection", regexp.MustCompile(`(?i)\bignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions\b|\breveal\s+(?:your|the)\s+system\s+prompt\b|\byou\s+are\s+now\s+in\s+developer\s+mode\b`)},
}

// =============================================================================
// ACTIVITY MONITOR
// =============================================================================

type submission struct {
	at  time.Time
	key string
}

// ActivityMonitor logs activity, detects suspicious submissions and raises a
// time-boxed lockout once enough detections pile up.
// It is safe for concurrent use.
type ActivityMonitor struct {
	mu sync.Mutex

	cfg    MonitorConfig
	store  *LockoutStore
	sink   EventSink
	logger *zap.Logger
	now    func() time.Time

	ring  []ActivityEvent
	next  int
	count int

	submissions []submission
	strikes     []time.Time
	lockout     LockoutState
}

// MonitorOption configures an ActivityMonitor.
type MonitorOption func(*ActivityMonitor)

// WithMonitorConfig sets the detection thresholds.
func WithMonitorConfig(cfg MonitorConfig) MonitorOption {
	return func(m *ActivityMonitor) {
		m.cfg = cfg
	}
}

// WithLockoutStore persists the lockout through store.
func WithLockoutStore(store *LockoutStore) MonitorOption {
	return func(m *ActivityMonitor) {
		m.store = store
	}
}

// WithEventSink mirrors every event to sink.
func WithEventSink(sink EventSink) MonitorOption {
	return func(m *ActivityMonitor) {
		m.sink = sink
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *zap.Logger) MonitorOption {
	return func(m *ActivityMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMonitorClock overrides the time source.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *ActivityMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewActivityMonitor creates a monitor and restores any persisted lockout.
func NewActivityMonitor(opts ...MonitorOption) *ActivityMonitor {
	m := &ActivityMonitor{
		cfg:    DefaultMonitorConfig(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg.setDefaults()
	m.ring = make([]ActivityEvent, m.cfg.LogSize)

	if m.store != nil {
		state, err := m.store.Load()
		switch {
		case errors.Is(err, ErrLockoutTampered):
			m.logger.Warn("lockout state failed verification, ignoring it",
				zap.String("path", m.store.Path()))
			m.emit(m.record(ActivityLockoutTampered, "integrity", m.store.Path()))
		case err != nil:
			m.logger.Warn("could not load lockout state", zap.Error(err))
		default:
			m.lockout = state
		}
	}
	return m
}

// ObserveSubmission logs a user submission and runs the content and rate
// detectors over it. It returns the reasons that fired, if any.
func (m *ActivityMonitor) ObserveSubmission(text string) []string {
	m.mu.Lock()

	now := m.now()
	var pending []ActivityEvent
	pending = append(pending, m.record(ActivitySubmission, "", util.TruncateWidth(util.SingleLine(text), 80)))

	var reasons []string
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(text) {
			reasons = append(reasons, p.reason)
			pending = append(pending, m.record(ActivitySuspiciousContent, p.reason, ""))
		}
	}
	if longestRun(text) >= m.cfg.MaxRunLength {
		reasons = append(reasons, "repeated-run")
		pending = append(pending, m.record(ActivitySuspiciousContent, "repeated-run", ""))
	}

	key := strings.ToLower(strings.Join(strings.Fields(text), " "))
	m.submissions = append(m.submissions, submission{at: now, key: key})
	m.pruneSubmissionsLocked(now)

	if n := m.countSinceLocked(now.Add(-m.cfg.BurstWindow), ""); n > m.cfg.BurstThreshold {
		reasons = append(reasons, "burst")
		pending = append(pending, m.record(ActivityBurst, "burst", ""))
	}
	if key != "" {
		if n := m.countSinceLocked(now.Add(-m.cfg.RepeatWindow), key); n >= m.cfg.RepeatThreshold {
			reasons = append(reasons, "repeat")
			pending = append(pending, m.record(ActivityRepeat, "repeat", ""))
		}
	}

	var raised *LockoutState
	if len(reasons) > 0 {
		for range reasons {
			m.strikes = append(m.strikes, now)
		}
		m.pruneStrikesLocked(now)
		if len(m.strikes) >= m.cfg.StrikeThreshold && !m.lockout.ActiveAt(now) {
			state := m.raiseLocked(m.cfg.LockoutDuration, strings.Join(reasons, ","))
			raised = &state
			pending = append(pending, m.record(ActivityLockoutRaised, state.Reason, state.Until.Format(time.RFC3339)))
		}
	}
	m.mu.Unlock()

	for _, r := range reasons {
		m.logger.Warn("security event", zap.String("kind", "detection"), zap.String("reason", r))
	}
	if raised != nil {
		m.persist(*raised)
		m.logger.Warn("security lockout raised",
			zap.String("reason", raised.Reason),
			zap.Time("until", raised.Until))
	}
	m.emit(pending...)
	return reasons
}

// RecordRejection logs an admission rejection.
func (m *ActivityMonitor) RecordRejection(reason, detail string) {
	m.mu.Lock()
	ev := m.record(ActivityRejected, reason, detail)
	m.mu.Unlock()

	m.logger.Warn("security event",
		zap.String("kind", string(ActivityRejected)),
		zap.String("reason", reason))
	m.emit(ev)
}

// IsLockoutActive reports whether a lockout is in force, expiring stale ones.
func (m *ActivityMonitor) IsLockoutActive() bool {
	m.mu.Lock()
	now := m.now()
	if m.lockout.ActiveAt(now) {
		m.mu.Unlock()
		return true
	}
	if !m.lockout.Active {
		m.mu.Unlock()
		return false
	}

	// Expired.
	m.lockout = LockoutState{}
	m.strikes = nil
	ev := m.record(ActivityLockoutExpired, "", "")
	m.mu.Unlock()

	m.logger.Info("security lockout expired")
	m.persist(LockoutState{})
	m.emit(ev)
	return false
}

// Lockout returns the current lockout state.
func (m *ActivityMonitor) Lockout() LockoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockout
}

// RaiseLockout starts a lockout of duration d.
func (m *ActivityMonitor) RaiseLockout(d time.Duration, reason string) error {
	if d <= 0 {
		d = m.cfg.LockoutDuration
	}
	m.mu.Lock()
	state := m.raiseLocked(d, reason)
	ev := m.record(ActivityLockoutRaised, reason, state.Until.Format(time.RFC3339))
	m.mu.Unlock()

	m.logger.Warn("security lockout raised", zap.String("reason", reason), zap.Duration("duration", d))
	m.emit(ev)
	return m.saveState(state)
}

// ClearLockout lifts any lockout and forgets accumulated strikes.
func (m *ActivityMonitor) ClearLockout() error {
	m.mu.Lock()
	m.lockout = LockoutState{}
	m.strikes = nil
	ev := m.record(ActivityLockoutCleared, "manual", "")
	m.mu.Unlock()

	m.logger.Info("security lockout cleared")
	m.emit(ev)
	return m.saveState(LockoutState{})
}

// Events returns the in-memory log, oldest first.
func (m *ActivityMonitor) Events() []ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActivityEvent, 0, m.count)
	start := (m.next - m.count + len(m.ring)) % len(m.ring)
	for i := 0; i < m.count; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	return out
}

// Strikes returns the number of detections currently counting toward a lockout.
func (m *ActivityMonitor) Strikes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneStrikesLocked(m.now())
	return len(m.strikes)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (m *ActivityMonitor) raiseLocked(d time.Duration, reason string) LockoutState {
	m.lockout = LockoutState{Active: true, Until: m.now().Add(d), Reason: reason}
	m.strikes = nil
	return m.lockout
}

// record appends to the ring and returns the event for the sink.
// Caller must hold m.mu.
func (m *ActivityMonitor) record(kind ActivityKind, reason, detail string) ActivityEvent {
	ev := ActivityEvent{At: m.now(), Kind: kind, Reason: reason, Detail: detail}
	m.ring[m.next] = ev
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return ev
}

func (m *ActivityMonitor) emit(evs ...ActivityEvent) {
	if m.sink == nil {
		return
	}
	for _, ev := range evs {
		if err := m.sink.RecordEvent(context.Background(), ev); err != nil {
			m.logger.Warn("failed to record activity event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}
}

func (m *ActivityMonitor) persist(state LockoutState) {
	if err := m.saveState(state); err != nil {
		m.logger.Error("failed to persist lockout state", zap.Error(err))
	}
}

func (m *ActivityMonitor) saveState(state LockoutState) error {
	if m.store == nil {
		return nil
	}
	return m.store.Save(state)
}

func (m *ActivityMonitor) pruneSubmissionsLocked(now time.Time) {
	horizon := m.cfg.BurstWindow
	if m.cfg.RepeatWindow > horizon {
		horizon = m.cfg.RepeatWindow
	}
	cutoff := now.Add(-horizon)
	i := 0
	for i < len(m.submissions) && m.submissions[i].at.Before(cutoff) {
		i++
	}
	m.submissions = m.submissions[i:]
}

// countSinceLocked counts submissions at or after since, restricted to key
// when key is non-empty.
func (m *ActivityMonitor) countSinceLocked(since time.Time, key string) int {
	n := 0
	for _, s := range m.submissions {
		if s.at.Before(since) {
			continue
		}
		if key == "" || s.key == key {
			n++
		}
	}
	return n
}

func (m *ActivityMonitor) pruneStrikesLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.StrikeWindow)
	i := 0
	for i < len(m.strikes) && m.strikes[i].Before(cutoff) {
		i++
	}
	m.strikes = m.strikes[i:]
}

// longestRun returns the length of the longest run of one repeated
// non-space rune.
func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev && r != ' ' {
			cur++
		} else {
			cur = 1
		}
		prev = r
		if cur > best {
			best = cur
		}
	}
	return best
}
