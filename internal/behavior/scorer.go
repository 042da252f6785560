// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package behavior passively scores how human the current user's input looks.
//
// The Scorer is fed raw input events (pointer movement, key presses, focus
// changes, scrolling) and keeps a bounded score in [0,100]. It never blocks
// anything itself; the admission gate reads the score.
package behavior

import (
	"math"
	"sync"
	"time"
)

// =============================================================================
// INPUT EVENTS
// =============================================================================

// EventKind identifies a raw input signal.
type EventKind int

const (
	PointerMove EventKind = iota
	Click
	Key
	Focus
	Blur
	Scroll
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case PointerMove:
		return "pointer-move"
	case Click:
		return "click"
	case Key:
		return "key"
	case Focus:
		return "focus"
	case Blur:
		return "blur"
	case Scroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// InputEvent is a single raw input signal.
type InputEvent struct {
	Kind EventKind
	At   time.Time
}

// =============================================================================
// SAMPLE
// =============================================================================

// Scoring constants.
const (
	MinScore     = 0
	MaxScore     = 100
	NeutralScore = 50

	// Gaps longer than this are pauses, not typing cadence.
	maxCadenceGap = 2 * time.Second

	// Cadence statistics need this many gaps before they count.
	minCadenceSamples = 6
)

// Sample holds the accumulated counters and the derived score.
type Sample struct {
	PointerMoves int
	Clicks       int
	Keys         int
	Focuses      int
	Blurs        int
	Scrolls      int

	// Inter-key gap statistics (Welford running mean/variance, milliseconds).
	GapCount int
	GapMean  float64
	gapM2    float64

	LastEvent time.Time
	Score     int
}

// GapStdDev returns the standard deviation of inter-key gaps in ms.
func (s Sample) GapStdDev() float64 {
	if s.GapCount < 2 {
		return 0
	}
	return math.Sqrt(s.gapM2 / float64(s.GapCount-1))
}

// =============================================================================
// SCORER
// =============================================================================

// Scorer accumulates input signals into a humanness score.
// It is safe for concurrent use.
type Scorer struct {
	mu      sync.Mutex
	sample  Sample
	lastKey time.Time
}

// NewScorer creates a scorer at the neutral score.
func NewScorer() *Scorer {
	return &Scorer{sample: Sample{Score: NeutralScore}}
}

// Record ingests one input event and re-derives the score.
func (s *Scorer) Record(ev InputEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case PointerMove:
		s.sample.PointerMoves++
	case Click:
		s.sample.Clicks++
	case Key:
		s.sample.Keys++
		if !s.lastKey.IsZero() {
			gap := ev.At.Sub(s.lastKey)
			if gap >= 0 && gap <= maxCadenceGap {
				s.addGapLocked(float64(gap) / float64(time.Millisecond))
			}
		}
		s.lastKey = ev.At
	case Focus:
		s.sample.Focuses++
	case Blur:
		s.sample.Blurs++
	case Scroll:
		s.sample.Scrolls++
	}
	s.sample.LastEvent = ev.At
	s.sample.Score = derive(s.sample)
}

// Score returns the current score.
func (s *Scorer) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample.Score
}

// Sample returns a copy of the accumulated counters.
func (s *Scorer) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample
}

// Reset returns the scorer to the neutral state.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = Sample{Score: NeutralScore}
	s.lastKey = time.Time{}
}

func (s *Scorer) addGapLocked(ms float64) {
	s.sample.GapCount++
	delta := ms - s.sample.GapMean
	s.sample.GapMean += delta / float64(s.sample.GapCount)
	s.sample.gapM2 += delta * (ms - s.sample.GapMean)
}

// derive computes the score from counters. Every term is bounded so the
// result stays in [MinScore, MaxScore] whatever the event sequence.
func derive(s Sample) int {
	score := float64(NeutralScore)

	score += math.Min(float64(s.PointerMoves)/10, 15)
	score += math.Min(float64(s.Clicks)*2, 6)
	score += math.Min(float64(s.Keys)/5, 12)
	score += math.Min(float64(s.Scrolls)/3, 5)
	if s.Focuses > 0 || s.Blurs > 0 {
		score += 4
	}

	if s.GapCount >= minCadenceSamples {
		switch {
		case s.GapMean < 15:
			// Faster than any human typist.
			score -= 45
		case s.GapMean > 0 && s.GapStdDev()/s.GapMean < 0.05:
			// Metronomic cadence.
			score -= 35
		case s.GapStdDev()/s.GapMean > 0.25:
			score += 8
		}
	}

	// Lots of typing with no other signal at all.
	if s.Keys > 40 && s.PointerMoves == 0 && s.Clicks == 0 && s.Scrolls == 0 && s.Focuses == 0 {
		score -= 10
	}

	return clamp(int(math.Round(score)), MinScore, MaxScore)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
