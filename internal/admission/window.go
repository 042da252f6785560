// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package admission

import "time"

// RateWindow holds the timestamps of recent admitted sends, oldest first,
// pruned to a fixed horizon. It is not safe for concurrent use.
type RateWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

// NewRateWindow creates a window with the given horizon.
func NewRateWindow(horizon time.Duration) *RateWindow {
	return &RateWindow{horizon: horizon}
}

// Record adds a send at t.
func (w *RateWindow) Record(t time.Time) {
	w.prune(t)
	w.stamps = append(w.stamps, t)
}

// Count returns the number of sends inside the horizon ending at now.
func (w *RateWindow) Count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

// Oldest returns the oldest retained timestamp, or the zero time.
func (w *RateWindow) Oldest() time.Time {
	if len(w.stamps) == 0 {
		return time.Time{}
	}
	return w.stamps[0]
}

// SetHorizon changes the horizon.
func (w *RateWindow) SetHorizon(h time.Duration) {
	w.horizon = h
}

func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
