// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coalesce

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

// messageTarget mimics an open assistant message.
type messageTarget struct {
	mu      sync.Mutex
	content strings.Builder
	appends int
	sealed  bool
}

func (m *messageTarget) Append(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		panic("append after seal")
	}
	m.content.WriteString(text)
	m.appends++
}

func (m *messageTarget) Seal(fallback string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.content.Len() == 0 {
		m.content.WriteString(fallback)
	}
	m.sealed = true
}

func (m *messageTarget) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content.String()
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time           { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoalescer(cfg Config) (*Coalescer, *messageTarget, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	target := &messageTarget{}
	return New(target, cfg, WithClock(clock.now)), target, clock
}

func TestSizeThresholdFlushesInline(t *testing.T) {
	c, target, _ := newTestCoalescer(DefaultConfig())

	if c.Accept("short") {
		t.Error("Expected no flush below size threshold")
	}
	if target.String() != "" {
		t.Errorf("Expected nothing committed yet, got %q", target.String())
	}

	if !c.Accept(strings.Repeat("x", 30)) {
		t.Error("Expected inline flush once size threshold is reached")
	}
	if got, want := target.String(), "short"+strings.Repeat("x", 30); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if c.Pending() != 0 {
		t.Errorf("Expected empty buffer after flush, got %d pending", c.Pending())
	}
}

func TestSizeCountsCharactersNotBytes(t *testing.T) {
	c, _, _ := newTestCoalescer(DefaultConfig())

	// 10 runes, 30 bytes.
	if c.Accept(strings.Repeat("日", 10)) {
		t.Error("Expected multibyte text below 30 characters to stay buffered")
	}
	if c.Pending() != 10 {
		t.Errorf("Expected 10 pending characters, got %d", c.Pending())
	}
}

func TestDelayFlushesOnTick(t *testing.T) {
	c, target, clock := newTestCoalescer(DefaultConfig())

	c.Accept("hi")
	if c.Tick() {
		t.Error("Expected no flush before the delay elapsed")
	}

	clock.advance(100 * time.Millisecond)
	if !c.Tick() {
		t.Error("Expected flush once the delay elapsed")
	}
	if target.String() != "hi" {
		t.Errorf("Expected %q, got %q", "hi", target.String())
	}
	if c.Tick() {
		t.Error("Expected no flush with an empty buffer")
	}
}

func TestFlushRateIsCapped(t *testing.T) {
	c, target, clock := newTestCoalescer(DefaultConfig())

	big := strings.Repeat("y", 40)
	for i := 0; i < 20; i++ {
		c.Accept(big)
		clock.advance(10 * time.Millisecond)
	}

	if c.Flushes() != 8 {
		t.Errorf("Expected 8 flushes within one second, got %d", c.Flushes())
	}
	if c.Pending() == 0 {
		t.Error("Expected excess text to stay buffered")
	}

	clock.advance(time.Second)
	if !c.Tick() {
		t.Error("Expected flush in the next second")
	}
	if got := len(target.String()); got != 20*40 {
		t.Errorf("Expected %d characters committed, got %d", 20*40, got)
	}
}

func TestFlushRateCapHoldsAcrossSecondBoundary(t *testing.T) {
	c, target, clock := newTestCoalescer(DefaultConfig())

	chunk := strings.Repeat("z", 30)
	clock.advance(990 * time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Accept(chunk)
	}
	clock.advance(15 * time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Accept(chunk)
	}

	if c.Flushes() != 8 {
		t.Errorf("Expected 8 flushes within 15ms, got %d", c.Flushes())
	}

	clock.advance(time.Second)
	if !c.Tick() {
		t.Error("Expected flush once the earlier flushes left the one-second span")
	}
	if got := len(target.String()); got != 20*30 {
		t.Errorf("Expected %d characters committed, got %d", 20*30, got)
	}
}

func TestFinalizeFlushesAndSeals(t *testing.T) {
	c, target, _ := newTestCoalescer(DefaultConfig())

	c.Accept("tail")
	c.Finalize()

	if target.String() != "tail" {
		t.Errorf("Expected residual text committed, got %q", target.String())
	}
	if !target.sealed || !c.Sealed() {
		t.Error("Expected target sealed")
	}
	if c.Accept("late") {
		t.Error("Expected fragments after finalize to be dropped")
	}
	c.Finalize()
	if target.String() != "tail" {
		t.Errorf("Expected content unchanged after second finalize, got %q", target.String())
	}
}

func TestFinalizeEmptyUsesFallback(t *testing.T) {
	c, target, _ := newTestCoalescer(Config{FallbackNotice: "nothing came back"})
	c.Finalize()

	if target.String() != "nothing came back" {
		t.Errorf("Expected fallback notice, got %q", target.String())
	}
}

func TestFinalizeIgnoresRateCap(t *testing.T) {
	c, target, _ := newTestCoalescer(Config{MaxFlushesPerSecond: 1})

	c.Accept(strings.Repeat("a", 30))
	c.Accept(strings.Repeat("b", 30))
	if c.Flushes() != 1 {
		t.Fatalf("Expected the cap to hold the second flush, got %d flushes", c.Flushes())
	}
	c.Finalize()
	if got := target.String(); got != strings.Repeat("a", 30)+strings.Repeat("b", 30) {
		t.Errorf("Expected all text after finalize, got %q", got)
	}
}

// TestConcatenationPreserved checks that no flush schedule drops, duplicates
// or reorders text.
func TestConcatenationPreserved(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghij klmnopqrstuvwxyzÀéü日本語😀\n")

	for run := 0; run < 200; run++ {
		cfg := Config{
			SizeThreshold:       1 + rng.Intn(60),
			FlushDelay:          time.Duration(1+rng.Intn(150)) * time.Millisecond,
			MaxFlushesPerSecond: 1 + rng.Intn(10),
		}
		c, target, clock := newTestCoalescer(cfg)

		var want strings.Builder
		n := rng.Intn(80)
		for i := 0; i < n; i++ {
			frag := make([]rune, rng.Intn(12))
			for j := range frag {
				frag[j] = alphabet[rng.Intn(len(alphabet))]
			}
			want.WriteString(string(frag))
			c.Accept(string(frag))

			clock.advance(time.Duration(rng.Intn(120)) * time.Millisecond)
			if rng.Intn(3) == 0 {
				c.Tick()
			}
		}
		c.Finalize()

		expected := want.String()
		if expected == "" {
			expected = DefaultFallbackNotice
		}
		if got := target.String(); got != expected {
			t.Fatalf("run %d: content mismatch\nwant %q\ngot  %q", run, expected, got)
		}
	}
}

func TestConcurrentAcceptAndTick(t *testing.T) {
	c, target, _ := newTestCoalescer(Config{SizeThreshold: 5, MaxFlushesPerSecond: 1000})

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				c.Tick()
			}
		}
	}()

	var want strings.Builder
	for i := 0; i < 500; i++ {
		want.WriteString("ab")
		c.Accept("ab")
	}
	close(done)
	wg.Wait()
	c.Finalize()

	if target.String() != want.String() {
		t.Errorf("Expected %d characters, got %d", want.Len(), len(target.String()))
	}
}

func TestTickInterval(t *testing.T) {
	c, _, _ := newTestCoalescer(DefaultConfig())
	if got := c.TickInterval(); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", got)
	}

	c.SetConfig(Config{FlushDelay: 500 * time.Millisecond, MaxFlushesPerSecond: 4})
	if got := c.TickInterval(); got != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", got)
	}
}
