// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/coalesce"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/stream"
)

// exchange is one submitted message and its retry bookkeeping.
type exchange struct {
	gen         uint64
	text        string
	userID      string
	assistantID string

	retries     int // retries outside cold start
	coldRetries int // retries while cold start is active
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeAbandoned
	outcomeRetry
	outcomeFatal
)

type streamItem struct {
	ev  stream.Event
	err error
}

// =============================================================================
// EXCHANGE LOOP
// =============================================================================

// run drives the exchange through attempts and retries until it completes,
// fails, gives up or is superseded.
func (c *Controller) run(ctx context.Context, ex *exchange) {
	defer c.wg.Done()

	first := true
	for {
		res, err := c.attempt(ctx, ex)
		switch res {
		case outcomeCompleted, outcomeAbandoned:
			return
		case outcomeFatal:
			c.fail(ex, err)
			return
		}

		if first {
			first = false
			c.checkColdStart(ctx, ex, err)
		}

		cfg := c.Config()
		cold := c.State().IsColdStart
		var n, limit int
		if cold {
			ex.coldRetries++
			n, limit = ex.coldRetries, cfg.MaxColdStartRetries
		} else {
			ex.retries++
			n, limit = ex.retries, cfg.MaxRetries
		}
		if n > limit {
			c.giveUp(ex, err)
			return
		}

		attemptNo := ex.retries + ex.coldRetries
		delay := cfg.Backoff(n)
		if !c.update(ex.gen, func() {
			c.phase = PhaseRetrying
			c.retry = attemptNo
		}) {
			return
		}
		c.log.Info("retrying exchange",
			zap.Uint64("generation", ex.gen),
			zap.Int("attempt", attemptNo),
			zap.Bool("cold_start", cold),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if c.deps.Gate != nil {
			if err := c.deps.Gate.Readmit(); err != nil {
				c.fail(ex, err)
				return
			}
		}
	}
}

// attempt sends the request once and consumes the response.
func (c *Controller) attempt(ctx context.Context, ex *exchange) (outcome, error) {
	cfg := c.Config()
	if !c.update(ex.gen, func() { c.phase = PhaseSending }) {
		return outcomeAbandoned, nil
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	items := make(chan streamItem)
	go c.readResponse(attemptCtx, ex.text, cfg, items)
	defer func() {
		cancel()
		for range items {
		}
	}()

	if !c.update(ex.gen, func() { c.phase = PhaseAwaitingFirstFragment }) {
		return outcomeAbandoned, nil
	}

	co := coalesce.New(&messageTarget{c: c, gen: ex.gen, id: ex.assistantID}, cfg.Coalesce)
	watchdog := time.NewTimer(cfg.WatchdogTimeout)
	defer watchdog.Stop()

	var tickC <-chan time.Time
	fragments := 0
	// Completion seen before the first Fragment. Dropped if none follows.
	var held *stream.Completion

	finish := func() (outcome, error) {
		co.Finalize()
		c.complete(ex)
		return outcomeCompleted, nil
	}

	for {
		select {
		case <-ctx.Done():
			return outcomeAbandoned, nil

		case <-watchdog.C:
			if fragments == 0 {
				return outcomeRetry, chaterr.New(chaterr.KindWatchdogTimeout, "chat",
					"no response within "+cfg.WatchdogTimeout.String())
			}
			c.log.Warn("stream went idle, keeping partial answer",
				zap.Uint64("generation", ex.gen), zap.Int("fragments", fragments))
			return finish()

		case <-tickC:
			co.Tick()

		case it, ok := <-items:
			if !ok {
				return finish()
			}
			if it.err != nil {
				if fragments > 0 {
					// Retrying would repeat text already shown.
					c.log.Warn("stream failed after content, keeping partial answer",
						zap.Uint64("generation", ex.gen), zap.Error(it.err))
					return finish()
				}
				if chaterr.Retryable(it.err) {
					return outcomeRetry, it.err
				}
				return outcomeFatal, it.err
			}

			switch ev := it.ev.(type) {
			case stream.Fragment:
				if fragments == 0 {
					c.startStreaming(ex)
					ticker := time.NewTicker(co.TickInterval())
					defer ticker.Stop()
					tickC = ticker.C
					if held != nil {
						c.setCompletion(ex, *held)
						held = nil
					}
				}
				fragments++
				co.Accept(ev.Text)
				resetTimer(watchdog, cfg.IdleTimeout)
			case stream.Completion:
				if fragments == 0 {
					held = &ev
					break
				}
				c.setCompletion(ex, ev)
				resetTimer(watchdog, cfg.IdleTimeout)
			case stream.Terminal:
			}
		}
	}
}

// readResponse performs the request and sends parsed events to items,
// closing it when done. A nil-error close means the stream ended cleanly.
func (c *Controller) readResponse(ctx context.Context, text string, cfg Config, items chan<- streamItem) {
	defer close(items)

	send := func(it streamItem) bool {
		select {
		case items <- it:
			return true
		case <-ctx.Done():
			return false
		}
	}

	resp, err := c.deps.Transport.ChatStream(ctx, text)
	if err != nil {
		send(streamItem{err: err})
		return
	}
	defer resp.Body.Close()

	r := stream.NewReader(resp.Body,
		stream.WithContentType(resp.ContentType),
		stream.WithFallbackThreshold(cfg.FallbackThreshold),
		stream.WithLogger(c.log))
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(streamItem{err: err})
			return
		}
		if !send(streamItem{ev: ev}) {
			return
		}
	}
}

// checkColdStart decides after a failed first attempt whether the backend is
// cold: nothing was received and nothing succeeded yet this session, and the
// backend either answers /health or simply did not answer in time.
func (c *Controller) checkColdStart(ctx context.Context, ex *exchange, cause error) {
	c.mu.Lock()
	eligible := !c.hadSuccess && ex.gen == c.generation
	c.mu.Unlock()
	if !eligible {
		return
	}

	cold := chaterr.KindOf(cause) == chaterr.KindWatchdogTimeout || chaterr.StatusOf(cause) >= 500
	if !cold {
		cold = c.deps.Transport.Health(ctx) == nil
	}
	if !cold {
		c.log.Info("backend unreachable", zap.Error(cause))
		return
	}

	c.update(ex.gen, func() { c.state.IsColdStart = true })
	c.log.Info("backend cold start detected", zap.Uint64("generation", ex.gen), zap.Error(cause))
}

// =============================================================================
// TERMINAL TRANSITIONS
// =============================================================================

func (c *Controller) startStreaming(ex *exchange) {
	c.update(ex.gen, func() {
		c.state.IsStreaming = true
		c.state.IsColdStart = false
		c.phase = PhaseStreaming
	})
}

func (c *Controller) setCompletion(ex *exchange, ev stream.Completion) {
	c.update(ex.gen, func() {
		id := ev.InteractionID
		c.state.CurrentInteractionID = &id
		c.state.IsColdStart = false
	})
	c.log.Debug("completion received",
		zap.Int64("interaction_id", ev.InteractionID),
		zap.Bool("generated_id", ev.GeneratedID),
		zap.Bool("synthesized", ev.Synthesized))
}

// complete closes a finished exchange. The coalescer has already sealed
// the assistant message.
func (c *Controller) complete(ex *exchange) {
	var saved []*model.Message
	ok := c.update(ex.gen, func() {
		c.state.IsSending = false
		c.state.IsStreaming = false
		c.state.IsColdStart = false
		c.state.OpenAssistantMessageID = ""
		c.phase = PhaseCompleted
		c.retry = 0
		c.cancel = nil
		c.hadSuccess = true
		for _, id := range []string{ex.userID, ex.assistantID} {
			if msg := c.conv.Get(id); msg != nil {
				saved = append(saved, msg.Clone())
			}
		}
	})
	if !ok {
		return
	}
	c.update(ex.gen, func() { c.phase = PhaseIdle })
	c.persist(saved...)
}

// giveUp abandons an exchange whose retries ran out. The empty assistant
// message is removed and no error is shown.
func (c *Controller) giveUp(ex *exchange, cause error) {
	if c.reset(ex, nil) {
		c.log.Warn("exchange abandoned after retries",
			zap.Uint64("generation", ex.gen),
			zap.Int("retries", ex.retries),
			zap.Int("cold_start_retries", ex.coldRetries),
			zap.Error(cause))
	}
}

// fail ends an exchange with a user-visible error, unless cold start is
// suppressing errors.
func (c *Controller) fail(ex *exchange, err error) {
	if c.State().IsColdStart {
		c.log.Warn("error suppressed during cold start", zap.Uint64("generation", ex.gen), zap.Error(err))
		c.giveUp(ex, err)
		return
	}
	if c.reset(ex, err) {
		c.log.Warn("exchange failed", zap.Uint64("generation", ex.gen), zap.Error(err))
	}
}

func (c *Controller) reset(ex *exchange, err error) bool {
	return c.update(ex.gen, func() {
		if msg := c.conv.Get(ex.assistantID); msg != nil && msg.IsEmpty() {
			c.conv.Remove(ex.assistantID)
		} else if msg != nil {
			msg.Close()
		}
		c.state.IsSending = false
		c.state.IsStreaming = false
		c.state.IsColdStart = false
		c.state.OpenAssistantMessageID = ""
		c.state.Err = err
		c.phase = PhaseIdle
		c.retry = 0
		c.cancel = nil
	})
}

// =============================================================================
// MESSAGE TARGET
// =============================================================================

// messageTarget applies coalescer flushes to the open assistant message of
// one generation. Flushes from a superseded generation are dropped.
type messageTarget struct {
	c   *Controller
	gen uint64
	id  string
}

func (t *messageTarget) Append(text string) {
	t.c.update(t.gen, func() {
		t.c.conv.AppendContent(t.id, text)
	})
}

func (t *messageTarget) Seal(fallback string) {
	t.c.update(t.gen, func() {
		msg := t.c.conv.Get(t.id)
		if msg == nil {
			return
		}
		if msg.IsEmpty() {
			msg.Content = fallback
		}
		msg.Close()
	})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
