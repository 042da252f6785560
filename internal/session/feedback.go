// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/model"
)

// SubmitFeedback rates the last assistant message.
//
// The rating is recorded locally right away. It is sent to the backend only
// when the last exchange produced an interaction id; the id is consumed by
// this call whatever happens. Feedback is non-critical: a missing id or a
// failed delivery marks the message as SyncFailed and still returns nil.
func (c *Controller) SubmitFeedback(ctx context.Context, positive bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	msg := c.conv.LastAssistant()
	if msg == nil {
		c.mu.Unlock()
		return nil
	}

	id := c.state.CurrentInteractionID
	c.state.CurrentInteractionID = nil

	msg.Feedback = &model.Feedback{Given: true, Positive: positive}
	if id == nil || *id <= 0 {
		msg.Feedback.SyncFailed = true
	}
	msgID := msg.ID
	fb := *msg.Feedback
	cfg := c.cfg
	c.mu.Unlock()
	c.notify()

	if fb.SyncFailed {
		c.log.Info("feedback kept locally, no interaction id", zap.String("message_id", msgID))
		c.persistFeedback(msgID, fb)
		return nil
	}

	if err := c.sendFeedback(ctx, cfg, *id, positive); err != nil {
		c.log.Warn("feedback delivery failed",
			zap.Int64("interaction_id", *id),
			zap.Error(err))
		c.mu.Lock()
		if m := c.conv.Get(msgID); m != nil && m.Feedback != nil {
			m.Feedback.SyncFailed = true
			fb = *m.Feedback
		}
		c.mu.Unlock()
		c.notify()
	}
	c.persistFeedback(msgID, fb)
	return nil
}

// sendFeedback delivers a rating with up to cfg.FeedbackRetries retries on
// retryable failures.
func (c *Controller) sendFeedback(ctx context.Context, cfg Config, id int64, positive bool) error {
	var err error
	for attempt := 0; attempt <= cfg.FeedbackRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.FeedbackBackoff * time.Duration(1<<uint(attempt-1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		_, err = c.deps.Transport.SubmitFeedback(ctx, id, positive)
		if err == nil || !chaterr.Retryable(err) {
			return err
		}
		c.log.Debug("feedback attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

func (c *Controller) persistFeedback(messageID string, fb model.Feedback) {
	if c.deps.Transcript == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Transcript.UpdateFeedback(ctx, messageID, fb); err != nil {
		c.log.Warn("failed to save feedback", zap.Error(err))
	}
}
