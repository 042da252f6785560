// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/security"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session: controller closed")

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Transport is the backend the controller talks to.
type Transport interface {
	ChatStream(ctx context.Context, prompt string) (*backend.StreamResponse, error)
	Health(ctx context.Context) error
	SubmitFeedback(ctx context.Context, interactionID int64, positive bool) (*backend.FeedbackResponse, error)
}

// Admitter decides whether a message may be sent.
type Admitter interface {
	Admit(text string) error
	Readmit() error
}

// Observer inspects every submission before validation.
type Observer interface {
	ObserveSubmission(text string) []string
}

// Transcript persists messages.
type Transcript interface {
	SaveMessages(ctx context.Context, msgs []*model.Message) error
	LoadMessages(ctx context.Context, limit int) ([]*model.Message, error)
	UpdateFeedback(ctx context.Context, messageID string, fb model.Feedback) error
}

// Deps are the controller's collaborators. Only Transport is required.
type Deps struct {
	Transport  Transport
	Gate       Admitter
	Monitor    Observer
	Transcript Transcript
	Logger     *zap.Logger
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns the conversation and runs one exchange at a time.
// All methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	cfg  Config
	deps Deps
	log  *zap.Logger

	conv  *model.Conversation
	state model.ExchangeState
	phase Phase
	retry int // attempt number while retrying

	generation uint64
	cancel     context.CancelFunc
	hadSuccess bool

	listeners []func()

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// New creates a controller.
func New(deps Deps, cfg Config) *Controller {
	cfg.SetDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger.Named("session"),
		conv:       model.NewConversation(),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// OnChange registers fn to be called after every visible state change.
// fn runs on the goroutine that made the change and must not block.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetConfig replaces the configuration. Running exchanges pick it up at
// their next attempt.
func (c *Controller) SetConfig(cfg Config) {
	cfg.SetDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Snapshot()
}

// State returns a copy of the exchange state.
func (c *Controller) State() model.ExchangeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Phase returns the current phase and, while retrying, the attempt number.
func (c *Controller) Phase() (Phase, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.retry
}

// ClearError drops a displayed error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	changed := c.state.Err != nil
	c.state.Err = nil
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// LoadHistory restores the last limit messages from the transcript.
// It must be called before the first Submit.
func (c *Controller) LoadHistory(ctx context.Context, limit int) error {
	if c.deps.Transcript == nil {
		return nil
	}
	msgs, err := c.deps.Transcript.LoadMessages(ctx, limit)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conv.Load(msgs)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Submit validates and admits text and starts an exchange for it. Validation
// and admission failures are returned and also set on State().Err; everything
// after that happens in the background.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	cfg := c.cfg
	c.mu.Unlock()

	if c.deps.Monitor != nil {
		c.deps.Monitor.ObserveSubmission(text)
	}

	clean, err := security.PrepareMessage(text, cfg.MinLength, cfg.MaxLength)
	if err != nil {
		c.setError(err)
		return err
	}
	if c.deps.Gate != nil {
		if err := c.deps.Gate.Admit(clean); err != nil {
			c.setError(err)
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.supersedeLocked()

	user := model.NewUserMessage(clean)
	assistant := model.NewAssistantMessage()
	c.conv.Append(user)
	c.conv.Append(assistant)

	c.generation++
	gen := c.generation
	exCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel

	c.state.IsSending = true
	c.state.IsStreaming = false
	c.state.Err = nil
	c.state.CurrentInteractionID = nil
	c.state.OpenAssistantMessageID = assistant.ID
	c.phase = PhaseSending
	c.retry = 0

	ex := &exchange{
		gen:         gen,
		text:        clean,
		userID:      user.ID,
		assistantID: assistant.ID,
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug("exchange started", zap.Uint64("generation", gen), zap.Int("length", len([]rune(clean))))
	c.notify()

	go c.run(exCtx, ex)
	return nil
}

// Wait blocks until no exchange is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels any running exchange and waits for it to stop.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.baseCancel()
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// supersedeLocked abandons the running exchange, if any. Its assistant
// message keeps whatever text it has, or is removed when empty.
// Caller must hold c.mu.
func (c *Controller) supersedeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if id := c.state.OpenAssistantMessageID; id != "" {
		if msg := c.conv.Get(id); msg != nil {
			if msg.IsEmpty() {
				c.conv.Remove(id)
			} else {
				msg.Close()
			}
		}
		c.log.Debug("exchange superseded", zap.Uint64("generation", c.generation))
	}
	c.state.OpenAssistantMessageID = ""
	c.state.IsSending = false
	c.state.IsStreaming = false
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.state.Err = err
	c.mu.Unlock()
	c.notify()
}

// update runs fn under the lock if gen is still current, then notifies.
// It reports whether fn ran.
func (c *Controller) update(gen uint64, fn func()) bool {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return false
	}
	fn()
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Controller) notify() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// persist saves msgs to the transcript, if one is configured.
func (c *Controller) persist(msgs ...*model.Message) {
	if c.deps.Transcript == nil || len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Transcript.SaveMessages(ctx, msgs); err != nil {
		c.log.Warn("failed to save transcript", zap.Error(err))
	}
}
