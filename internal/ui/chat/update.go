// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/behavior"
	"github.com/jeranaias/streamchat/internal/model"
)

// Update handles a message. Every input signal is recorded before it is
// handled.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.observe(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case StateChangedMsg:
		m.refresh()
		m.syncViewport()
		return m, m.startSpinner()

	case submitResultMsg:
		m.refresh()
		m.syncViewport()
		if msg.err != nil {
			return m, m.showRejection(msg.err)
		}
		return m, m.startSpinner()

	case feedbackResultMsg:
		m.refresh()
		m.syncViewport()
		return m, nil

	case noticeExpiredMsg:
		if m.notice != nil && m.notice.id == msg.id {
			m.clearNotice()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// observe forwards raw input signals to the recorder.
func (m *Model) observe(msg tea.Msg) {
	if m.opts.Recorder == nil {
		return
	}

	var kind behavior.EventKind
	switch msg := msg.(type) {
	case tea.KeyMsg:
		kind = behavior.Key
	case tea.MouseMsg:
		switch {
		case tea.MouseEvent(msg).IsWheel():
			kind = behavior.Scroll
		case msg.Action == tea.MouseActionMotion:
			kind = behavior.PointerMove
		case msg.Action == tea.MouseActionPress:
			kind = behavior.Click
		default:
			return
		}
	case tea.FocusMsg:
		kind = behavior.Focus
	case tea.BlurMsg:
		kind = behavior.Blur
	default:
		return
	}
	m.opts.Recorder.Record(behavior.InputEvent{Kind: kind, At: m.now()})
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.notice != nil && m.notice.clearOnKey {
		m.clearNotice()
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.submit(text)

	case key.Matches(msg, m.keys.ThumbsUp):
		return m, m.feedback(true)

	case key.Matches(msg, m.keys.ThumbsDown):
		return m, m.feedback(false)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfPageUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfPageDown()
		return m, nil

	case key.Matches(msg, m.keys.Dismiss):
		m.clearNotice()
		m.sess.ClearError()
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width, m.height = msg.Width, msg.Height
	m.input.Width = max(msg.Width-6, 10)

	// Header, status, notice, input box and help line.
	chrome := 7
	m.viewport.Width = msg.Width
	m.viewport.Height = max(msg.Height-chrome, 3)
	m.ready = true

	m.renderer = newRenderer(m.theme.MarkdownStyle(m.opts.MarkdownStyle), m.contentWidth())
	m.syncViewport()
	return m, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) submit(text string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return submitResultMsg{err: sess.Submit(context.Background(), text)}
	}
}

func (m Model) feedback(positive bool) tea.Cmd {
	if m.busy() || !m.hasAssistantMessage() {
		return nil
	}
	sess := m.sess
	return func() tea.Msg {
		return feedbackResultMsg{positive: positive, err: sess.SubmitFeedback(context.Background(), positive)}
	}
}

func (m *Model) startSpinner() tea.Cmd {
	if !m.busy() || m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// showRejection turns a submit error into a notice. Likely-bot notices stay
// until the next key press; the others expire.
func (m *Model) showRejection(err error) tea.Cmd {
	var rej *admission.RejectedError
	if !errors.As(err, &rej) {
		// Validation and other errors are shown from the session state.
		return nil
	}

	m.noticeID++
	n := &notice{id: m.noticeID}
	switch rej.Reason {
	case admission.ReasonLikelyBot:
		n.text = "Please interact with the page normally before sending."
		n.clearOnKey = true
	case admission.ReasonLockout:
		n.text = "Sending is temporarily locked after unusual activity."
	case admission.ReasonThrottled:
		n.text = "You're sending messages too quickly."
		if rej.RetryAfter > 0 {
			secs := int(math.Ceil(rej.RetryAfter.Seconds()))
			n.text = fmt.Sprintf("You're sending messages too quickly. Try again in %ds.", secs)
		}
	default:
		n.text = err.Error()
	}
	m.notice = n

	if n.clearOnKey {
		return nil
	}
	id := n.id
	return tea.Tick(m.opts.NoticeDuration, func(time.Time) tea.Msg {
		return noticeExpiredMsg{id: id}
	})
}

func (m *Model) clearNotice() {
	if m.notice == nil {
		return
	}
	m.notice = nil
	var rej *admission.RejectedError
	if errors.As(m.state.Err, &rej) {
		m.sess.ClearError()
		m.refresh()
	}
}

func (m Model) hasAssistantMessage() bool {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == model.RoleAssistant {
			return true
		}
	}
	return false
}
