// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/util"
)

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	parts := []string{
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.renderNotice(),
		m.theme.InputBorder.Width(max(m.width-2, 10)).Render(m.input.View()),
		m.theme.Help.Render(m.help.ShortHelpView(m.keys.ShortHelp())),
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("streamchat")
	sub := m.theme.HeaderMuted.Render(util.TruncateWidth(m.opts.Title, max(m.width-16, 10)))
	return m.theme.Header.Width(m.width).Render(title + "  " + sub)
}

// renderStatus describes the running exchange.
func (m Model) renderStatus() string {
	var text string
	switch {
	case m.state.IsColdStart:
		text = "The assistant is starting up, this can take a minute..."
	case m.phase == session.PhaseSending:
		text = "Sending..."
	case m.phase == session.PhaseAwaitingFirstFragment:
		text = "Waiting for the assistant..."
	case m.phase == session.PhaseStreaming:
		text = "Receiving..."
	case m.phase == session.PhaseRetrying:
		text = fmt.Sprintf("Connection trouble, retrying (attempt %d)...", m.attempt)
	default:
		return ""
	}
	return m.spinner.View() + " " + m.theme.Status.Render(text)
}

// renderNotice shows the transient notice, or else the session error.
func (m Model) renderNotice() string {
	if m.notice != nil {
		return m.theme.Notice.Render(m.notice.text)
	}
	if err := m.state.Err; err != nil {
		var rej *admission.RejectedError
		if errors.As(err, &rej) {
			return ""
		}
		return m.theme.ErrorStyle.Render(util.SingleLine(err.Error()))
	}
	return ""
}

// =============================================================================
// MESSAGES
// =============================================================================

// syncViewport re-renders the conversation into the viewport, keeping the
// view pinned to the bottom when it already was.
func (m *Model) syncViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	if len(m.messages) == 0 {
		return m.theme.HeaderMuted.Render("  Ask anything to get started.")
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg *model.Message) string {
	var label string
	if msg.Role == model.RoleUser {
		label = m.theme.UserLabel.Render("You")
	} else {
		label = m.theme.AssistantLabel.Render("Assistant")
	}
	if fb := m.renderFeedback(msg.Feedback); fb != "" {
		label += "  " + fb
	}

	var body string
	switch {
	case msg.Open:
		body = m.theme.Streaming.Width(m.contentWidth()).Render(msg.Content + " ▌")
	case msg.Role == model.RoleAssistant:
		body = m.renderMarkdown(msg)
	default:
		body = m.theme.MessageBody.Width(m.contentWidth()).Render(msg.Content)
	}
	return label + "\n" + body
}

func (m *Model) renderFeedback(fb *model.Feedback) string {
	if fb == nil || !fb.Given {
		return ""
	}
	out := m.theme.FeedbackDown.Render("[-]")
	if fb.Positive {
		out = m.theme.FeedbackUp.Render("[+]")
	}
	if fb.SyncFailed {
		out += " " + m.theme.SyncFailed.Render("(saved locally)")
	}
	return out
}

// renderMarkdown renders a closed assistant message, caching the result.
func (m *Model) renderMarkdown(msg *model.Message) string {
	width := m.contentWidth()
	if c, ok := m.cache[msg.ID]; ok && c.content == msg.Content && c.width == width {
		return c.out
	}

	out := m.theme.MessageBody.Width(width).Render(msg.Content)
	if m.renderer != nil {
		if r, err := m.renderer.Render(msg.Content); err == nil {
			out = strings.TrimRight(r, "\n")
		}
	}
	m.cache[msg.ID] = rendered{content: msg.Content, width: width, out: out}
	return out
}

func (m Model) contentWidth() int {
	return max(m.width-4, 20)
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Plain text rendering is used instead.
		return nil
	}
	return r
}
