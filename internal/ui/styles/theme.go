// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styles of the chat screen.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderMuted lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Streaming      lipgloss.Style

	FeedbackUp   lipgloss.Style
	FeedbackDown lipgloss.Style
	SyncFailed   lipgloss.Style

	Status      lipgloss.Style
	Notice      lipgloss.Style
	ErrorStyle  lipgloss.Style
	InputPrompt lipgloss.Style
	InputBorder lipgloss.Style
	Help        lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

// MarkdownStyle resolves "auto" to the glamour style matching the terminal.
func (t *Theme) MarkdownStyle(configured string) string {
	switch {
	case configured != "" && configured != "auto":
		return configured
	case t.ColorProfile == termenv.Ascii:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.HeaderMuted = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)
	t.MessageBody = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)
	t.Streaming = lipgloss.NewStyle().
		Foreground(TextSecondary).
		PaddingLeft(2)

	t.FeedbackUp = lipgloss.NewStyle().Foreground(Emerald)
	t.FeedbackDown = lipgloss.NewStyle().Foreground(Rose)
	t.SyncFailed = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

	t.Status = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)
	t.Notice = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)
	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)
	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.InputBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.Help = lipgloss.NewStyle().
		Foreground(TextMuted)
}
