// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/streamchat/internal/behavior"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Session is the part of the session controller the screen drives.
type Session interface {
	Submit(ctx context.Context, text string) error
	SubmitFeedback(ctx context.Context, positive bool) error
	Messages() []*model.Message
	State() model.ExchangeState
	Phase() (session.Phase, int)
	ClearError()
}

// Recorder receives raw input signals.
type Recorder interface {
	Record(ev behavior.InputEvent)
}

// Options configures the chat screen.
type Options struct {
	Title          string
	Recorder       Recorder
	Theme          *styles.Theme
	MarkdownStyle  string // auto, dark, light, notty
	NoticeDuration time.Duration
	MaxLength      int
	Now            func() time.Time
}

// =============================================================================
// MODEL
// =============================================================================

// notice is a transient message shown above the input.
type notice struct {
	id         int
	text       string
	clearOnKey bool
}

// rendered caches the glamour output of a closed message.
type rendered struct {
	content string
	width   int
	out     string
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	sess  Session
	opts  Options
	theme *styles.Theme
	keys  KeyMap
	now   func() time.Time

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model

	renderer *glamour.TermRenderer
	cache    map[string]rendered

	// Snapshot of the session taken on every StateChangedMsg.
	messages []*model.Message
	state    model.ExchangeState
	phase    session.Phase
	attempt  int

	notice   *notice
	noticeID int
	spinning bool

	width  int
	height int
	ready  bool
}

// New creates the chat screen.
func New(sess Session, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme()
	}
	if opts.NoticeDuration <= 0 {
		opts.NoticeDuration = 4 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Title == "" {
		opts.Title = "streamchat"
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message"
	ti.Prompt = opts.Theme.InputPrompt.Render("> ")
	if opts.MaxLength > 0 {
		ti.CharLimit = opts.MaxLength
	}
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = opts.Theme.Status

	m := Model{
		sess:     sess,
		opts:     opts,
		theme:    opts.Theme,
		keys:     DefaultKeyMap(),
		now:      opts.Now,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		help:     help.New(),
		cache:    make(map[string]rendered),
	}
	m.refresh()
	return m
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Notice returns the text of the displayed notice, if any.
func (m Model) Notice() string {
	if m.notice == nil {
		return ""
	}
	return m.notice.text
}

// refresh re-reads the session snapshot.
func (m *Model) refresh() {
	m.messages = m.sess.Messages()
	m.state = m.sess.State()
	m.phase, m.attempt = m.sess.Phase()
}

// busy reports whether an exchange is running.
func (m Model) busy() bool {
	return m.phase != session.PhaseIdle && m.phase != session.PhaseCompleted
}
