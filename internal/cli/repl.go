// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Line-mode chat for terminals the full-screen UI cannot use.
//
// Interactive Commands:
//   /help, /h           Show available commands
//   /up, /down          Rate the last answer
//   /history            Show the conversation so far
//   /quit, /q           Exit
//   Ctrl+C, Ctrl+D      Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/behavior"
	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// lineEditor provides input history and line editing on top of liner.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	ed := &lineEditor{
		line:        line,
		historyFile: filepath.Join(dir, "repl_history"),
	}
	if f, err := os.Open(ed.historyFile); err == nil {
		ed.line.ReadHistory(f)
		f.Close()
	}
	return ed
}

// ReadInput reads a line of input with the given prompt.
func (ed *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := ed.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		ed.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (ed *lineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(ed.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(ed.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			ed.line.WriteHistory(f)
			f.Close()
		}
	}
	ed.line.Close()
}

// =============================================================================
// COMMAND
// =============================================================================

func newReplCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat in line mode",
		Long: `Chat one line at a time, printing answers as they stream in.

Commands inside the REPL:
  /up, /down   rate the last answer
  /history     show the conversation
  /help        show commands
  /quit        exit`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTerminal: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd, e, nil)
		},
	}
}

// runRepl runs the line-mode chat. A nil in reads from the terminal.
func runRepl(cmd *cobra.Command, e *env, in lineReader) error {
	applyColorProfile()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if in == nil {
		in = newLineEditor()
	}
	defer in.Close()

	r := newRepl(a.ctl, a.scorer, in, cmd.OutOrStdout(), e.logger)
	r.printWelcome(a.client.BaseURL())
	return r.run(ctx)
}

// =============================================================================
// REPL
// =============================================================================

type replSession interface {
	Submit(ctx context.Context, text string) error
	SubmitFeedback(ctx context.Context, positive bool) error
	Messages() []*model.Message
	State() model.ExchangeState
	OnChange(fn func())
	Wait()
}

type recorder interface {
	Record(ev behavior.InputEvent)
}

type repl struct {
	sess    replSession
	rec     recorder
	in      lineReader
	out     io.Writer
	logger  *zap.Logger
	now     func() time.Time
	changes chan struct{}
}

func newRepl(sess replSession, rec recorder, in lineReader, out io.Writer, logger *zap.Logger) *repl {
	r := &repl{
		sess:    sess,
		rec:     rec,
		in:      in,
		out:     out,
		logger:  logger,
		now:     time.Now,
		changes: make(chan struct{}, 1),
	}
	sess.OnChange(func() {
		select {
		case r.changes <- struct{}{}:
		default:
		}
	})
	return r
}

func (r *repl) run(ctx context.Context) error {
	// Line mode has no keystrokes to observe: the session start counts as
	// focus, and every entered line as one key event.
	r.rec.Record(behavior.InputEvent{Kind: behavior.Focus, At: r.now()})

	for {
		input, err := r.in.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted), Ctrl+D (io.EOF) or a closed stdin.
			fmt.Fprintln(r.out)
			return nil
		}
		r.rec.Record(behavior.InputEvent{Kind: behavior.Key, At: r.now()})

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !r.handleSlashCommand(ctx, input) {
				return nil
			}
			continue
		}

		if err := r.send(ctx, input); err != nil {
			return err
		}
	}
}

func (r *repl) handleSlashCommand(ctx context.Context, input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/q", "/exit":
		return false
	case "/help", "/h", "/?", "/":
		r.printHelp()
	case "/up":
		r.feedback(ctx, true)
	case "/down":
		r.feedback(ctx, false)
	case "/history":
		r.printHistory()
	default:
		fmt.Fprintf(r.out, "%s unknown command: %s (type /help for commands)\n", errorStyle.Render("[Error]"), input)
	}
	return true
}

// send submits text and prints the answer as it streams in.
func (r *repl) send(ctx context.Context, text string) error {
	if err := r.sess.Submit(ctx, text); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, session.ErrClosed) {
			return err
		}
		r.printRejection(err)
		return nil
	}

	msgs := r.sess.Messages()
	if len(msgs) == 0 {
		return nil
	}
	id := msgs[len(msgs)-1].ID

	done := make(chan struct{})
	go func() {
		r.sess.Wait()
		close(done)
	}()

	fmt.Fprint(r.out, welcomeStyle.Render("assistant> "))
	printed := 0
	announced := false
loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case <-r.changes:
			if !announced && r.sess.State().IsColdStart {
				announced = true
				fmt.Fprint(r.out, mutedStyle.Render("(the assistant is starting up, this can take a minute) "))
			}
			printed = r.printDelta(id, printed)
		case <-done:
			break loop
		}
	}

	if r.printDelta(id, printed) == 0 {
		fmt.Fprint(r.out, warningStyle.Render("(no answer)"))
	}
	fmt.Fprintln(r.out)

	if err := r.sess.State().Err; err != nil {
		fmt.Fprintf(r.out, "%s %s\n", errorStyle.Render("[Error]"), err)
	}
	return nil
}

// printDelta prints the part of message id not printed yet and returns the
// new printed length.
func (r *repl) printDelta(id string, printed int) int {
	for _, m := range r.sess.Messages() {
		if m.ID != id {
			continue
		}
		if len(m.Content) > printed {
			fmt.Fprint(r.out, m.Content[printed:])
			return len(m.Content)
		}
		return printed
	}
	return printed
}

func (r *repl) feedback(ctx context.Context, positive bool) {
	msgs := r.sess.Messages()
	var last *model.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			last = msgs[i]
			break
		}
	}
	if last == nil {
		fmt.Fprintln(r.out, warningStyle.Render("Nothing to rate yet."))
		return
	}

	if err := r.sess.SubmitFeedback(ctx, positive); err != nil {
		fmt.Fprintf(r.out, "%s %s\n", errorStyle.Render("[Error]"), err)
		return
	}

	for _, m := range r.sess.Messages() {
		if m.ID == last.ID && m.Feedback != nil && m.Feedback.SyncFailed {
			fmt.Fprintln(r.out, warningStyle.Render("Feedback saved locally, the backend did not receive it."))
			return
		}
	}
	fmt.Fprintln(r.out, successStyle.Render("Thanks for the feedback."))
}

func (r *repl) printRejection(err error) {
	var rej *admission.RejectedError
	if errors.As(err, &rej) {
		var text string
		switch rej.Reason {
		case admission.ReasonLikelyBot:
			text = "Please take a moment before sending."
		case admission.ReasonLockout:
			text = "Sending is temporarily locked after unusual activity."
		case admission.ReasonThrottled:
			text = "You're sending messages too quickly."
			if rej.RetryAfter > 0 {
				text = fmt.Sprintf("You're sending messages too quickly. Try again in %ds.",
					int(math.Ceil(rej.RetryAfter.Seconds())))
			}
		}
		fmt.Fprintln(r.out, warningStyle.Render(text))
		return
	}
	if chaterr.KindOf(err) == chaterr.KindValidation {
		fmt.Fprintln(r.out, warningStyle.Render(err.Error()))
		return
	}
	r.logger.Debug("submit failed", zap.Error(err))
	fmt.Fprintf(r.out, "%s %s\n", errorStyle.Render("[Error]"), err)
}

// printWelcome prints the welcome banner.
func (r *repl) printWelcome(backendURL string) {
	fmt.Fprintln(r.out, welcomeStyle.Render("streamchat"))
	fmt.Fprintln(r.out, infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("Backend:"), backendURL)
	fmt.Fprintln(r.out, infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

// printHelp prints available commands.
func (r *repl) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/up, /down", "Rate the last answer"},
		{"/history", "Show the conversation"},
		{"/help, /h", "Show this help"},
		{"/quit, /q", "Exit"},
	}
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n",
			successStyle.Render(fmt.Sprintf("%-12s", c.cmd)),
			infoStyle.Render(c.desc))
	}
}

func (r *repl) printHistory() {
	msgs := r.sess.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, mutedStyle.Render("No messages yet."))
		return
	}
	width := GetTerminalWidth() - 16
	for _, m := range msgs {
		fmt.Fprintf(r.out, "%s %s\n",
			mutedStyle.Render(fmt.Sprintf("%-10s", m.Role.DisplayName()+":")),
			m.Preview(width))
	}
}
