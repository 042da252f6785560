// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/chaterr"
)

// =============================================================================
// PARSER CONSTANTS
// =============================================================================

const (
	// DefaultFallbackThreshold is how much unrecognized text may pile up
	// before it is emitted verbatim.
	DefaultFallbackThreshold = 100

	// DefaultMaxLineSize bounds a single unterminated event line (1MB).
	DefaultMaxLineSize = 1024 * 1024

	// maxPendingJSON is how long a buffer that looks like the start of a
	// JSON document may grow before the fallback takes it anyway (64KB).
	maxPendingJSON = 64 * 1024

	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// fieldPrefixes are the non-data event stream lines. They are ignored
// inside an event stream, but never switch plain text into one.
var fieldPrefixes = []string{"event:", "id:", "retry:", ":"}

// =============================================================================
// PARSER
// =============================================================================

// Parser reconstructs events from raw response bytes. Feed it every read in
// order, then call Finish once. A Parser is single-use and not safe for
// concurrent use.
type Parser struct {
	declaredJSON      bool
	fallbackThreshold int
	maxLineSize       int
	now               func() time.Time
	logger            *zap.Logger

	// buf holds text not yet turned into events: the trailing partial line
	// once markers were seen, otherwise everything unrecognized so far.
	buf strings.Builder

	sawMarkers  bool
	fragments   int
	completed   bool
	done        bool
	finished    bool
	parseErrors int
}

// Option configures a Parser.
type Option func(*Parser)

// WithContentType declares the response content type. A JSON media type
// makes the parser wait for one complete document.
func WithContentType(contentType string) Option {
	return func(p *Parser) {
		p.declaredJSON = isJSONMediaType(contentType)
	}
}

// WithFallbackThreshold sets the unstructured fallback threshold.
func WithFallbackThreshold(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.fallbackThreshold = n
		}
	}
}

// WithMaxLineSize bounds a single event line.
func WithMaxLineSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

// WithClock overrides the clock used for generated interaction ids.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger for recovered parse errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		fallbackThreshold: DefaultFallbackThreshold,
		maxLineSize:       DefaultMaxLineSize,
		now:               time.Now,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Done reports whether the stream reached a terminal point (a [DONE] marker
// or a complete whole-JSON response). Later input is ignored.
func (p *Parser) Done() bool {
	return p.done
}

// Fragments returns the number of fragments emitted so far.
func (p *Parser) Fragments() int {
	return p.fragments
}

// ParseErrors returns the number of malformed frames that were dropped.
func (p *Parser) ParseErrors() int {
	return p.parseErrors
}

// Feed consumes the next read and returns the events it completed.
func (p *Parser) Feed(data []byte) []Event {
	if p.done || p.finished || len(data) == 0 {
		return nil
	}
	p.buf.Write(data)

	if p.declaredJSON {
		if evs, ok := p.tryWholeJSON(); ok {
			return evs
		}
		return nil
	}

	if !p.sawMarkers {
		if evs, ok := p.tryWholeJSON(); ok {
			return evs
		}
	}

	evs := p.parseLines()
	if !p.sawMarkers {
		evs = append(evs, p.fallback(false)...)
	}
	return evs
}

// Finish flushes what is left and closes the sequence. It synthesizes a
// Completion when fragments arrived without one, and returns a connectivity
// error when no fragment arrived at all.
func (p *Parser) Finish() ([]Event, error) {
	if p.finished {
		return nil, nil
	}

	var evs []Event
	if !p.done {
		if p.declaredJSON {
			// The body never became a valid document; read it as text.
			p.declaredJSON = false
			evs = append(evs, p.parseLines()...)
		}
		if !p.sawMarkers {
			if whole, ok := p.tryWholeJSON(); ok {
				evs = append(evs, whole...)
			}
		}
		if !p.done {
			if p.sawMarkers {
				rest := p.buf.String()
				p.buf.Reset()
				evs = append(evs, p.handleLine(rest)...)
			} else {
				evs = append(evs, p.fallback(true)...)
			}
		}
	}
	p.finished = true

	if p.fragments == 0 {
		return evs, chaterr.New(chaterr.KindConnectivity, "stream", "stream ended without content")
	}
	if !p.completed {
		p.completed = true
		evs = append(evs, Completion{
			InteractionID: p.generatedID(),
			GeneratedID:   true,
			Synthesized:   true,
		})
	}
	return evs, nil
}

// =============================================================================
// WHOLE JSON
// =============================================================================

func (p *Parser) tryWholeJSON() ([]Event, bool) {
	text := strings.TrimSpace(p.buf.String())
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	var pl payload
	if err := json.Unmarshal([]byte(text), &pl); err != nil {
		return nil, false
	}
	answer, ok := pl.wholeText()
	if !ok {
		return nil, false
	}

	p.buf.Reset()
	p.done = true
	evs := []Event{p.fragment(answer)}
	if c, ok := p.completion(&pl); ok {
		evs = append(evs, c)
	}
	return evs, true
}

// =============================================================================
// EVENT LINES
// =============================================================================

// parseLines consumes every complete line in buf. Until a complete data:
// line shows up, buf is left untouched so the fallback can claim it.
func (p *Parser) parseLines() []Event {
	text := p.buf.String()
	cut := strings.LastIndexByte(text, '\n')
	if cut < 0 {
		if p.sawMarkers && len(text) > p.maxLineSize {
			p.dropLine("line exceeds maximum size")
			p.buf.Reset()
		}
		return nil
	}

	complete, rest := text[:cut], text[cut+1:]
	lines := strings.Split(complete, "\n")

	if !p.sawMarkers {
		found := false
		for _, line := range lines {
			if strings.HasPrefix(line, dataPrefix) {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		p.sawMarkers = true
	}

	p.buf.Reset()
	p.buf.WriteString(rest)

	var evs []Event
	for _, line := range lines {
		if p.done {
			break
		}
		evs = append(evs, p.handleLine(line)...)
	}
	if p.done {
		p.buf.Reset()
	}
	return evs
}

func (p *Parser) handleLine(line string) []Event {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(line, dataPrefix):
		data := strings.TrimPrefix(line[len(dataPrefix):], " ")
		return p.handleData(data)
	case isFieldLine(line):
		// event:, id:, retry: and comments carry nothing we use.
		return nil
	default:
		p.dropLine("unrecognized line in event stream")
		return nil
	}
}

func (p *Parser) handleData(data string) []Event {
	trimmed := strings.TrimSpace(data)
	switch {
	case trimmed == "":
		return nil
	case trimmed == doneMarker:
		p.done = true
		return []Event{Terminal{}}
	case strings.HasPrefix(trimmed, "{"):
		return p.handleJSONFrame(trimmed)
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return p.textEvents(s)
		}
	}
	return p.textEvents(data)
}

func (p *Parser) handleJSONFrame(frame string) []Event {
	var pl payload
	if err := json.Unmarshal([]byte(frame), &pl); err != nil {
		p.dropLine("malformed JSON frame")
		return nil
	}

	switch strings.ToLower(pl.Type) {
	case "chunk", "content", "delta":
		text, _ := pl.frameText()
		return p.textEvents(text)
	case "complete", "completion", "done", "end":
		if c, ok := p.completion(&pl); ok {
			return []Event{c}
		}
		return nil
	case "error":
		p.parseErrors++
		p.logger.Warn("backend reported a stream error", zap.ByteString("error", pl.Error))
		return nil
	case "":
		if text, ok := pl.frameText(); ok {
			return p.textEvents(text)
		}
		if pl.hasMetadata() {
			if c, ok := p.completion(&pl); ok {
				return []Event{c}
			}
			return nil
		}
	}

	p.dropLine("unknown frame type " + pl.Type)
	return nil
}

// =============================================================================
// FALLBACK
// =============================================================================

// fallback emits buffered unrecognized text verbatim once it passes the
// threshold, or unconditionally when final is set.
func (p *Parser) fallback(final bool) []Event {
	text := p.buf.String()
	if text == "" {
		return nil
	}
	if !final {
		if len(text) <= p.fallbackThreshold || p.looksPending(text) {
			return nil
		}
		// Keep a rune split across reads for the next one.
		if cut := completeRunes(text); cut < len(text) {
			p.buf.Reset()
			p.buf.WriteString(text[cut:])
			return p.textEvents(text[:cut])
		}
	}
	p.buf.Reset()

	if final {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		if onlyFieldBlocks(text) {
			p.dropLine("event stream without data lines")
			return nil
		}
		// A complete JSON object that carried no answer is not text.
		var pl payload
		if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "{") &&
			json.Unmarshal([]byte(trimmed), &pl) == nil {
			p.dropLine("JSON response without an answer field")
			return nil
		}
	}
	return p.textEvents(text)
}

// looksPending reports whether unrecognized text is probably the start of
// an event stream or a JSON document that later reads will complete: a
// partial data: line, possibly after event stream field lines, or an open
// JSON object.
func (p *Parser) looksPending(text string) bool {
	head := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(head, "{") {
		return len(text) <= maxPendingJSON
	}
	if len(text) > p.maxLineSize {
		return false
	}

	lines := strings.Split(head, "\n")
	last := strings.TrimRight(lines[len(lines)-1], "\r")
	if !strings.HasPrefix(last, dataPrefix) && !strings.HasPrefix(dataPrefix, last) {
		return false
	}
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimRight(line, "\r")
		if line != "" && !isFieldLine(line) {
			return false
		}
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

func (p *Parser) textEvents(text string) []Event {
	if text == "" {
		return nil
	}
	return []Event{p.fragment(text)}
}

func (p *Parser) fragment(text string) Fragment {
	p.fragments++
	return Fragment{Text: text}
}

// completion builds the Completion for pl. Only the first one counts.
func (p *Parser) completion(pl *payload) (Completion, bool) {
	if p.completed {
		return Completion{}, false
	}
	p.completed = true

	c := Completion{TokenUsage: pl.TokenUsage, Temperature: pl.Temperature}
	if id, ok := pl.interactionID(); ok {
		c.InteractionID = id
	} else {
		c.InteractionID = p.generatedID()
		c.GeneratedID = true
	}
	return c, true
}

func (p *Parser) generatedID() int64 {
	return p.now().UnixMilli()
}

func (p *Parser) dropLine(reason string) {
	p.parseErrors++
	p.logger.Debug("dropped stream input", zap.String("reason", reason))
}

func isFieldLine(line string) bool {
	for _, prefix := range fieldPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// onlyFieldBlocks reports whether text is nothing but blank-line terminated
// event stream field lines, such as a run of ": ping" keepalives.
func onlyFieldBlocks(text string) bool {
	text = strings.ReplaceAll(text, "\r", "")
	if !strings.HasSuffix(text, "\n\n") {
		return false
	}
	for _, line := range strings.Split(text, "\n") {
		if line != "" && !isFieldLine(line) {
			return false
		}
	}
	return true
}

// completeRunes returns the length of the longest prefix of s that does not
// end inside a UTF-8 sequence.
func completeRunes(s string) int {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if utf8.FullRuneInString(s[i:]) {
				return len(s)
			}
			return i
		}
	}
	return len(s)
}

func isJSONMediaType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
