// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"

	"github.com/jeranaias/streamchat/internal/chaterr"
)

// readBufferSize is the size of a single read from the body.
const readBufferSize = 4096

// Reader pulls events lazily from a response body.
//
// Next returns events in order and io.EOF after the last one. The sequence is
// finite and cannot be restarted. A connectivity error is returned instead of
// io.EOF when the body ended without any content or failed mid-read.
type Reader struct {
	body   io.Reader
	parser *Parser
	buf    []byte
	queue  []Event
	err    error
	closed bool
}

// NewReader creates a Reader over body. opts are passed to the Parser.
func NewReader(body io.Reader, opts ...Option) *Reader {
	return &Reader{
		body:   body,
		parser: NewParser(opts...),
		buf:    make([]byte, readBufferSize),
	}
}

// Next returns the next event.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.closed {
			return nil, r.err
		}
		r.fill()
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// Fragments returns the number of fragments produced so far.
func (r *Reader) Fragments() int {
	return r.parser.Fragments()
}

func (r *Reader) fill() {
	n, err := r.body.Read(r.buf)
	if n > 0 {
		r.queue = append(r.queue, r.parser.Feed(r.buf[:n])...)
	}

	switch {
	case r.parser.Done() || errors.Is(err, io.EOF):
		// A terminal marker ends the sequence even if the connection stays open.
		evs, ferr := r.parser.Finish()
		r.queue = append(r.queue, evs...)
		r.close(ferr)
	case err != nil:
		r.close(chaterr.Wrap(chaterr.KindConnectivity, "stream", err))
	}
}

func (r *Reader) close(err error) {
	r.closed = true
	if err == nil {
		err = io.EOF
	}
	r.err = err
}
