// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session sequences one chat exchange at a time.
//
// The Controller validates and admits a message, opens the user and assistant
// messages, and runs the exchange in its own goroutine: it sends the request,
// feeds the response through the stream parser into a coalescer, watches for
// a first fragment, and retries silently with backoff when the backend is
// slow, cold or unreachable.
//
// # Phases
//
//	Idle -> Sending -> AwaitingFirstFragment -> Streaming -> Completed -> Idle
//	                        |                                  ^
//	                        +--> Retrying(n) --> Sending ------+
//
// # Usage
//
//	ctl := session.New(session.Deps{Transport: client, Gate: gate}, session.DefaultConfig())
//	defer ctl.Close()
//
//	ctl.OnChange(func() { redraw(ctl.Messages(), ctl.State()) })
//	if err := ctl.Submit(ctx, "Hello"); err != nil {
//	    // validation or admission error, already in ctl.State().Err
//	}
//
// Every attempt runs under its own context tagged with a generation number.
// Starting a new message cancels the previous exchange, and anything it
// still produces is discarded.
package session
