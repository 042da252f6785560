// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chaterr defines the error taxonomy shared by the streaming pipeline.
//
// Every failure the client can observe falls into one Kind. The Kind decides
// whether the failure reaches the user (Validation, AdmissionRejected, Server)
// or is absorbed by retry logic and logging (Connectivity, WatchdogTimeout,
// Parse).
package chaterr

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes errors for propagation and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAdmissionRejected
	KindConnectivity
	KindWatchdogTimeout
	KindParse
	KindServer
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAdmissionRejected:
		return "admission-rejected"
	case KindConnectivity:
		return "connectivity"
	case KindWatchdogTimeout:
		return "watchdog-timeout"
	case KindParse:
		return "parse"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a categorized pipeline error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "chat", "health", "feedback"
	Message string
	Status  int // HTTP status for KindServer, 0 otherwise
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrConnectivity)
// works for every connectivity failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Op == "" && t.Status == 0
}

// Sentinel errors for kind checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAdmissionRejected = &Error{Kind: KindAdmissionRejected}
	ErrConnectivity      = &Error{Kind: KindConnectivity}
	ErrWatchdogTimeout   = &Error{Kind: KindWatchdogTimeout}
	ErrParse             = &Error{Kind: KindParse}
	ErrServer            = &Error{Kind: KindServer}
)

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Server creates a KindServer error for a non-2xx response.
func Server(op string, status int, body string) *Error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: body}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by a server error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// UserVisible reports whether err should be shown to the user.
// Connectivity, watchdog and parse failures are absorbed by retries.
func UserVisible(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAdmissionRejected, KindServer:
		return true
	default:
		return false
	}
}

// Retryable reports whether err follows the silent connectivity retry path.
// 5xx server errors are retried, 4xx are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindWatchdogTimeout:
		return true
	case KindServer:
		s := StatusOf(err)
		return s >= 500 && s < 600
	default:
		return false
	}
}
