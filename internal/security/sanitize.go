// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/streamchat/internal/chaterr"
)

// =============================================================================
// MESSAGE BOUNDS
// =============================================================================

const (
	// MinMessageLength is the minimum message length in runes.
	MinMessageLength = 2

	// MaxMessageLength is the default maximum message length in runes.
	MaxMessageLength = 4000
)

// =============================================================================
// SCRIPT PATTERNS
// =============================================================================

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	scriptTagPattern   = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>`)
	scriptURLPattern   = regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:|data\s*:\s*text/html`)
	handlerPattern     = regexp.MustCompile(`(?i)\bon(?:load|error|click|dblclick|mouse[a-z]*|key[a-z]*|focus|blur|submit|change|input|abort)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]*)`)
	markupTagPattern   = regexp.MustCompile(`(?i)<\s*/?\s*(?:iframe|object|embed|style|img|svg|link|meta|form|input|base|body|html|a|div|span)\b[^>]*>`)
)

// SanitizeInput normalizes user text and strips control characters and
// script-like markup. Newlines and tabs are kept.
func SanitizeInput(s string) string {
	s = norm.NFC.String(s)

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' || unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)

	// Stripping can splice a new tag out of nested fragments, so repeat
	// until nothing changes. Every change shortens s.
	for {
		stripped := stripMarkup(s)
		if stripped == s {
			break
		}
		s = stripped
	}

	return strings.TrimSpace(s)
}

func stripMarkup(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = scriptURLPattern.ReplaceAllString(s, "")
	s = handlerPattern.ReplaceAllString(s, "")
	return markupTagPattern.ReplaceAllString(s, "")
}

// ValidateMessage checks an already sanitized message against the length
// bounds, counted in runes.
func ValidateMessage(s string, minLen, maxLen int) error {
	if minLen <= 0 {
		minLen = MinMessageLength
	}
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}

	n := utf8.RuneCountInString(s)
	switch {
	case strings.TrimSpace(s) == "":
		return chaterr.New(chaterr.KindValidation, "validate", "message is empty")
	case n < minLen:
		return chaterr.New(chaterr.KindValidation, "validate",
			fmt.Sprintf("message too short (minimum %d characters)", minLen))
	case n > maxLen:
		return chaterr.New(chaterr.KindValidation, "validate",
			fmt.Sprintf("message too long (%d characters, maximum %d)", n, maxLen))
	}
	return nil
}

// PrepareMessage sanitizes raw and validates the result.
func PrepareMessage(raw string, minLen, maxLen int) (string, error) {
	clean := SanitizeInput(raw)
	if err := ValidateMessage(clean, minLen, maxLen); err != nil {
		return "", err
	}
	return clean, nil
}
