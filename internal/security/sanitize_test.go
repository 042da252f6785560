// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/streamchat/internal/chaterr"
)

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "  hello there  ", "hello there"},
		{"keeps newlines and tabs", "a\n\tb", "a\n\tb"},
		{"control chars", "he\x00ll\x07o\r", "hello"},
		{"script block", "hi <script>alert(1)</script>there", "hi there"},
		{"unterminated script tag", "x<script src=evil.js>y", "xy"},
		{"nested script tag", "hi <scr<script>ipt>alert(1)", "hi alert(1)"},
		{"doubly nested script tag", "<scr<scr<script>ipt>ipt>x", "x"},
		{"javascript url", "click javascript:alert(1)", "click alert(1)"},
		{"inline handler", `<img src=x onerror="steal()">ok`, "ok"},
		{"generic code survives", "vector<int> v; if a < b {}", "vector<int> v; if a < b {}"},
		{"ordinary words survive", "one = 1 and online", "one = 1 and online"},
		{"nfc", "Olá", "Olá"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeInput(tt.input); got != tt.want {
				t.Errorf("SanitizeInput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"ok", "hi", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"too short", "a", true},
		{"multibyte counts runes", "日本", false},
		{"at max", strings.Repeat("x", 4000), false},
		{"over max", strings.Repeat("x", 4001), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.input, MinMessageLength, MaxMessageLength)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, chaterr.ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestPrepareMessageRejectsScriptOnly(t *testing.T) {
	_, err := PrepareMessage("<script>alert(1)</script>", 0, 0)
	if !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
