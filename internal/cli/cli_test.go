// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/config"
)

// isolate points HOME at a fresh directory and clears streamchat
// environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"STREAMCHAT_BACKEND_URL", "STREAMCHAT_WATCHDOG_TIMEOUT", "STREAMCHAT_MAX_RETRIES",
		"STREAMCHAT_LOG_LEVEL", "STREAMCHAT_LOG_FILE", "STREAMCHAT_DB_PATH", "STREAMCHAT_NO_STORAGE",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("NO_COLOR", "1")
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfigPath(t *testing.T) {
	home := isolate(t)

	out, err := runCLI(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".streamchat", "config.toml"), strings.TrimSpace(out))

	out, err = runCLI(t, "--config", "/tmp/other.toml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.toml", strings.TrimSpace(out))
}

func TestConfigInitGetSet(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".streamchat", "config.toml")

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = runCLI(t, "config", "init")
	require.Error(t, err, "init must not overwrite without --force")
	_, err = runCLI(t, "config", "init", "--force")
	require.NoError(t, err)

	out, err = runCLI(t, "config", "get", "session.max_retries")
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(out))

	_, err = runCLI(t, "config", "set", "admission.min_interval", "1s")
	require.NoError(t, err)
	out, err = runCLI(t, "config", "get", "admission.min_interval")
	require.NoError(t, err)
	assert.Equal(t, "1s", strings.TrimSpace(out))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1s", cfg.Admission.MinInterval.String())
}

func TestConfigSetDoesNotPersistEnvOverrides(t *testing.T) {
	home := isolate(t)
	t.Setenv("STREAMCHAT_BACKEND_URL", "http://example.test:9000")

	_, err := runCLI(t, "config", "set", "session.max_retries", "5")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(home, ".streamchat", "config.toml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "example.test")
	assert.Contains(t, string(data), "max_retries = 5")
}

func TestConfigSetRejectsBadInput(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "config", "set", "session.nope", "1")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = runCLI(t, "config", "set", "admission.bot_threshold", "500")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestBrokenConfigFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".streamchat", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("[session\nmax_retries = "), 0600))

	_, err := runCLI(t, "config", "show")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))

	// Repair commands still work.
	out, err := runCLI(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = runCLI(t, "config", "init", "--force")
	require.NoError(t, err)
	_, err = runCLI(t, "config", "show")
	require.NoError(t, err)
}

func TestConfigShowAppliesFlags(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "--backend", "http://127.0.0.1:9999", "--no-storage", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "http://127.0.0.1:9999"`)
	assert.Contains(t, out, `"enabled": false`)
}

// =============================================================================
// HEALTH / LOCKOUT / EVENTS
// =============================================================================

func TestHealth(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	out, err := runCLI(t, "--backend", srv.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "is up")
}

func TestHealthUnreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := runCLI(t, "--backend", url, "health")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, ExitCode(err))
}

func TestLockoutStatusAndClear(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "lockout")
	require.NoError(t, err)
	assert.Contains(t, out, "No lockout active")

	out, err = runCLI(t, "lockout", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Lockout cleared")

	out, err = runCLI(t, "events", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "lockout-cleared")

	out, err = runCLI(t, "events", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "lockout-cleared"`)
}

func TestEventsValidation(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "events", "-n", "0")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = runCLI(t, "--no-storage", "events")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "streamchat "+Version)
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"validation", &ValidationError{Field: "limit", Reason: "bad"}, ExitUsageError},
		{"config", &ConfigError{Path: "x", Err: errors.New("bad")}, ExitConfigError},
		{"rejected", &admission.RejectedError{Reason: admission.ReasonThrottled}, ExitSecurityError},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"connectivity", chaterr.Wrap(chaterr.KindConnectivity, "chat", errors.New("refused")), ExitNetworkError},
		{"server", chaterr.Server("chat", 503, "down"), ExitNetworkError},
		{"message validation", chaterr.New(chaterr.KindValidation, "submit", "too short"), ExitUsageError},
		{"watchdog", chaterr.New(chaterr.KindWatchdogTimeout, "chat", "stalled"), ExitTimeoutError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

// =============================================================================
// REPL
// =============================================================================

type scriptedInput struct {
	lines  []string
	closed bool
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() { s.closed = true }

func replEnv(t *testing.T, backendURL string) *env {
	t.Helper()
	home := isolate(t)
	cfg := config.Default()
	cfg.Backend.URL = backendURL
	cfg.Storage.Enabled = false
	cfg.UI.WatchConfig = false
	cfg.Security.LockoutFile = filepath.Join(home, "lockout.json")
	return &env{
		cfg:     cfg,
		cfgPath: filepath.Join(home, "config.toml"),
		logger:  zap.NewNop(),
	}
}

func runScript(t *testing.T, e *env, lines ...string) (string, *scriptedInput) {
	t.Helper()
	in := &scriptedInput{lines: lines}
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	require.NoError(t, runRepl(cmd, e, in))
	return out.String(), in
}

func TestReplStreamsAnswerAndSendsFeedback(t *testing.T) {
	var feedbackCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"message":"Hi there","interaction_id":7}`)
		case "/feedback":
			feedbackCalls.Add(1)
			io.WriteString(w, `{"success":true,"message":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, in := runScript(t, replEnv(t, srv.URL), "hello", "/up", "/history", "/quit")

	assert.True(t, in.closed)
	assert.Contains(t, out, "assistant> Hi there")
	assert.Contains(t, out, "Thanks for the feedback.")
	assert.Contains(t, out, "hello")
	assert.Equal(t, int32(1), feedbackCalls.Load())
}

func TestReplReportsValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, _ := runScript(t, replEnv(t, srv.URL), "x", "/nope")
	assert.NotContains(t, out, "assistant>")
	assert.Contains(t, out, "unknown command: /nope")
}

func TestReplFeedbackBeforeAnyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, _ := runScript(t, replEnv(t, srv.URL), "/down")
	assert.Contains(t, out, "Nothing to rate yet.")
}
