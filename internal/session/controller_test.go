// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/coalesce"
	"github.com/jeranaias/streamchat/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST BACKEND
// =============================================================================

// fakeBackend serves /chat from a per-attempt script, plus /health and
// /feedback.
type fakeBackend struct {
	chat     func(attempt int, w http.ResponseWriter, r *http.Request)
	healthy  bool
	feedback func(w http.ResponseWriter, r *http.Request)

	chatCalls     atomic.Int32
	feedbackCalls atomic.Int32

	mu           sync.Mutex
	feedbackReqs []map[string]any
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/chat":
		n := int(b.chatCalls.Add(1))
		b.chat(n, w, r)
	case "/health":
		if b.healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	case "/feedback":
		b.feedbackCalls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.feedbackReqs = append(b.feedbackReqs, body)
		b.mu.Unlock()
		if b.feedback != nil {
			b.feedback(w, r)
			return
		}
		io.WriteString(w, `{"success":true,"message":"ok"}`)
	default:
		http.NotFound(w, r)
	}
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, f := range frames {
		io.WriteString(w, f)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func hiThere(w http.ResponseWriter) {
	writeSSE(w,
		"data: {\"type\":\"chunk\",\"content\":\"Hi\"}\n\n",
		"data: {\"type\":\"chunk\",\"content\":\" there\"}\n\n",
		"data: [DONE]\n\n")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WatchdogTimeout = 200 * time.Millisecond
	cfg.IdleTimeout = time.Second
	cfg.MaxRetries = 2
	cfg.MaxColdStartRetries = 4
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 40 * time.Millisecond
	cfg.FeedbackBackoff = 5 * time.Millisecond
	cfg.Coalesce = coalesce.Config{FlushDelay: 10 * time.Millisecond}
	return cfg
}

func newTestController(t *testing.T, b *fakeBackend, cfg Config, deps ...func(*Deps)) *Controller {
	t.Helper()
	srv := httptest.NewServer(b)
	client := backend.NewClient(
		backend.Config{BaseURL: srv.URL, HealthTimeout: 200 * time.Millisecond},
		backend.WithHTTPClient(srv.Client()))

	d := Deps{Transport: client}
	for _, fn := range deps {
		fn(&d)
	}
	ctl := New(d, cfg)
	t.Cleanup(func() {
		ctl.Close()
		srv.Close()
	})
	return ctl
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

// =============================================================================
// EXCHANGE TESTS
// =============================================================================

func TestSubmitStreamsIntoAssistantMessage(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, msgs[1].Open)

	st := ctl.State()
	assert.False(t, st.IsSending)
	assert.False(t, st.IsStreaming)
	assert.NoError(t, st.Err)
	require.NotNil(t, st.CurrentInteractionID, "synthesized completion must carry an id")
	assert.Positive(t, *st.CurrentInteractionID)

	phase, _ := ctl.Phase()
	assert.Equal(t, PhaseIdle, phase)
}

func TestWholeJSONResponseSetsInteractionID(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message": "Olá, mundo", "interaction_id": 42}`)
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "oi"))
	ctl.Wait()

	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Olá, mundo", msgs[1].Content)
	require.NotNil(t, ctl.State().CurrentInteractionID)
	assert.Equal(t, int64(42), *ctl.State().CurrentInteractionID)
}

func TestPhaseSequence(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	ctl := newTestController(t, b, testConfig())

	var mu sync.Mutex
	var phases []Phase
	ctl.OnChange(func() {
		mu.Lock()
		p, _ := ctl.Phase()
		if len(phases) == 0 || phases[len(phases)-1] != p {
			phases = append(phases, p)
		}
		mu.Unlock()
	})

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{
		PhaseSending, PhaseAwaitingFirstFragment, PhaseStreaming, PhaseCompleted, PhaseIdle,
	}, phases)
}

func TestValidationErrorIsSurfaced(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	ctl := newTestController(t, b, testConfig())

	err := ctl.Submit(context.Background(), " a ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterr.ErrValidation))
	assert.True(t, errors.Is(ctl.State().Err, chaterr.ErrValidation))
	assert.Empty(t, ctl.Messages())
	assert.Zero(t, b.chatCalls.Load())

	ctl.ClearError()
	assert.NoError(t, ctl.State().Err)
}

type fixedScore int

func (s fixedScore) Score() int { return int(s) }

func TestAdmissionRejectionIsSurfaced(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	gate := admission.New(fixedScore(5), nil, admission.DefaultConfig())
	ctl := newTestController(t, b, testConfig(), func(d *Deps) { d.Gate = gate })

	err := ctl.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterr.ErrAdmissionRejected))

	var rej *admission.RejectedError
	require.True(t, errors.As(ctl.State().Err, &rej))
	assert.Equal(t, admission.ReasonLikelyBot, rej.Reason)
	assert.Empty(t, ctl.Messages())
}

func TestSecondSendHalfSecondLaterIsThrottled(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	gate := admission.New(fixedScore(80), nil, admission.DefaultConfig())
	ctl := newTestController(t, b, testConfig(), func(d *Deps) { d.Gate = gate })

	require.NoError(t, ctl.Submit(context.Background(), "first"))
	ctl.Wait()
	err := ctl.Submit(context.Background(), "second")

	var rej *admission.RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, admission.ReasonThrottled, rej.Reason)
	assert.Len(t, ctl.Messages(), 2)
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestZeroFragmentsSchedulesRetry(t *testing.T) {
	b := &fakeBackend{chat: func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusOK) // empty body
			return
		}
		hiThere(w)
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, int32(2), b.chatCalls.Load())
	msgs := ctl.Messages()
	require.Len(t, msgs, 2, "a retry must reuse the assistant message")
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.NoError(t, ctl.State().Err)
}

func TestRetryExhaustionRemovesAssistantWithoutError(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	// Unhealthy backend: no cold start, so 1 attempt + MaxRetries.
	assert.Equal(t, int32(3), b.chatCalls.Load())
	msgs := ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	st := ctl.State()
	assert.NoError(t, st.Err)
	assert.False(t, st.IsSending)
	assert.Empty(t, st.OpenAssistantMessageID)
}

func TestColdStartUsesItsOwnRetryBudget(t *testing.T) {
	b := &fakeBackend{healthy: true, chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}}
	ctl := newTestController(t, b, testConfig())

	var sawCold atomic.Bool
	ctl.OnChange(func() {
		if ctl.State().IsColdStart {
			sawCold.Store(true)
		}
	})

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.True(t, sawCold.Load())
	assert.Equal(t, int32(5), b.chatCalls.Load(), "1 attempt + MaxColdStartRetries")
	assert.Len(t, ctl.Messages(), 1)
	assert.False(t, ctl.State().IsColdStart)
	assert.NoError(t, ctl.State().Err)
}

func TestWatchdogRetriesSilently(t *testing.T) {
	b := &fakeBackend{chat: func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			<-r.Context().Done()
			return
		}
		hiThere(w)
	}}
	ctl := newTestController(t, b, testConfig())

	var sawCold, sawErr atomic.Bool
	ctl.OnChange(func() {
		st := ctl.State()
		if st.IsColdStart {
			sawCold.Store(true)
		}
		if st.Err != nil {
			sawErr.Store(true)
		}
	})

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, int32(2), b.chatCalls.Load())
	assert.True(t, sawCold.Load(), "a first-attempt timeout with no prior success is a cold start")
	assert.False(t, sawErr.Load())
	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, ctl.State().IsColdStart)
}

func TestServerErrorsFollowTheirPath(t *testing.T) {
	t.Run("4xx is surfaced", func(t *testing.T) {
		b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"message":"prompt rejected"}`)
		}}
		ctl := newTestController(t, b, testConfig())

		require.NoError(t, ctl.Submit(context.Background(), "hello"))
		ctl.Wait()

		assert.Equal(t, int32(1), b.chatCalls.Load())
		err := ctl.State().Err
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, chaterr.StatusOf(err))
		assert.True(t, chaterr.UserVisible(err))
		assert.Len(t, ctl.Messages(), 1)
	})

	t.Run("5xx is retried", func(t *testing.T) {
		b := &fakeBackend{chat: func(n int, w http.ResponseWriter, _ *http.Request) {
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			hiThere(w)
		}}
		ctl := newTestController(t, b, testConfig())

		require.NoError(t, ctl.Submit(context.Background(), "hello"))
		ctl.Wait()

		assert.Equal(t, int32(2), b.chatCalls.Load())
		assert.NoError(t, ctl.State().Err)
		assert.Equal(t, "Hi there", ctl.Messages()[1].Content)
	})
}

func TestMidStreamFailureKeepsPartialContent(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", "1000")
		io.WriteString(w, "data: partial answer\n\n")
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, int32(1), b.chatCalls.Load())
	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.False(t, msgs[1].Open)
	assert.NoError(t, ctl.State().Err)
}

func TestColonLedPlainTextAnswerIsKept(t *testing.T) {
	const answer = ":) Sure thing!\nHere is a plain text answer with an\nid: 5\nline in it.\n"
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, answer)
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, int32(1), b.chatCalls.Load())
	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, answer, msgs[1].Content)
}

func TestWhitespaceOnlyAnswerIsKept(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeSSE(w,
			"data: {\"type\":\"chunk\",\"content\":\"  \"}\n\n",
			"data: [DONE]\n\n")
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	msgs := ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "  ", msgs[1].Content)
	assert.False(t, msgs[1].Open)
}

func TestCompletionWithoutContentLeavesNoInteractionID(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeSSE(w,
			"data: {\"type\":\"complete\",\"interaction_id\":9}\n\n",
			"data: [DONE]\n\n")
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, int32(3), b.chatCalls.Load(), "empty attempts are retried")
	st := ctl.State()
	assert.Nil(t, st.CurrentInteractionID)
	assert.NoError(t, st.Err)
	assert.Len(t, ctl.Messages(), 1)
}

func TestCompletionBeforeContentIsKept(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeSSE(w,
			"data: {\"type\":\"complete\",\"interaction_id\":9}\n\n",
			"data: {\"type\":\"chunk\",\"content\":\"late text\"}\n\n",
			"data: [DONE]\n\n")
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.Equal(t, "late text", ctl.Messages()[1].Content)
	require.NotNil(t, ctl.State().CurrentInteractionID)
	assert.Equal(t, int64(9), *ctl.State().CurrentInteractionID)
}

func TestNewMessageSupersedesRunningExchange(t *testing.T) {
	b := &fakeBackend{chat: func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			<-r.Context().Done()
			return
		}
		hiThere(w)
	}}
	cfg := testConfig()
	cfg.WatchdogTimeout = 5 * time.Second
	ctl := newTestController(t, b, cfg)

	require.NoError(t, ctl.Submit(context.Background(), "first question"))
	waitFor(t, func() bool { return b.chatCalls.Load() == 1 })

	require.NoError(t, ctl.Submit(context.Background(), "second question"))
	ctl.Wait()

	msgs := ctl.Messages()
	require.Len(t, msgs, 3, "the empty assistant message of the first exchange is dropped")
	assert.Equal(t, "first question", msgs[0].Content)
	assert.Equal(t, "second question", msgs[1].Content)
	assert.Equal(t, "Hi there", msgs[2].Content)
	assert.Equal(t, int32(2), b.chatCalls.Load())
}

func TestCloseStopsRunningExchange(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}}
	cfg := testConfig()
	cfg.WatchdogTimeout = 10 * time.Second
	ctl := newTestController(t, b, cfg)

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	waitFor(t, func() bool { return b.chatCalls.Load() == 1 })

	done := make(chan struct{})
	go func() {
		ctl.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.ErrorIs(t, ctl.Submit(context.Background(), "again"), ErrClosed)
}

// =============================================================================
// FEEDBACK TESTS
// =============================================================================

func TestFeedbackUsesInteractionIDOnce(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message":"answer","interaction_id":42}`)
	}}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	require.NoError(t, ctl.SubmitFeedback(context.Background(), true))
	assert.Nil(t, ctl.State().CurrentInteractionID)
	require.Equal(t, int32(1), b.feedbackCalls.Load())

	b.mu.Lock()
	req := b.feedbackReqs[0]["request"].(map[string]any)
	b.mu.Unlock()
	assert.Equal(t, float64(42), req["interaction_id"])
	assert.Equal(t, true, req["feedback"])

	fb := ctl.Messages()[1].Feedback
	require.NotNil(t, fb)
	assert.True(t, fb.Given)
	assert.True(t, fb.Positive)
	assert.False(t, fb.SyncFailed)

	// The id was consumed: a second rating stays local.
	require.NoError(t, ctl.SubmitFeedback(context.Background(), false))
	assert.Equal(t, int32(1), b.feedbackCalls.Load())
	fb = ctl.Messages()[1].Feedback
	assert.False(t, fb.Positive)
	assert.True(t, fb.SyncFailed)
}

func TestFeedbackWithoutInteractionIDSucceedsLocally(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	// Simulate an exchange that never produced an id.
	ctl.mu.Lock()
	ctl.state.CurrentInteractionID = nil
	ctl.mu.Unlock()

	assert.NoError(t, ctl.SubmitFeedback(context.Background(), true))
	fb := ctl.Messages()[1].Feedback
	require.NotNil(t, fb)
	assert.True(t, fb.Given)
	assert.True(t, fb.SyncFailed)
	assert.Zero(t, b.feedbackCalls.Load())
}

func TestFeedbackRetriesThenGivesUp(t *testing.T) {
	b := &fakeBackend{
		chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) },
		feedback: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	}
	ctl := newTestController(t, b, testConfig())

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()

	assert.NoError(t, ctl.SubmitFeedback(context.Background(), false))
	assert.Equal(t, int32(3), b.feedbackCalls.Load(), "1 attempt + 2 retries")
	assert.Nil(t, ctl.State().CurrentInteractionID)

	fb := ctl.Messages()[1].Feedback
	require.NotNil(t, fb)
	assert.True(t, fb.SyncFailed)
	assert.False(t, fb.Positive)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

type memoryTranscript struct {
	mu       sync.Mutex
	saved    []*model.Message
	feedback map[string]model.Feedback
}

func (m *memoryTranscript) SaveMessages(_ context.Context, msgs []*model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, msgs...)
	return nil
}

func (m *memoryTranscript) LoadMessages(_ context.Context, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Message, 0, len(m.saved))
	for _, msg := range m.saved {
		out = append(out, msg.Clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryTranscript) UpdateFeedback(_ context.Context, id string, fb model.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedback == nil {
		m.feedback = make(map[string]model.Feedback)
	}
	m.feedback[id] = fb
	return nil
}

func TestCompletedExchangeIsPersisted(t *testing.T) {
	b := &fakeBackend{chat: func(_ int, w http.ResponseWriter, _ *http.Request) { hiThere(w) }}
	tr := &memoryTranscript{}
	ctl := newTestController(t, b, testConfig(), func(d *Deps) { d.Transcript = tr })

	require.NoError(t, ctl.Submit(context.Background(), "hello"))
	ctl.Wait()
	require.NoError(t, ctl.SubmitFeedback(context.Background(), true))

	tr.mu.Lock()
	require.Len(t, tr.saved, 2)
	assert.Equal(t, "hello", tr.saved[0].Content)
	assert.Equal(t, "Hi there", tr.saved[1].Content)
	fb, ok := tr.feedback[tr.saved[1].ID]
	tr.mu.Unlock()
	require.True(t, ok)
	assert.True(t, fb.Positive)

	// A new controller over the same transcript restores the history.
	restored := New(Deps{Transport: backend.NewClient(backend.Config{}), Transcript: tr}, testConfig())
	defer restored.Close()
	require.NoError(t, restored.LoadHistory(context.Background(), 10))
	msgs := restored.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Open)
}

func TestBackoff(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffFactor: 2, BackoffMax: 10 * time.Second}
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 8*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(5))
}
