// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/security"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectoryAndSchema(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.FileExists(t, s.Path())

	// Reopening an existing database keeps working.
	again, err := Open(s.Path())
	require.NoError(t, err)
	again.Close()
}

func TestRecordAndListEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	kinds := []security.ActivityKind{
		security.ActivitySubmission,
		security.ActivityBurst,
		security.ActivityLockoutRaised,
	}
	for i, k := range kinds {
		require.NoError(t, s.RecordEvent(ctx, security.ActivityEvent{
			At:     base.Add(time.Duration(i) * time.Second),
			Kind:   k,
			Reason: "reason",
			Detail: string(k),
		}))
	}

	all, err := s.RecentEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, security.ActivitySubmission, all[0].Kind)
	assert.True(t, all[0].At.Equal(base))

	last2, err := s.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, security.ActivityBurst, last2[0].Kind)
	assert.Equal(t, security.ActivityLockoutRaised, last2[1].Kind)

	n, err := s.PruneEvents(ctx, base.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	user := model.NewUserMessage("hello")
	user.CreatedAt = base
	assistant := model.NewAssistantMessage()
	assistant.CreatedAt = base.Add(time.Millisecond)
	assistant.Content = "Hi there"
	assistant.Close()

	require.NoError(t, s.SaveMessages(ctx, []*model.Message{user, assistant}))

	msgs, err := s.LoadMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, user.ID, msgs[0].ID)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, msgs[1].Open)
	assert.Nil(t, msgs[1].Feedback)

	require.NoError(t, s.UpdateFeedback(ctx, assistant.ID,
		model.Feedback{Given: true, Positive: false, SyncFailed: true}))
	msgs, err = s.LoadMessages(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msgs[1].Feedback)
	assert.True(t, msgs[1].Feedback.Given)
	assert.False(t, msgs[1].Feedback.Positive)
	assert.True(t, msgs[1].Feedback.SyncFailed)

	// Unknown ids are not an error.
	assert.NoError(t, s.UpdateFeedback(ctx, "missing", model.Feedback{Given: true}))
}

func TestSaveMessagesUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := model.NewMessage(model.RoleAssistant, "partial")
	require.NoError(t, s.SaveMessages(ctx, []*model.Message{msg}))
	msg.Content = "partial and complete"
	require.NoError(t, s.SaveMessages(ctx, []*model.Message{msg}))

	msgs, err := s.LoadMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial and complete", msgs[0].Content)
}

func TestLoadMessagesLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	var all []*model.Message
	for i := 0; i < 5; i++ {
		m := model.NewUserMessage(string(rune('a'+i)) + "!")
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		all = append(all, m)
	}
	require.NoError(t, s.SaveMessages(ctx, all))

	msgs, err := s.LoadMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "d!", msgs[0].Content)
	assert.Equal(t, "e!", msgs[1].Content)

	require.NoError(t, s.ClearTranscript(ctx))
	msgs, err = s.LoadMessages(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStoreAsMonitorSink(t *testing.T) {
	s := openTestStore(t)
	m := security.NewActivityMonitor(security.WithEventSink(s))

	m.RecordRejection("throttled", "too fast")

	events, err := s.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, security.ActivityRejected, events[len(events)-1].Kind)
}
