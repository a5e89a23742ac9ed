package feedback

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

func openTestStore(t *testing.T, password string) *Store {
	t.Helper()
	s, err := Open(":memory:", password, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "letmein")

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.Submit(ctx, Entry{
		SessionID: "s1",
		Comment:   "the answer cited the wrong statute",
		Prompt:    "prompt A",
		Messages:  []chat.Message{chat.UserMessage("hi"), chat.AssistantMessage("hello")},
	})
	require.NoError(t, err)
	_, err = ulid.Parse(first.ID)
	require.NoError(t, err)
	assert.Equal(t, base, first.CreatedAt)

	s.now = func() time.Time { return base.Add(time.Minute) }
	_, err = s.Submit(ctx, Entry{SessionID: "s2", Comment: "great", Transcript: "<p>hi</p>"})
	require.NoError(t, err)

	entries, err := s.List(ctx, "letmein")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Len(t, entries[0].Messages, 2)
	assert.Equal(t, "<p>hi</p>", entries[1].Transcript)
	assert.Empty(t, entries[1].Messages)
}

func TestListRequiresPassword(t *testing.T) {
	ctx := context.Background()

	s := openTestStore(t, "letmein")
	_, err := s.List(ctx, "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	unset := openTestStore(t, "")
	_, err = unset.List(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitRequiresComment(t *testing.T) {
	s := openTestStore(t, "x")
	_, err := s.Submit(context.Background(), Entry{SessionID: "s1", Comment: "  "})
	require.ErrorIs(t, err, ErrEmptyComment)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feedback.db")

	s, err := Open(path, "pw", nil)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), Entry{SessionID: "s1", Comment: "kept"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, "pw", nil)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(context.Background(), "pw")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Comment)
}

func TestGroupByPrompt(t *testing.T) {
	groups := GroupByPrompt([]Entry{
		{Prompt: "A", Comment: " one ", Messages: []chat.Message{chat.UserMessage("q1")}},
		{Prompt: "B", Comment: "two"},
		{Prompt: "A", Comment: "three"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "A", groups[0].Prompt)
	require.Len(t, groups[0].Conversations, 2)
	assert.Equal(t, "one", groups[0].Conversations[0].Feedback)
	assert.Equal(t, "three", groups[0].Conversations[1].Feedback)
	assert.Equal(t, "B", groups[1].Prompt)
}

func TestSubmitLogsSingleSubsystem(t *testing.T) {
	var buf bytes.Buffer
	s, err := Open(":memory:", "", logging.New(&buf, "info").Sub("feedback"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Submit(context.Background(), Entry{SessionID: "s1", Comment: "thanks"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"subsystem"`), line)
	}
}
