package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termhub.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGetSession(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	sess := Session{
		ID:              "abc123def456",
		ProjectPath:     "/tmp/proj",
		Model:           "sonnet",
		PlanMode:        true,
		AutoAccept:      false,
		State:           "idle",
		SessionType:     "assistant",
		MultiplexerName: "termhub-abc123def456",
		Cols:            80,
		Rows:            24,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.InsertSession(sess))

	got, ok := s.GetSession(sess.ID)
	require.True(t, ok)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, sess.ProjectPath, got.ProjectPath)
	require.Equal(t, sess.Model, got.Model)
	require.True(t, got.PlanMode)
	require.False(t, got.AutoAccept)
	require.Equal(t, sess.SessionType, got.SessionType)
	require.Nil(t, got.EndedAt)
}

func TestUpdateSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	sess := Session{ID: "sess-1", ProjectPath: "/a", State: "idle", SessionType: "shell", MultiplexerName: "termhub-sess-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertSession(sess))

	sess.State = "working"
	sess.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.UpdateSession(sess))

	got, ok := s.GetSession("sess-1")
	require.True(t, ok)
	require.Equal(t, "working", got.State)
}

func TestMarkEndedSetsDeadAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	sess := Session{ID: "sess-2", ProjectPath: "/a", State: "idle", SessionType: "shell", MultiplexerName: "termhub-sess-2", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertSession(sess))

	require.NoError(t, s.MarkEnded("sess-2", now.Add(time.Minute)))

	got, ok := s.GetSession("sess-2")
	require.True(t, ok)
	require.Equal(t, "dead", got.State)
	require.NotNil(t, got.EndedAt)
}

func TestListAliveIDsExcludesEnded(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.InsertSession(Session{ID: "a", ProjectPath: "/a", State: "idle", SessionType: "shell", MultiplexerName: "termhub-a", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.InsertSession(Session{ID: "b", ProjectPath: "/b", State: "idle", SessionType: "shell", MultiplexerName: "termhub-b", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.MarkEnded("b", now))

	ids, err := s.ListAliveIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)
}

func TestConfigKeyValueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, ok := s.GetConfig("auth_token")
	require.False(t, ok)

	require.NoError(t, s.SetConfig("auth_token", "abc"))
	v, ok := s.GetConfig("auth_token")
	require.True(t, ok)
	require.Equal(t, "abc", v)

	require.NoError(t, s.SetConfig("auth_token", "def"))
	v, ok = s.GetConfig("auth_token")
	require.True(t, ok)
	require.Equal(t, "def", v)
}
