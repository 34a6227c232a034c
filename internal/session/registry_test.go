package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/clock"
	"github.com/termhub/termhub/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeDriver, *store.Store, chan Event) {
	t.Helper()
	driver := newFakeDriver()
	fc := clock.NewFake(time.Unix(0, 0))
	st, err := store.Open(t.TempDir() + "/termhub.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	events := make(chan Event, 256)
	reg := NewRegistry(driver, fc, st, testCaptureConfig(), "termhub", func(e Event) { events <- e })
	return reg, driver, st, events
}

func TestRegistryCreatePersistsSession(t *testing.T) {
	reg, _, st, _ := newTestRegistry(t)
	sess, err := reg.Create(context.Background(), CreateRequest{Kind: KindShell, ProjectPath: "/tmp/a", Cols: 80, Rows: 24})
	require.NoError(t, err)
	t.Cleanup(sess.Disconnect)

	rec, ok := st.GetSession(sess.ID())
	require.True(t, ok)
	require.Equal(t, "/tmp/a", rec.ProjectPath)
	require.Equal(t, sess.ID(), rec.ID)

	got, ok := reg.Get(sess.ID())
	require.True(t, ok)
	require.Same(t, sess, got)
}

func TestRegistryKillMarksEnded(t *testing.T) {
	reg, driver, st, _ := newTestRegistry(t)
	sess, err := reg.Create(context.Background(), CreateRequest{Kind: KindShell, ProjectPath: "/tmp/a", Cols: 80, Rows: 24})
	require.NoError(t, err)

	require.NoError(t, reg.Kill(context.Background(), sess.ID()))
	require.True(t, driver.killed[sess.name()])

	_, ok := reg.Get(sess.ID())
	require.False(t, ok)

	rec, ok := st.GetSession(sess.ID())
	require.True(t, ok)
	require.Equal(t, "dead", rec.State)
	require.NotNil(t, rec.EndedAt)
}

func TestRegistryRediscoverReattachesLiveSessions(t *testing.T) {
	reg, driver, st, events := newTestRegistry(t)
	now := time.Now()
	require.NoError(t, st.InsertSession(store.Session{
		ID: "old1", ProjectPath: "/tmp/a", State: "idle", SessionType: "shell",
		MultiplexerName: "termhub-old1", Cols: 80, Rows: 24, CreatedAt: now, UpdatedAt: now,
	}))
	driver.alive["termhub-old1"] = true
	driver.streams["termhub-old1"] = newPipeStream()

	require.NoError(t, reg.Rediscover(context.Background()))

	sess, ok := reg.Get("old1")
	require.True(t, ok)
	t.Cleanup(sess.Disconnect)
	require.Equal(t, StateIdle, sess.State())

	ev := <-events
	require.Equal(t, TopicCreated, ev.Topic)
	require.Equal(t, "old1", ev.SessionID)
}

func TestRegistryRediscoverSynthesizesMissingRecord(t *testing.T) {
	reg, driver, st, events := newTestRegistry(t)
	driver.alive["termhub-new1"] = true
	driver.streams["termhub-new1"] = newPipeStream()

	require.NoError(t, reg.Rediscover(context.Background()))

	sess, ok := reg.Get("new1")
	require.True(t, ok)
	t.Cleanup(sess.Disconnect)
	require.Equal(t, StateIdle, sess.State())

	rec, ok := st.GetSession("new1")
	require.True(t, ok)
	require.Equal(t, string(KindAssistant), rec.SessionType)
	require.NotEmpty(t, rec.ProjectPath)

	ev := <-events
	require.Equal(t, TopicCreated, ev.Topic)
	require.Equal(t, "new1", ev.SessionID)
}

func TestRegistryRediscoverIgnoresUnrelatedMultiplexerSessions(t *testing.T) {
	reg, driver, _, _ := newTestRegistry(t)
	driver.alive["other-tool-session"] = true
	driver.streams["other-tool-session"] = newPipeStream()

	require.NoError(t, reg.Rediscover(context.Background()))

	require.Empty(t, reg.List())
}

func TestRegistryRediscoverMarksGoneSessionsEnded(t *testing.T) {
	reg, _, st, _ := newTestRegistry(t)
	now := time.Now()
	require.NoError(t, st.InsertSession(store.Session{
		ID: "old2", ProjectPath: "/tmp/a", State: "idle", SessionType: "shell",
		MultiplexerName: "termhub-old2", Cols: 80, Rows: 24, CreatedAt: now, UpdatedAt: now,
	}))
	// driver never marks termhub-old2 alive.

	require.NoError(t, reg.Rediscover(context.Background()))

	_, ok := reg.Get("old2")
	require.False(t, ok)

	rec, ok := st.GetSession("old2")
	require.True(t, ok)
	require.Equal(t, "dead", rec.State)
}

func TestRegistryShutdownGracefulLeavesMultiplexerAlive(t *testing.T) {
	reg, driver, _, _ := newTestRegistry(t)
	sess, err := reg.Create(context.Background(), CreateRequest{Kind: KindShell, ProjectPath: "/tmp/a", Cols: 80, Rows: 24})
	require.NoError(t, err)

	reg.Shutdown(context.Background(), ShutdownGraceful)
	require.True(t, driver.IsAlive(context.Background(), sess.name()))
	require.Empty(t, reg.List())
}

func TestRegistryShutdownPurgeKillsMultiplexer(t *testing.T) {
	reg, driver, _, _ := newTestRegistry(t)
	sess, err := reg.Create(context.Background(), CreateRequest{Kind: KindShell, ProjectPath: "/tmp/a", Cols: 80, Rows: 24})
	require.NoError(t, err)

	reg.Shutdown(context.Background(), ShutdownPurge)
	require.False(t, driver.IsAlive(context.Background(), sess.name()))
}

func TestRegistryRestartWithSummaryPreservesID(t *testing.T) {
	reg, driver, st, _ := newTestRegistry(t)
	sess, err := reg.Create(context.Background(), CreateRequest{Kind: KindAssistant, ProjectPath: "/tmp/a", Cols: 80, Rows: 24})
	require.NoError(t, err)
	id := sess.ID()

	fresh, err := reg.RestartWithSummary(context.Background(), id, "continuing from a prior session")
	require.NoError(t, err)
	t.Cleanup(fresh.Disconnect)
	require.Equal(t, id, fresh.ID())
	require.True(t, driver.IsAlive(context.Background(), fresh.name()))

	rec, ok := st.GetSession(id)
	require.True(t, ok)
	require.Equal(t, "continuing from a prior session", rec.Summary)
}
