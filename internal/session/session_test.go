package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/clock"
)

func testCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Debounce:      10 * time.Millisecond,
		ResizeSettle:  10 * time.Millisecond,
		LivenessProbe: 10 * time.Millisecond,
		IdleTimeout:   50 * time.Millisecond,
		ContextWindow: 4096,
	}
}

func newTestSession(t *testing.T, kind Kind) (*Session, *fakeDriver, *clock.Fake, chan Event) {
	t.Helper()
	driver := newFakeDriver()
	fc := clock.NewFake(time.Unix(0, 0))
	events := make(chan Event, 64)
	p := Params{
		ID:              "sess1",
		Kind:            kind,
		ProjectPath:     "/tmp/proj",
		Cols:            80,
		Rows:            24,
		MultiplexerName: "termhub-sess1",
	}
	sess, err := NewFresh(context.Background(), p, driver, fc, testCaptureConfig(), func(e Event) { events <- e })
	require.NoError(t, err)
	t.Cleanup(sess.Disconnect)
	return sess, driver, fc, events
}

func drainUntil(t *testing.T, events chan Event, topic Topic, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.Topic == topic {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for topic %s", topic)
		}
	}
}

func TestNewFreshCreatesMultiplexerSession(t *testing.T) {
	sess, driver, _, _ := newTestSession(t, KindShell)
	require.True(t, driver.IsAlive(context.Background(), sess.name()))
}

func TestNewFreshBecomesIdleOnceAttached(t *testing.T) {
	sess, _, _, events := newTestSession(t, KindShell)
	require.Equal(t, StateIdle, sess.State())

	ev := drainUntil(t, events, TopicState, 200*time.Millisecond)
	require.Equal(t, StateIdle, ev.State)
}

func TestNoCaptureBeforeFirstResize(t *testing.T) {
	sess, driver, _, events := newTestSession(t, KindShell)
	driver.setPane(sess.name(), "hello world", 0, 0)
	driver.feed(sess.name(), []byte("hello world"))

	select {
	case e := <-events:
		require.NotEqual(t, TopicOutput, e.Topic, "no output_update should fire before first resize")
	case <-time.After(30 * time.Millisecond):
	}
	require.Nil(t, sess.LastScreen())
}

func TestResizeArmsCaptureAndEmitsOutput(t *testing.T) {
	sess, driver, fc, events := newTestSession(t, KindShell)
	driver.setPane(sess.name(), "hello world\n\n\n", 0, 5)

	require.NoError(t, sess.Resize(context.Background(), 100, 30))
	fc.Advance(20 * time.Millisecond)
	ev := drainUntil(t, events, TopicOutput, time.Second)
	require.Contains(t, string(ev.Screen), "hello world")
	require.NotEmpty(t, sess.LastScreen())
}

func TestUnchangedScreenIsNotReEmitted(t *testing.T) {
	sess, driver, fc, events := newTestSession(t, KindShell)
	driver.setPane(sess.name(), "same screen", 0, 0)
	require.NoError(t, sess.Resize(context.Background(), 80, 24))
	fc.Advance(20 * time.Millisecond)
	drainUntil(t, events, TopicOutput, time.Second)

	driver.feed(sess.name(), []byte("more bytes but pane capture unchanged"))
	fc.Advance(20 * time.Millisecond)

	select {
	case e := <-events:
		require.NotEqual(t, TopicOutput, e.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInputRequiredTransitionsAwaitingConfirmation(t *testing.T) {
	sess, driver, _, events := newTestSession(t, KindAssistant)
	driver.feed(sess.name(), []byte("Do you want to proceed? (y/n)"))

	ev := drainUntil(t, events, TopicInputRequired, time.Second)
	require.Equal(t, "sess1", ev.SessionID)
	require.Equal(t, StateAwaitingConfirmation, sess.State())
}

func TestContextExhaustedEmitsContextLimit(t *testing.T) {
	sess, driver, _, events := newTestSession(t, KindAssistant)
	driver.feed(sess.name(), []byte("the conversation is too long to continue"))

	drainUntil(t, events, TopicContextLimit, time.Second)
	require.Equal(t, StateContextLimit, sess.State())
}

func TestLivenessProbeDetectsDeadMultiplexer(t *testing.T) {
	sess, driver, fc, events := newTestSession(t, KindShell)
	driver.mu.Lock()
	driver.alive[sess.name()] = false
	driver.mu.Unlock()

	fc.Advance(20 * time.Millisecond)
	ev := drainUntil(t, events, TopicExit, time.Second)
	require.Equal(t, "sess1", ev.SessionID)
	require.Equal(t, StateDead, sess.State())
}

func TestSendInputLineTransitionsAssistantToWorking(t *testing.T) {
	sess, driver, _, _ := newTestSession(t, KindAssistant)
	require.NoError(t, sess.SendInputLine(context.Background(), "hello"))
	require.Equal(t, StateWorking, sess.State())
	require.Contains(t, driver.sentLines, "hello")
}

func TestKillStopsAndRemovesMultiplexerSession(t *testing.T) {
	sess, driver, _, _ := newTestSession(t, KindShell)
	require.NoError(t, sess.Kill(context.Background()))
	require.False(t, driver.IsAlive(context.Background(), sess.name()))
	require.True(t, driver.killed[sess.name()])
}
