package classifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/clock"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestClassifier(t *testing.T) (*Classifier, *eventRecorder, *clock.Fake) {
	t.Helper()
	rec := &eventRecorder{}
	fc := clock.NewFake(time.Unix(0, 0))
	cl := New("sess-1", rec.record, WithClock(fc))
	t.Cleanup(cl.Stop)
	return cl, rec, fc
}

func TestFeedAlwaysEmitsActivityFirst(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("plain output\n"))

	events := rec.all()
	require.NotEmpty(t, events)
	require.Equal(t, EventActivity, events[0].Kind)
}

func TestInputRequiredConfirmationDetection(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("Do you want to proceed? (y/n)"))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, EventActivity, events[0].Kind)
	require.Equal(t, EventInputRequired, events[1].Kind)
	require.Equal(t, InputConfirmation, events[1].InputKind)
	require.Contains(t, events[1].Question, "?")
	require.Empty(t, events[1].Options)
}

func TestContextExhaustedDominatesWorking(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("... Thinking ... conversation is too long ..."))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, EventActivity, events[0].Kind)
	require.Equal(t, EventContextExhausted, events[1].Kind)
}

func TestWorkingDominatesInputRequired(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	// A braille spinner line alongside a trailing '?' should classify as
	// working, not input_required, per severity ordering.
	cl.Feed([]byte("⠋ Thinking about your question?"))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, EventWorking, events[1].Kind)
}

func TestSelectionOptionsExtraction(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("Choose an option:\n[1] Accept\n[2] Reject\n"))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, InputSelection, events[1].InputKind)
	require.Equal(t, []string{"Accept", "Reject"}, events[1].Options)
}

func TestOpenQuestionNoOptions(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("Should I use the new API instead?"))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, InputOpenQuestion, events[1].InputKind)
	require.Empty(t, events[1].Options)
}

func TestSingleChunkFiresAtMostOneClassification(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	// Contains a confirmation marker AND a selection marker; only the
	// first family in severity/declaration order should fire.
	cl.Feed([]byte("(y/n) or choose an option:\n[1] yes\n"))

	events := rec.all()
	require.Len(t, events, 2)
	require.Equal(t, InputConfirmation, events[1].InputKind)
}

func TestPossiblyIdleFiresAfterIdleTimeout(t *testing.T) {
	cl, rec, fc := newTestClassifier(t)
	cl.Feed([]byte("hello"))
	fc.Advance(3*time.Second + time.Millisecond)

	require.Eventually(t, func() bool {
		for _, e := range rec.all() {
			if e.Kind == EventPossiblyIdle {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestReEntryAllowsRepeatedEvents(t *testing.T) {
	cl, rec, _ := newTestClassifier(t)
	cl.Feed([]byte("Thinking..."))
	cl.Feed([]byte("Thinking more..."))

	var workingCount int
	for _, e := range rec.all() {
		if e.Kind == EventWorking {
			workingCount++
		}
	}
	require.Equal(t, 2, workingCount)
}

func TestStripANSIRemovesEscapeSequences(t *testing.T) {
	out := StripANSI([]byte("\x1b[31mred\x1b[0m plain"))
	require.Equal(t, "red plain", string(out))
}
