// Package classifier is the streaming, regex-based observer that maps raw
// terminal bytes to session state transitions. The hosted assistant is a
// third-party interactive TUI we cannot instrument, so state must be
// inferred from its rendered output; pattern ordering reflects severity —
// an exhausted context takes precedence over any other interpretation.
package classifier

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/termhub/termhub/internal/clock"
)

// EventKind identifies which of the classifier's observable transitions
// fired.
type EventKind string

const (
	EventActivity         EventKind = "activity"
	EventWorking          EventKind = "working"
	EventPossiblyIdle     EventKind = "possibly_idle"
	EventInputRequired    EventKind = "input_required"
	EventContextExhausted EventKind = "context_exhausted"
)

// InputKind classifies the shape of a detected input-required prompt.
type InputKind string

const (
	InputConfirmation InputKind = "confirmation"
	InputSelection    InputKind = "selection"
	InputOpenQuestion InputKind = "open_question"
)

// Event is one classifier observation.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	// Window is the rolling context window at the time of a
	// context_exhausted event.
	Window []byte

	// InputKind, Question, and Options are populated for input_required.
	InputKind InputKind
	Question  string
	Options   []string
}

const (
	defaultIdleTimeout   = 3 * time.Second
	defaultContextWindow = 10000
)

var contextExhaustedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)context (window|limit)`),
	regexp.MustCompile(`(?i)too long`),
	regexp.MustCompile(`(?i)maximum.*token`),
	regexp.MustCompile(`(?i)conversation is too long`),
	regexp.MustCompile(`(?i)context.*exceeded`),
}

var workingPattern = regexp.MustCompile(`(?i)\b(Thinking|Reading|Writing|Running|Searching|Analyzing|Editing|Creating)\b`)

const brailleSpinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"

var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(y/n\)`),
	regexp.MustCompile(`\[Y/n\]`),
	regexp.MustCompile(`\[yes/no\]`),
	regexp.MustCompile(`(?i)Do you want to `),
}

var toolApprovalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Allow .+ to run`),
	regexp.MustCompile(`(?i)Press Enter to (run|approve|reject|edit)`),
}

var selectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Choose an option`),
	regexp.MustCompile(`(?i)Select .+:`),
}

var selectionLineMarker = regexp.MustCompile(`^\[(\d+)\]\s*(.*)$`)

var questionLineMatch = regexp.MustCompile(`\?|\(y/n\)`)

// Classifier consumes a never-ending byte stream and fires Event callbacks.
type Classifier struct {
	sessionID   string
	callback    func(Event)
	clk         clock.Clock
	idleTimeout time.Duration
	windowSize  int

	mu        sync.Mutex
	window    []byte
	idleTimer clock.Timer
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// Option configures a Classifier at construction time.
type Option func(*Classifier)

// WithClock overrides the clock used for idle-timer scheduling (tests).
func WithClock(c clock.Clock) Option {
	return func(cl *Classifier) { cl.clk = c }
}

// WithIdleTimeout overrides the default 3s idle threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(cl *Classifier) { cl.idleTimeout = d }
}

// WithContextWindow overrides the default 10,000 byte rolling window.
func WithContextWindow(n int) Option {
	return func(cl *Classifier) { cl.windowSize = n }
}

// New constructs a Classifier for sessionID that invokes callback for
// every observed event.
func New(sessionID string, callback func(Event), opts ...Option) *Classifier {
	cl := &Classifier{
		sessionID:   sessionID,
		callback:    callback,
		clk:         clock.Real{},
		idleTimeout: defaultIdleTimeout,
		windowSize:  defaultContextWindow,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.idleTimer = cl.clk.NewTimer(cl.idleTimeout)
	go cl.watchIdle()
	return cl
}

// Stop releases the idle-timer goroutine. Safe to call multiple times.
func (c *Classifier) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.idleTimer.Stop()
	})
}

func (c *Classifier) watchIdle() {
	for {
		select {
		case <-c.stopCh:
			return
		case t, ok := <-c.idleTimer.C():
			if !ok {
				return
			}
			c.callback(Event{Kind: EventPossiblyIdle, Timestamp: t})
		}
	}
}

// Feed processes one chunk of raw terminal bytes. It always emits
// activity first, resets the idle timer, then tests the chunk (with
// cursor/color escape sequences stripped, so a pattern split across a
// color change still matches) against the three ordered pattern
// families, emitting at most one of context_exhausted / working /
// input_required — whichever fires first in severity order. A classifier
// failure (none here, by construction) degrades to "no classification
// this chunk"; activity is still emitted.
func (c *Classifier) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	now := c.clk.Now()
	clean := StripANSI(data)

	c.mu.Lock()
	c.window = appendCapped(c.window, clean, c.windowSize)
	windowSnapshot := append([]byte(nil), c.window...)
	c.mu.Unlock()

	c.callback(Event{Kind: EventActivity, Timestamp: now})
	c.idleTimer.Reset(c.idleTimeout)

	if ev, ok := classifyChunk(clean, windowSnapshot, now); ok {
		c.callback(ev)
	}
}

func appendCapped(window, data []byte, cap int) []byte {
	combined := append(window, data...)
	if len(combined) > cap {
		combined = combined[len(combined)-cap:]
	}
	out := make([]byte, len(combined))
	copy(out, combined)
	return out
}

func classifyChunk(chunk, window []byte, now time.Time) (Event, bool) {
	if matchAny(contextExhaustedPatterns, chunk) {
		return Event{Kind: EventContextExhausted, Timestamp: now, Window: window}, true
	}

	if workingPattern.Match(chunk) || containsBrailleSpinner(chunk) {
		return Event{Kind: EventWorking, Timestamp: now}, true
	}

	if ev, ok := classifyInputRequired(chunk, now); ok {
		return ev, true
	}

	return Event{}, false
}

func matchAny(patterns []*regexp.Regexp, chunk []byte) bool {
	for _, p := range patterns {
		if p.Match(chunk) {
			return true
		}
	}
	return false
}

func containsBrailleSpinner(chunk []byte) bool {
	return strings.ContainsAny(string(chunk), brailleSpinnerRunes)
}

func classifyInputRequired(chunk []byte, now time.Time) (Event, bool) {
	text := string(chunk)

	switch {
	case matchAny(confirmationPatterns, chunk):
		return Event{
			Kind:      EventInputRequired,
			Timestamp: now,
			InputKind: InputConfirmation,
			Question:  extractQuestion(text),
		}, true
	case matchAny(toolApprovalPatterns, chunk):
		return Event{
			Kind:      EventInputRequired,
			Timestamp: now,
			InputKind: InputConfirmation,
			Question:  extractQuestion(text),
		}, true
	case matchAny(selectionPatterns, chunk) || hasSelectionMarker(text):
		return Event{
			Kind:      EventInputRequired,
			Timestamp: now,
			InputKind: InputSelection,
			Question:  extractQuestion(text),
			Options:   extractOptions(text),
		}, true
	case endsWithOpenQuestion(text):
		return Event{
			Kind:      EventInputRequired,
			Timestamp: now,
			InputKind: InputOpenQuestion,
			Question:  extractQuestion(text),
		}, true
	}
	return Event{}, false
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// extractQuestion returns the last line containing '?' or "(y/n)", else
// the last non-empty line.
func extractQuestion(text string) string {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return ""
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if questionLineMatch.MatchString(lines[i]) {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// extractOptions returns the text following each "[N]" marker found at
// the start of a line.
func extractOptions(text string) []string {
	var options []string
	for _, line := range nonEmptyLines(text) {
		if m := selectionLineMarker.FindStringSubmatch(line); m != nil {
			options = append(options, strings.TrimSpace(m[2]))
		}
	}
	return options
}

func hasSelectionMarker(text string) bool {
	for _, line := range nonEmptyLines(text) {
		if selectionLineMarker.MatchString(line) {
			return true
		}
	}
	return false
}

// endsWithOpenQuestion reports whether the last non-empty line ends with
// a trailing '?'.
func endsWithOpenQuestion(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return false
	}
	return strings.HasSuffix(strings.TrimSpace(lines[len(lines)-1]), "?")
}

// StripANSI removes ANSI/VT escape sequences from data. Feed uses it to
// classify on meaningful content independent of cursor/color control
// codes; exported so callers with their own raw terminal bytes to test
// can do the same.
func StripANSI(data []byte) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(data) {
		if data[i] == 0x1b && i+1 < len(data) && data[i+1] == '[' {
			j := i + 2
			for j < len(data) && !isANSITerminator(data[j]) {
				j++
			}
			if j < len(data) {
				j++
			}
			i = j
			continue
		}
		out.WriteByte(data[i])
		i++
	}
	return out.Bytes()
}

func isANSITerminator(b byte) bool {
	return b >= 0x40 && b <= 0x7e
}
