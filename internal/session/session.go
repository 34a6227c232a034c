// Package session owns the per-session state machine: one tmux pane, one
// output classifier, and the debounced capture pipeline that turns raw
// terminal bytes into the "current screen" a client renders.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/termhub/termhub/internal/classifier"
	"github.com/termhub/termhub/internal/clock"
	"github.com/termhub/termhub/internal/tmux"
	"github.com/termhub/termhub/pkg/shellutil"
)

// Kind distinguishes an assistant-driven session from a plain shell.
type Kind string

const (
	KindAssistant Kind = "assistant"
	KindShell     Kind = "shell"
)

// State is a session's externally visible lifecycle state.
type State string

const (
	StateStarting             State = "starting"
	StateIdle                 State = "idle"
	StateWorking              State = "working"
	StateAwaitingInput        State = "awaiting_input"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateContextLimit         State = "context_limit"
	StateDead                 State = "dead"
	StateError                State = "error"
)

// Topic names the kind of Event a Session publishes.
type Topic string

const (
	TopicState         Topic = "state"
	TopicOutput        Topic = "output"
	TopicInputRequired Topic = "input_required"
	TopicContextLimit  Topic = "context_limit"
	TopicExit          Topic = "exit"
	// TopicCreated marks a session the registry just started driving,
	// whether freshly created or readopted from a live multiplexer
	// session found on startup.
	TopicCreated Topic = "created"
)

// Event is the single typed message a Session publishes to its observer.
// The registry is the sole subscriber; it forwards relevant events to the
// hub keyed by session id.
type Event struct {
	Topic     Topic
	SessionID string
	Timestamp time.Time

	State     State             // TopicState
	Screen    []byte            // TopicOutput
	InputKind classifier.InputKind // TopicInputRequired
	Question  string            // TopicInputRequired
	Options   []string          // TopicInputRequired
	Message   string            // TopicContextLimit
}

// Params describes a session to be created or reattached.
type Params struct {
	ID              string
	Kind            Kind
	ProjectPath     string
	Model           string
	PlanMode        bool
	AutoAccept      bool
	Cols            int
	Rows            int
	MultiplexerName string
	AssistantCmd    string // defaults to "claude"
}

// CaptureConfig tunes the screen-capture pipeline and idle classification.
type CaptureConfig struct {
	Debounce      time.Duration
	ResizeSettle  time.Duration
	LivenessProbe time.Duration
	IdleTimeout   time.Duration
	ContextWindow int
}

// Session is one live (or freshly dead) multiplexed pane.
type Session struct {
	id       string
	kind     Kind
	params   Params
	driver   Driver
	clk      clock.Clock
	publish  func(Event)
	capture  CaptureConfig

	cls    *classifier.Classifier
	stream io.ReadCloser

	mu                sync.Mutex
	state             State
	cols, rows        int
	hasReceivedResize bool
	lastEmittedScreen []byte
	captureInFlight   bool
	ended             bool

	debounceTimer clock.Timer
	resizeTimer   clock.Timer
	liveness      clock.Ticker

	stopCh chan struct{}
	stopOnce sync.Once
}

// name returns the tmux session name this Session drives.
func (s *Session) name() string { return s.params.MultiplexerName }

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func buildArgv(p Params) []string {
	if p.Kind == KindShell {
		if sh := os.Getenv("SHELL"); sh != "" {
			return []string{sh}
		}
		return []string{"/bin/sh"}
	}

	cmd := p.AssistantCmd
	if cmd == "" {
		cmd = "claude"
	}
	argv := []string{cmd}
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	if p.PlanMode {
		argv = append(argv, "--plan")
	}
	if p.AutoAccept {
		argv = append(argv, "--dangerously-skip-permissions")
	}
	return argv
}

// quoteArgv renders argv as a copy-pasteable shell command line for logs.
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellutil.Quote(a)
	}
	return strings.Join(quoted, " ")
}

// NewFresh creates a brand-new tmux session and starts driving it.
func NewFresh(ctx context.Context, p Params, driver Driver, clk clock.Clock, capture CaptureConfig, publish func(Event)) (*Session, error) {
	if p.MultiplexerName == "" {
		return nil, fmt.Errorf("session: missing multiplexer name for %s", p.ID)
	}
	argv := buildArgv(p)
	log.Debug("session: starting", "id", p.ID, "cmd", quoteArgv(argv))
	if err := driver.Create(ctx, p.MultiplexerName, p.Cols, p.Rows, p.ProjectPath, argv); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", p.ID, err)
	}
	if err := driver.ApplyOptions(ctx, p.MultiplexerName); err != nil {
		return nil, fmt.Errorf("session: apply options %s: %w", p.ID, err)
	}
	s, err := attach(ctx, p, driver, clk, capture, publish, StateStarting)
	if err != nil {
		return nil, err
	}
	// The reader is attached and the capture pipeline is running: the
	// session is idle until output classification says otherwise.
	s.transitionState(StateIdle)
	return s, nil
}

// NewAttached resumes driving an already-running tmux session discovered on
// daemon start.
func NewAttached(ctx context.Context, p Params, driver Driver, clk clock.Clock, capture CaptureConfig, publish func(Event)) (*Session, error) {
	if !driver.IsAlive(ctx, p.MultiplexerName) {
		return nil, fmt.Errorf("session: %s: multiplexer session %s is gone", p.ID, p.MultiplexerName)
	}
	_ = driver.ApplyOptions(ctx, p.MultiplexerName)
	return attach(ctx, p, driver, clk, capture, publish, StateIdle)
}

func attach(ctx context.Context, p Params, driver Driver, clk clock.Clock, capture CaptureConfig, publish func(Event), initial State) (*Session, error) {
	stream, err := driver.AttachReader(ctx, p.MultiplexerName)
	if err != nil {
		return nil, fmt.Errorf("session: attach %s: %w", p.ID, err)
	}

	s := &Session{
		id:      p.ID,
		kind:    p.Kind,
		params:  p,
		driver:  driver,
		clk:     clk,
		publish: publish,
		capture: capture,
		stream:  stream,
		state:   initial,
		cols:    p.Cols,
		rows:    p.Rows,
		stopCh:  make(chan struct{}),
	}
	s.debounceTimer = clk.NewTimer(capture.Debounce)
	s.debounceTimer.Stop()
	s.resizeTimer = clk.NewTimer(capture.ResizeSettle)
	s.resizeTimer.Stop()
	s.liveness = clk.NewTicker(capture.LivenessProbe)

	s.cls = classifier.New(p.ID, s.onClassifierEvent,
		classifier.WithClock(clk),
		classifier.WithIdleTimeout(capture.IdleTimeout),
		classifier.WithContextWindow(capture.ContextWindow))

	go s.readLoop()
	go s.debounceLoop()
	go s.resizeLoop()
	go s.livenessLoop()

	return s, nil
}

// Disconnect tears down this Session's goroutines and reader without
// touching the underlying multiplexer session (used on graceful registry
// shutdown, on restart, when a create or rediscovery attempt fails, and by
// Kill before it destroys the multiplexer session).
func (s *Session) Disconnect() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cls.Stop()
		s.debounceTimer.Stop()
		s.resizeTimer.Stop()
		s.liveness.Stop()
		_ = s.stream.Close()
	})
}

// Kill disconnects and destroys the underlying multiplexer session.
func (s *Session) Kill(ctx context.Context) error {
	s.Disconnect()
	return s.driver.Kill(ctx, s.name())
}

func (s *Session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.cls.Feed(chunk)
		}
		if err != nil {
			if !s.driver.IsAlive(context.Background(), s.name()) {
				s.transitionDead()
			}
			return
		}
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *Session) livenessLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-s.liveness.C():
			if !ok {
				return
			}
			if !s.driver.IsAlive(context.Background(), s.name()) {
				s.transitionDead()
				return
			}
		}
	}
}

func (s *Session) debounceLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-s.debounceTimer.C():
			if !ok {
				return
			}
			s.tryCapture()
		}
	}
}

func (s *Session) resizeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-s.resizeTimer.C():
			if !ok {
				return
			}
			s.mu.Lock()
			s.lastEmittedScreen = nil
			s.mu.Unlock()
			s.tryCapture()
		}
	}
}

func (s *Session) onClassifierEvent(ev classifier.Event) {
	now := s.clk.Now()
	switch ev.Kind {
	case classifier.EventActivity:
		s.mu.Lock()
		armed := s.hasReceivedResize
		s.mu.Unlock()
		if armed {
			s.debounceTimer.Reset(s.capture.Debounce)
		}
	case classifier.EventWorking:
		s.transitionState(StateWorking)
	case classifier.EventPossiblyIdle:
		if s.State() == StateWorking {
			s.transitionState(StateIdle)
		}
	case classifier.EventContextExhausted:
		s.transitionState(StateContextLimit)
		s.publish(Event{Topic: TopicContextLimit, SessionID: s.id, Timestamp: now, Message: string(ev.Window)})
	case classifier.EventInputRequired:
		if ev.InputKind == classifier.InputConfirmation {
			s.transitionState(StateAwaitingConfirmation)
		} else {
			s.transitionState(StateAwaitingInput)
		}
		s.publish(Event{
			Topic: TopicInputRequired, SessionID: s.id, Timestamp: now,
			InputKind: ev.InputKind, Question: ev.Question, Options: ev.Options,
		})
	}
}

func (s *Session) transitionState(ns State) {
	s.mu.Lock()
	if s.state == StateDead || s.state == ns {
		s.mu.Unlock()
		return
	}
	s.state = ns
	s.mu.Unlock()
	s.publish(Event{Topic: TopicState, SessionID: s.id, Timestamp: s.clk.Now(), State: ns})
}

func (s *Session) transitionDead() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = StateDead
	s.mu.Unlock()
	s.publish(Event{Topic: TopicState, SessionID: s.id, Timestamp: s.clk.Now(), State: StateDead})
	s.publish(Event{Topic: TopicExit, SessionID: s.id, Timestamp: s.clk.Now()})
}

// tryCapture runs at most one capture at a time; a capture requested while
// one is in flight is dropped, relying on the next debounce firing (or the
// resize-settle timer) to catch up.
func (s *Session) tryCapture() {
	s.mu.Lock()
	if s.captureInFlight || !s.hasReceivedResize {
		s.mu.Unlock()
		return
	}
	s.captureInFlight = true
	s.mu.Unlock()

	s.runCapture()

	s.mu.Lock()
	s.captureInFlight = false
	s.mu.Unlock()
}

func (s *Session) runCapture() {
	ctx := context.Background()
	raw := s.driver.CapturePane(ctx, s.name())
	row, col := s.driver.CursorPosition(ctx, s.name())
	screen := renderScreen(raw, row, col)

	s.mu.Lock()
	unchanged := bytes.Equal(screen, s.lastEmittedScreen)
	if !unchanged {
		s.lastEmittedScreen = screen
	}
	s.mu.Unlock()
	if unchanged {
		return
	}
	s.publish(Event{Topic: TopicOutput, SessionID: s.id, Timestamp: s.clk.Now(), Screen: screen})
}

// renderScreen trims trailing blank rows and whitespace and appends a
// cursor-position escape so a client can place its caret without a second
// round trip.
func renderScreen(raw []byte, row, col int) []byte {
	lines := bytes.Split(raw, []byte("\n"))
	for i := range lines {
		lines[i] = bytes.TrimRight(lines[i], " \t\r")
	}
	end := len(lines)
	for end > 0 && len(lines[end-1]) == 0 {
		end--
	}
	lines = lines[:end]

	var out bytes.Buffer
	out.Write(bytes.Join(lines, []byte("\n")))
	fmt.Fprintf(&out, "\x1b[%d;%dH", row+1, col+1)
	return out.Bytes()
}

// Resize informs the multiplexer of a new client-driven terminal size and
// forces a fresh capture once the resize has settled.
func (s *Session) Resize(ctx context.Context, cols, rows int) error {
	if err := s.driver.Resize(ctx, s.name(), cols, rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.hasReceivedResize = true
	s.mu.Unlock()
	s.resizeTimer.Reset(s.capture.ResizeSettle)
	return nil
}

// SendKeys dispatches a named control key (e.g. Ctrl-C, arrows) to the pane.
func (s *Session) SendKeys(ctx context.Context, key tmux.NamedKey) error {
	return s.driver.SendKeys(ctx, s.name(), key)
}

// SendRaw dispatches a client-supplied key encoding, resolving it to a
// named key when recognized and otherwise sending it as literal text.
func (s *Session) SendRaw(ctx context.Context, raw string) error {
	if key, ok := tmux.ResolveKey(raw); ok {
		return s.driver.SendKeys(ctx, s.name(), key)
	}
	return s.driver.SendLiteral(ctx, s.name(), raw)
}

// Viewport returns the last (cols, rows) this session was resized to.
func (s *Session) Viewport() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// SendInputLine types literal text followed by Enter, the ordinary path for
// user-typed input and prompt responses.
func (s *Session) SendInputLine(ctx context.Context, text string) error {
	if err := s.driver.SendInputLine(ctx, s.name(), text); err != nil {
		return err
	}
	if s.kind == KindAssistant {
		s.transitionState(StateWorking)
	}
	return nil
}

// Scrollback returns the full captured history for this pane, fetched on
// demand rather than kept resident.
func (s *Session) Scrollback(ctx context.Context) []byte {
	return s.driver.ReadAllScrollback(ctx, s.name())
}

// LastScreen returns the most recently emitted rendered screen, or nil if
// no capture has happened yet (no resize received).
func (s *Session) LastScreen() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.lastEmittedScreen...)
}
