package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termhub/termhub/internal/clock"
	"github.com/termhub/termhub/internal/store"
)

// ShutdownMode selects how Shutdown disposes of live sessions.
type ShutdownMode string

const (
	// ShutdownGraceful disconnects readers but leaves multiplexer sessions
	// running for rediscovery on the next daemon start.
	ShutdownGraceful ShutdownMode = "graceful"
	// ShutdownPurge kills every multiplexer session as well.
	ShutdownPurge ShutdownMode = "purge"
)

// CreateRequest is the daemon-facing request to start a new session.
type CreateRequest struct {
	Kind         Kind
	ProjectPath  string
	Model        string
	PlanMode     bool
	AutoAccept   bool
	Cols         int
	Rows         int
	AssistantCmd string
}

// Registry owns every live Session, persists their metadata, and
// rediscovers sessions left running by a previous daemon process.
type Registry struct {
	driver        Driver
	clk           clock.Clock
	st            *store.Store
	capture       CaptureConfig
	sessionPrefix string
	publish       func(Event)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry. publish receives every Event
// emitted by every session it owns.
func NewRegistry(driver Driver, clk clock.Clock, st *store.Store, capture CaptureConfig, sessionPrefix string, publish func(Event)) *Registry {
	return &Registry{
		driver:        driver,
		clk:           clk,
		st:            st,
		capture:       capture,
		sessionPrefix: sessionPrefix,
		publish:       publish,
		sessions:      make(map[string]*Session),
	}
}

func (r *Registry) multiplexerName(id string) string {
	return fmt.Sprintf("%s-%s", r.sessionPrefix, id)
}

// Create starts a brand-new session, persists it, and registers it.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	p := Params{
		ID:              id,
		Kind:            req.Kind,
		ProjectPath:     req.ProjectPath,
		Model:           req.Model,
		PlanMode:        req.PlanMode,
		AutoAccept:      req.AutoAccept,
		Cols:            req.Cols,
		Rows:            req.Rows,
		MultiplexerName: r.multiplexerName(id),
		AssistantCmd:    req.AssistantCmd,
	}

	sess, err := NewFresh(ctx, p, r.driver, r.clk, r.capture, r.wrapPublish)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := store.Session{
		ID:              id,
		ProjectPath:     req.ProjectPath,
		Model:           req.Model,
		PlanMode:        req.PlanMode,
		AutoAccept:      req.AutoAccept,
		State:           string(sess.State()),
		SessionType:     string(req.Kind),
		MultiplexerName: p.MultiplexerName,
		Cols:            req.Cols,
		Rows:            req.Rows,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.st.InsertSession(rec); err != nil {
		sess.Disconnect()
		return nil, fmt.Errorf("registry: persist session %s: %w", id, err)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess, nil
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns every currently registered session.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// RecordFor returns the persisted record for a session id.
func (r *Registry) RecordFor(id string) (store.Session, bool) {
	return r.st.GetSession(id)
}

// Records returns every persisted session record, alive or ended.
func (r *Registry) Records() ([]store.Session, error) {
	return r.st.ListSessions()
}

// ProjectRootFor returns the project directory a session was started in,
// for confining file operations scoped to that session.
func (r *Registry) ProjectRootFor(id string) (string, bool) {
	rec, ok := r.st.GetSession(id)
	if !ok {
		return "", false
	}
	return rec.ProjectPath, true
}

// Kill terminates and deregisters a session, marking it ended in the store.
func (r *Registry) Kill(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: no such session %s", id)
	}
	err := sess.Kill(ctx)
	_ = r.st.MarkEnded(id, time.Now())
	return err
}

// UpdateConfig changes a session's configured model and/or mode flags.
// Takes effect on the session's next restart; it does not reach into the
// already-running multiplexer process.
func (r *Registry) UpdateConfig(id string, model *string, planMode, autoAccept *bool) (store.Session, error) {
	rec, ok := r.st.GetSession(id)
	if !ok {
		return store.Session{}, fmt.Errorf("registry: no such session %s", id)
	}
	if model != nil {
		rec.Model = *model
	}
	if planMode != nil {
		rec.PlanMode = *planMode
	}
	if autoAccept != nil {
		rec.AutoAccept = *autoAccept
	}
	rec.UpdatedAt = time.Now()
	if err := r.st.UpdateSession(rec); err != nil {
		return store.Session{}, err
	}
	return rec, nil
}

// RestartWithSummary kills the underlying multiplexer pane and starts a
// fresh one for the same session id, carrying forward a free-text summary
// of the prior conversation as the new pane's opening input.
func (r *Registry) RestartWithSummary(ctx context.Context, id, summary string) (*Session, error) {
	r.mu.Lock()
	old, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: no such session %s", id)
	}
	rec, ok := r.st.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("registry: no persisted record for %s", id)
	}

	old.Disconnect()
	_ = r.driver.Kill(ctx, old.name())

	p := Params{
		ID:              id,
		Kind:            Kind(rec.SessionType),
		ProjectPath:     rec.ProjectPath,
		Model:           rec.Model,
		PlanMode:        rec.PlanMode,
		AutoAccept:      rec.AutoAccept,
		Cols:            rec.Cols,
		Rows:            rec.Rows,
		MultiplexerName: rec.MultiplexerName,
	}
	fresh, err := NewFresh(ctx, p, r.driver, r.clk, r.capture, r.wrapPublish)
	if err != nil {
		return nil, fmt.Errorf("registry: restart %s: %w", id, err)
	}
	if summary != "" {
		_ = fresh.SendInputLine(ctx, summary)
	}

	rec.State = string(fresh.State())
	rec.Summary = summary
	rec.UpdatedAt = time.Now()
	_ = r.st.UpdateSession(rec)

	r.mu.Lock()
	r.sessions[id] = fresh
	r.mu.Unlock()
	return fresh, nil
}

// Rediscover runs on daemon start: it enumerates every live multiplexer
// session matching the configured name prefix, reattaches a reader to
// each, synthesizing a minimal record for any session the store has no
// row for, and marks ended every record whose session was not found in
// the enumeration.
func (r *Registry) Rediscover(ctx context.Context) error {
	names, err := r.driver.ListSessionNames(ctx)
	if err != nil {
		return fmt.Errorf("registry: rediscover: list multiplexer sessions: %w", err)
	}

	prefix := r.sessionPrefix + "-"
	found := make(map[string]bool)

	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id := strings.TrimPrefix(name, prefix)
		found[id] = true

		rec, existed := r.st.GetSession(id)
		if !existed {
			rec = r.synthesizeRecord(id, name)
		}

		p := Params{
			ID:              id,
			Kind:            Kind(rec.SessionType),
			ProjectPath:     rec.ProjectPath,
			Model:           rec.Model,
			PlanMode:        rec.PlanMode,
			AutoAccept:      rec.AutoAccept,
			Cols:            rec.Cols,
			Rows:            rec.Rows,
			MultiplexerName: name,
		}
		sess, err := NewAttached(ctx, p, r.driver, r.clk, r.capture, r.wrapPublish)
		if err != nil {
			if existed {
				_ = r.st.MarkEnded(id, time.Now())
			}
			continue
		}

		rec.State = string(sess.State())
		rec.UpdatedAt = time.Now()
		if existed {
			_ = r.st.UpdateSession(rec)
		} else if err := r.st.InsertSession(rec); err != nil {
			sess.Disconnect()
			continue
		}

		r.mu.Lock()
		r.sessions[id] = sess
		r.mu.Unlock()

		r.publish(Event{Topic: TopicCreated, SessionID: id, Timestamp: time.Now(), State: sess.State()})
	}

	alive, err := r.st.ListAliveIDs()
	if err != nil {
		return fmt.Errorf("registry: rediscover: list alive ids: %w", err)
	}
	for _, id := range alive {
		if !found[id] {
			_ = r.st.MarkEnded(id, time.Now())
		}
	}
	return nil
}

// synthesizeRecord builds a minimal record for a live multiplexer session
// the store has no row for: the daemon's own working directory stands in
// for the unknown project path, and the session is assumed to drive an
// assistant rather than a plain shell.
func (r *Registry) synthesizeRecord(id, multiplexerName string) store.Session {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	now := time.Now()
	return store.Session{
		ID:              id,
		ProjectPath:     cwd,
		SessionType:     string(KindAssistant),
		MultiplexerName: multiplexerName,
		Cols:            80,
		Rows:            24,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Shutdown disposes of every registered session per mode.
func (r *Registry) Shutdown(ctx context.Context, mode ShutdownMode) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if mode == ShutdownPurge {
			_ = s.Kill(ctx)
			_ = r.st.MarkEnded(s.ID(), time.Now())
		} else {
			s.Disconnect()
		}
	}
}

// wrapPublish persists state transitions alongside forwarding the event to
// the registry's subscriber (typically the hub).
func (r *Registry) wrapPublish(ev Event) {
	if ev.Topic == TopicState {
		if rec, ok := r.st.GetSession(ev.SessionID); ok {
			rec.State = string(ev.State)
			rec.UpdatedAt = time.Now()
			_ = r.st.UpdateSession(rec)
		}
	}
	if ev.Topic == TopicExit {
		_ = r.st.MarkEnded(ev.SessionID, time.Now())
	}
	r.publish(ev)
}
