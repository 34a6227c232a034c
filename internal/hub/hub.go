package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/termhub/termhub/internal/apperr"
	"github.com/termhub/termhub/internal/session"
	"github.com/termhub/termhub/internal/store"
)

// SessionService is the subset of *session.Registry the hub depends on.
type SessionService interface {
	List() []*session.Session
	Get(id string) (*session.Session, bool)
	Create(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Kill(ctx context.Context, id string) error
	RestartWithSummary(ctx context.Context, id, summary string) (*session.Session, error)
	RecordFor(id string) (store.Session, bool)
	Records() ([]store.Session, error)
	UpdateConfig(id string, model *string, planMode, autoAccept *bool) (store.Session, error)
}

// TokenValidator checks a bearer token in constant time.
type TokenValidator interface {
	Validate(token string) bool
}

// FileService is the external file-CRUD collaborator, scoped per call to a
// session's project root.
type FileService interface {
	Browse(root, rel string) ([]FileEntry, error)
	Read(root, rel string) ([]byte, error)
	Write(root, rel string, data []byte) error
	CreateFile(root, rel string, isDir bool) error
	Rename(root, oldRel, newRel string) error
	Delete(root, rel string) error
}

// FileEntry is one browse_files result row.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// DirectoryBrowser lists immediate child directories of a path.
type DirectoryBrowser interface {
	List(path string) ([]string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pingInterval  = 30 * time.Second
	sendQueueSize = 64
)

// Hub tracks every connected client and broadcasts registry events to the
// authenticated subset.
type Hub struct {
	sessions SessionService
	auth     TokenValidator
	files    FileService
	browser  DirectoryBrowser
	models   []string
	modes    []string
	commands []string

	pingInterval  time.Duration
	sendQueueSize int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// Option configures a Hub at construction.
type Option func(*Hub)

func WithFileService(f FileService) Option          { return func(h *Hub) { h.files = f } }
func WithDirectoryBrowser(b DirectoryBrowser) Option { return func(h *Hub) { h.browser = b } }
func WithPingInterval(d time.Duration) Option        { return func(h *Hub) { h.pingInterval = d } }
func WithSendQueueSize(n int) Option                 { return func(h *Hub) { h.sendQueueSize = n } }
func WithCapabilities(models, modes, commands []string) Option {
	return func(h *Hub) { h.models, h.modes, h.commands = models, modes, commands }
}

// New constructs a Hub backed by sessions and gated by auth.
func New(sessions SessionService, auth TokenValidator, opts ...Option) *Hub {
	h := &Hub{
		sessions:      sessions,
		auth:          auth,
		pingInterval:  pingInterval,
		sendQueueSize: sendQueueSize,
		clients:       make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// client is one connected duplex channel.
type client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	authenticated bool

	mu         sync.Mutex
	viewCols   int
	viewRows   int
}

// ServeHTTP upgrades the request to a websocket and drives the connection
// until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("hub: upgrade failed", "err", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, h.sendQueueSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	c.readLoop()
}

// removeClient deregisters c and closes its send queue; writeLoop then
// writes any frames still queued and closes the connection.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if present {
		close(c.send)
	}
}

// Broadcast pushes a pre-encoded frame to every authenticated client,
// dropping it for any client whose send queue is full (that client is
// disconnected instead of blocking the broadcast).
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.authenticated {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			log.Warn("hub: client send queue full, disconnecting")
			h.removeClient(c)
			_ = c.conn.Close()
		}
	}
}

// OnSessionEvent adapts a session.Event into the matching broadcast frame.
// Intended to be passed as the publish callback to session.NewRegistry.
func (h *Hub) OnSessionEvent(ev session.Event) {
	switch ev.Topic {
	case session.TopicCreated:
		rec, ok := h.sessions.RecordFor(ev.SessionID)
		if !ok {
			return
		}
		frame, err := encode(MsgSessionCreated, sessionEnvelopePayload{Session: viewOf(rec)})
		if err == nil {
			h.Broadcast(frame)
		}
	case session.TopicState:
		rec, ok := h.sessions.RecordFor(ev.SessionID)
		if !ok {
			return
		}
		frame, err := encode(MsgSessionUpdated, sessionEnvelopePayload{Session: viewOf(rec)})
		if err == nil {
			h.Broadcast(frame)
		}
	case session.TopicOutput:
		frame, err := encode(MsgOutputUpdate, outputUpdatePayload{SessionID: ev.SessionID, Content: string(ev.Screen)})
		if err == nil {
			h.Broadcast(frame)
		}
	case session.TopicInputRequired:
		frame, err := encode(MsgInputRequired, inputRequiredPayload{
			SessionID: ev.SessionID,
			InputType: string(ev.InputKind),
			Question:  ev.Question,
			Options:   ev.Options,
			Timestamp: timestamp(ev.Timestamp),
		})
		if err == nil {
			h.Broadcast(frame)
		}
	case session.TopicContextLimit:
		frame, err := encode(MsgContextLimit, contextLimitPayload{SessionID: ev.SessionID, Message: ev.Message})
		if err == nil {
			h.Broadcast(frame)
		}
	case session.TopicExit:
		frame, err := encode(MsgSessionKilled, sessionKilledPayload{SessionID: ev.SessionID})
		if err == nil {
			h.Broadcast(frame)
		}
	}
}

func viewOf(rec store.Session) SessionView {
	return SessionView{
		ID:          rec.ID,
		ProjectPath: rec.ProjectPath,
		Model:       rec.Model,
		PlanMode:    rec.PlanMode,
		AutoAccept:  rec.AutoAccept,
		State:       rec.State,
		SessionType: rec.SessionType,
		CreatedAt:   timestamp(rec.CreatedAt),
		UpdatedAt:   timestamp(rec.UpdatedAt),
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop() {
	defer c.hub.removeClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message", "")
			return
		}

		if !c.authenticated {
			if msg.Type != MsgAuth {
				c.sendError("first message must be auth", "")
				return
			}
			c.handleAuth(msg)
			if !c.authenticated {
				return
			}
			continue
		}

		c.dispatch(msg)
	}
}

func (c *client) sendFrame(msgType string, payload any) {
	frame, err := encode(msgType, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.hub.removeClient(c)
		_ = c.conn.Close()
	}
}

func (c *client) sendError(message, sessionID string) {
	c.sendFrame(MsgError, errorPayload{Message: message, SessionID: sessionID})
}

func (c *client) handleAuth(msg Message) {
	var p authPayload
	_ = json.Unmarshal(msg.Payload, &p)

	if !c.hub.auth.Validate(p.Token) {
		c.sendFrame(MsgAuthResult, authResultPayload{Success: false})
		return
	}
	c.authenticated = true
	c.sendFrame(MsgAuthResult, authResultPayload{Success: true})
	c.sendFrame(MsgCapabilities, capabilitiesPayload{Models: c.hub.models, Modes: c.hub.modes, Commands: c.hub.commands})
	c.sendSessionsList()
}

func (c *client) sendSessionsList() {
	recs, err := c.hub.sessions.Records()
	if err != nil {
		c.sendError(err.Error(), "")
		return
	}
	views := make([]SessionView, 0, len(recs))
	for _, r := range recs {
		views = append(views, viewOf(r))
	}
	c.sendFrame(MsgSessionsList, sessionsListPayload{Sessions: views})
}

func (c *client) dispatch(msg Message) {
	ctx := context.Background()
	switch msg.Type {
	case MsgPing:
		c.sendFrame(MsgPong, struct{}{})
	case MsgGetSessions:
		c.sendSessionsList()
	case MsgGetOutput, MsgScroll:
		c.handleScroll(ctx, msg)
	case MsgCreateSession:
		c.handleCreateSession(ctx, msg)
	case MsgKillSession:
		c.handleKillSession(ctx, msg)
	case MsgRestartSession:
		c.handleRestartSession(ctx, msg)
	case MsgChangeModel:
		c.handleChangeModel(msg)
	case MsgToggleMode:
		c.handleToggleMode(msg)
	case MsgSendInput, MsgSendCommand:
		c.handleSendInput(ctx, msg)
	case MsgSendKey:
		c.handleSendKey(ctx, msg)
	case MsgResizeTerminal:
		c.handleResize(ctx, msg)
	case MsgBrowseDirectory:
		c.handleBrowseDirectory(msg)
	case MsgBrowseFiles, MsgReadFile, MsgWriteFile, MsgCreateFile, MsgCreateDirectory, MsgRenameFile, MsgDeleteFile:
		c.handleFileOp(msg)
	default:
		c.sendError(fmt.Sprintf("unrecognized message type %q", msg.Type), "")
	}
}

func (c *client) lookupSession(sessionID string) (*session.Session, bool) {
	s, ok := c.hub.sessions.Get(sessionID)
	if !ok {
		c.sendError("no such session", sessionID)
	}
	return s, ok
}

// arbitrateViewport auto-resizes the target session to this client's last
// declared viewport when it disagrees with the session's current size;
// the last interactor's viewport wins.
func (c *client) arbitrateViewport(ctx context.Context, s *session.Session) {
	c.mu.Lock()
	cols, rows := c.viewCols, c.viewRows
	c.mu.Unlock()
	if cols == 0 || rows == 0 {
		return
	}
	curCols, curRows := s.Viewport()
	if curCols != cols || curRows != rows {
		_ = s.Resize(ctx, cols, rows)
	}
}

func (c *client) handleSendKey(ctx context.Context, msg Message) {
	var p sendKeyPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed send_key", "")
		return
	}
	s, ok := c.lookupSession(p.SessionID)
	if !ok {
		return
	}
	c.arbitrateViewport(ctx, s)
	if err := s.SendRaw(ctx, p.Key); err != nil {
		c.reportErr(err, p.SessionID)
	}
}

func (c *client) handleSendInput(ctx context.Context, msg Message) {
	var sessionID, text string
	if msg.Type == MsgSendInput {
		var p sendInputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("malformed send_input", "")
			return
		}
		sessionID, text = p.SessionID, p.Input
	} else {
		var p sendCommandPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("malformed send_command", "")
			return
		}
		sessionID, text = p.SessionID, p.Command
	}
	s, ok := c.lookupSession(sessionID)
	if !ok {
		return
	}
	if err := s.SendInputLine(ctx, text); err != nil {
		c.reportErr(err, sessionID)
	}
}

func (c *client) handleResize(ctx context.Context, msg Message) {
	var p resizeTerminalPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed resize_terminal", "")
		return
	}
	s, ok := c.lookupSession(p.SessionID)
	if !ok {
		return
	}
	c.mu.Lock()
	c.viewCols, c.viewRows = p.Cols, p.Rows
	c.mu.Unlock()
	if err := s.Resize(ctx, p.Cols, p.Rows); err != nil {
		c.reportErr(err, p.SessionID)
	}
}

func (c *client) handleScroll(ctx context.Context, msg Message) {
	var p scrollPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed request", "")
		return
	}
	s, ok := c.lookupSession(p.SessionID)
	if !ok {
		return
	}
	content := s.Scrollback(ctx)
	c.sendFrame(MsgScrollbackContent, scrollbackContentPayload{SessionID: p.SessionID, Content: string(content)})
}

func (c *client) handleCreateSession(ctx context.Context, msg Message) {
	var p createSessionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed create_session", "")
		return
	}
	kind := session.KindAssistant
	if p.SessionType == string(session.KindShell) {
		kind = session.KindShell
	}
	s, err := c.hub.sessions.Create(ctx, session.CreateRequest{
		Kind: kind, ProjectPath: p.ProjectPath, Model: p.Model, PlanMode: p.PlanMode,
		Cols: 80, Rows: 24,
	})
	if err != nil {
		c.reportErr(err, "")
		return
	}
	rec, _ := c.hub.sessions.RecordFor(s.ID())
	frame, ferr := encode(MsgSessionCreated, sessionEnvelopePayload{Session: viewOf(rec)})
	if ferr == nil {
		c.hub.Broadcast(frame)
	}
}

func (c *client) handleKillSession(ctx context.Context, msg Message) {
	var p sessionIDPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed kill_session", "")
		return
	}
	if err := c.hub.sessions.Kill(ctx, p.SessionID); err != nil {
		c.reportErr(err, p.SessionID)
		return
	}
	frame, err := encode(MsgSessionKilled, sessionKilledPayload{SessionID: p.SessionID})
	if err == nil {
		c.hub.Broadcast(frame)
	}
}

func (c *client) handleRestartSession(ctx context.Context, msg Message) {
	var p restartSessionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed restart_session", "")
		return
	}
	summary := ""
	if p.WithSummary {
		if s, ok := c.hub.sessions.Get(p.SessionID); ok {
			summary = string(s.LastScreen())
		}
	}
	_, err := c.hub.sessions.RestartWithSummary(ctx, p.SessionID, summary)
	if err != nil {
		c.reportErr(err, p.SessionID)
		return
	}
	rec, _ := c.hub.sessions.RecordFor(p.SessionID)
	frame, ferr := encode(MsgSessionUpdated, sessionEnvelopePayload{Session: viewOf(rec)})
	if ferr == nil {
		c.hub.Broadcast(frame)
	}
}

func (c *client) handleChangeModel(msg Message) {
	var p changeModelPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed change_model", "")
		return
	}
	rec, err := c.hub.sessions.UpdateConfig(p.SessionID, &p.Model, nil, nil)
	if err != nil {
		c.reportErr(err, p.SessionID)
		return
	}
	frame, ferr := encode(MsgSessionUpdated, sessionEnvelopePayload{Session: viewOf(rec)})
	if ferr == nil {
		c.hub.Broadcast(frame)
	}
}

func (c *client) handleToggleMode(msg Message) {
	var p toggleModePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed toggle_mode", "")
		return
	}
	var planMode, autoAccept *bool
	switch p.Mode {
	case "plan":
		planMode = &p.Enabled
	case "auto_accept":
		autoAccept = &p.Enabled
	default:
		c.sendError("unrecognized mode", p.SessionID)
		return
	}
	rec, err := c.hub.sessions.UpdateConfig(p.SessionID, nil, planMode, autoAccept)
	if err != nil {
		c.reportErr(err, p.SessionID)
		return
	}
	frame, ferr := encode(MsgSessionUpdated, sessionEnvelopePayload{Session: viewOf(rec)})
	if ferr == nil {
		c.hub.Broadcast(frame)
	}
}

func (c *client) handleBrowseDirectory(msg Message) {
	var p browseDirectoryPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed browse_directory", "")
		return
	}
	if c.hub.browser == nil {
		c.sendFrame(MsgDirectoryListing, directoryListingPayload{Path: p.Path, Error: "directory browsing unavailable"})
		return
	}
	dirs, err := c.hub.browser.List(p.Path)
	if err != nil {
		c.sendFrame(MsgDirectoryListing, directoryListingPayload{Path: p.Path, Error: err.Error()})
		return
	}
	c.sendFrame(MsgDirectoryListing, directoryListingPayload{Path: p.Path, Directories: dirs})
}

type fileOpPayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	NewPath   string `json:"newPath,omitempty"`
	Content   string `json:"content,omitempty"`
	IsDir     bool   `json:"isDir,omitempty"`
}

type fileResultPayload struct {
	SessionID string      `json:"sessionId"`
	Path      string      `json:"path"`
	Content   string      `json:"content,omitempty"`
	Entries   []FileEntry `json:"entries,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func (c *client) handleFileOp(msg Message) {
	var p fileOpPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError("malformed file operation", "")
		return
	}
	if c.hub.files == nil {
		c.sendFrame(MsgFileResult, fileResultPayload{SessionID: p.SessionID, Path: p.Path, Error: "file service unavailable"})
		return
	}
	rec, ok := c.hub.sessions.RecordFor(p.SessionID)
	if !ok {
		c.sendFrame(MsgFileResult, fileResultPayload{SessionID: p.SessionID, Path: p.Path, Error: "no such session"})
		return
	}
	root := rec.ProjectPath

	var result fileResultPayload
	result.SessionID, result.Path = p.SessionID, p.Path

	var err error
	switch msg.Type {
	case MsgBrowseFiles:
		var entries []FileEntry
		entries, err = c.hub.files.Browse(root, p.Path)
		result.Entries = entries
	case MsgReadFile:
		var data []byte
		data, err = c.hub.files.Read(root, p.Path)
		result.Content = string(data)
	case MsgWriteFile:
		err = c.hub.files.Write(root, p.Path, []byte(p.Content))
	case MsgCreateFile, MsgCreateDirectory:
		err = c.hub.files.CreateFile(root, p.Path, msg.Type == MsgCreateDirectory || p.IsDir)
	case MsgRenameFile:
		err = c.hub.files.Rename(root, p.Path, p.NewPath)
	case MsgDeleteFile:
		err = c.hub.files.Delete(root, p.Path)
	}
	if err != nil {
		result.Error = err.Error()
	}
	c.sendFrame(MsgFileResult, result)
}

func (c *client) reportErr(err error, sessionID string) {
	if sid := apperr.SessionID(err); sid != "" {
		sessionID = sid
	}
	c.sendError(err.Error(), sessionID)
}
