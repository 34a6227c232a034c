// Package hub is termhub's client-facing duplex channel: one gorilla
// websocket connection per client, a tagged-JSON protocol, and the
// broadcast fan-out of session registry events to every authenticated
// client.
package hub

import (
	"encoding/json"
	"time"
)

// Message is the wire envelope every client<->daemon frame uses.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> daemon message types.
const (
	MsgAuth            = "auth"
	MsgPing            = "ping"
	MsgGetSessions     = "get_sessions"
	MsgGetOutput       = "get_output"
	MsgCreateSession   = "create_session"
	MsgKillSession     = "kill_session"
	MsgRestartSession  = "restart_session"
	MsgChangeModel     = "change_model"
	MsgToggleMode      = "toggle_mode"
	MsgSendInput       = "send_input"
	MsgSendCommand     = "send_command"
	MsgSendKey         = "send_key"
	MsgResizeTerminal  = "resize_terminal"
	MsgScroll          = "scroll"
	MsgBrowseDirectory = "browse_directory"
	MsgBrowseFiles     = "browse_files"
	MsgReadFile        = "read_file"
	MsgWriteFile       = "write_file"
	MsgCreateFile      = "create_file"
	MsgCreateDirectory = "create_directory"
	MsgRenameFile      = "rename_file"
	MsgDeleteFile      = "delete_file"
)

// Daemon -> client message types.
const (
	MsgAuthResult       = "auth_result"
	MsgPong             = "pong"
	MsgError            = "error"
	MsgCapabilities     = "capabilities"
	MsgSessionsList     = "sessions_list"
	MsgSessionCreated   = "session_created"
	MsgSessionUpdated   = "session_updated"
	MsgSessionKilled    = "session_killed"
	MsgInputRequired    = "input_required"
	MsgOutputUpdate     = "output_update"
	MsgContextLimit     = "context_limit"
	MsgDirectoryListing = "directory_listing"
	MsgScrollbackContent = "scrollback_content"
	MsgFileResult       = "file_result"
)

type authPayload struct {
	Token string `json:"token"`
}

type authResultPayload struct {
	Success bool `json:"success"`
}

type errorPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type capabilitiesPayload struct {
	Models   []string `json:"models"`
	Modes    []string `json:"modes"`
	Commands []string `json:"commands"`
}

// SessionView is the client-visible projection of a session record.
type SessionView struct {
	ID          string `json:"id"`
	ProjectPath string `json:"projectPath"`
	Model       string `json:"model"`
	PlanMode    bool   `json:"planMode"`
	AutoAccept  bool   `json:"autoAccept"`
	State       string `json:"state"`
	SessionType string `json:"sessionType"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type sessionsListPayload struct {
	Sessions []SessionView `json:"sessions"`
}

type sessionEnvelopePayload struct {
	Session SessionView `json:"session"`
}

type sessionKilledPayload struct {
	SessionID string `json:"sessionId"`
}

type getOutputPayload struct {
	SessionID string `json:"sessionId"`
	Lines     int    `json:"lines,omitempty"`
}

type createSessionPayload struct {
	ProjectPath string `json:"projectPath"`
	Model       string `json:"model,omitempty"`
	PlanMode    bool   `json:"planMode,omitempty"`
	SessionType string `json:"sessionType,omitempty"`
}

type sessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

type restartSessionPayload struct {
	SessionID   string `json:"sessionId"`
	WithSummary bool   `json:"withSummary"`
}

type changeModelPayload struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

type toggleModePayload struct {
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
	Enabled   bool   `json:"enabled"`
}

type sendInputPayload struct {
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
}

type sendCommandPayload struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type sendKeyPayload struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key"`
}

type resizeTerminalPayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type inputRequiredPayload struct {
	SessionID string   `json:"sessionId"`
	InputType string   `json:"inputType"`
	Context   string   `json:"context,omitempty"`
	Question  string   `json:"question"`
	Options   []string `json:"options,omitempty"`
	Timestamp string   `json:"timestamp"`
}

type outputUpdatePayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

type contextLimitPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type browseDirectoryPayload struct {
	Path string `json:"path"`
}

type directoryListingPayload struct {
	Path        string   `json:"path"`
	Directories []string `json:"directories"`
	Error       string   `json:"error,omitempty"`
}

type scrollPayload struct {
	SessionID string `json:"sessionId"`
}

type scrollbackContentPayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
