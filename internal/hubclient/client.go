// Package hubclient is the termhub CLI's counterpart to internal/hub: it
// dials the daemon's websocket endpoint, authenticates with the stored
// bearer token, and exchanges one request/reply pair at a time, matching
// how the CLI uses the connection (dial, ask, print, exit).
package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termhub/termhub/internal/hub"
)

// HandshakeTimeout bounds how long Dial waits for the websocket upgrade
// and the daemon's initial auth/capabilities/sessions_list burst.
const HandshakeTimeout = 5 * time.Second

// Client is a short-lived connection to the daemon, good for one session
// of request/reply calls before Close.
type Client struct {
	conn *websocket.Conn
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

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

// Dial connects to the daemon at url (e.g. ws://localhost:7337/ws) and
// authenticates with token, draining the capabilities and sessions_list
// frames the daemon sends unprompted right after a successful auth.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hubclient: dial %s: %w", url, err)
	}
	c := &Client{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	if err := c.send(hub.MsgAuth, authPayload{Token: token}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	msg, err := c.recv()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if msg.Type != hub.MsgAuthResult {
		_ = conn.Close()
		return nil, fmt.Errorf("hubclient: expected %s, got %q", hub.MsgAuthResult, msg.Type)
	}
	var result authResultPayload
	if err := json.Unmarshal(msg.Payload, &result); err != nil || !result.Success {
		_ = conn.Close()
		return nil, fmt.Errorf("hubclient: authentication rejected")
	}

	// capabilities, then sessions_list, always follow a successful auth.
	if _, err := c.recv(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := c.recv(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return c, nil
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hubclient: encode %s: %w", msgType, err)
	}
	frame, err := json.Marshal(wireMessage{Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("hubclient: encode frame: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("hubclient: write: %w", err)
	}
	return nil
}

func (c *Client) recv() (wireMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wireMessage{}, fmt.Errorf("hubclient: read: %w", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return wireMessage{}, fmt.Errorf("hubclient: decode frame: %w", err)
	}
	return msg, nil
}

// Call sends one request and waits for the paired reply, unwrapping an
// error frame into a Go error. wantTypes lists the reply types that count
// as success; anything else is reported as an unexpected reply.
func (c *Client) Call(msgType string, payload any, wantTypes ...string) (json.RawMessage, error) {
	if err := c.send(msgType, payload); err != nil {
		return nil, err
	}
	msg, err := c.recv()
	if err != nil {
		return nil, err
	}
	if msg.Type == hub.MsgError {
		var e errorPayload
		_ = json.Unmarshal(msg.Payload, &e)
		return nil, fmt.Errorf("daemon: %s", e.Message)
	}
	for _, want := range wantTypes {
		if msg.Type == want {
			return msg.Payload, nil
		}
	}
	return nil, fmt.Errorf("hubclient: unexpected reply type %q", msg.Type)
}

// CreateSessionRequest mirrors the create_session wire payload.
type CreateSessionRequest struct {
	ProjectPath string `json:"projectPath"`
	Model       string `json:"model,omitempty"`
	PlanMode    bool   `json:"planMode,omitempty"`
	SessionType string `json:"sessionType,omitempty"`
}

type sessionEnvelope struct {
	Session hub.SessionView `json:"session"`
}

type sessionsList struct {
	Sessions []hub.SessionView `json:"sessions"`
}

type sessionID struct {
	SessionID string `json:"sessionId"`
}

// CreateSession asks the daemon to start a new session and returns its view.
func (c *Client) CreateSession(req CreateSessionRequest) (hub.SessionView, error) {
	raw, err := c.Call(hub.MsgCreateSession, req, hub.MsgSessionCreated)
	if err != nil {
		return hub.SessionView{}, err
	}
	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return hub.SessionView{}, fmt.Errorf("hubclient: decode session_created: %w", err)
	}
	return env.Session, nil
}

// ListSessions asks the daemon for every known session.
func (c *Client) ListSessions() ([]hub.SessionView, error) {
	raw, err := c.Call(hub.MsgGetSessions, struct{}{}, hub.MsgSessionsList)
	if err != nil {
		return nil, err
	}
	var list sessionsList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("hubclient: decode sessions_list: %w", err)
	}
	return list.Sessions, nil
}

// KillSession asks the daemon to end a session.
func (c *Client) KillSession(id string) error {
	_, err := c.Call(hub.MsgKillSession, sessionID{SessionID: id}, hub.MsgSessionKilled)
	return err
}
