// Package tmux drives the external tmux binary: creating, attaching to,
// capturing, and tearing down the detached sessions that back termhub's
// interactive sessions. The read-only probes (CapturePane, CursorPosition,
// ReadAllScrollback, IsAlive) tolerate transient failures and return an
// empty or default result instead of erroring; every other operation,
// including create, kill, input, resize and attach, returns its failure to
// the caller.
package tmux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/creack/pty"
)

// NamedKey is one of the closed set of keys tmux's send-keys understands
// by name, as opposed to literal text.
type NamedKey string

const (
	KeyCtrlC     NamedKey = "C-c"
	KeyEscape    NamedKey = "Escape"
	KeyEnter     NamedKey = "Enter"
	KeyTab       NamedKey = "Tab"
	KeyBackspace NamedKey = "BSpace"
	KeyUp        NamedKey = "Up"
	KeyDown      NamedKey = "Down"
	KeyLeft      NamedKey = "Left"
	KeyRight     NamedKey = "Right"
	KeyPageUp    NamedKey = "PageUp"
	KeyPageDown  NamedKey = "PageDown"
)

// rawKeyEncodings maps the closed set of recognized raw byte sequences a
// client might send to the named tmux key they represent. Any input not
// present here is sent as literal text.
var rawKeyEncodings = map[string]NamedKey{
	"\x03":     KeyCtrlC,
	"\x1b":     KeyEscape,
	"\r":       KeyEnter,
	"\n":       KeyEnter,
	"\t":       KeyTab,
	"\x7f":     KeyBackspace,
	"\b":       KeyBackspace,
	"\x1b[A":   KeyUp,
	"\x1b[B":   KeyDown,
	"\x1b[C":   KeyRight,
	"\x1b[D":   KeyLeft,
	"\x1b[5~":  KeyPageUp,
	"\x1b[6~":  KeyPageDown,
}

// ResolveKey maps a raw client key encoding to a named tmux key. The
// second return value is false when raw should instead be sent literally.
func ResolveKey(raw string) (NamedKey, bool) {
	k, ok := rawKeyEncodings[raw]
	return k, ok
}

// Driver invokes the tmux CLI on behalf of the session layer. All
// operations target a session by its tmux name, which is always
// "<prefix>-<id>".
type Driver struct {
	bin string
}

// New returns a Driver that shells out to the tmux binary on PATH.
func New() *Driver {
	return &Driver{bin: "tmux"}
}

func (d *Driver) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.bin, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Create starts a new detached tmux session with argv as the child
// process and applies the fixed session options: hidden status bar,
// "largest attached" window sizing, mouse input, and a scrollback
// history of at least 10,000 lines. Failure is fatal to session start
// and is propagated.
func (d *Driver) Create(ctx context.Context, name string, cols, rows int, cwd string, argv []string) error {
	args := []string{
		"new-session",
		"-d",
		"-s", name,
		"-x", strconv.Itoa(cols),
		"-y", strconv.Itoa(rows),
		"-c", cwd,
	}
	args = append(args, argv...)
	if _, err := d.run(ctx, args...); err != nil {
		return fmt.Errorf("create session %s: %w", name, err)
	}
	return d.applyOptions(ctx, name)
}

// applyOptions sets the fixed session options every session needs.
// Idempotent: safe to call again on an existing session (used by
// attach-to-existing).
func (d *Driver) applyOptions(ctx context.Context, name string) error {
	opts := [][]string{
		{"set-option", "-t", name, "status", "off"},
		{"set-window-option", "-t", name, "window-size", "largest"},
		{"set-option", "-t", name, "mouse", "on"},
		{"set-option", "-t", name, "history-limit", "10000"},
	}
	for _, args := range opts {
		if _, err := d.run(ctx, args...); err != nil {
			return fmt.Errorf("set session option for %s: %w", name, err)
		}
	}
	return nil
}

// ApplyOptions re-applies the fixed session options to an already-running
// session (used when attaching to existing multiplexer sessions on
// daemon restart).
func (d *Driver) ApplyOptions(ctx context.Context, name string) error {
	return d.applyOptions(ctx, name)
}

// ByteStream is the live, raw output of an attached tmux pane.
type ByteStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

// Close terminates the underlying attach process in addition to closing
// the PTY descriptor.
func (s *ByteStream) Close() error {
	err := s.ReadCloser.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return err
}

// AttachReader attaches to name in read-only mode and returns a stream of
// raw terminal bytes, escape sequences included. Termination (the
// multiplexer session dying, or the attach process exiting) is reported
// out-of-band via a read error/EOF on the stream, not via this call's
// return value.
func (d *Driver) AttachReader(ctx context.Context, name string) (*ByteStream, error) {
	cmd := exec.CommandContext(ctx, d.bin, "attach-session", "-r", "-t", "="+name)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("attach reader for %s: %w", name, err)
	}
	return &ByteStream{ReadCloser: ptmx, cmd: cmd}, nil
}

// SendKeys sends key to the session by name; tmux interprets the name.
// Falling back to literal text for unrecognized input is SendRaw's job.
func (d *Driver) SendKeys(ctx context.Context, name string, key NamedKey) error {
	if _, err := d.run(ctx, "send-keys", "-t", name, string(key)); err != nil {
		return fmt.Errorf("send key %q to %s: %w", key, name, err)
	}
	return nil
}

// SendLiteral sends text to the session verbatim, with no key-name
// interpretation.
func (d *Driver) SendLiteral(ctx context.Context, name string, text string) error {
	if text == "" {
		return nil
	}
	if _, err := d.run(ctx, "send-keys", "-t", name, "-l", "--", text); err != nil {
		return fmt.Errorf("send literal to %s: %w", name, err)
	}
	return nil
}

// SendRaw sends a raw client-supplied key encoding, resolving it to a
// named key when recognized and otherwise sending it literally.
func (d *Driver) SendRaw(ctx context.Context, name string, raw string) error {
	if key, ok := ResolveKey(raw); ok {
		return d.SendKeys(ctx, name, key)
	}
	return d.SendLiteral(ctx, name, raw)
}

// SendInputLine sends literal text followed by Enter, as two separate
// driver calls, in that order.
func (d *Driver) SendInputLine(ctx context.Context, name string, text string) error {
	if err := d.SendLiteral(ctx, name, text); err != nil {
		return err
	}
	return d.SendKeys(ctx, name, KeyEnter)
}

// CapturePane returns the full current pane, colors included, as bytes
// terminated by LF per row. Tolerates transient failure by returning an
// empty result.
func (d *Driver) CapturePane(ctx context.Context, name string) []byte {
	out, err := d.run(ctx, "capture-pane", "-p", "-e", "-t", name)
	if err != nil {
		return nil
	}
	return out
}

// CursorPosition returns the 0-based (row, col) of the cursor. Best
// effort: failure yields (0, 0).
func (d *Driver) CursorPosition(ctx context.Context, name string) (row, col int) {
	out, err := d.run(ctx, "display-message", "-p", "-t", name, "#{cursor_y} #{cursor_x}")
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return 0, 0
	}
	row, errR := strconv.Atoi(fields[0])
	col, errC := strconv.Atoi(fields[1])
	if errR != nil || errC != nil {
		return 0, 0
	}
	return row, col
}

// ReadAllScrollback returns the entire history buffer, from the start of
// scrollback through the current pane.
func (d *Driver) ReadAllScrollback(ctx context.Context, name string) []byte {
	out, err := d.run(ctx, "capture-pane", "-p", "-e", "-S", "-", "-t", name)
	if err != nil {
		return nil
	}
	return out
}

// IsAlive probes whether the named session exists.
func (d *Driver) IsAlive(ctx context.Context, name string) bool {
	_, err := d.run(ctx, "has-session", "-t", "="+name)
	return err == nil
}

// Kill terminates the named session. Failure is propagated.
func (d *Driver) Kill(ctx context.Context, name string) error {
	if _, err := d.run(ctx, "kill-session", "-t", name); err != nil {
		return fmt.Errorf("kill session %s: %w", name, err)
	}
	return nil
}

// ListSessionNames returns every tmux session name currently alive on the
// host, regardless of whether termhub created it.
func (d *Driver) ListSessionNames(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits non-zero with "no server running" when there are no
		// sessions at all; treat that as an empty list, not a failure.
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Resize changes the window size of the named session.
func (d *Driver) Resize(ctx context.Context, name string, cols, rows int) error {
	if _, err := d.run(ctx, "resize-window", "-t", name, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)); err != nil {
		return fmt.Errorf("resize %s to %dx%d: %w", name, cols, rows, err)
	}
	return nil
}
