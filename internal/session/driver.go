package session

import (
	"context"
	"io"

	"github.com/termhub/termhub/internal/tmux"
)

// Driver is the subset of the tmux driver a Session depends on. Defined
// as an interface so the state machine and capture pipeline can be
// exercised without a real tmux binary.
type Driver interface {
	Create(ctx context.Context, name string, cols, rows int, cwd string, argv []string) error
	ApplyOptions(ctx context.Context, name string) error
	AttachReader(ctx context.Context, name string) (io.ReadCloser, error)
	SendKeys(ctx context.Context, name string, key tmux.NamedKey) error
	SendLiteral(ctx context.Context, name string, text string) error
	SendInputLine(ctx context.Context, name string, text string) error
	CapturePane(ctx context.Context, name string) []byte
	CursorPosition(ctx context.Context, name string) (int, int)
	ReadAllScrollback(ctx context.Context, name string) []byte
	IsAlive(ctx context.Context, name string) bool
	Kill(ctx context.Context, name string) error
	Resize(ctx context.Context, name string, cols, rows int) error
	ListSessionNames(ctx context.Context) ([]string, error)
}

// driverAdapter adapts *tmux.Driver's concrete *tmux.ByteStream return to
// the io.ReadCloser the Driver interface declares.
type driverAdapter struct {
	d *tmux.Driver
}

// Adapt wraps a concrete *tmux.Driver as a session.Driver.
func Adapt(d *tmux.Driver) Driver { return driverAdapter{d: d} }

func (a driverAdapter) Create(ctx context.Context, name string, cols, rows int, cwd string, argv []string) error {
	return a.d.Create(ctx, name, cols, rows, cwd, argv)
}

func (a driverAdapter) ApplyOptions(ctx context.Context, name string) error {
	return a.d.ApplyOptions(ctx, name)
}

func (a driverAdapter) AttachReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return a.d.AttachReader(ctx, name)
}

func (a driverAdapter) SendKeys(ctx context.Context, name string, key tmux.NamedKey) error {
	return a.d.SendKeys(ctx, name, key)
}

func (a driverAdapter) SendLiteral(ctx context.Context, name string, text string) error {
	return a.d.SendLiteral(ctx, name, text)
}

func (a driverAdapter) SendInputLine(ctx context.Context, name string, text string) error {
	return a.d.SendInputLine(ctx, name, text)
}

func (a driverAdapter) CapturePane(ctx context.Context, name string) []byte {
	return a.d.CapturePane(ctx, name)
}

func (a driverAdapter) CursorPosition(ctx context.Context, name string) (int, int) {
	return a.d.CursorPosition(ctx, name)
}

func (a driverAdapter) ReadAllScrollback(ctx context.Context, name string) []byte {
	return a.d.ReadAllScrollback(ctx, name)
}

func (a driverAdapter) IsAlive(ctx context.Context, name string) bool {
	return a.d.IsAlive(ctx, name)
}

func (a driverAdapter) Kill(ctx context.Context, name string) error {
	return a.d.Kill(ctx, name)
}

func (a driverAdapter) Resize(ctx context.Context, name string, cols, rows int) error {
	return a.d.Resize(ctx, name, cols, rows)
}

func (a driverAdapter) ListSessionNames(ctx context.Context) ([]string, error) {
	return a.d.ListSessionNames(ctx)
}
