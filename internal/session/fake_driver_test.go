package session

import (
	"context"
	"io"
	"sync"

	"github.com/termhub/termhub/internal/tmux"
)

// fakeDriver is an in-memory stand-in for tmux.Driver used by session and
// registry tests; it never shells out to a real tmux binary.
type fakeDriver struct {
	mu sync.Mutex

	alive     map[string]bool
	pane      map[string][]byte
	cursorRow map[string]int
	cursorCol map[string]int
	streams   map[string]*pipeStream
	killed    map[string]bool
	sentLines []string
	sentKeys  []tmux.NamedKey
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		alive:     make(map[string]bool),
		pane:      make(map[string][]byte),
		cursorRow: make(map[string]int),
		cursorCol: make(map[string]int),
		streams:   make(map[string]*pipeStream),
		killed:    make(map[string]bool),
	}
}

// pipeStream is a closable io.ReadCloser a test can push bytes into.
type pipeStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	closed bool
	mu     sync.Mutex
}

func newPipeStream() *pipeStream {
	r, w := io.Pipe()
	return &pipeStream{r: r, w: w}
}

func (p *pipeStream) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipeStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.w.Close()
	return p.r.Close()
}
func (p *pipeStream) push(data []byte) { _, _ = p.w.Write(data) }

func (f *fakeDriver) Create(ctx context.Context, name string, cols, rows int, cwd string, argv []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[name] = true
	f.streams[name] = newPipeStream()
	return nil
}

func (f *fakeDriver) ApplyOptions(ctx context.Context, name string) error { return nil }

func (f *fakeDriver) AttachReader(ctx context.Context, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[name]
	if !ok {
		s = newPipeStream()
		f.streams[name] = s
	}
	return s, nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, name string, key tmux.NamedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentKeys = append(f.sentKeys, key)
	return nil
}

func (f *fakeDriver) SendLiteral(ctx context.Context, name string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentLines = append(f.sentLines, text)
	return nil
}

func (f *fakeDriver) SendInputLine(ctx context.Context, name string, text string) error {
	_ = f.SendLiteral(ctx, name, text)
	return f.SendKeys(ctx, name, tmux.KeyEnter)
}

func (f *fakeDriver) CapturePane(ctx context.Context, name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pane[name]
}

func (f *fakeDriver) CursorPosition(ctx context.Context, name string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursorRow[name], f.cursorCol[name]
}

func (f *fakeDriver) ReadAllScrollback(ctx context.Context, name string) []byte {
	return f.CapturePane(ctx, name)
}

func (f *fakeDriver) IsAlive(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *fakeDriver) Kill(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[name] = false
	f.killed[name] = true
	if s, ok := f.streams[name]; ok {
		_ = s.Close()
	}
	return nil
}

func (f *fakeDriver) Resize(ctx context.Context, name string, cols, rows int) error { return nil }

func (f *fakeDriver) ListSessionNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name, alive := range f.alive {
		if alive {
			names = append(names, name)
		}
	}
	return names, nil
}

func (f *fakeDriver) setPane(name string, text string, row, col int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pane[name] = []byte(text)
	f.cursorRow[name] = row
	f.cursorCol[name] = col
}

func (f *fakeDriver) feed(name string, data []byte) {
	f.mu.Lock()
	s := f.streams[name]
	f.mu.Unlock()
	if s != nil {
		s.push(data)
	}
}
