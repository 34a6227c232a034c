// Package daemon wires together the durable store, session registry,
// client hub, and external collaborators into the running termhub
// process, and manages that process's lifecycle (start/stop/status) from
// the CLI's point of view.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/termhub/termhub/internal/authstore"
	"github.com/termhub/termhub/internal/browse"
	"github.com/termhub/termhub/internal/certs"
	"github.com/termhub/termhub/internal/clock"
	"github.com/termhub/termhub/internal/config"
	"github.com/termhub/termhub/internal/daemon/webassets"
	"github.com/termhub/termhub/internal/download"
	"github.com/termhub/termhub/internal/filesvc"
	"github.com/termhub/termhub/internal/hub"
	"github.com/termhub/termhub/internal/session"
	"github.com/termhub/termhub/internal/static"
	"github.com/termhub/termhub/internal/store"
	"github.com/termhub/termhub/internal/tmux"
)

// ErrAlreadyRunning is returned by Start when a daemon is already alive.
var ErrAlreadyRunning = errors.New("daemon: already running")

// ErrNotRunning is returned by Stop when no daemon is alive.
var ErrNotRunning = errors.New("daemon: not running")

var availableModels = []string{"sonnet", "opus", "haiku"}
var availableModes = []string{"plan", "auto_accept"}
var availableCommands = []string{"/compact", "/clear", "/review"}

// ValidateReadyToRun checks host preconditions (tmux installed) before the
// daemon attempts to start.
func ValidateReadyToRun() error {
	return tmux.TmuxChecker.Check()
}

// Start launches the daemon as a detached background process and records
// its PID. The background process is this same binary re-executed with no
// arguments, so its own main() takes the supervisor role and re-execs
// itself again with --foreground for the supervised child.
func Start(cfg *config.Config) error {
	if running, _, _, _ := Status(cfg); running {
		return ErrAlreadyRunning
	}
	if err := config.EnsureDataDir(cfg); err != nil {
		return fmt.Errorf("daemon: ensure data dir: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: locate executable: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "daemon.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(exePath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: spawn background process: %w", err)
	}
	if err := writePIDFile(cfg.DataDir, cmd.Process.Pid); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	return nil
}

// Stop signals a running daemon to exit, optionally killing every
// multiplexer session it owns, and waits briefly for it to exit.
func Stop(cfg *config.Config, killSessions bool) error {
	pid, err := readPIDFile(cfg.DataDir)
	if err != nil || !processAlive(pid) {
		_ = removePIDFile(cfg.DataDir)
		return ErrNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("daemon: find process %d: %w", pid, err)
	}

	sig := syscall.SIGTERM
	if killSessions {
		sig = syscall.SIGUSR1
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("daemon: signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return removePIDFile(cfg.DataDir)
}

// Status reports whether the daemon is running, and if so, the base URL
// clients should dial.
func Status(cfg *config.Config) (running bool, url string, pid int, err error) {
	pid, readErr := readPIDFile(cfg.DataDir)
	if readErr != nil {
		return false, "", 0, nil
	}
	if !processAlive(pid) {
		return false, "", pid, nil
	}
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	return true, fmt.Sprintf("%s://localhost:%d", scheme, cfg.Port), pid, nil
}

// Run is the foreground daemon body: it wires every component together,
// serves the HTTP/websocket listener, and blocks until ctx is cancelled or
// an OS signal requests shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := config.EnsureDataDir(cfg); err != nil {
		return fmt.Errorf("daemon: ensure data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "termhub.db"))
	if err != nil {
		return fmt.Errorf("daemon: open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	auth := authstore.New(st)
	if _, err := auth.EnsureToken(); err != nil {
		return fmt.Errorf("daemon: ensure auth token: %w", err)
	}

	driver := session.Adapt(tmux.New())
	clk := clock.Real{}
	captureCfg := session.CaptureConfig{
		Debounce:      cfg.Capture.Debounce,
		ResizeSettle:  cfg.Capture.ResizeSettle,
		LivenessProbe: cfg.Capture.LivenessProbe,
		IdleTimeout:   cfg.Classifier.IdleTimeout,
		ContextWindow: cfg.Classifier.ContextWindow,
	}

	counter := newCrashCounter(5*time.Second, 10)
	tripped := make(chan struct{}, 1)

	var h *hub.Hub
	publish := func(ev session.Event) {
		defer guardAgainstPanic(counter, tripped)
		if h != nil {
			h.OnSessionEvent(ev)
		}
	}
	registry := session.NewRegistry(driver, clk, st, captureCfg, cfg.SessionPrefix, publish)

	files := filesvc.New()
	dirBrowser := browse.New()
	h = hub.New(registry, auth,
		hub.WithFileService(files),
		hub.WithDirectoryBrowser(dirBrowser),
		hub.WithPingInterval(cfg.Hub.PingInterval),
		hub.WithSendQueueSize(cfg.Hub.SendQueueSize),
		hub.WithCapabilities(availableModels, availableModes, availableCommands),
	)

	// Rediscovery runs after the hub exists so the session_created events
	// it emits for readopted sessions reach h.OnSessionEvent via publish,
	// instead of being dropped while h is still nil.
	if err := registry.Rediscover(ctx); err != nil {
		log.Warn("daemon: rediscover sessions failed", "err", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/download", download.New(auth, registry, files))
	mux.Handle("/", static.New(webassets.FS, "index.html"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	shutdownMode := session.ShutdownGraceful

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-runCtx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				shutdownMode = session.ShutdownPurge
			}
			cancel()
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS.Enabled {
			err = serveTLS(server, cfg)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErrCh <- err
	}()

	var runErr error
	select {
	case <-runCtx.Done():
	case <-tripped:
		runErr = fmt.Errorf("daemon: too many uncaught errors in rolling window, exiting for supervisor restart")
	case err := <-serveErrCh:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	registry.Shutdown(shutdownCtx, shutdownMode)

	if runErr != nil {
		return fmt.Errorf("daemon: %w", runErr)
	}
	return nil
}

// guardAgainstPanic recovers a panic from an event-publish callback,
// records it against the rolling crash window, and signals a clean exit if
// the threshold is exceeded, matching the propagation policy that no
// per-session failure should crash the process outright.
func guardAgainstPanic(counter *crashCounter, tripped chan<- struct{}) {
	if r := recover(); r != nil {
		log.Error("daemon: recovered panic in event dispatch", "panic", r)
		if counter.Record(time.Now()) {
			select {
			case tripped <- struct{}{}:
			default:
			}
		}
	}
}

func serveTLS(server *http.Server, cfg *config.Config) error {
	certStore := certs.NewStore(cfg.TLS.CertDirs...)
	pair, ok := certStore.Lookup(cfg.TLS.Hostname)
	if !ok {
		log.Warn("daemon: no certificate found, falling back to plaintext", "hostname", cfg.TLS.Hostname)
		return server.ListenAndServe()
	}
	cert, err := tls.LoadX509KeyPair(pair.CertFile, pair.KeyFile)
	if err != nil {
		return fmt.Errorf("load tls certificate: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}
	return server.ServeTLS(ln, "", "")
}
