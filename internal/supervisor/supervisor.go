// Package supervisor wraps the daemon binary as a child process, restarting
// it with exponential backoff on unexpected exit and forwarding the signals
// that select its shutdown mode.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/termhub/termhub/internal/clock"
)

// Config tunes the restart backoff curve.
type Config struct {
	QuickDeathThreshold time.Duration
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

// Supervisor respawns a child command until told to stop.
type Supervisor struct {
	argv []string
	clk  clock.Clock
	cfg  Config

	quickDeaths int
	stopping    bool
}

// New constructs a Supervisor that will repeatedly exec argv.
func New(argv []string, clk clock.Clock, cfg Config) *Supervisor {
	return &Supervisor{argv: argv, clk: clk, cfg: cfg}
}

// BackoffFor returns the restart delay for the Nth consecutive quick death.
func (s *Supervisor) BackoffFor(quickDeaths int) time.Duration {
	delay := s.cfg.BaseDelay
	for i := 0; i < quickDeaths; i++ {
		delay *= 2
		if delay >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	return delay
}

// Run execs and re-execs the child until a terminal signal is received or
// ctx is canceled. It never returns an error for a child crash; it only
// returns once supervision itself ends.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		if s.stopping {
			return nil
		}

		cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin

		if err := cmd.Start(); err != nil {
			log.Error("supervisor: failed to start child", "err", err)
			return err
		}

		start := s.clk.Now()
		exitCh := make(chan error, 1)
		go func() { exitCh <- cmd.Wait() }()

		select {
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			<-exitCh
			return ctx.Err()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				_ = cmd.Process.Signal(syscall.SIGUSR1)
				<-exitCh
				return nil
			default:
				s.stopping = true
				_ = cmd.Process.Signal(sig.(syscall.Signal))
				<-exitCh
				return nil
			}

		case err := <-exitCh:
			ran := s.clk.Now().Sub(start)
			if ran >= s.cfg.QuickDeathThreshold {
				s.quickDeaths = 0
			} else {
				s.quickDeaths++
			}
			delay := s.BackoffFor(s.quickDeaths)
			log.Warn("supervisor: child exited, respawning", "err", err, "ran", ran, "delay", delay)
			s.clk.Sleep(delay)
		}
	}
}
