// Package runner wraps subprocess execution for the gateway's local tools
// (audio playback, voice training). It exists so callers get a uniform
// start/wait/stop surface with context cancellation and captured stderr,
// and so tests can fake process behaviour behind the [Starter] seam.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// stopGrace is how long Stop waits after SIGTERM before escalating to
// SIGKILL.
const stopGrace = 3 * time.Second

// Cmd is a started subprocess.
type Cmd interface {
	// Wait blocks until the process exits and returns its final error.
	// Stderr output is folded into the error on failure.
	Wait() error

	// Stop asks the process to terminate (SIGTERM, then SIGKILL after a
	// grace period). It does not wait for exit; call Wait for that.
	Stop()
}

// Starter launches subprocesses. The zero-value [ExecStarter] is the real
// implementation.
type Starter interface {
	Start(ctx context.Context, name string, args []string, stdin io.Reader) (Cmd, error)
}

// ExecStarter starts real processes via os/exec.
type ExecStarter struct{}

var _ Starter = ExecStarter{}

// Start launches name with args. The process is killed when ctx is
// cancelled.
func (ExecStarter) Start(ctx context.Context, name string, args []string, stdin io.Reader) (Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start %s: %w", name, err)
	}
	return &execCmd{cmd: cmd, stderr: &stderr}, nil
}

type execCmd struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer

	stopOnce sync.Once
}

func (c *execCmd) Wait() error {
	err := c.cmd.Wait()
	if err == nil {
		return nil
	}
	// A deliberate Stop surfaces as a signal exit; report it as such.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
	}
	return err
}

func (c *execCmd) Stop() {
	c.stopOnce.Do(func() {
		p := c.cmd.Process
		if p == nil {
			return
		}
		_ = p.Signal(syscall.SIGTERM)
		go func() {
			timer := time.NewTimer(stopGrace)
			defer timer.Stop()
			<-timer.C
			_ = p.Kill()
		}()
	})
}
