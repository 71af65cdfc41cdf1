// Package playback owns the single audio output device.
//
// All sound leaves the gateway through one [Player], which serialises the
// device: speech playback preempts whatever is currently sounding (the
// interrupt contract), while short notification tones go through a FIFO
// queue drained by one worker goroutine so they never interleave.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sylvanops/cogate/internal/runner"
)

// toneQueueDepth bounds the pending tone queue; excess tones are dropped.
const toneQueueDepth = 32

// ErrClosed is returned once the player has been shut down.
var ErrClosed = errors.New("playback: player is closed")

// Player plays WAV blobs through a configurable player command (aplay by
// default) reading audio from stdin.
type Player struct {
	argv    []string
	starter runner.Starter

	mu      sync.Mutex
	current runner.Cmd
	closed  bool

	tones chan []byte
	wg    sync.WaitGroup
}

// NewPlayer creates a Player using argv as the playback command (e.g.
// ["aplay", "-q", "-"]) and starts the tone worker. Close must be called to
// stop the worker.
func NewPlayer(argv []string) *Player {
	if len(argv) == 0 {
		argv = []string{"aplay", "-q", "-"}
	}
	p := &Player{
		argv:    argv,
		starter: runner.ExecStarter{},
		tones:   make(chan []byte, toneQueueDepth),
	}
	p.wg.Add(1)
	go p.toneLoop()
	return p
}

// Play sounds audio, preempting any current playback, and blocks until the
// clip finishes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	cmd, err := p.start(ctx, audio, true)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		p.clear(cmd)
		return err
	case <-ctx.Done():
		cmd.Stop()
		<-done
		p.clear(cmd)
		return ctx.Err()
	}
}

// Stop kills the current playback, if any. Queued tones are unaffected.
func (p *Player) Stop() {
	p.mu.Lock()
	cmd := p.current
	p.mu.Unlock()
	if cmd != nil {
		cmd.Stop()
	}
}

// QueueTone enqueues a short clip for FIFO playback. When the queue is full
// the tone is dropped; tones are advisory.
func (p *Player) QueueTone(audio []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case p.tones <- audio:
		return nil
	default:
		slog.Warn("tone queue full, dropping tone")
		return nil
	}
}

// Close stops current playback, drains the tone worker, and marks the
// player unusable.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cmd := p.current
	p.mu.Unlock()

	if cmd != nil {
		cmd.Stop()
	}
	close(p.tones)
	p.wg.Wait()
}

// start launches the player subprocess. preempt kills the current playback
// first; tones pass false and simply wait their turn via the worker.
func (p *Player) start(ctx context.Context, audio []byte, preempt bool) (runner.Cmd, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if preempt && p.current != nil {
		p.current.Stop()
	}
	p.mu.Unlock()

	cmd, err := p.starter.Start(ctx, p.argv[0], p.argv[1:], bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}

	p.mu.Lock()
	p.current = cmd
	p.mu.Unlock()
	return cmd, nil
}

// clear forgets cmd if it is still the current playback.
func (p *Player) clear(cmd runner.Cmd) {
	p.mu.Lock()
	if p.current == cmd {
		p.current = nil
	}
	p.mu.Unlock()
}

// toneLoop drains the tone queue one clip at a time.
func (p *Player) toneLoop() {
	defer p.wg.Done()
	for audio := range p.tones {
		cmd, err := p.start(context.Background(), audio, false)
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				slog.Warn("tone playback failed to start", "error", err)
			}
			continue
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("tone playback failed", "error", err)
		}
		p.clear(cmd)
	}
}
