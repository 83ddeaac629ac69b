package main

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/Alphas-DBS/Nova-Core/pkg/core/session"
)

// ffplaySink plays pcm_s16le 24kHz mono through an ffplay subprocess
// reading from stdin. Chunks are queued and flushed by a writer
// goroutine so Play returns immediately; ffplay consumes the pipe at
// realtime, which would otherwise stall the caller whenever model audio
// arrives faster than it plays.
type ffplaySink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool
	err     error
}

func openSpeaker() (session.Sink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("ffplay not found in PATH: %w", err)
	}
	cmd := exec.Command("ffplay",
		"-hide_banner",
		"-loglevel", "error",
		"-nodisp",
		"-autoexit",
		"-f", "s16le",
		"-ar", "24000",
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}
	return newFFplaySink(cmd, stdin), nil
}

func newFFplaySink(cmd *exec.Cmd, stdin io.WriteCloser) *ffplaySink {
	s := &ffplaySink{cmd: cmd, stdin: stdin}
	s.cond = sync.NewCond(&s.mu)
	go s.writeLoop()
	return s
}

func (s *ffplaySink) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker closed")
	}
	if s.err != nil {
		return s.err
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	s.pending = append(s.pending, chunk)
	s.cond.Signal()
	return nil
}

// writeLoop drains the queue into ffplay's stdin, absorbing the pipe's
// realtime pacing so Play never waits on it.
func (s *ffplaySink) writeLoop() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		chunk := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if _, err := s.stdin.Write(chunk); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = fmt.Errorf("write to ffplay: %w", err)
			}
			s.pending = nil
			s.mu.Unlock()
			return
		}
	}
}

func (s *ffplaySink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	_ = s.stdin.Close()
	if s.cmd != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
	return nil
}
