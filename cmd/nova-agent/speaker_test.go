package main

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

// gatedWriter refuses to accept bytes until the gate opens, standing in
// for a stalled ffplay stdin pipe.
type gatedWriter struct {
	gate chan struct{}

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	<-w.gate
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *gatedWriter) Close() error { return nil }

func (w *gatedWriter) bytesWritten() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

func TestSpeakerPlayDoesNotBlockOnStalledPipe(t *testing.T) {
	w := &gatedWriter{gate: make(chan struct{})}
	sink := newFFplaySink(nil, w)
	defer sink.Close()

	var want bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			chunk := []byte{byte(i), byte(i >> 8)}
			want.Write(chunk)
			if err := sink.Play(chunk); err != nil {
				t.Errorf("Play #%d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Play blocked while the pipe was stalled")
	}

	close(w.gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if bytes.Equal(w.bytesWritten(), want.Bytes()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flushed %d bytes, want %d in order", len(w.bytesWritten()), want.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpeakerPlayAfterCloseFails(t *testing.T) {
	w := &gatedWriter{gate: make(chan struct{})}
	close(w.gate)
	sink := newFFplaySink(nil, w)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Play([]byte{0x01, 0x00}); err == nil {
		t.Error("Play after Close should fail")
	}
}
