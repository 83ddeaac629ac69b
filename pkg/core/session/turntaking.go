package session

import (
	"sync"
	"time"
)

const (
	// voiceThreshold is the RMS energy above which a capture block counts
	// as caller speech.
	voiceThreshold = 0.02

	// silenceWindowMin and silenceWindowMax bound the silence gap that is
	// read as "caller paused, model about to respond". Shorter gaps are
	// ordinary pauses between words; longer gaps mean the exchange has
	// already moved on.
	silenceWindowMin = 800 * time.Millisecond
	silenceWindowMax = 3 * time.Second
)

// voiceTracker derives turn-taking transitions from capture-block energy.
// It is a local heuristic with no server confirmation; authoritative
// server signals (inbound audio, interruption) override whatever it
// inferred.
type voiceTracker struct {
	mu        sync.Mutex
	lastVoice time.Time
	hasSpoken bool
}

// Observe processes one capture block's RMS energy against the current
// status and returns the suggested next status, if any.
func (t *voiceTracker) Observe(rms float64, status Status, now time.Time) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rms > voiceThreshold {
		t.lastVoice = now
		t.hasSpoken = true
		if status != StatusListening && status != StatusSpeaking {
			return StatusListening, true
		}
		return "", false
	}

	if status != StatusListening || !t.hasSpoken || t.lastVoice.IsZero() {
		return "", false
	}
	gap := now.Sub(t.lastVoice)
	if gap >= silenceWindowMin && gap <= silenceWindowMax {
		return StatusProcessing, true
	}
	return "", false
}

// HasSpoken reports whether caller speech was detected this turn.
func (t *voiceTracker) HasSpoken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasSpoken
}

// Reset clears the bookkeeping so the next caller turn starts clean.
func (t *voiceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastVoice = time.Time{}
	t.hasSpoken = false
}
