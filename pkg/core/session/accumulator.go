package session

import (
	"strings"
	"sync"
)

// Transcript roles emitted through the transcript callback.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// transcriptAccumulator collects partial transcript fragments for the
// in-progress turn. Fragments are never exposed individually; each
// accumulator is flushed at most once per turn-complete signal.
type transcriptAccumulator struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

func (a *transcriptAccumulator) AppendInput(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(text)
}

func (a *transcriptAccumulator) AppendOutput(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(text)
}

// FlushTurn emits each non-empty accumulator exactly once (caller side
// first) and resets both. A flush with nothing accumulated emits nothing.
func (a *transcriptAccumulator) FlushTurn(emit func(text, role string)) {
	a.mu.Lock()
	input := a.input.String()
	output := a.output.String()
	a.input.Reset()
	a.output.Reset()
	a.mu.Unlock()

	if emit == nil {
		return
	}
	if strings.TrimSpace(input) != "" {
		emit(input, RoleUser)
	}
	if strings.TrimSpace(output) != "" {
		emit(output, RoleAgent)
	}
}

// DiscardOutput drops the in-progress model transcript without flushing.
// Used on interruption: preempted model speech is never surfaced.
func (a *transcriptAccumulator) DiscardOutput() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.Reset()
}
