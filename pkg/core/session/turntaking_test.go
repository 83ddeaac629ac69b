package session

import (
	"testing"
	"time"
)

func TestVoiceForcesListening(t *testing.T) {
	var tracker voiceTracker
	now := time.Unix(1000, 0)

	next, ok := tracker.Observe(0.05, StatusConnecting, now)
	if !ok || next != StatusListening {
		t.Fatalf("Observe = (%v, %v), want listening transition", next, ok)
	}
	if !tracker.HasSpoken() {
		t.Error("expected has-spoken after voice activity")
	}
}

func TestVoiceWhileListeningIsQuiet(t *testing.T) {
	var tracker voiceTracker
	now := time.Unix(1000, 0)

	if _, ok := tracker.Observe(0.05, StatusListening, now); ok {
		t.Error("voice while already listening should suggest nothing")
	}
	if _, ok := tracker.Observe(0.05, StatusSpeaking, now); ok {
		t.Error("voice while model speaks should suggest nothing")
	}
}

func TestSilenceWindowTriggersProcessing(t *testing.T) {
	start := time.Unix(1000, 0)
	tests := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"below window", 500 * time.Millisecond, false},
		{"window start", 800 * time.Millisecond, true},
		{"mid window", 1000 * time.Millisecond, true},
		{"window end", 3 * time.Second, true},
		{"past window", 4 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tracker voiceTracker
			tracker.Observe(0.05, StatusListening, start)

			next, ok := tracker.Observe(0.001, StatusListening, start.Add(tt.gap))
			if ok != tt.want {
				t.Fatalf("gap %v: applied = %v, want %v", tt.gap, ok, tt.want)
			}
			if ok && next != StatusProcessing {
				t.Errorf("gap %v: next = %v, want processing", tt.gap, next)
			}
		})
	}
}

func TestSilenceWithoutSpeechSuggestsNothing(t *testing.T) {
	var tracker voiceTracker
	now := time.Unix(1000, 0)
	if _, ok := tracker.Observe(0.001, StatusListening, now.Add(time.Second)); ok {
		t.Error("silence with no prior speech should suggest nothing")
	}
}

func TestResetClearsTurnState(t *testing.T) {
	var tracker voiceTracker
	now := time.Unix(1000, 0)
	tracker.Observe(0.05, StatusListening, now)
	tracker.Reset()

	if tracker.HasSpoken() {
		t.Error("has-spoken should clear on reset")
	}
	if _, ok := tracker.Observe(0.001, StatusListening, now.Add(time.Second)); ok {
		t.Error("silence after reset should suggest nothing")
	}
}
