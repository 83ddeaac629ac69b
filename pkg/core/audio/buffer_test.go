package audio

import (
	"bytes"
	"testing"
)

func TestBufferAccumulates(t *testing.T) {
	b := NewBuffer(PlaybackFormat(), 0)
	b.Write([]byte{1, 2})
	b.Write([]byte{3, 4})

	if got := b.Read(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Read() = %v, want [1 2 3 4]", got)
	}
	if b.Len() != 4 {
		t.Errorf("Len() = %d, want 4", b.Len())
	}
}

func TestBufferBoundedDropsOldest(t *testing.T) {
	format := CaptureFormat()
	b := NewBuffer(format, 1) // one millisecond cap
	maxBytes := format.BytesForDurationMs(1)

	chunk := make([]byte, maxBytes)
	for i := range chunk {
		chunk[i] = 0xAA
	}
	b.Write(chunk)
	b.Write([]byte{1, 2})

	got := b.Read()
	if len(got) != maxBytes {
		t.Fatalf("Len() = %d, want %d", len(got), maxBytes)
	}
	if got[len(got)-2] != 1 || got[len(got)-1] != 2 {
		t.Error("newest data should survive trimming")
	}
	if got[0] != 0xAA {
		t.Error("trim should only drop from the front")
	}
}

func TestBufferDurationAndClear(t *testing.T) {
	format := PlaybackFormat()
	b := NewBuffer(format, 0)
	b.Write(make([]byte, format.BytesForDurationMs(250)))

	if got := b.DurationMs(); got != 250 {
		t.Errorf("DurationMs() = %d, want 250", got)
	}
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", b.Len())
	}
	if b.RMS() != 0 {
		t.Errorf("RMS() of empty buffer = %v, want 0", b.RMS())
	}
}
