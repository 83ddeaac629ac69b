package session

import (
	"sync"

	"github.com/Alphas-DBS/Nova-Core/pkg/core/audio"
)

// callRecorder captures both sides of a call as one recording. Microphone
// blocks (16kHz) are resampled to the 24kHz playback rate and mixed with
// model audio at finalization, producing a single WAV blob.
type callRecorder struct {
	mu        sync.Mutex
	format    audio.Format
	mic       *audio.Buffer
	model     *audio.Buffer
	finalized bool
}

func newCallRecorder() *callRecorder {
	format := audio.PlaybackFormat()
	return &callRecorder{
		format: format,
		mic:    audio.NewBuffer(format, 0),
		model:  audio.NewBuffer(format, 0),
	}
}

// WriteMic appends one captured microphone block (16-bit LE PCM, 16kHz
// mono). No-op after Finalize.
func (r *callRecorder) WriteMic(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	resampled := audio.ResampleLinear(pcm, audio.CaptureFormat().SampleRate, r.format.SampleRate)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.mic.Write(resampled)
}

// WriteModel appends one decoded model audio chunk (16-bit LE PCM, 24kHz
// mono). No-op after Finalize.
func (r *callRecorder) WriteModel(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.model.Write(pcm)
}

// Finalize mixes the two tracks and returns the assembled WAV recording.
// The second return is false when nothing was recorded or Finalize already
// ran; the recorder accepts no further writes either way.
func (r *callRecorder) Finalize() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return nil, false
	}
	r.finalized = true
	if r.mic.Len() == 0 && r.model.Len() == 0 {
		return nil, false
	}
	mixed := audio.MixPCM16(r.mic.Read(), r.model.Read())
	r.mic.Clear()
	r.model.Clear()
	return audio.EncodeWAV(mixed, r.format), true
}
