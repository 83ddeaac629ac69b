package audio

// Format specifies audio format parameters.
type Format struct {
	// SampleRate in Hz. Capture runs at 16000, playback at 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// CaptureFormat returns the microphone wire format (16kHz mono s16le).
func CaptureFormat() Format {
	return Format{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// PlaybackFormat returns the model output format (24kHz mono s16le).
func PlaybackFormat() Format {
	return Format{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// BytesPerSample returns the size of one sample frame in bytes.
func (f Format) BytesPerSample() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (f Format) DurationMs(bytes int) int {
	if f.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / f.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (f Format) BytesForDurationMs(ms int) int {
	return (f.BytesPerSecond() * ms) / 1000
}
