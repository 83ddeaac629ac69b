package audio

import (
	"encoding/base64"
	"math"
)

// MIME labels for the live wire contract. Outbound microphone audio is tagged
// with the capture rate; inbound model audio arrives at the playback rate.
const (
	CaptureMIME  = "audio/pcm;rate=16000"
	PlaybackMIME = "audio/pcm;rate=24000"
)

// EncodePCM16 converts normalized float64 samples (-1.0..1.0) to 16-bit
// signed little-endian PCM bytes. Samples outside the range are clamped.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM bytes to normalized
// float64 samples via division by 32768. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// EncodeBase64 wraps PCM bytes in the base64 text framing used on the wire.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 unwraps base64 text framing back to PCM bytes.
func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM. Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768.
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// ResampleLinear converts s16le PCM from one mono sample rate to another
// using linear interpolation. Good enough for the recording mix; the wire
// paths never resample.
func ResampleLinear(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		return nil
	}
	if fromRate == toRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	in := DecodePCM16(pcm)
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float64, outLen)
	step := float64(len(in)-1) / float64(outLen)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		if idx+1 < len(in) {
			out[i] = in[idx]*(1-frac) + in[idx+1]*frac
		} else {
			out[i] = in[idx]
		}
	}
	return EncodePCM16(out)
}

// MixPCM16 sums two s16le PCM streams of the same rate sample-by-sample with
// clamping. The result has the length of the longer input.
func MixPCM16(a, b []byte) []byte {
	long, short := a, b
	if len(b) > len(a) {
		long, short = b, a
	}
	out := make([]byte, len(long))
	copy(out, long)
	for i := 0; i+1 < len(short); i += 2 {
		sa := int32(int16(out[i]) | int16(out[i+1])<<8)
		sb := int32(int16(short[i]) | int16(short[i+1])<<8)
		sum := sa + sb
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		out[i] = byte(sum)
		out[i+1] = byte(sum >> 8)
	}
	return out
}
