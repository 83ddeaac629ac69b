package audio

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps raw s16le PCM in a RIFF/WAVE container. This is the
// recording container: always producible, playable everywhere.
func EncodeWAV(pcm []byte, format Format) []byte {
	var buf bytes.Buffer

	dataLen := uint32(len(pcm))
	byteRate := uint32(format.BytesPerSecond())
	blockAlign := uint16(format.BytesPerSample())

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(format.BitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}
