package cloud

import "encoding/binary"

const wavHeaderSize = 44

// EncodeWAV wraps mono 16-bit samples in a canonical 44-byte RIFF/WAVE
// header. The output is fully determined by the samples and rate.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	out := make([]byte, 0, wavHeaderSize+int(dataSize))

	le := binary.LittleEndian
	out = append(out, "RIFF"...)
	out = le.AppendUint32(out, 36+dataSize)
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = le.AppendUint32(out, 16)
	out = le.AppendUint16(out, 1) // PCM
	out = le.AppendUint16(out, 1) // mono
	out = le.AppendUint32(out, uint32(sampleRate))
	out = le.AppendUint32(out, uint32(sampleRate*2))
	out = le.AppendUint16(out, 2)
	out = le.AppendUint16(out, 16)

	out = append(out, "data"...)
	out = le.AppendUint32(out, dataSize)
	for _, s := range samples {
		out = le.AppendUint16(out, uint16(s))
	}
	return out
}
