package pcm

import (
	"encoding/binary"
	"math"
)

// EncodeLE serializes samples as little-endian 16-bit PCM, the worker's stdin
// wire format.
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLE parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func DecodeLE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples. Trailing
// bytes that do not form a whole sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
