package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVFormat describes the "fmt " chunk of a WAV file.
type WAVFormat struct {
	AudioFormat   uint16 // 1 for PCM, 3 for IEEE float
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ErrUnsupportedWAV is returned for WAV files that are neither 16-bit PCM nor
// 32-bit float.
var ErrUnsupportedWAV = errors.New("unsupported WAV encoding")

// IsFloat reports whether the data chunk holds 32-bit float samples.
func (f WAVFormat) IsFloat() bool {
	return f.AudioFormat == wavFormatFloat && f.BitsPerSample == 32
}

// BytesPerFrame is the size of one interleaved frame in the data chunk.
func (f WAVFormat) BytesPerFrame() int {
	return int(f.NumChannels) * int(f.BitsPerSample/8)
}

// ReadWAVHeader consumes RIFF chunks from r up to the start of the "data"
// chunk and returns the parsed format. On success r is positioned at the first
// sample and the data chunk size is returned.
func ReadWAVHeader(r io.Reader) (WAVFormat, uint32, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVFormat{}, 0, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVFormat{}, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		format    WAVFormat
		sawFormat bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVFormat{}, 0, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVFormat{}, 0, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			format = WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				NumChannels:   binary.LittleEndian.Uint16(body[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return WAVFormat{}, 0, errors.New("data chunk before fmt chunk")
			}
			if !format.IsFloat() && !(format.AudioFormat == wavFormatPCM && format.BitsPerSample == 16) {
				return WAVFormat{}, 0, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, format.AudioFormat, format.BitsPerSample)
			}
			return format, size, nil
		default:
			// LIST, fact and friends
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
