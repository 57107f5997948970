package pcm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestNormalizeI16_IdentityAtTargetRateMono(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234, -4321}

	out := NormalizeI16(in, TargetSampleRate, 1)

	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func TestResample_OutputLength(t *testing.T) {
	tests := []struct {
		name     string
		inLen    int
		rate     int
		expected int
	}{
		{"48k to 16k", 4800, 48000, 1600},
		{"44.1k to 16k", 44100, 44100, expectedLen(44100, 44100)},
		{"8k to 16k", 100, 8000, 200},
		{"22.05k odd length", 1001, 22050, expectedLen(1001, 22050)},
		{"single sample upsample", 1, 8000, 2},
		{"empty", 0, 48000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(make([]int16, tt.inLen), tt.rate)
			if len(out) != tt.expected {
				t.Errorf("Resample(len=%d, %d) produced %d samples, want %d", tt.inLen, tt.rate, len(out), tt.expected)
			}
		})
	}
}

func expectedLen(n, rate int) int {
	ratio := float64(TargetSampleRate) / float64(rate)
	return int(math.Ceil(float64(n) * ratio))
}

func TestResample_LinearInterpolation(t *testing.T) {
	// 8 kHz -> 16 kHz doubles the rate: every odd output sample sits halfway
	// between two inputs, the last one repeats the tail.
	out := Resample([]int16{0, 100, 200}, 8000)

	expected := []int16{0, 50, 100, 150, 200, 200}
	if len(out) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, out)
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestResample_TruncatesInterpolatedValues(t *testing.T) {
	// Halfway between 0 and 3 is 1.5, which truncates to 1; between 0 and -3
	// it truncates toward zero to -1.
	up := Resample([]int16{0, 3}, 8000)
	if up[1] != 1 {
		t.Errorf("expected 1, got %d", up[1])
	}
	down := Resample([]int16{0, -3}, 8000)
	if down[1] != -1 {
		t.Errorf("expected -1, got %d", down[1])
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48 kHz -> 16 kHz picks every third sample (frac is always 0).
	in := []int16{10, 11, 12, 20, 21, 22, 30, 31, 32}
	out := Resample(in, 48000)

	expected := []int16{10, 20, 30}
	if len(out) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, out)
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestDownmix_Stereo(t *testing.T) {
	in := []int16{
		100, 200,
		-3, 0,
		32767, 32767,
		-32768, -32768,
		7, 8,
	}

	out := Downmix(in, 2)

	expected := []int16{150, -1, 32767, -32768, 7}
	if len(out) != len(expected) {
		t.Fatalf("expected %d frames, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("frame %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestDownmix_MonoUnchanged(t *testing.T) {
	in := []int16{1, 2, 3}
	for _, ch := range []int{0, 1} {
		out := Downmix(in, ch)
		if len(out) != 3 || out[0] != 1 || out[2] != 3 {
			t.Errorf("channels=%d: expected input unchanged, got %v", ch, out)
		}
	}
}

func TestDownmix_DropsPartialFrame(t *testing.T) {
	out := Downmix([]int16{3, 3, 3, 9, 9}, 3)
	if len(out) != 1 || out[0] != 3 {
		t.Errorf("expected [3], got %v", out)
	}
}

func TestQuantizeF32_Boundaries(t *testing.T) {
	in := []float32{1.0, 1.0, 1.0, 1.0}
	for i, s := range QuantizeF32(in) {
		if s != math.MaxInt16 {
			t.Errorf("sample %d: expected %d, got %d", i, math.MaxInt16, s)
		}
	}

	tests := []struct {
		in       float32
		expected int16
	}{
		{-1.0, -32767},
		{2.5, 32767},
		{-7, -32767},
		{0, 0},
		{0.5, 16383},   // 16383.5 truncates
		{-0.5, -16383}, // toward zero, not floor
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		got := QuantizeF32([]float32{tt.in})[0]
		if got != tt.expected {
			t.Errorf("QuantizeF32(%v) = %d, want %d", tt.in, got, tt.expected)
		}
	}
}

func TestNormalizeF32_StereoAt48k(t *testing.T) {
	// 4096 interleaved stereo samples at 48 kHz: resampled length is
	// ceil(4096/3) = 1366 samples, which downmix to 683 frames.
	in := make([]float32, 4096)
	for i := range in {
		in[i] = 0.25
	}

	out := NormalizeF32(in, 48000, 2)

	if len(out) != 683 {
		t.Fatalf("expected 683 samples, got %d", len(out))
	}
	for i, s := range out {
		if s != 8191 {
			t.Fatalf("sample %d: expected 8191, got %d", i, s)
		}
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	if out := NormalizeF32(nil, 44100, 2); len(out) != 0 {
		t.Errorf("expected empty output, got %d samples", len(out))
	}
	if out := NormalizeI16([]int16{}, 8000, 1); len(out) != 0 {
		t.Errorf("expected empty output, got %d samples", len(out))
	}
}

func TestEncodeDecodeLE(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}

	b := EncodeLE(samples)
	if !bytes.Equal(b[:4], []byte{0x00, 0x00, 0x01, 0x00}) {
		t.Errorf("unexpected little-endian layout: % x", b[:4])
	}
	if !bytes.Equal(b[4:6], []byte{0xff, 0xff}) {
		t.Errorf("expected -1 as ff ff, got % x", b[4:6])
	}

	back := DecodeLE(append(b, 0x7f))
	if len(back) != len(samples) {
		t.Fatalf("expected %d samples (odd byte ignored), got %d", len(samples), len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []float32{0.5, -1} {
		binary.Write(&buf, binary.LittleEndian, f)
	}
	buf.WriteByte(0x01)

	got := DecodeFloat32LE(buf.Bytes())
	if len(got) != 2 || got[0] != 0.5 || got[1] != -1 {
		t.Errorf("expected [0.5 -1], got %v", got)
	}
}
