// Package pcm converts caller audio into the format the recognition worker
// reads on stdin: signed 16-bit little-endian PCM, one channel, 16 kHz.
//
// Resampling is linear interpolation. It is good enough for speech and keeps
// the output bit-for-bit reproducible; it is not meant for music.
package pcm

import "math"

// TargetSampleRate is the only rate the worker accepts.
const TargetSampleRate = 16000

// NormalizeF32 quantizes float samples in [-1, 1] to PCM16 and then applies
// NormalizeI16.
func NormalizeF32(samples []float32, sampleRate, channels int) []int16 {
	return NormalizeI16(QuantizeF32(samples), sampleRate, channels)
}

// NormalizeI16 resamples interleaved PCM16 to TargetSampleRate and downmixes
// it to mono.
//
// Resampling runs on the raw interleaved stream before the downmix, so for
// multi-channel input with a non-unity ratio the channels bleed into each
// other slightly. Callers relying on exact output depend on this order.
func NormalizeI16(samples []int16, sampleRate, channels int) []int16 {
	return Downmix(Resample(samples, sampleRate), channels)
}

// QuantizeF32 clamps each sample to [-1, 1], scales it by 32767 and truncates
// toward zero. NaN maps to 0.
func QuantizeF32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s != s:
			s = 0
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}

// Resample converts samples from sampleRate to TargetSampleRate. Input that
// is already at the target rate (or has a non-positive rate) is returned as is.
func Resample(samples []int16, sampleRate int) []int16 {
	if sampleRate == TargetSampleRate || sampleRate <= 0 {
		return samples
	}

	ratio := float64(TargetSampleRate) / float64(sampleRate)
	outLen := int(math.Ceil(float64(len(samples)) * ratio))
	out := make([]int16, 0, outLen)

	for i := 0; i < outLen; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := pos - float64(idx)

		if idx >= len(samples) {
			break
		}
		if idx+1 < len(samples) {
			a := float64(samples[idx])
			b := float64(samples[idx+1])
			out = append(out, clamp16(a+(b-a)*frac))
		} else {
			out = append(out, samples[idx])
		}
	}
	return out
}

// Downmix averages each interleaved frame of the given channel count into a
// single sample using integer division. A trailing incomplete frame is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for _, s := range samples[f*channels : (f+1)*channels] {
			sum += int32(s)
		}
		mean := sum / int32(channels)
		if mean > math.MaxInt16 {
			mean = math.MaxInt16
		} else if mean < math.MinInt16 {
			mean = math.MinInt16
		}
		out[f] = int16(mean)
	}
	return out
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}
