package audio

import (
	"errors"
	"fmt"
)

// ErrInputRateUnsupported rejects capture sources below the target
// rate; upsampling would fabricate signal.
var ErrInputRateUnsupported = errors.New("input sample rate below 16 kHz is unsupported")

// Target capture format for recognition input. Everything upstream of
// the recognizer is converted to 16 kHz mono float32.
const (
	SampleRateHz = 16000
	Channels     = 1
)

const i16Scale = float32(32767)

// ValidateFormat checks that a buffer already matches the recognition
// input format.
func ValidateFormat(sampleRateHz int, channels int) error {
	if sampleRateHz != SampleRateHz {
		return fmt.Errorf("invalid sample rate: expected %d, got %d", SampleRateHz, sampleRateHz)
	}
	if channels != Channels {
		return fmt.Errorf("invalid channel count: expected %d, got %d", Channels, channels)
	}
	return nil
}

// PCMI16ToF32 converts signed 16-bit PCM to normalized float samples.
func PCMI16ToF32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / i16Scale
	}
	return out
}

// InterleavedToMono averages interleaved frames down to a single
// channel. channels <= 1 returns a copy of the input.
func InterleavedToMono(input []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	frames := len(input) / channels
	out := make([]float32, 0, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += input[f*channels+c]
		}
		out = append(out, sum/float32(channels))
	}
	return out
}

// DownsampleTo16k reduces input captured at sourceRateHz to 16 kHz by
// averaging contiguous sample blocks. A 16 kHz source passes through
// unchanged; sources below 16 kHz yield no output because upsampling
// would fabricate signal the recognizer never heard.
func DownsampleTo16k(input []float32, sourceRateHz int) []float32 {
	if sourceRateHz == SampleRateHz {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}
	if sourceRateHz < SampleRateHz {
		return nil
	}

	ratio := float64(sourceRateHz) / float64(SampleRateHz)
	outputLen := int(float64(len(input)) / ratio)
	out := make([]float32, 0, outputLen)

	position := 0
	for i := 0; i < outputLen; i++ {
		next := int(float64(i+1) * ratio)
		if next > len(input) {
			next = len(input)
		}
		var sum float32
		count := next - position
		for _, s := range input[position:next] {
			sum += s
		}
		if count > 0 {
			out = append(out, sum/float32(count))
		} else {
			out = append(out, 0)
		}
		position = next
	}
	return out
}

// SensitivityGain maps a microphone sensitivity percentage (50..300)
// to a linear gain in [0.5, 3.0].
func SensitivityGain(percent int) float32 {
	if percent < 50 {
		percent = 50
	}
	if percent > 300 {
		percent = 300
	}
	gain := float32(percent) / 100.0
	if gain < 0.5 {
		gain = 0.5
	}
	if gain > 3.0 {
		gain = 3.0
	}
	return gain
}

// ApplyGain scales samples in place, clamping to [-1, 1]. Unity gain
// is a no-op.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1.0 {
		return
	}
	for i, s := range samples {
		v := s * gain
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		samples[i] = v
	}
}
