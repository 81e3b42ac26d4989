package audio

import (
	"math"
	"testing"
)

func TestValidateFormat(t *testing.T) {
	if err := ValidateFormat(16000, 1); err != nil {
		t.Fatalf("expected 16k mono to validate, got %v", err)
	}
	if err := ValidateFormat(48000, 1); err == nil {
		t.Fatal("expected error for 48k input")
	}
	if err := ValidateFormat(16000, 2); err == nil {
		t.Fatal("expected error for stereo input")
	}
}

func TestPCMI16ToF32Range(t *testing.T) {
	out := PCMI16ToF32([]int16{math.MinInt16, 0, math.MaxInt16})
	if len(out) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(out))
	}
	if out[0] >= 0 {
		t.Fatalf("expected negative sample, got %f", out[0])
	}
	if out[1] != 0 {
		t.Fatalf("expected zero sample, got %f", out[1])
	}
	if out[2] <= 0.99 {
		t.Fatalf("expected near-unity sample, got %f", out[2])
	}
}

func TestInterleavedToMonoAverages(t *testing.T) {
	stereo := []float32{0.2, 0.6, -0.2, 0.2}
	mono := InterleavedToMono(stereo, 2)
	if len(mono) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(mono))
	}
	if diff := mono[0] - 0.4; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected 0.4, got %f", mono[0])
	}
	if diff := mono[1]; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected 0.0, got %f", mono[1])
	}
}

func TestDownsampleIdentityAt16k(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3}
	out := DownsampleTo16k(input, 16000)
	if len(out) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(out))
	}
	for i := range input {
		if out[i] != input[i] {
			t.Fatalf("sample %d changed: %f != %f", i, out[i], input[i])
		}
	}
	// Identity still copies: mutating the output must not touch the input.
	out[0] = 9
	if input[0] != 0.1 {
		t.Fatal("identity path aliased the input buffer")
	}
}

func TestDownsampleEmptyBelowTarget(t *testing.T) {
	input := make([]float32, 2400)
	if out := DownsampleTo16k(input, 8000); len(out) != 0 {
		t.Fatalf("expected empty output for 8k source, got %d samples", len(out))
	}
}

func TestDownsampleBlockAverage48k(t *testing.T) {
	input := []float32{1, 1, 1, 0, 0, 0}
	out := DownsampleTo16k(input, 48000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 1 || out[1] != 0 {
		t.Fatalf("expected [1 0], got %v", out)
	}
}

func TestDownsampleLength48k(t *testing.T) {
	input := make([]float32, 4800)
	out := DownsampleTo16k(input, 48000)
	if len(out) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(out))
	}
}

func TestSensitivityGainClamps(t *testing.T) {
	cases := []struct {
		percent int
		want    float32
	}{
		{10, 0.5},
		{50, 0.5},
		{100, 1.0},
		{170, 1.7},
		{300, 3.0},
		{900, 3.0},
	}
	for _, tc := range cases {
		got := SensitivityGain(tc.percent)
		if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("SensitivityGain(%d) = %f, want %f", tc.percent, got, tc.want)
		}
	}
}

func TestApplyGainClampsToFullScale(t *testing.T) {
	samples := []float32{0.6, -0.6, 0.1}
	ApplyGain(samples, 2.0)
	if samples[0] != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %f", samples[0])
	}
	if samples[1] != -1.0 {
		t.Fatalf("expected clamp to -1.0, got %f", samples[1])
	}
	if diff := samples[2] - 0.2; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected 0.2, got %f", samples[2])
	}
}

func sineChunk(amplitude float32) []float32 {
	out := make([]float32, 1024)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)*0.1)) * amplitude
	}
	return out
}

func TestGateRejectsShortChunks(t *testing.T) {
	cfg := DefaultGateConfig()
	short := make([]float32, 32)
	for i := range short {
		short[i] = 0.2
	}
	if HasSpeech(short, cfg) {
		t.Fatal("expected short chunk to be rejected")
	}
}

func TestGateRejectsSilence(t *testing.T) {
	if HasSpeech(make([]float32, 1024), DefaultGateConfig()) {
		t.Fatal("expected silence to be rejected")
	}
}

func TestGateDetectsSpeechLikeSignal(t *testing.T) {
	if !HasSpeech(sineChunk(0.12), DefaultGateConfig()) {
		t.Fatal("expected speech-like signal to pass the gate")
	}
}

func TestMeterTracksLoudFrame(t *testing.T) {
	samples := make([]float32, 1024)
	for i := range samples {
		samples[i] = 0.2
	}
	level := MeasureLevel(samples, 0, 0)
	if level.Level <= 0 {
		t.Fatalf("expected positive level, got %f", level.Level)
	}
	if level.Peak <= 0 {
		t.Fatalf("expected positive peak, got %f", level.Peak)
	}
	if !level.Active {
		t.Fatal("expected active meter")
	}
}

func TestMeterDecaysPeakWhenSilent(t *testing.T) {
	level := MeasureLevel(nil, 0, 0.75)
	if level.Active {
		t.Fatal("expected inactive meter for empty frame")
	}
	if level.Peak >= 0.75 || level.Peak <= 0.70 {
		t.Fatalf("expected decayed peak just under 0.75, got %f", level.Peak)
	}
}
