package audio

import "math"

// GateConfig tunes the energy gate that decides whether a chunk is
// worth sending to the recognizer.
type GateConfig struct {
	RMSThreshold float32
	MinSamples   int
}

// DefaultGateConfig matches the threshold that keeps breathing and
// keyboard noise below the gate without clipping quiet speech.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		RMSThreshold: 0.015,
		MinSamples:   512,
	}
}

// HasSpeech reports whether samples carry enough energy to be speech.
// Chunks shorter than MinSamples are rejected outright.
func HasSpeech(samples []float32, cfg GateConfig) bool {
	if len(samples) < cfg.MinSamples {
		return false
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	return rms >= float64(cfg.RMSThreshold)
}
