package audio

import "math"

// Level is one reading of the live input meter.
type Level struct {
	Level  float32
	Peak   float32
	Active bool
}

// MeasureLevel folds a frame of samples into the running meter state.
// The level attacks instantly and decays smoothly; the peak decays at
// a fixed rate so short transients stay visible.
func MeasureLevel(samples []float32, previousLevel, previousPeak float32) Level {
	if len(samples) == 0 {
		return Level{
			Level:  0,
			Peak:   previousPeak * 0.96,
			Active: false,
		}
	}

	var energy float64
	var peak float32
	for _, s := range samples {
		abs := s
		if abs < 0 {
			abs = -abs
		}
		energy += float64(s) * float64(s)
		if abs > peak {
			peak = abs
		}
	}

	rms := float32(math.Sqrt(energy / float64(len(samples))))
	scaled := rms * 14.0
	if scaled > 1.0 {
		scaled = 1.0
	}
	level := scaled
	if scaled < previousLevel {
		level = previousLevel*0.84 + scaled*0.16
	}
	combinedPeak := previousPeak * 0.96
	if peak > combinedPeak {
		combinedPeak = peak
	}

	return Level{
		Level:  level,
		Peak:   combinedPeak,
		Active: level > 0.08 || peak > 0.12,
	}
}
