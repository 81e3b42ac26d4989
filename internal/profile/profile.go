package profile

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Model profiles trade latency against accuracy.
type Model string

const (
	ModelFast     Model = "fast"
	ModelBalanced Model = "balanced"
)

// HardwareTier buckets the host by logical core count.
type HardwareTier string

const (
	TierLow  HardwareTier = "low"
	TierMid  HardwareTier = "mid"
	TierHigh HardwareTier = "high"
)

// Tuning holds the chunking parameters a profile recommends.
type Tuning struct {
	MinChunkSamples int           `json:"min_chunk_samples"`
	PartialCadence  time.Duration `json:"partial_cadence_ms"`
}

// ModelStatus is the resolved model picture reported to the shell.
type ModelStatus struct {
	Profile      Model        `json:"profile"`
	HardwareTier HardwareTier `json:"hardware_tier"`
	ModelPath    string       `json:"model_path"`
	ModelExists  bool         `json:"model_exists"`
	CheckedPaths []string     `json:"checked_paths"`
	Tuning       Tuning       `json:"tuning"`
}

func DetectHardwareTier(logicalCores int) HardwareTier {
	switch {
	case logicalCores <= 4:
		return TierLow
	case logicalCores <= 8:
		return TierMid
	default:
		return TierHigh
	}
}

// HostTier detects the tier of the running host.
func HostTier() HardwareTier {
	return DetectHardwareTier(runtime.NumCPU())
}

func RecommendedForTier(tier HardwareTier) Model {
	if tier == TierLow {
		return ModelFast
	}
	return ModelBalanced
}

func TuningFor(model Model) Tuning {
	if model == ModelFast {
		return Tuning{MinChunkSamples: 1024, PartialCadence: 250 * time.Millisecond}
	}
	return Tuning{MinChunkSamples: 2048, PartialCadence: 400 * time.Millisecond}
}

// DefaultModelRelativePath names the bundled model file for a profile.
func DefaultModelRelativePath(model Model) string {
	if model == ModelFast {
		return filepath.Join("models", "ggml-tiny.en-q8_0.bin")
	}
	return filepath.Join("models", "ggml-base.en-q5_1.bin")
}

// ResolveModelCandidates lists every location a model file may live,
// most specific first. An explicit override path always leads.
func ResolveModelCandidates(model Model, overridePath, resourceDir string) []string {
	defaultRelative := DefaultModelRelativePath(model)
	defaultFileName := filepath.Base(defaultRelative)

	var candidates []string

	if overridePath != "" {
		candidates = append(candidates, overridePath)
		if !filepath.IsAbs(overridePath) && resourceDir != "" {
			candidates = append(candidates,
				filepath.Join(resourceDir, overridePath),
				filepath.Join(resourceDir, "resources", overridePath))
		}
	}

	candidates = append(candidates, defaultRelative)

	if resourceDir != "" {
		candidates = append(candidates,
			filepath.Join(resourceDir, defaultRelative),
			filepath.Join(resourceDir, "resources", defaultRelative),
			filepath.Join(resourceDir, "models", defaultFileName),
			filepath.Join(resourceDir, defaultFileName))
	}

	return dedupe(candidates)
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ResolveModelPath returns the first candidate that exists on disk, or
// the first candidate overall so error messages name a concrete path.
func ResolveModelPath(model Model, overridePath, resourceDir string) string {
	candidates := ResolveModelCandidates(model, overridePath, resourceDir)
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return DefaultModelRelativePath(model)
}

// BuildModelStatus assembles the full model diagnostic for a profile.
func BuildModelStatus(model Model, overridePath, resourceDir string, logicalCores int) ModelStatus {
	checked := ResolveModelCandidates(model, overridePath, resourceDir)
	resolved := ResolveModelPath(model, overridePath, resourceDir)
	_, statErr := os.Stat(resolved)

	return ModelStatus{
		Profile:      model,
		HardwareTier: DetectHardwareTier(logicalCores),
		ModelPath:    resolved,
		ModelExists:  statErr == nil,
		CheckedPaths: checked,
		Tuning:       TuningFor(model),
	}
}
