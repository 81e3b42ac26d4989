package engine

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sonoralabs/sonora-core/internal/profile"
)

const (
	sidecarMetadataFileName = "whisper-sidecar.json"
	backendEnvName          = "SONORA_WHISPER_BACKEND"
	whisperBinEnvName       = "SONORA_WHISPER_BIN"
	workerBinEnvName        = "SONORA_FASTER_WHISPER_BIN"
)

func defaultBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func defaultWorkerBinaryName() string {
	if runtime.GOOS == "windows" {
		return "faster-whisper-worker.exe"
	}
	return "faster-whisper-worker"
}

// DefaultWorkerModel names the bundled worker model for a profile.
func DefaultWorkerModel(model profile.Model) string {
	if model == profile.ModelFast {
		return "tiny.en"
	}
	return "small.en"
}

func binaryCandidates(binaryName, envOverride, resourceDir string) []string {
	var candidates []string

	if override := strings.TrimSpace(os.Getenv(envOverride)); override != "" {
		candidates = append(candidates, override)
	}

	candidates = append(candidates, filepath.Join("resources", "bin", binaryName))

	if resourceDir != "" {
		candidates = append(candidates,
			filepath.Join(resourceDir, "bin", binaryName),
			filepath.Join(resourceDir, "resources", "bin", binaryName),
			filepath.Join(resourceDir, binaryName))
	}

	// Bare name last so PATH lookup is the final fallback.
	candidates = append(candidates, binaryName)
	return dedupe(candidates)
}

// ResolveBinaryCandidates lists every location the subprocess binary
// may live, in probe order.
func ResolveBinaryCandidates(resourceDir string) []string {
	return binaryCandidates(defaultBinaryName(), whisperBinEnvName, resourceDir)
}

// ResolveWorkerBinaryCandidates does the same for the worker binary.
func ResolveWorkerBinaryCandidates(resourceDir string) []string {
	return binaryCandidates(defaultWorkerBinaryName(), workerBinEnvName, resourceDir)
}

func firstResolvable(candidates []string) string {
	for _, c := range candidates {
		// A bare name defers to PATH lookup at spawn time.
		if !strings.ContainsRune(c, os.PathSeparator) {
			return c
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// ResolveBinaryPath returns the first usable subprocess binary path,
// or "" when none resolves.
func ResolveBinaryPath(resourceDir string) string {
	return firstResolvable(ResolveBinaryCandidates(resourceDir))
}

// ResolveWorkerBinaryPath returns the first usable worker binary path.
func ResolveWorkerBinaryPath(resourceDir string) string {
	return firstResolvable(ResolveWorkerBinaryCandidates(resourceDir))
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

type sidecarMetadata struct {
	Backend string `json:"backend"`
}

// readMetadataBackend reads the backend hint from the metadata file
// shipped beside the binary by the sidecar setup script.
func readMetadataBackend(binaryPath string) (BackendPreference, bool) {
	dir := filepath.Dir(binaryPath)
	raw, err := os.ReadFile(filepath.Join(dir, sidecarMetadataFileName))
	if err != nil {
		return "", false
	}
	var meta sidecarMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", false
	}
	return parseBackendPreference(meta.Backend)
}

func parseBackendPreference(value string) (BackendPreference, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "auto":
		return BackendAuto, true
	case "cpu":
		return BackendCPU, true
	case "cuda", "gpu", "nvidia":
		return BackendCUDA, true
	}
	return "", false
}

// hasNvidiaGPU probes for a usable NVIDIA device via nvidia-smi.
// Overridable in tests.
var hasNvidiaGPU = func() bool {
	return exec.Command("nvidia-smi", "-L").Run() == nil
}

// resolveDevice picks cpu or cuda from the preference chain:
// environment override, then explicit preference, then auto-detection
// (metadata hint first, GPU probe second).
func resolveDevice(binaryPath string, preference BackendPreference) BackendPreference {
	if env, ok := parseBackendPreference(os.Getenv(backendEnvName)); ok {
		preference = env
	}
	switch preference {
	case BackendCPU, BackendCUDA:
		return preference
	}
	if binaryPath != "" {
		if hint, ok := readMetadataBackend(binaryPath); ok && hint != BackendAuto {
			return hint
		}
	}
	if hasNvidiaGPU() {
		return BackendCUDA
	}
	return BackendCPU
}

// resolveComputeType maps the device to a numeric precision when the
// preference is auto: float16 on GPU, int8 on CPU.
func resolveComputeType(device BackendPreference, preference ComputeType) ComputeType {
	switch preference {
	case ComputeInt8, ComputeFloat16, ComputeFloat32:
		return preference
	}
	if device == BackendCUDA {
		return ComputeFloat16
	}
	return ComputeInt8
}

// recommendedThreads sizes the subprocess thread pool for the profile.
func recommendedThreads(model profile.Model, logicalCores int) int {
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	if model == profile.ModelFast {
		return clamp(logicalCores, 2, 6)
	}
	return clamp(logicalCores, 4, 8)
}

var knownWorkerModels = map[string]struct{}{
	"tiny": {}, "tiny.en": {}, "base": {}, "base.en": {},
	"small": {}, "small.en": {}, "medium": {}, "medium.en": {},
	"large-v1": {}, "large-v2": {}, "large-v3": {},
	"distil-large-v2": {}, "distil-large-v3": {}, "distil-medium.en": {},
}

// isResolvableWorkerModel accepts a local path, a known model name, or
// a hub repository reference. The worker downloads named models on
// first load.
func isResolvableWorkerModel(model string) bool {
	model = strings.TrimSpace(model)
	if model == "" {
		return false
	}
	if _, err := os.Stat(model); err == nil {
		return true
	}
	if _, ok := knownWorkerModels[model]; ok {
		return true
	}
	return strings.HasPrefix(model, "Systran/") || strings.HasPrefix(model, "openai/")
}

// resolveModelCacheDir picks where the worker caches downloaded
// models, preferring a bundled cache directory when one exists.
func resolveModelCacheDir(configured, resourceDir string) string {
	if configured != "" {
		return configured
	}

	var candidates []string
	if resourceDir != "" {
		candidates = append(candidates,
			filepath.Join(resourceDir, "models", "faster-whisper-cache"),
			filepath.Join(resourceDir, "resources", "models", "faster-whisper-cache"),
			filepath.Join(resourceDir, "faster-whisper-cache"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}

	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sonora-core", "faster-whisper-cache")
}
