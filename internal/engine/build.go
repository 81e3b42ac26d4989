package engine

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/sonoralabs/sonora-core/internal/engine/worker"
)

// Build constructs a runtime from a Spec. It never returns nil: when
// no usable binary/model resolves, the runtime carries an Unavailable
// transcriber with diagnostics explaining why. A live engine is only
// ever replaced after its successor comes out of this function.
func Build(spec Spec, log *slog.Logger) *Runtime {
	switch spec.Kind {
	case KindFasterWhisper:
		return buildWorkerRuntime(spec, log)
	case KindStub:
		return &Runtime{
			Transcriber: Stub{},
			Diagnostics: Diagnostics{
				Ready:          true,
				ActiveEngine:   string(KindStub),
				Description:    "stub",
				ComputeBackend: "stub",
			},
		}
	default:
		return buildSubprocessRuntime(spec, log)
	}
}

func buildSubprocessRuntime(spec Spec, log *slog.Logger) *Runtime {
	modelExists := fileExists(spec.ModelPath)
	checked := ResolveBinaryCandidates(spec.ResourceDir)
	binaryPath := ResolveBinaryPath(spec.ResourceDir)

	var argv []string
	if spec.Command != "" {
		parsed, err := ParseCommandOverride(spec.Command)
		if err != nil {
			log.Warn("ignoring invalid engine command override",
				slog.String("command", spec.Command),
				slog.String("error", err.Error()))
		} else {
			argv = parsed
			if binaryPath == "" && len(parsed) > 0 {
				binaryPath = parsed[0]
			}
		}
	}

	var transcriber Transcriber
	var device BackendPreference
	switch {
	case !modelExists:
		transcriber = Unavailable{Reason: fmt.Sprintf("model file not found: %s", spec.ModelPath)}
	case binaryPath == "":
		transcriber = Unavailable{Reason: "recognition binary not found"}
	default:
		device = resolveDevice(binaryPath, spec.BackendPreference)
		threads := spec.Threads
		if threads <= 0 {
			threads = recommendedThreads(spec.Profile, runtime.NumCPU())
		}
		transcriber = NewSubprocess(SubprocessConfig{
			BinaryPath: binaryPath,
			Argv:       argv,
			ModelPath:  spec.ModelPath,
			Language:   spec.Language,
			Threads:    threads,
			Device:     device,
		})
	}

	_, ready := transcriber.(*Subprocess)
	return &Runtime{
		Transcriber: transcriber,
		Diagnostics: Diagnostics{
			Ready:              ready,
			ActiveEngine:       string(KindWhisperCpp),
			Description:        describe(transcriber, binaryPath, device),
			ComputeBackend:     string(device),
			UsingGPU:           device == BackendCUDA,
			ResolvedBinaryPath: binaryPath,
			CheckedBinaryPaths: checked,
			ResolvedModelPath:  spec.ModelPath,
			ModelExists:        modelExists,
		},
	}
}

func buildWorkerRuntime(spec Spec, log *slog.Logger) *Runtime {
	checked := ResolveWorkerBinaryCandidates(spec.ResourceDir)
	binaryPath := ResolveWorkerBinaryPath(spec.ResourceDir)
	modelExists := isResolvableWorkerModel(spec.ModelPath)
	device := resolveDevice("", spec.BackendPreference)
	computeType := resolveComputeType(device, spec.ComputeType)

	var transcriber Transcriber
	switch {
	case !modelExists:
		transcriber = Unavailable{Reason: fmt.Sprintf("worker model target not found: %s", spec.ModelPath)}
	case binaryPath == "":
		transcriber = Unavailable{Reason: "worker binary not found"}
	default:
		cacheDir := resolveModelCacheDir(spec.ModelCacheDir, spec.ResourceDir)
		timeout := time.Duration(spec.WorkerTimeoutMS) * time.Millisecond
		client := worker.NewClient(worker.Options{
			Spawn: worker.ProcessSpawner(binaryPath, []string{"--stdio"},
				[]string{"SONORA_FASTER_WHISPER_MODEL_CACHE=" + cacheDir}),
			Timeout:     timeout,
			MaxRestarts: spec.WorkerRestarts,
			Logger:      log,
		})
		transcriber = NewWorker(WorkerConfig{
			Model:       spec.ModelPath,
			Language:    spec.Language,
			Device:      device,
			ComputeType: computeType,
			BeamSize:    spec.BeamSize,
		}, client)
	}

	_, ready := transcriber.(*Worker)
	return &Runtime{
		Transcriber: transcriber,
		Diagnostics: Diagnostics{
			Ready:              ready,
			ActiveEngine:       string(KindFasterWhisper),
			Description:        describe(transcriber, binaryPath, device),
			ComputeBackend:     string(device),
			UsingGPU:           device == BackendCUDA,
			ResolvedBinaryPath: binaryPath,
			CheckedBinaryPaths: checked,
			ResolvedModelPath:  spec.ModelPath,
			ModelExists:        modelExists,
		},
	}
}

func describe(t Transcriber, binaryPath string, device BackendPreference) string {
	switch v := t.(type) {
	case Unavailable:
		return "unavailable: " + v.Reason
	case *Subprocess:
		return fmt.Sprintf("whisper sidecar (%s, backend %s)", binaryPath, device)
	case *Worker:
		return fmt.Sprintf("faster-whisper worker (%s, device %s)", binaryPath, device)
	default:
		return t.EngineLabel()
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
