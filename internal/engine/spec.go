package engine

import "github.com/sonoralabs/sonora-core/internal/profile"

// Kind selects the recognition backend.
type Kind string

const (
	KindWhisperCpp    Kind = "whisper_cpp"
	KindFasterWhisper Kind = "faster_whisper"
	KindStub          Kind = "stub"
)

// BackendPreference selects the compute device for recognition.
type BackendPreference string

const (
	BackendAuto BackendPreference = "auto"
	BackendCPU  BackendPreference = "cpu"
	BackendCUDA BackendPreference = "cuda"
)

// ComputeType selects the numeric precision of the worker engine.
type ComputeType string

const (
	ComputeAuto    ComputeType = "auto"
	ComputeInt8    ComputeType = "int8"
	ComputeFloat16 ComputeType = "float16"
	ComputeFloat32 ComputeType = "float32"
)

// Spec is everything needed to construct an engine runtime. Building
// from a Spec never mutates a live engine; the orchestrator swaps the
// old runtime out only after the replacement is constructed.
type Spec struct {
	Kind              Kind
	Language          string
	Profile           profile.Model
	ModelPath         string
	BackendPreference BackendPreference
	ComputeType       ComputeType
	BeamSize          int
	// Command overrides the resolved binary invocation for the
	// subprocess engine, parsed shell-style.
	Command         string
	ResourceDir     string
	ModelCacheDir   string
	WorkerTimeoutMS int
	WorkerRestarts  int
	Threads         int
}

// Diagnostics is the readiness picture for the active engine,
// queryable at any time without performing a recognition.
type Diagnostics struct {
	Ready              bool     `json:"ready"`
	ActiveEngine       string   `json:"active_engine"`
	Description        string   `json:"description"`
	ComputeBackend     string   `json:"compute_backend"`
	UsingGPU           bool     `json:"using_gpu"`
	ResolvedBinaryPath string   `json:"resolved_binary_path,omitempty"`
	CheckedBinaryPaths []string `json:"checked_binary_paths"`
	ResolvedModelPath  string   `json:"resolved_model_path"`
	ModelExists        bool     `json:"model_exists"`
	QueueDepth         int      `json:"queue_depth"`
}

// Runtime pairs a constructed transcriber with its diagnostics.
type Runtime struct {
	Transcriber Transcriber
	Diagnostics Diagnostics
}

// QueueDepther is implemented by engines that queue recognitions
// behind a shared worker.
type QueueDepther interface {
	QueueDepth() int
}

// CurrentDiagnostics refreshes the queue depth before returning the
// diagnostics snapshot.
func (r *Runtime) CurrentDiagnostics() Diagnostics {
	d := r.Diagnostics
	if q, ok := r.Transcriber.(QueueDepther); ok {
		d.QueueDepth = q.QueueDepth()
	}
	return d
}
