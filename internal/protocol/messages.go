package protocol

import "time"

// StateChange reports a pipeline state transition to the shell.
type StateChange struct {
	State     string    `json:"state"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is a recognized, normalized chunk of dictated text.
type Transcript struct {
	Sequence    uint64    `json:"sequence"`
	Text        string    `json:"text"`
	Engine      string    `json:"engine"`
	Model       string    `json:"model"`
	InferenceMS int64     `json:"inference_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Insertion reports one insertion attempt for the shell's history display.
type Insertion struct {
	Text      string    `json:"text"`
	Status    string    `json:"status"` // success, fallback, failure
	Timestamp time.Time `json:"timestamp"`
}

// ChunkProfile is the per-chunk timing breakdown emitted when profiling
// is enabled. Consumed by sonora-watch, not required for correctness.
type ChunkProfile struct {
	Sequence    uint64    `json:"sequence"`
	Samples     int       `json:"samples"`
	CaptureMS   int64     `json:"capture_ms"`
	ResampleMS  int64     `json:"resample_ms"`
	VadMS       int64     `json:"vad_ms"`
	QueueMS     int64     `json:"queue_ms"`
	InferenceMS int64     `json:"inference_ms"`
	EmitMS      int64     `json:"emit_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// MicLevel mirrors the live input meter for the shell's level display.
type MicLevel struct {
	Level  float32 `json:"level"`
	Peak   float32 `json:"peak"`
	Active bool    `json:"active"`
}

const (
	SubjectState      = "dictation.state"
	SubjectTranscript = "dictation.transcript"
	SubjectInsertion  = "dictation.insertion"
	SubjectProfiling  = "dictation.profiling"
	SubjectMicLevel   = "dictation.miclevel"
)
