package engine

import (
	"context"
	"errors"
)

// Error kinds surfaced by the engine layer. None of them are fatal to
// the pipeline; a failed recognition degrades to a skipped segment.
var (
	// ErrNotReady means no usable binary/model combination resolved.
	ErrNotReady = errors.New("engine not ready")
	// ErrTimeout means the worker did not respond within the deadline.
	ErrTimeout = errors.New("engine timed out")
	// ErrProcessExit means the subprocess or worker terminated
	// unexpectedly.
	ErrProcessExit = errors.New("engine process exited")
	// ErrEmptyAudio rejects recognition of a zero-length segment.
	ErrEmptyAudio = errors.New("cannot transcribe empty audio chunk")
	// ErrEmptyTranscript means the engine ran but produced no text.
	ErrEmptyTranscript = errors.New("engine returned empty transcript")
)

// Result is one successful recognition.
type Result struct {
	Text        string
	InferenceMS int64
}

// Transcriber converts a 16 kHz mono segment into text. Implementations
// are safe for use from a single goroutine; the orchestrator serializes
// recognition calls.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (Result, error)
	EngineLabel() string
	ModelLabel() string
	Close() error
}

// Stub returns a fixed transcript. Used in tests and as the explicit
// "stub" engine kind for shell development without a model.
type Stub struct{}

func (Stub) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	return Result{Text: "stub transcript"}, nil
}

func (Stub) EngineLabel() string { return "stub" }
func (Stub) ModelLabel() string  { return "stub" }
func (Stub) Close() error        { return nil }

// Unavailable is the terminal engine installed when construction
// failed. Every call reports the stored reason.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	return Result{}, &NotReadyError{Reason: u.Reason}
}

func (Unavailable) EngineLabel() string { return "unavailable" }
func (Unavailable) ModelLabel() string  { return "unknown" }
func (Unavailable) Close() error        { return nil }

// NotReadyError carries the human-readable reason recognition cannot
// run. It unwraps to ErrNotReady so callers can match the kind.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string { return "engine not ready: " + e.Reason }
func (e *NotReadyError) Unwrap() error { return ErrNotReady }
