package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sonoralabs/sonora-core/internal/engine/worker"
)

// WorkerConfig drives the persistent worker engine.
type WorkerConfig struct {
	Model       string
	Language    string
	Device      BackendPreference
	ComputeType ComputeType
	BeamSize    int
}

// Worker is the persistent engine variant: one long-lived child
// process kept warm so per-chunk startup cost is paid once.
type Worker struct {
	cfg    WorkerConfig
	client *worker.Client
}

func NewWorker(cfg WorkerConfig, client *worker.Client) *Worker {
	if cfg.BeamSize < 1 {
		cfg.BeamSize = 1
	}
	if cfg.BeamSize > 8 {
		cfg.BeamSize = 8
	}
	return &Worker{cfg: cfg, client: client}
}

func (w *Worker) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyAudio
	}

	wavPath, err := writeTempWAV("sonora-worker", samples)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(wavPath)

	resp, err := w.client.Transcribe(ctx, worker.Request{
		AudioPath:   wavPath,
		Language:    w.cfg.Language,
		Model:       w.cfg.Model,
		Device:      string(w.cfg.Device),
		ComputeType: string(w.cfg.ComputeType),
		BeamSize:    w.cfg.BeamSize,
	})
	if err != nil {
		return Result{}, mapWorkerError(err)
	}

	text := resp.Text
	if text == "" {
		return Result{}, ErrEmptyTranscript
	}
	return Result{Text: text, InferenceMS: resp.InferenceMS}, nil
}

// Preload warms the model before the first recognition.
func (w *Worker) Preload(ctx context.Context) error {
	_, err := w.client.Preload(ctx, worker.Request{
		Model:       w.cfg.Model,
		Device:      string(w.cfg.Device),
		ComputeType: string(w.cfg.ComputeType),
	})
	if err != nil {
		return mapWorkerError(err)
	}
	return nil
}

// Ping checks liveness of the worker process.
func (w *Worker) Ping(ctx context.Context) error {
	return mapWorkerError(w.client.Ping(ctx))
}

func (w *Worker) QueueDepth() int     { return w.client.QueueDepth() }
func (w *Worker) EngineLabel() string { return string(KindFasterWhisper) }
func (w *Worker) ModelLabel() string  { return w.cfg.Model }
func (w *Worker) Close() error        { return w.client.Close() }

// mapWorkerError translates worker transport errors into the engine
// error taxonomy.
func mapWorkerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, worker.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, worker.ErrExited), errors.Is(err, worker.ErrClosed):
		return fmt.Errorf("%w: %v", ErrProcessExit, err)
	case errors.Is(err, worker.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	default:
		return err
	}
}
