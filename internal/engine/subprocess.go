package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
)

// SubprocessConfig drives the one-shot recognition binary. Each
// segment spawns a fresh process; no state survives between calls.
type SubprocessConfig struct {
	BinaryPath string
	// Argv overrides BinaryPath when the operator configures a custom
	// command line; the segment arguments are appended to it.
	Argv      []string
	ModelPath string
	Language  string
	Threads   int
	Device    BackendPreference
}

// ParseCommandOverride splits a configured command string shell-style
// into an argv for SubprocessConfig.
func ParseCommandOverride(command string) ([]string, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	return args, nil
}

// Subprocess is the one-shot engine variant. A failed segment surfaces
// as an error for that segment only; the next one spawns cleanly.
type Subprocess struct {
	cfg SubprocessConfig
}

func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	return &Subprocess{cfg: cfg}
}

func (s *Subprocess) commandArgs(audioPath, outputPrefix string) []string {
	args := []string{
		"-m", s.cfg.ModelPath,
		"-f", audioPath,
		"-l", s.cfg.Language,
		"-t", strconv.Itoa(s.cfg.Threads),
		"-np",
		"--no-timestamps",
		"-otxt",
		"-of", outputPrefix,
	}
	if s.cfg.Device != BackendCUDA {
		args = append(args, "-ng")
	}
	return args
}

func (s *Subprocess) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyAudio
	}

	wavPath, err := writeTempWAV("sonora", samples)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(wavPath)

	outputPrefix := filepath.Join(os.TempDir(), "sonora-"+uuid.NewString()+"-out")
	txtPath := outputPrefix + ".txt"
	defer os.Remove(txtPath)

	base := s.cfg.BinaryPath
	argv := s.commandArgs(wavPath, outputPrefix)
	if len(s.cfg.Argv) > 0 {
		base = s.cfg.Argv[0]
		argv = append(append([]string{}, s.cfg.Argv[1:]...), argv...)
	}

	command := commandContext(ctx, base, argv...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	started := time.Now()
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v: %s", ErrProcessExit, err, strings.TrimSpace(stderr.String()))
	}
	inferenceMS := time.Since(started).Milliseconds()

	transcript := stdout.String()
	if raw, err := os.ReadFile(txtPath); err == nil {
		transcript = string(raw)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Result{}, ErrEmptyTranscript
	}

	return Result{Text: transcript, InferenceMS: inferenceMS}, nil
}

func (s *Subprocess) EngineLabel() string { return string(KindWhisperCpp) }
func (s *Subprocess) ModelLabel() string  { return s.cfg.ModelPath }
func (s *Subprocess) Close() error        { return nil }
