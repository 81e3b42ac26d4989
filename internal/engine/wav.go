package engine

import (
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// writeTempWAV encodes samples as 16 kHz mono 16-bit PCM in the system
// temp dir and returns the file path. Callers remove the file.
func writeTempWAV(prefix string, samples []float32) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s.wav", prefix, uuid.NewString()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	defer file.Close()

	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		buffer.Data[i] = int(int16(s * 32767))
	}

	enc := wav.NewEncoder(file, 16000, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close wav encoder: %w", err)
	}
	return path, nil
}
