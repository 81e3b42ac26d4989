package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint records whether the previous run shut down cleanly. The
// shell shows a recovery notice after a crash; acknowledging it clears
// the pending flag.
type Checkpoint struct {
	CleanShutdown         bool   `json:"clean_shutdown"`
	RecoveryNoticePending bool   `json:"recovery_notice_pending"`
	LaunchCount           uint64 `json:"launch_count"`
	LastStartUnixMS       int64  `json:"last_start_unix_ms,omitempty"`
	LastShutdownUnixMS    int64  `json:"last_shutdown_unix_ms,omitempty"`
}

// Default is the state assumed when no checkpoint file exists yet.
func Default() Checkpoint {
	return Checkpoint{CleanShutdown: true}
}

// DefaultPath places the checkpoint next to the rest of the user
// config.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "sonora-core", "recovery.json")
}

// LoadOrDefault never fails: a missing or corrupt file yields the
// default checkpoint so a broken file cannot block startup.
func LoadOrDefault(path string) Checkpoint {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Default()
	}
	return cp
}

// Save writes the checkpoint, creating the parent directory if needed.
func Save(path string, cp Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// MarkStart flips the checkpoint to the running state. A previous run
// that never marked a clean shutdown raises the recovery notice.
func MarkStart(cp Checkpoint, nowUnixMS int64) Checkpoint {
	return Checkpoint{
		CleanShutdown:         false,
		RecoveryNoticePending: !cp.CleanShutdown,
		LaunchCount:           cp.LaunchCount + 1,
		LastStartUnixMS:       nowUnixMS,
		LastShutdownUnixMS:    cp.LastShutdownUnixMS,
	}
}

// MarkCleanShutdown records an orderly exit and clears any pending
// notice.
func MarkCleanShutdown(cp Checkpoint, nowUnixMS int64) Checkpoint {
	return Checkpoint{
		CleanShutdown:      true,
		LaunchCount:        cp.LaunchCount,
		LastStartUnixMS:    cp.LastStartUnixMS,
		LastShutdownUnixMS: nowUnixMS,
	}
}

// AcknowledgeNotice clears the pending notice without touching the
// rest of the checkpoint.
func AcknowledgeNotice(cp Checkpoint) Checkpoint {
	cp.RecoveryNoticePending = false
	return cp
}
