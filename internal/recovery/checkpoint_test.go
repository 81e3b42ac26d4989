package recovery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarkStartRaisesNoticeAfterDirtyShutdown(t *testing.T) {
	previous := Checkpoint{
		CleanShutdown:   false,
		LaunchCount:     9,
		LastStartUnixMS: 10,
	}

	started := MarkStart(previous, 1234)
	if started.CleanShutdown {
		t.Fatalf("running checkpoint must not claim clean shutdown")
	}
	if !started.RecoveryNoticePending {
		t.Fatalf("dirty previous shutdown must raise the recovery notice")
	}
	if started.LaunchCount != 10 {
		t.Fatalf("launch count %d, want 10", started.LaunchCount)
	}
	if started.LastStartUnixMS != 1234 {
		t.Fatalf("last start %d, want 1234", started.LastStartUnixMS)
	}
}

func TestMarkStartAfterCleanShutdown(t *testing.T) {
	started := MarkStart(Default(), 50)
	if started.RecoveryNoticePending {
		t.Fatalf("clean previous shutdown must not raise a notice")
	}
	if started.LaunchCount != 1 {
		t.Fatalf("launch count %d, want 1", started.LaunchCount)
	}
}

func TestMarkCleanShutdown(t *testing.T) {
	started := Checkpoint{
		CleanShutdown:         false,
		RecoveryNoticePending: true,
		LaunchCount:           3,
		LastStartUnixMS:       33,
	}

	shutdown := MarkCleanShutdown(started, 55)
	if !shutdown.CleanShutdown {
		t.Fatalf("expected clean shutdown")
	}
	if shutdown.RecoveryNoticePending {
		t.Fatalf("clean shutdown must clear the pending notice")
	}
	if shutdown.LastShutdownUnixMS != 55 {
		t.Fatalf("last shutdown %d, want 55", shutdown.LastShutdownUnixMS)
	}
	if shutdown.LastStartUnixMS != 33 {
		t.Fatalf("last start must be preserved, got %d", shutdown.LastStartUnixMS)
	}
}

func TestAcknowledgeNotice(t *testing.T) {
	cp := Checkpoint{RecoveryNoticePending: true, LaunchCount: 4}
	acked := AcknowledgeNotice(cp)
	if acked.RecoveryNoticePending {
		t.Fatalf("acknowledge must clear the notice")
	}
	if acked.LaunchCount != 4 {
		t.Fatalf("acknowledge must not touch other fields")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "recovery.json")
	cp := Checkpoint{
		CleanShutdown:      true,
		LaunchCount:        7,
		LastStartUnixMS:    100,
		LastShutdownUnixMS: 101,
	}

	if err := Save(path, cp); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded := LoadOrDefault(path)
	if loaded != cp {
		t.Fatalf("loaded %+v, want %+v", loaded, cp)
	}
}

func TestLoadMissingOrCorruptYieldsDefault(t *testing.T) {
	if got := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json")); got != Default() {
		t.Fatalf("missing file must yield default, got %+v", got)
	}

	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if got := LoadOrDefault(path); got != Default() {
		t.Fatalf("corrupt file must yield default, got %+v", got)
	}
}
