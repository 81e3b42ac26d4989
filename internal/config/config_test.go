package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dictation.Mode != "push_to_toggle" {
		t.Fatalf("expected default mode, got %q", cfg.Dictation.Mode)
	}
	if cfg.Engine.Kind != "whisper_cpp" {
		t.Fatalf("expected default engine kind, got %q", cfg.Engine.Kind)
	}
	if cfg.Engine.WorkerMaxRestarts != 1 {
		t.Fatalf("expected single worker restart by default, got %d", cfg.Engine.WorkerMaxRestarts)
	}
	if !cfg.Insertion.ClipboardFallback {
		t.Fatal("expected clipboard fallback enabled by default")
	}
	if cfg.Insertion.HistorySize != 3 {
		t.Fatalf("expected insertion history size 3, got %d", cfg.Insertion.HistorySize)
	}
	if cfg.Dictation.BacklogRetention != 5 {
		t.Fatalf("expected backlog retention multiple 5, got %d", cfg.Dictation.BacklogRetention)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SONORA_DICTATION_MODE", "push_to_talk")
	t.Setenv("SONORA_DICTATION_MODEL_PROFILE", "fast")
	t.Setenv("SONORA_DICTATION_MIC_SENSITIVITY_PERCENT", "120")
	t.Setenv("SONORA_DICTATION_PROFILING", "true")
	t.Setenv("SONORA_ENGINE_KIND", "faster_whisper")
	t.Setenv("SONORA_ENGINE_MODEL_PATH", "small.en")
	t.Setenv("SONORA_ENGINE_BACKEND", "cuda")
	t.Setenv("SONORA_ENGINE_WORKER_TIMEOUT_MS", "5000")
	t.Setenv("SONORA_ENGINE_WORKER_MAX_RESTARTS", "2")
	t.Setenv("SONORA_INSERTION_CLIPBOARD_FALLBACK", "false")
	t.Setenv("SONORA_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Dictation.Mode != "push_to_talk" {
		t.Fatalf("expected mode override, got %q", cfg.Dictation.Mode)
	}
	if cfg.Dictation.ModelProfile != "fast" {
		t.Fatalf("expected profile override, got %q", cfg.Dictation.ModelProfile)
	}
	if cfg.Dictation.MicSensitivityPercent != 120 {
		t.Fatalf("expected sensitivity override, got %d", cfg.Dictation.MicSensitivityPercent)
	}
	if !cfg.Dictation.Profiling {
		t.Fatal("expected profiling override true")
	}
	if cfg.Engine.Kind != "faster_whisper" {
		t.Fatalf("expected engine kind override, got %q", cfg.Engine.Kind)
	}
	if cfg.Engine.ModelPath != "small.en" {
		t.Fatalf("expected model path override, got %q", cfg.Engine.ModelPath)
	}
	if cfg.Engine.BackendPreference != "cuda" {
		t.Fatalf("expected backend override, got %q", cfg.Engine.BackendPreference)
	}
	if cfg.Engine.WorkerTimeoutMS != 5000 {
		t.Fatalf("expected worker timeout override, got %d", cfg.Engine.WorkerTimeoutMS)
	}
	if cfg.Engine.WorkerMaxRestarts != 2 {
		t.Fatalf("expected worker restart override, got %d", cfg.Engine.WorkerMaxRestarts)
	}
	if cfg.Insertion.ClipboardFallback {
		t.Fatal("expected clipboard fallback override false")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Dictation.Mode = "hold" }},
		{"bad profile", func(c *Config) { c.Dictation.ModelProfile = "turbo" }},
		{"bad engine", func(c *Config) { c.Engine.Kind = "vosk" }},
		{"bad backend", func(c *Config) { c.Engine.BackendPreference = "metal" }},
		{"bad compute type", func(c *Config) { c.Engine.ComputeType = "bf16" }},
		{"zero beam", func(c *Config) { c.Engine.BeamSize = 0 }},
		{"zero timeout", func(c *Config) { c.Engine.WorkerTimeoutMS = 0 }},
		{"negative restarts", func(c *Config) { c.Engine.WorkerMaxRestarts = -1 }},
		{"zero history", func(c *Config) { c.Insertion.HistorySize = 0 }},
		{"zero retention", func(c *Config) { c.Dictation.BacklogRetention = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
