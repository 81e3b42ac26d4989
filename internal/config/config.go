package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Dictation   DictationConfig  `yaml:"dictation"`
	Engine      EngineConfig     `yaml:"engine"`
	Insertion   InsertionConfig  `yaml:"insertion"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// DictationConfig is the settings snapshot the shell hands the core. The
// core treats it as immutable input; a change rebuilds the engine runtime.
type DictationConfig struct {
	Hotkey                string `yaml:"hotkey"`
	Mode                  string `yaml:"mode"` // push_to_toggle, push_to_talk
	MicrophoneID          string `yaml:"microphone_id"`
	MicSensitivityPercent int    `yaml:"mic_sensitivity_percent"`
	ModelProfile          string `yaml:"model_profile"` // fast, balanced
	ChunkSamplesOverride  int    `yaml:"chunk_samples_override"`
	CadenceMSOverride     int    `yaml:"cadence_ms_override"`
	BacklogRetention      int    `yaml:"backlog_retention_multiple"`
	Profiling             bool   `yaml:"profiling"`
}

type EngineConfig struct {
	Kind              string `yaml:"kind"` // stub, whisper_cpp, faster_whisper
	Language          string `yaml:"language"`
	ModelPath         string `yaml:"model_path"`
	BackendPreference string `yaml:"backend_preference"` // auto, cpu, cuda
	ComputeType       string `yaml:"compute_type"`       // auto, int8, float16, float32
	BeamSize          int    `yaml:"beam_size"`
	Command           string `yaml:"command"` // binary override, shell-words parsed
	ResourceDir       string `yaml:"resource_dir"`
	WorkerTimeoutMS   int    `yaml:"worker_timeout_ms"`
	WorkerMaxRestarts int    `yaml:"worker_max_restarts"`
	PreloadOnReady    bool   `yaml:"preload_on_ready"`
	ModelCacheDir     string `yaml:"model_cache_dir"`
}

type InsertionConfig struct {
	ClipboardFallback bool `yaml:"clipboard_fallback"`
	HistorySize       int  `yaml:"history_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "sonora-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/sonora-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Dictation: DictationConfig{
			Hotkey:                "CtrlOrCmd+Shift+U",
			Mode:                  "push_to_toggle",
			MicSensitivityPercent: 170,
			ModelProfile:          "balanced",
			BacklogRetention:      5,
		},
		Engine: EngineConfig{
			Kind:              "whisper_cpp",
			Language:          "en",
			BackendPreference: "auto",
			ComputeType:       "auto",
			BeamSize:          1,
			WorkerTimeoutMS:   30000,
			WorkerMaxRestarts: 1,
		},
		Insertion: InsertionConfig{
			ClipboardFallback: true,
			HistorySize:       3,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SONORA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SONORA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SONORA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SONORA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SONORA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SONORA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SONORA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SONORA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SONORA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SONORA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SONORA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SONORA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SONORA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SONORA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SONORA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SONORA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SONORA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SONORA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SONORA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SONORA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SONORA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Dictation.Hotkey, "SONORA_DICTATION_HOTKEY")
	overrideString(&cfg.Dictation.Mode, "SONORA_DICTATION_MODE")
	overrideString(&cfg.Dictation.MicrophoneID, "SONORA_DICTATION_MICROPHONE_ID")
	overrideInt(&cfg.Dictation.MicSensitivityPercent, "SONORA_DICTATION_MIC_SENSITIVITY_PERCENT")
	overrideString(&cfg.Dictation.ModelProfile, "SONORA_DICTATION_MODEL_PROFILE")
	overrideInt(&cfg.Dictation.ChunkSamplesOverride, "SONORA_DICTATION_CHUNK_SAMPLES")
	overrideInt(&cfg.Dictation.CadenceMSOverride, "SONORA_DICTATION_CADENCE_MS")
	overrideInt(&cfg.Dictation.BacklogRetention, "SONORA_DICTATION_BACKLOG_RETENTION")
	overrideBool(&cfg.Dictation.Profiling, "SONORA_DICTATION_PROFILING")
	overrideString(&cfg.Engine.Kind, "SONORA_ENGINE_KIND")
	overrideString(&cfg.Engine.Language, "SONORA_ENGINE_LANGUAGE")
	overrideString(&cfg.Engine.ModelPath, "SONORA_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.BackendPreference, "SONORA_ENGINE_BACKEND")
	overrideString(&cfg.Engine.ComputeType, "SONORA_ENGINE_COMPUTE_TYPE")
	overrideInt(&cfg.Engine.BeamSize, "SONORA_ENGINE_BEAM_SIZE")
	overrideString(&cfg.Engine.Command, "SONORA_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ResourceDir, "SONORA_ENGINE_RESOURCE_DIR")
	overrideInt(&cfg.Engine.WorkerTimeoutMS, "SONORA_ENGINE_WORKER_TIMEOUT_MS")
	overrideInt(&cfg.Engine.WorkerMaxRestarts, "SONORA_ENGINE_WORKER_MAX_RESTARTS")
	overrideBool(&cfg.Engine.PreloadOnReady, "SONORA_ENGINE_PRELOAD_ON_READY")
	overrideString(&cfg.Engine.ModelCacheDir, "SONORA_ENGINE_MODEL_CACHE_DIR")
	overrideBool(&cfg.Insertion.ClipboardFallback, "SONORA_INSERTION_CLIPBOARD_FALLBACK")
	overrideInt(&cfg.Insertion.HistorySize, "SONORA_INSERTION_HISTORY_SIZE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Dictation.Mode {
	case "push_to_toggle", "push_to_talk":
	default:
		return errors.New("dictation.mode must be one of push_to_toggle|push_to_talk")
	}
	switch cfg.Dictation.ModelProfile {
	case "fast", "balanced":
	default:
		return errors.New("dictation.model_profile must be one of fast|balanced")
	}
	if cfg.Dictation.MicSensitivityPercent < 0 {
		return errors.New("dictation.mic_sensitivity_percent must be >= 0")
	}
	if cfg.Dictation.BacklogRetention < 1 {
		return errors.New("dictation.backlog_retention_multiple must be >= 1")
	}
	switch cfg.Engine.Kind {
	case "stub", "whisper_cpp", "faster_whisper":
	default:
		return errors.New("engine.kind must be one of stub|whisper_cpp|faster_whisper")
	}
	switch cfg.Engine.BackendPreference {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("engine.backend_preference must be one of auto|cpu|cuda")
	}
	switch cfg.Engine.ComputeType {
	case "auto", "int8", "float16", "float32":
	default:
		return errors.New("engine.compute_type must be one of auto|int8|float16|float32")
	}
	if cfg.Engine.BeamSize < 1 || cfg.Engine.BeamSize > 8 {
		return errors.New("engine.beam_size must be between 1 and 8")
	}
	if cfg.Engine.WorkerTimeoutMS <= 0 {
		return errors.New("engine.worker_timeout_ms must be positive")
	}
	if cfg.Engine.WorkerMaxRestarts < 0 {
		return errors.New("engine.worker_max_restarts must be >= 0")
	}
	if cfg.Insertion.HistorySize < 1 {
		return errors.New("insertion.history_size must be >= 1")
	}
	return nil
}
