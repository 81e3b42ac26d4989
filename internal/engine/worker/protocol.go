package worker

// Request is one newline-delimited JSON message written to the worker
// process's standard input.
type Request struct {
	Op          string `json:"op"`
	ID          string `json:"id"`
	AudioPath   string `json:"audio_path,omitempty"`
	Language    string `json:"language,omitempty"`
	Model       string `json:"model,omitempty"`
	Device      string `json:"device,omitempty"`
	ComputeType string `json:"compute_type,omitempty"`
	BeamSize    int    `json:"beam_size,omitempty"`
}

// Response is one line read back from the worker's standard output,
// matched to its request by ID.
type Response struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
	InferenceMS int64  `json:"inference_ms,omitempty"`
	LoadMS      int64  `json:"load_ms,omitempty"`
}

const (
	OpTranscribe = "transcribe"
	OpPreload    = "preload"
	OpPing       = "ping"
)
