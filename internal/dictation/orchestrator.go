package dictation

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sonoralabs/sonora-core/internal/audio"
	"github.com/sonoralabs/sonora-core/internal/config"
	"github.com/sonoralabs/sonora-core/internal/engine"
	"github.com/sonoralabs/sonora-core/internal/eventstore"
	"github.com/sonoralabs/sonora-core/internal/insertion"
	"github.com/sonoralabs/sonora-core/internal/pipeline"
	"github.com/sonoralabs/sonora-core/internal/postprocess"
	"github.com/sonoralabs/sonora-core/internal/profile"
	"github.com/sonoralabs/sonora-core/internal/protocol"
	"github.com/sonoralabs/sonora-core/internal/segment"
)

// Publisher is the bus surface the orchestrator needs. A nil Publisher
// disables event publication.
type Publisher interface {
	PublishJSON(subject string, payload any)
}

// Snapshot is returned after every hotkey/mode call so the shell can
// render the resulting state without a second round-trip.
type Snapshot struct {
	State  pipeline.State `json:"state"`
	Mode   pipeline.Mode  `json:"mode"`
	Tuning profile.Tuning `json:"tuning"`
}

// Status is the full diagnostics picture.
type Status struct {
	State              pipeline.State     `json:"state"`
	Mode               pipeline.Mode      `json:"mode"`
	Profile            profile.Model      `json:"profile"`
	Tuning             profile.Tuning     `json:"tuning"`
	Engine             engine.Diagnostics `json:"engine"`
	PendingSamples     int                `json:"pending_samples"`
	DroppedSamples     uint64             `json:"dropped_samples"`
	LastTranscript     string             `json:"last_transcript"`
	LastSwitchError    string             `json:"last_switch_error,omitempty"`
	LastFallbackReason string             `json:"last_fallback_reason,omitempty"`
	History            []insertion.Record `json:"history"`
}

// Options wire the orchestrator's collaborators. Publisher and Store
// are optional; Direct and Fallback are the OS insertion adapters.
type Options struct {
	Dictation config.DictationConfig
	Engine    config.EngineConfig
	Insertion config.InsertionConfig
	Logger    *slog.Logger
	Publisher Publisher
	Store     *eventstore.Store
	Direct    insertion.Inserter
	Fallback  insertion.Inserter
}

type queuedSegment struct {
	seg        *segment.Segment
	captureMS  int64
	resampleMS int64
	vadMS      int64
}

// Orchestrator is the single owner of the dictation state. Every
// external entry point serializes through one mutex; recognition runs
// on a dedicated goroutine so feeding audio is never stalled by an
// in-flight engine call. Segments are recognized strictly in order.
type Orchestrator struct {
	log *slog.Logger
	pub Publisher

	mu             sync.Mutex
	state          pipeline.State
	mode           pipeline.Mode
	modelProfile   profile.Model
	tuning         profile.Tuning
	gate           audio.GateConfig
	gain           float32
	meter          audio.Level
	acc            *segment.Accumulator
	captureStart   time.Time
	runtime        *engine.Runtime
	retired        *engine.Runtime
	inFlight       bool
	inFlightCancel context.CancelFunc
	inserter       *insertion.Controller
	store          *eventstore.Store
	dictCfg        config.DictationConfig
	engineCfg      config.EngineConfig
	sessionID      string
	lastTranscript string
	lastSwitchErr  string
	results        []string

	segments chan queuedSegment
	done     chan struct{}
	wg       sync.WaitGroup
}

// New builds the orchestrator and starts its recognition worker.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "dictation"))

	o := &Orchestrator{
		log:       log,
		pub:       opts.Publisher,
		store:     opts.Store,
		state:     pipeline.StateIdle,
		mode:      pipeline.Mode(opts.Dictation.Mode),
		gate:      audio.DefaultGateConfig(),
		dictCfg:   opts.Dictation,
		engineCfg: opts.Engine,
		segments:  make(chan queuedSegment, 8),
		done:      make(chan struct{}),
	}
	o.inserter = insertion.NewController(
		opts.Direct, opts.Fallback,
		opts.Insertion.ClipboardFallback, opts.Insertion.HistorySize, log)

	o.applyTuningLocked(opts.Dictation)
	o.runtime = engine.Build(o.engineSpecLocked(), log)
	o.logEngineReadiness()
	o.maybePreload()

	o.wg.Add(1)
	go o.recognitionLoop()
	return o
}

// Close stops the recognition worker and tears down the engine.
func (o *Orchestrator) Close() {
	close(o.done)
	o.mu.Lock()
	if o.inFlightCancel != nil {
		o.inFlightCancel()
	}
	o.mu.Unlock()
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retired != nil {
		o.retired.Transcriber.Close()
		o.retired = nil
	}
	o.runtime.Transcriber.Close()
}

// HotkeyDown handles a hotkey press edge.
func (o *Orchestrator) HotkeyDown() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.state
	next := pipeline.Transition(o.state, o.mode, pipeline.EventHotkeyDown)
	if prev == pipeline.StateIdle && next == pipeline.StateListening {
		o.beginSessionLocked()
	}
	if prev == pipeline.StateListening && next == pipeline.StateIdle {
		// Toggle-mode stop: flush trailing speech before the edge lands
		// so the final words are not lost. A flushed segment pre-empts
		// the stop; the cycle then completes through insertion.
		if o.flushTrailingLocked() {
			return o.snapshotLocked()
		}
	}
	o.setStateLocked(next)
	return o.snapshotLocked()
}

// HotkeyUp handles a hotkey release edge.
func (o *Orchestrator) HotkeyUp() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := pipeline.Transition(o.state, o.mode, pipeline.EventHotkeyUp)
	if o.state == pipeline.StateListening && next == pipeline.StateIdle {
		if o.flushTrailingLocked() {
			return o.snapshotLocked()
		}
	}
	o.setStateLocked(next)
	return o.snapshotLocked()
}

// Cancel aborts any in-flight recognition or insertion and returns to
// idle immediately.
func (o *Orchestrator) Cancel() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlightCancel != nil {
		o.inFlightCancel()
	}
	o.drainQueueLocked()
	o.acc.Reset()
	o.captureStart = time.Time{}
	o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventCancel))
	return o.snapshotLocked()
}

// SetMode switches hotkey interpretation. An active session is
// canceled so the new interpretation starts from a clean edge.
func (o *Orchestrator) SetMode(mode pipeline.Mode) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.mode = mode
	if o.state != pipeline.StateIdle {
		if o.inFlightCancel != nil {
			o.inFlightCancel()
		}
		o.drainQueueLocked()
		o.acc.Reset()
		o.captureStart = time.Time{}
		o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventCancel))
	}
	return o.snapshotLocked()
}

// FeedAudio accepts one capture frame at sourceRateHz. It never blocks
// on recognition; any transcript completed since the previous call is
// returned. Sources below 16 kHz are rejected.
func (o *Orchestrator) FeedAudio(samples []float32, sourceRateHz int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sourceRateHz < audio.SampleRateHz {
		return "", audio.ErrInputRateUnsupported
	}

	resampleStart := time.Now()
	resampled := audio.DownsampleTo16k(samples, sourceRateHz)
	audio.ApplyGain(resampled, o.gain)
	resampleMS := time.Since(resampleStart).Milliseconds()

	o.meter = audio.MeasureLevel(resampled, o.meter.Level, o.meter.Peak)
	o.publish(protocol.SubjectMicLevel, protocol.MicLevel{
		Level:  o.meter.Level,
		Peak:   o.meter.Peak,
		Active: o.meter.Active,
	})

	if o.state != pipeline.StateListening {
		return o.takeResultLocked(), nil
	}

	vadStart := time.Now()
	speech := audio.HasSpeech(resampled, o.gate)
	vadMS := time.Since(vadStart).Milliseconds()
	if !speech {
		return o.takeResultLocked(), nil
	}

	if o.captureStart.IsZero() {
		o.captureStart = time.Now()
	}
	if seg := o.acc.Feed(resampled); seg != nil {
		o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventSpeechSegmentReady))
		o.enqueueLocked(queuedSegment{
			seg:        seg,
			captureMS:  o.takeCaptureMSLocked(),
			resampleMS: resampleMS,
			vadMS:      vadMS,
		})
	}
	return o.takeResultLocked(), nil
}

// ApplySettings installs a new settings snapshot. The engine runtime
// is rebuilt reconstruct-then-swap: the previous engine keeps serving
// until the replacement reports ready, and a failed switch leaves it
// untouched apart from a recorded diagnostic.
func (o *Orchestrator) ApplySettings(dict config.DictationConfig, eng config.EngineConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()

	previous := o.engineSpecLocked()
	o.dictCfg = dict
	o.mode = pipeline.Mode(dict.Mode)
	o.applyTuningLocked(dict)
	o.engineCfg = eng

	// The profile feeds the resolved model path, so a dictation-only
	// change can still require a different engine.
	if o.engineSpecLocked() == previous {
		return
	}

	replacement := engine.Build(o.engineSpecLocked(), o.log)
	if !replacement.Diagnostics.Ready {
		replacement.Transcriber.Close()
		o.lastSwitchErr = replacement.Diagnostics.Description
		o.log.Warn("engine switch failed, keeping previous engine",
			slog.String("reason", replacement.Diagnostics.Description))
		return
	}

	old := o.runtime
	o.runtime = replacement
	o.lastSwitchErr = ""
	if o.inFlight {
		// The in-flight segment finishes on the old engine; the worker
		// retires it once that result is resolved.
		o.retired = old
	} else {
		old.Transcriber.Close()
	}
	o.log.Info("engine switched",
		slog.String("engine", replacement.Diagnostics.ActiveEngine),
		slog.String("model", replacement.Diagnostics.ResolvedModelPath))
	o.maybePreload()
}

// Status reports the full diagnostics picture.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:              o.state,
		Mode:               o.mode,
		Profile:            o.modelProfile,
		Tuning:             o.tuning,
		Engine:             o.runtime.CurrentDiagnostics(),
		PendingSamples:     o.acc.PendingSamples(),
		DroppedSamples:     o.acc.DroppedSamples(),
		LastTranscript:     o.lastTranscript,
		LastSwitchError:    o.lastSwitchErr,
		LastFallbackReason: o.inserter.LastFallbackReason(),
		History:            o.inserter.History(),
	}
}

// EngineDiagnostics is queryable at any time without touching the
// recognition path.
func (o *Orchestrator) EngineDiagnostics() engine.Diagnostics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runtime.CurrentDiagnostics()
}

// ModelStatus reports the resolved model picture for the active
// profile.
func (o *Orchestrator) ModelStatus() profile.ModelStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return profile.BuildModelStatus(o.modelProfile, o.engineCfg.ModelPath, o.engineCfg.ResourceDir, runtime.NumCPU())
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{State: o.state, Mode: o.mode, Tuning: o.tuning}
}

func (o *Orchestrator) beginSessionLocked() {
	o.sessionID = uuid.NewString()
	o.acc.Reset()
	o.captureStart = time.Time{}
	o.drainQueueLocked()
	if o.store != nil {
		if err := o.store.AppendSession(context.Background(), o.sessionID, string(o.mode), string(o.engineCfg.Kind)); err != nil {
			o.log.Warn("record session failed", slog.String("error", err.Error()))
		}
	}
}

// flushTrailingLocked drains pending audio when a listening session
// ends. Returns true when a speech-bearing segment was submitted, in
// which case the segment-ready transition pre-empts the stop edge.
func (o *Orchestrator) flushTrailingLocked() bool {
	seg := o.acc.Flush()
	if seg == nil || !audio.HasSpeech(seg.Samples, o.gate) {
		return false
	}
	o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventSpeechSegmentReady))
	o.enqueueLocked(queuedSegment{seg: seg, captureMS: o.takeCaptureMSLocked()})
	return true
}

// takeCaptureMSLocked closes the capture window opened when the first
// sample of the segment was accumulated.
func (o *Orchestrator) takeCaptureMSLocked() int64 {
	if o.captureStart.IsZero() {
		return 0
	}
	elapsed := time.Since(o.captureStart).Milliseconds()
	o.captureStart = time.Time{}
	return elapsed
}

func (o *Orchestrator) enqueueLocked(q queuedSegment) {
	select {
	case o.segments <- q:
	default:
		// Sustained backpressure: dropping the oldest queued segment is
		// accepted lossy behavior, matching the accumulator's policy.
		select {
		case dropped := <-o.segments:
			o.log.Warn("recognition queue full, dropping oldest segment",
				slog.Uint64("sequence", dropped.seg.Sequence))
		default:
		}
		select {
		case o.segments <- q:
		default:
			o.log.Warn("recognition queue full, dropping segment",
				slog.Uint64("sequence", q.seg.Sequence))
		}
	}
}

func (o *Orchestrator) drainQueueLocked() {
	for {
		select {
		case <-o.segments:
		default:
			return
		}
	}
}

func (o *Orchestrator) setStateLocked(next pipeline.State) {
	if next == o.state {
		return
	}
	o.state = next
	change := protocol.StateChange{State: string(next), Mode: string(o.mode), Timestamp: time.Now()}
	o.publish(protocol.SubjectState, change)
	o.recordEvent(eventstore.TypeState, change)
}

func (o *Orchestrator) applyTuningLocked(dict config.DictationConfig) {
	o.modelProfile = profile.Model(dict.ModelProfile)
	o.tuning = profile.TuningFor(o.modelProfile)
	if dict.ChunkSamplesOverride > 0 {
		o.tuning.MinChunkSamples = dict.ChunkSamplesOverride
	}
	if dict.CadenceMSOverride > 0 {
		o.tuning.PartialCadence = time.Duration(dict.CadenceMSOverride) * time.Millisecond
	}
	o.gain = audio.SensitivityGain(dict.MicSensitivityPercent)
	if o.acc == nil {
		o.acc = segment.NewAccumulator(o.tuning, dict.BacklogRetention)
	} else {
		o.acc.Retune(o.tuning)
	}
}

func (o *Orchestrator) engineSpecLocked() engine.Spec {
	eng := o.engineCfg
	modelPath := eng.ModelPath
	if engine.Kind(eng.Kind) == engine.KindFasterWhisper {
		if modelPath == "" {
			modelPath = engine.DefaultWorkerModel(o.modelProfile)
		}
	} else {
		modelPath = profile.ResolveModelPath(o.modelProfile, eng.ModelPath, eng.ResourceDir)
	}
	return engine.Spec{
		Kind:              engine.Kind(eng.Kind),
		Language:          eng.Language,
		Profile:           o.modelProfile,
		ModelPath:         modelPath,
		BackendPreference: engine.BackendPreference(eng.BackendPreference),
		ComputeType:       engine.ComputeType(eng.ComputeType),
		BeamSize:          eng.BeamSize,
		Command:           eng.Command,
		ResourceDir:       eng.ResourceDir,
		ModelCacheDir:     eng.ModelCacheDir,
		WorkerTimeoutMS:   eng.WorkerTimeoutMS,
		WorkerRestarts:    eng.WorkerMaxRestarts,
	}
}

func (o *Orchestrator) logEngineReadiness() {
	d := o.runtime.Diagnostics
	if d.Ready {
		o.log.Info("engine ready",
			slog.String("engine", d.ActiveEngine),
			slog.String("model", d.ResolvedModelPath),
			slog.String("compute", d.ComputeBackend))
	} else {
		o.log.Warn("engine not ready", slog.String("description", d.Description))
	}
}

func (o *Orchestrator) maybePreload() {
	if !o.engineCfg.PreloadOnReady {
		return
	}
	w, ok := o.runtime.Transcriber.(*engine.Worker)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.engineCfg.WorkerTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := w.Preload(ctx); err != nil {
			o.log.Warn("model preload failed", slog.String("error", err.Error()))
		}
	}()
}

func (o *Orchestrator) takeResultLocked() string {
	if len(o.results) == 0 {
		return ""
	}
	joined := strings.Join(o.results, " ")
	o.results = o.results[:0]
	return joined
}

func (o *Orchestrator) publish(subject string, payload any) {
	if o.pub == nil {
		return
	}
	o.pub.PublishJSON(subject, payload)
}

func (o *Orchestrator) recordEvent(eventType string, payload any) {
	if o.store == nil || o.sessionID == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := o.store.AppendEvent(context.Background(), eventstore.Event{
		SessionID: o.sessionID,
		Type:      eventType,
		Payload:   data,
	}); err != nil {
		o.log.Warn("record event failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) recognitionLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case q := <-o.segments:
			o.processSegment(q)
		}
	}
}

// processSegment resolves one segment end to end: recognize, then
// insert. Strict ordering holds because this is the only consumer of
// the segment queue and it finishes each segment before the next.
func (o *Orchestrator) processSegment(q queuedSegment) {
	o.mu.Lock()
	if o.state != pipeline.StateTranscribing {
		// Canceled between emission and pickup.
		o.mu.Unlock()
		return
	}
	rt := o.runtime
	ctx, cancel := context.WithCancel(context.Background())
	o.inFlight = true
	o.inFlightCancel = cancel
	profiling := o.dictCfg.Profiling
	o.mu.Unlock()
	defer cancel()

	queueMS := time.Since(q.seg.EnqueuedAt).Milliseconds()
	started := time.Now()
	result, err := rt.Transcriber.Transcribe(ctx, q.seg.Samples)
	inferenceMS := time.Since(started).Milliseconds()

	o.mu.Lock()
	o.retireLocked(rt)

	if o.state != pipeline.StateTranscribing {
		// Canceled while in flight: drop the late result.
		o.clearInFlightLocked()
		o.mu.Unlock()
		return
	}

	if err != nil {
		o.log.Warn("recognition failed",
			slog.Uint64("sequence", q.seg.Sequence),
			slog.String("error", err.Error()))
		o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventCancel))
		o.clearInFlightLocked()
		o.mu.Unlock()
		return
	}

	text := postprocess.Normalize(result.Text)
	if postprocess.IsDuplicate(o.lastTranscript, text) {
		o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventCancel))
		o.clearInFlightLocked()
		o.mu.Unlock()
		return
	}

	o.lastTranscript = text
	o.results = append(o.results, text)
	o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventTranscriptionComplete))

	transcript := protocol.Transcript{
		Sequence:    q.seg.Sequence,
		Text:        text,
		Engine:      rt.Transcriber.EngineLabel(),
		Model:       rt.Transcriber.ModelLabel(),
		InferenceMS: result.InferenceMS,
		Timestamp:   time.Now(),
	}
	o.publish(protocol.SubjectTranscript, transcript)
	o.recordEvent(eventstore.TypeTranscript, transcript)
	// The cancel stays registered: Cancel must abort the insertion
	// call too, not just the engine round-trip.
	o.mu.Unlock()

	record := o.inserter.Insert(ctx, text)

	o.mu.Lock()
	o.clearInFlightLocked()
	o.retireLocked(rt)
	if o.state == pipeline.StateInserting {
		o.setStateLocked(pipeline.Transition(o.state, o.mode, pipeline.EventInsertionComplete))
	}
	event := protocol.Insertion{Text: record.Text, Status: string(record.Status), Timestamp: record.Timestamp}
	o.publish(protocol.SubjectInsertion, event)
	o.recordEvent(eventstore.TypeInsertion, event)

	if profiling {
		emitMS := time.Since(started).Milliseconds() - inferenceMS
		o.publish(protocol.SubjectProfiling, protocol.ChunkProfile{
			Sequence:    q.seg.Sequence,
			Samples:     len(q.seg.Samples),
			CaptureMS:   q.captureMS,
			ResampleMS:  q.resampleMS,
			VadMS:       q.vadMS,
			QueueMS:     queueMS,
			InferenceMS: inferenceMS,
			EmitMS:      emitMS,
			Timestamp:   time.Now(),
		})
	}
	o.mu.Unlock()
}

func (o *Orchestrator) clearInFlightLocked() {
	o.inFlight = false
	o.inFlightCancel = nil
}

// retireLocked closes a runtime that was replaced while its last
// recognition was in flight.
func (o *Orchestrator) retireLocked(rt *engine.Runtime) {
	if o.retired != nil && o.retired == rt {
		o.retired.Transcriber.Close()
		o.retired = nil
	}
}
