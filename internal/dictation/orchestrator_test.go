package dictation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sonoralabs/sonora-core/internal/audio"
	"github.com/sonoralabs/sonora-core/internal/config"
	"github.com/sonoralabs/sonora-core/internal/engine"
	"github.com/sonoralabs/sonora-core/internal/insertion"
	"github.com/sonoralabs/sonora-core/internal/pipeline"
	"github.com/sonoralabs/sonora-core/internal/protocol"
	"github.com/sonoralabs/sonora-core/internal/segment"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	closed  bool
	started chan struct{}
	block   chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32) (engine.Result, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	block := f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return engine.Result{}, f.err
	}
	return engine.Result{Text: f.text, InferenceMS: 1}, nil
}

func (f *fakeTranscriber) EngineLabel() string { return "fake" }
func (f *fakeTranscriber) ModelLabel() string  { return "fake-model" }

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscriber) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type busEvent struct {
	subject string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []busEvent
}

func (p *capturePublisher) PublishJSON(subject string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, busEvent{subject: subject, payload: payload})
}

func (p *capturePublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, evt := range p.events {
		if evt.subject == protocol.SubjectState {
			out = append(out, evt.payload.(protocol.StateChange).State)
		}
	}
	return out
}

func (p *capturePublisher) firstProfile() (protocol.ChunkProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, evt := range p.events {
		if evt.subject == protocol.SubjectProfiling {
			return evt.payload.(protocol.ChunkProfile), true
		}
	}
	return protocol.ChunkProfile{}, false
}

func (p *capturePublisher) countSubject(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, evt := range p.events {
		if evt.subject == subject {
			n++
		}
	}
	return n
}

type recordingInserter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingInserter) Insert(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingInserter) inserted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func swapRuntime(o *Orchestrator, fake *fakeTranscriber) {
	o.mu.Lock()
	o.runtime.Transcriber.Close()
	o.runtime = &engine.Runtime{
		Transcriber: fake,
		Diagnostics: engine.Diagnostics{Ready: true, ActiveEngine: "fake", Description: "fake engine"},
	}
	o.mu.Unlock()
}

func newTestOrchestrator(t *testing.T, mode string, fake *fakeTranscriber, pub *capturePublisher, ins insertion.Inserter) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Kind = "stub"
	cfg.Dictation.Mode = mode
	cfg.Dictation.Profiling = true
	o := New(Options{
		Dictation: cfg.Dictation,
		Engine:    cfg.Engine,
		Insertion: cfg.Insertion,
		Logger:    discardLogger(),
		Publisher: pub,
		Direct:    ins,
	})
	t.Cleanup(o.Close)
	swapRuntime(o, fake)
	return o
}

func voicedFrame(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5
	}
	return out
}

func waitForState(t *testing.T, o *Orchestrator, want pipeline.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last observed %s", want, o.Status().State)
}

func TestFeedAudioRejectsLowSampleRate(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	if _, err := o.FeedAudio(voicedFrame(1024), 8000); !errors.Is(err, audio.ErrInputRateUnsupported) {
		t.Fatalf("expected ErrInputRateUnsupported, got %v", err)
	}
}

func TestSilentAudioNeverReachesEngine(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	snap := o.HotkeyDown()
	if snap.State != pipeline.StateListening {
		t.Fatalf("expected listening after hotkey down, got %s", snap.State)
	}
	for i := 0; i < 4; i++ {
		if _, err := o.FeedAudio(make([]float32, 4000), 16000); err != nil {
			t.Fatalf("feed failed: %v", err)
		}
	}
	if got := o.Status(); got.State != pipeline.StateListening {
		t.Fatalf("silence must not advance the state, got %s", got.State)
	}
	if got := o.Status().PendingSamples; got != 0 {
		t.Fatalf("silence must not accumulate, pending %d", got)
	}
	if fake.callCount() != 0 {
		t.Fatalf("engine called %d times on silence", fake.callCount())
	}
}

func TestSpeechSegmentFlowsToInsertion(t *testing.T) {
	fake := &fakeTranscriber{text: "hello world"}
	pub := &capturePublisher{}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, ins)

	o.HotkeyDown()
	if _, err := o.FeedAudio(voicedFrame(4000), 16000); err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if _, err := o.FeedAudio(voicedFrame(4000), 16000); err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	waitForState(t, o, pipeline.StateIdle)

	if fake.callCount() != 1 {
		t.Fatalf("expected exactly one engine call, got %d", fake.callCount())
	}
	if got := ins.inserted(); len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("unexpected inserted text %v", got)
	}
	want := []string{"listening", "transcribing", "inserting", "idle"}
	got := pub.states()
	if len(got) != len(want) {
		t.Fatalf("state sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence %v, want %v", got, want)
		}
	}
	if pub.countSubject(protocol.SubjectTranscript) != 1 {
		t.Fatalf("expected one transcript event")
	}
	if pub.countSubject(protocol.SubjectInsertion) != 1 {
		t.Fatalf("expected one insertion event")
	}
	if pub.countSubject(protocol.SubjectProfiling) != 1 {
		t.Fatalf("expected one profiling event")
	}
	if st := o.Status(); st.LastTranscript != "Hello world." {
		t.Fatalf("last transcript %q", st.LastTranscript)
	}
}

func TestFeedAudioDrainsCompletedTranscripts(t *testing.T) {
	fake := &fakeTranscriber{text: "drained text"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	waitForState(t, o, pipeline.StateIdle)

	text, err := o.FeedAudio(make([]float32, 512), 16000)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if text != "Drained text." {
		t.Fatalf("drained %q, want %q", text, "Drained text.")
	}
	text, _ = o.FeedAudio(make([]float32, 512), 16000)
	if text != "" {
		t.Fatalf("second drain returned %q, want empty", text)
	}
}

func TestCancelDropsLateResult(t *testing.T) {
	fake := &fakeTranscriber{
		text:    "too late",
		started: make(chan struct{}, 4),
		block:   make(chan struct{}),
	}
	pub := &capturePublisher{}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, ins)

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	<-fake.started

	if snap := o.Cancel(); snap.State != pipeline.StateIdle {
		t.Fatalf("cancel must return idle, got %s", snap.State)
	}
	close(fake.block)
	time.Sleep(50 * time.Millisecond)

	if got := ins.inserted(); len(got) != 0 {
		t.Fatalf("canceled recognition must not insert, got %v", got)
	}
	if pub.countSubject(protocol.SubjectTranscript) != 0 {
		t.Fatalf("canceled recognition must not publish a transcript")
	}
	if st := o.Status(); st.LastTranscript != "" {
		t.Fatalf("late result leaked into status: %q", st.LastTranscript)
	}
}

func TestEngineSwapMidFlightRetiresOldEngine(t *testing.T) {
	fake := &fakeTranscriber{
		text:    "first pass",
		started: make(chan struct{}, 4),
		block:   make(chan struct{}),
	}
	pub := &capturePublisher{}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, ins)

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	<-fake.started

	cfg := config.Default()
	cfg.Engine.Kind = "stub"
	cfg.Engine.Language = "fr"
	o.ApplySettings(cfg.Dictation, cfg.Engine)

	close(fake.block)
	waitForState(t, o, pipeline.StateIdle)

	// The in-flight segment finished on the old engine and was not lost.
	if got := ins.inserted(); len(got) != 1 || got[0] != "First pass." {
		t.Fatalf("in-flight result lost across swap: %v", got)
	}
	if !fake.wasClosed() {
		t.Fatalf("old engine must be closed after its last result resolves")
	}

	// New segments go to the replacement engine only.
	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	waitForState(t, o, pipeline.StateIdle)

	if fake.callCount() != 1 {
		t.Fatalf("old engine received a request after the swap, calls %d", fake.callCount())
	}
	if got := ins.inserted(); len(got) != 2 || got[1] != "Stub transcript." {
		t.Fatalf("replacement engine did not serve the next segment: %v", got)
	}
}

func TestFailedEngineSwitchKeepsPreviousEngine(t *testing.T) {
	fake := &fakeTranscriber{text: "still serving"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	cfg := config.Default()
	cfg.Engine.Kind = "whisper_cpp"
	cfg.Engine.ModelPath = "/nonexistent/model.bin"
	o.ApplySettings(cfg.Dictation, cfg.Engine)

	st := o.Status()
	if st.LastSwitchError == "" {
		t.Fatalf("failed switch must record a diagnostic")
	}
	if !st.Engine.Ready {
		t.Fatalf("previous engine must remain active after a failed switch")
	}

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	waitForState(t, o, pipeline.StateIdle)
	if fake.callCount() != 1 {
		t.Fatalf("previous engine must keep serving, calls %d", fake.callCount())
	}
}

func TestRecognitionErrorReturnsToIdle(t *testing.T) {
	fake := &fakeTranscriber{err: errors.New("inference blew up")}
	pub := &capturePublisher{}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, ins)

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	waitForState(t, o, pipeline.StateIdle)

	if got := ins.inserted(); len(got) != 0 {
		t.Fatalf("failed recognition must not insert, got %v", got)
	}
	if pub.countSubject(protocol.SubjectTranscript) != 0 {
		t.Fatalf("failed recognition must not publish a transcript")
	}
}

func TestDuplicateTranscriptSuppressed(t *testing.T) {
	fake := &fakeTranscriber{text: "hello world"}
	pub := &capturePublisher{}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, ins)

	for session := 0; session < 2; session++ {
		o.HotkeyDown()
		o.FeedAudio(voicedFrame(4000), 16000)
		o.FeedAudio(voicedFrame(4000), 16000)
		waitForState(t, o, pipeline.StateIdle)
	}

	if fake.callCount() != 2 {
		t.Fatalf("expected two engine calls, got %d", fake.callCount())
	}
	if got := ins.inserted(); len(got) != 1 {
		t.Fatalf("duplicate transcript must not be re-inserted, got %v", got)
	}
	if pub.countSubject(protocol.SubjectTranscript) != 1 {
		t.Fatalf("duplicate transcript must not be re-published")
	}
}

func TestPushToTalkReleaseFlushesTrailingAudio(t *testing.T) {
	fake := &fakeTranscriber{text: "trailing words"}
	ins := &recordingInserter{}
	o := newTestOrchestrator(t, "push_to_talk", fake, &capturePublisher{}, ins)

	o.HotkeyDown()
	// Below the minimum chunk threshold; only the release flush emits it.
	o.FeedAudio(voicedFrame(4000), 16000)
	snap := o.HotkeyUp()
	if snap.State != pipeline.StateTranscribing {
		t.Fatalf("release with trailing speech must transcribe, got %s", snap.State)
	}
	waitForState(t, o, pipeline.StateIdle)

	if fake.callCount() != 1 {
		t.Fatalf("expected one engine call for the flushed tail, got %d", fake.callCount())
	}
	if got := ins.inserted(); len(got) != 1 || got[0] != "Trailing words." {
		t.Fatalf("trailing audio lost: %v", got)
	}
}

func TestToggleStopWithoutSpeechReturnsIdle(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	o.HotkeyDown()
	o.FeedAudio(make([]float32, 4000), 16000)
	snap := o.HotkeyDown()
	if snap.State != pipeline.StateIdle {
		t.Fatalf("toggle stop without speech must idle, got %s", snap.State)
	}
	if fake.callCount() != 0 {
		t.Fatalf("engine called with no speech, calls %d", fake.callCount())
	}
}

func TestPushToTalkIgnoresSecondPress(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	o := newTestOrchestrator(t, "push_to_talk", fake, &capturePublisher{}, &recordingInserter{})

	o.HotkeyDown()
	if snap := o.HotkeyDown(); snap.State != pipeline.StateListening {
		t.Fatalf("repeat press in push-to-talk must stay listening, got %s", snap.State)
	}
	if snap := o.HotkeyUp(); snap.State != pipeline.StateIdle {
		t.Fatalf("release must idle, got %s", snap.State)
	}
}

func TestSetModeCancelsActiveSession(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, &recordingInserter{})

	o.HotkeyDown()
	snap := o.SetMode(pipeline.ModePushToTalk)
	if snap.State != pipeline.StateIdle {
		t.Fatalf("mode switch must cancel the session, got %s", snap.State)
	}
	if snap.Mode != pipeline.ModePushToTalk {
		t.Fatalf("mode not applied, got %s", snap.Mode)
	}
	if got := o.Status().PendingSamples; got != 0 {
		t.Fatalf("pending audio must be discarded on mode switch, got %d", got)
	}
}

type blockingInserter struct {
	started  chan struct{}
	canceled chan struct{}
}

func (b *blockingInserter) Insert(ctx context.Context, text string) error {
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		close(b.canceled)
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("insertion never aborted")
	}
}

func TestCancelAbortsInFlightInsertion(t *testing.T) {
	fake := &fakeTranscriber{text: "hello world"}
	ins := &blockingInserter{
		started:  make(chan struct{}, 1),
		canceled: make(chan struct{}),
	}
	o := newTestOrchestrator(t, "push_to_toggle", fake, &capturePublisher{}, ins)

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	o.FeedAudio(voicedFrame(4000), 16000)
	<-ins.started

	if snap := o.Cancel(); snap.State != pipeline.StateIdle {
		t.Fatalf("cancel must return idle, got %s", snap.State)
	}
	select {
	case <-ins.canceled:
	case <-time.After(time.Second):
		t.Fatalf("cancel did not abort the in-flight insertion call")
	}
	waitForState(t, o, pipeline.StateIdle)
}

func TestProfileReportsCaptureDuration(t *testing.T) {
	fake := &fakeTranscriber{text: "timed words"}
	pub := &capturePublisher{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, &recordingInserter{})

	o.HotkeyDown()
	o.FeedAudio(voicedFrame(4000), 16000)
	time.Sleep(50 * time.Millisecond)
	o.FeedAudio(voicedFrame(4000), 16000)
	waitForState(t, o, pipeline.StateIdle)

	profile, ok := pub.firstProfile()
	if !ok {
		t.Fatalf("expected a profiling event")
	}
	if profile.CaptureMS < 40 {
		t.Fatalf("capture duration %dms must cover the accumulation window", profile.CaptureMS)
	}
}

func TestEnqueueDropsOldestUnderBackpressure(t *testing.T) {
	o := &Orchestrator{log: discardLogger(), segments: make(chan queuedSegment, 8)}
	for i := 1; i <= 8; i++ {
		o.segments <- queuedSegment{seg: &segment.Segment{Sequence: uint64(i)}}
	}

	o.enqueueLocked(queuedSegment{seg: &segment.Segment{Sequence: 9}})

	var got []uint64
	for len(o.segments) > 0 {
		got = append(got, (<-o.segments).seg.Sequence)
	}
	want := []uint64{2, 3, 4, 5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("queue after overflow %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue after overflow %v, want %v", got, want)
		}
	}
}

func TestMicLevelPublishedEveryFrame(t *testing.T) {
	fake := &fakeTranscriber{text: "unused"}
	pub := &capturePublisher{}
	o := newTestOrchestrator(t, "push_to_toggle", fake, pub, &recordingInserter{})

	o.FeedAudio(voicedFrame(512), 16000)
	o.FeedAudio(make([]float32, 512), 16000)
	if got := pub.countSubject(protocol.SubjectMicLevel); got != 2 {
		t.Fatalf("expected a mic level event per frame, got %d", got)
	}
}
