package segment

import (
	"time"

	"github.com/sonoralabs/sonora-core/internal/profile"
)

// Floors applied on top of the profile tuning. Chunks shorter than
// half a second produce garbage recognitions, and emitting faster than
// 300ms starves the engine.
const (
	minChunkFloorSamples = 8000
	cadenceFloor         = 300 * time.Millisecond
)

// Segment is one slice of speech ready for recognition. Sequence
// numbers are monotonic per accumulator and order the transcripts.
type Segment struct {
	Sequence   uint64
	Samples    []float32
	EnqueuedAt time.Time
}

// Accumulator buffers 16 kHz mono samples and emits bounded segments
// once the active profile's chunk and cadence thresholds are met. It
// is not safe for concurrent use; the orchestrator serializes access.
type Accumulator struct {
	tuning           profile.Tuning
	backlogRetention int

	pending    []float32
	sequence   uint64
	lastEmitAt time.Time
	dropped    uint64

	now func() time.Time
}

// NewAccumulator builds an accumulator for the given profile tuning.
// backlogRetention bounds the pending buffer at retention * max chunk
// samples; older audio beyond that is dropped under backpressure.
func NewAccumulator(tuning profile.Tuning, backlogRetention int) *Accumulator {
	if backlogRetention < 1 {
		backlogRetention = 1
	}
	return &Accumulator{
		tuning:           tuning,
		backlogRetention: backlogRetention,
		now:              time.Now,
	}
}

// Retune swaps the profile tuning without disturbing pending audio.
func (a *Accumulator) Retune(tuning profile.Tuning) {
	a.tuning = tuning
}

func (a *Accumulator) minChunkSamples() int {
	min := a.tuning.MinChunkSamples
	if min < minChunkFloorSamples {
		min = minChunkFloorSamples
	}
	return min
}

func (a *Accumulator) cadence() time.Duration {
	c := a.tuning.PartialCadence
	if c < cadenceFloor {
		c = cadenceFloor
	}
	return c
}

// MaxChunkSamples is the largest segment the accumulator will emit.
func (a *Accumulator) MaxChunkSamples() int {
	return a.minChunkSamples() * 3
}

// Feed appends samples and returns a segment when the minimum chunk
// size and inter-emission cadence are both satisfied, nil otherwise.
func (a *Accumulator) Feed(samples []float32) *Segment {
	a.pending = append(a.pending, samples...)
	a.trimBacklog()

	minChunk := a.minChunkSamples()
	if len(a.pending) < minChunk {
		return nil
	}
	now := a.now()
	if !a.lastEmitAt.IsZero() && now.Sub(a.lastEmitAt) < a.cadence() {
		return nil
	}

	size := len(a.pending)
	if max := a.MaxChunkSamples(); size > max {
		size = max
	}
	out := make([]float32, size)
	copy(out, a.pending[:size])
	a.pending = a.pending[:copy(a.pending, a.pending[size:])]

	a.sequence++
	a.lastEmitAt = now
	return &Segment{
		Sequence:   a.sequence,
		Samples:    out,
		EnqueuedAt: now,
	}
}

// Flush drains whatever is pending as a final segment, ignoring the
// minimum chunk and cadence thresholds. Used when a session ends so
// trailing speech is not lost. Returns nil if nothing is buffered.
func (a *Accumulator) Flush() *Segment {
	if len(a.pending) == 0 {
		return nil
	}
	size := len(a.pending)
	if max := a.MaxChunkSamples(); size > max {
		size = max
	}
	out := make([]float32, size)
	copy(out, a.pending[:size])
	a.pending = a.pending[:copy(a.pending, a.pending[size:])]

	a.sequence++
	a.lastEmitAt = a.now()
	return &Segment{
		Sequence:   a.sequence,
		Samples:    out,
		EnqueuedAt: a.lastEmitAt,
	}
}

// Reset discards all pending audio, e.g. on cancel.
func (a *Accumulator) Reset() {
	a.pending = a.pending[:0]
	a.lastEmitAt = time.Time{}
}

// PendingSamples reports the current backlog size.
func (a *Accumulator) PendingSamples() int {
	return len(a.pending)
}

// DroppedSamples counts audio discarded by backlog truncation.
func (a *Accumulator) DroppedSamples() uint64 {
	return a.dropped
}

func (a *Accumulator) trimBacklog() {
	limit := a.MaxChunkSamples() * a.backlogRetention
	if len(a.pending) <= limit {
		return
	}
	drop := len(a.pending) - limit
	a.dropped += uint64(drop)
	a.pending = a.pending[:copy(a.pending, a.pending[drop:])]
}
