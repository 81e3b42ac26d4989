package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sonoralabs/sonora-core/internal/dictation"
	"github.com/sonoralabs/sonora-core/internal/protocol"
)

// metricsPublisher tees dictation events into OTel instruments before
// forwarding them to the bus. Stage durations come from the per-chunk
// profiling payloads, so histograms only fill when profiling is on.
type metricsPublisher struct {
	next dictation.Publisher

	captureMS    metric.Int64Histogram
	inferenceMS  metric.Int64Histogram
	queueMS      metric.Int64Histogram
	resampleMS   metric.Int64Histogram
	vadMS        metric.Int64Histogram
	emitMS       metric.Int64Histogram
	transcripts  metric.Int64Counter
	insertions   metric.Int64Counter
	stateChanges metric.Int64Counter
}

func newMetricsPublisher(next dictation.Publisher) (*metricsPublisher, error) {
	meter := otel.Meter("sonora-core/dictation")

	p := &metricsPublisher{next: next}
	var err error
	if p.captureMS, err = meter.Int64Histogram("dictation.capture.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent accumulating a speech segment")); err != nil {
		return nil, err
	}
	if p.inferenceMS, err = meter.Int64Histogram("dictation.inference.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Engine inference time per speech segment")); err != nil {
		return nil, err
	}
	if p.queueMS, err = meter.Int64Histogram("dictation.queue.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time a segment waited for the recognition worker")); err != nil {
		return nil, err
	}
	if p.resampleMS, err = meter.Int64Histogram("dictation.resample.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if p.vadMS, err = meter.Int64Histogram("dictation.vad.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if p.emitMS, err = meter.Int64Histogram("dictation.emit.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if p.transcripts, err = meter.Int64Counter("dictation.transcripts",
		metric.WithDescription("Recognized transcripts emitted")); err != nil {
		return nil, err
	}
	if p.insertions, err = meter.Int64Counter("dictation.insertions",
		metric.WithDescription("Insertion attempts by outcome")); err != nil {
		return nil, err
	}
	if p.stateChanges, err = meter.Int64Counter("dictation.state.changes",
		metric.WithDescription("Pipeline state transitions by target state")); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *metricsPublisher) PublishJSON(subject string, payload any) {
	ctx := context.Background()
	switch evt := payload.(type) {
	case protocol.ChunkProfile:
		p.captureMS.Record(ctx, evt.CaptureMS)
		p.inferenceMS.Record(ctx, evt.InferenceMS)
		p.queueMS.Record(ctx, evt.QueueMS)
		p.resampleMS.Record(ctx, evt.ResampleMS)
		p.vadMS.Record(ctx, evt.VadMS)
		p.emitMS.Record(ctx, evt.EmitMS)
	case protocol.Transcript:
		p.transcripts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("engine", evt.Engine)))
	case protocol.Insertion:
		p.insertions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", evt.Status)))
	case protocol.StateChange:
		p.stateChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", evt.State)))
	}

	if p.next != nil {
		p.next.PublishJSON(subject, payload)
	}
}
