package cloud

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/recognition/cloud"

type instruments struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	audio    metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     *instruments
)

// metrics returns the package instruments, created on first use against the
// global meter provider. Instruments that fail to register are left nil.
func metrics() *instruments {
	instOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		inst = &instruments{}
		inst.requests, _ = meter.Int64Counter("loqa.transcription.requests",
			metric.WithDescription("Transcription requests by backend and outcome"))
		inst.duration, _ = meter.Float64Histogram("loqa.transcription.duration_ms",
			metric.WithDescription("Transcription request latency"),
			metric.WithUnit("ms"))
		inst.audio, _ = meter.Float64Histogram("loqa.transcription.audio_seconds",
			metric.WithDescription("Seconds of audio submitted per request"),
			metric.WithUnit("s"))
	})
	return inst
}

func (m *instruments) record(ctx context.Context, backend, outcome string, elapsed time.Duration, audioSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
	if m.audio != nil {
		m.audio.Record(ctx, audioSeconds, metric.WithAttributes(attribute.String("backend", backend)))
	}
}
