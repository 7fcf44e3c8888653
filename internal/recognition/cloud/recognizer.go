package cloud

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/recognition"
)

// PartialPlaceholder is shown while a batch recognizer is recording.
const PartialPlaceholder = "..."

// Recognizer buffers one utterance and transcribes it with a Backend when
// the final result is requested.
type Recognizer struct {
	backend    Backend
	locale     language.Tag
	post       []func(string) string
	buf        *Buffer
	lastResult string
	inflight   atomic.Bool
	log        *slog.Logger
	tracer     trace.Tracer
}

type RecognizerOption func(*Recognizer)

// WithPostProcess appends a text transform applied before spacing rules.
func WithPostProcess(fn func(string) string) RecognizerOption {
	return func(r *Recognizer) { r.post = append(r.post, fn) }
}

func WithLogger(log *slog.Logger) RecognizerOption {
	return func(r *Recognizer) { r.log = log }
}

// WithBufferCapacity overrides the utterance capacity in samples.
func WithBufferCapacity(samples int) RecognizerOption {
	return func(r *Recognizer) { r.buf = NewBuffer(samples) }
}

func NewRecognizer(backend Backend, locale language.Tag, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		backend: backend,
		locale:  locale,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buf == nil {
		r.buf = NewBuffer(BufferCapacity)
	}
	r.log = r.log.With(slog.String("backend", backend.Name()))
	return r
}

var _ recognition.Recognizer = (*Recognizer)(nil)

func (r *Recognizer) SampleRate() int { return SampleRate }

func (r *Recognizer) Locale() language.Tag { return r.locale }

// Buffered returns the number of samples held for the current utterance.
func (r *Recognizer) Buffered() int { return r.buf.Position() }

func (r *Recognizer) AcceptWaveForm(samples []int16, n int) bool {
	if _, filled := r.buf.Write(samples, n); filled {
		r.log.Info("audio buffer full", slog.Int("samples", r.buf.Capacity()))
	}
	return r.buf.Full()
}

func (r *Recognizer) Reset() {
	r.buf.Reset()
	r.lastResult = ""
}

// Result is always empty: batch backends have no intermediate text.
func (r *Recognizer) Result() string { return "" }

func (r *Recognizer) PartialResult() string {
	if r.buf.Position() > SampleRate/2 {
		return PartialPlaceholder
	}
	return ""
}

func (r *Recognizer) FinalResult(ctx context.Context) string {
	if r.buf.Position() == 0 {
		return ""
	}
	if !r.inflight.CompareAndSwap(false, true) {
		r.log.Warn("final result requested while a transcription is in flight")
		return ""
	}
	defer r.inflight.Store(false)

	r.transcribe(ctx)
	result := r.lastResult
	r.lastResult = ""
	return result
}

func (r *Recognizer) transcribe(ctx context.Context) {
	defer r.buf.Reset()

	samples := r.buf.Position()
	seconds := float64(samples) / SampleRate
	ctx, span := r.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("backend", r.backend.Name()),
		attribute.Int("samples", samples),
	))
	defer span.End()

	wav := EncodeWAV(r.buf.Samples(), SampleRate)
	r.log.Debug("transcribing", slog.Int("samples", samples), slog.Float64("seconds", seconds), slog.Int("wav_bytes", len(wav)))

	start := time.Now()
	text, err := r.backend.Transcribe(ctx, wav)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		metrics().record(ctx, r.backend.Name(), "error", elapsed, seconds)
		r.log.Warn("transcription failed", slog.String("error", err.Error()), slog.Duration("elapsed", elapsed))
		return
	}
	metrics().record(ctx, r.backend.Name(), "ok", elapsed, seconds)

	text = strings.TrimSpace(text)
	for _, fn := range r.post {
		text = fn(text)
	}
	r.lastResult = recognition.RemoveSpaceForLocale(text, r.locale)
}
