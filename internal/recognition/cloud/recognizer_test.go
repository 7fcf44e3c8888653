package cloud

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

type fakeBackend struct {
	calls int
	text  string
	err   error
	wavs  [][]byte
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.calls++
	f.wavs = append(f.wavs, append([]byte(nil), wav...))
	return f.text, f.err
}

func TestFinalResultOnEmptyBufferSkipsBackend(t *testing.T) {
	backend := &fakeBackend{text: "should not be used"}
	rec := NewRecognizer(backend, language.English)
	if got := rec.FinalResult(context.Background()); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
	if backend.calls != 0 {
		t.Fatalf("expected no backend calls, got %d", backend.calls)
	}
}

func TestFinalResultResetsBufferOnSuccess(t *testing.T) {
	backend := &fakeBackend{text: "  hello world  "}
	rec := NewRecognizer(backend, language.English)
	rec.AcceptWaveForm(make([]int16, 1600), 1600)

	if got := rec.FinalResult(context.Background()); got != "hello world" {
		t.Fatalf("unexpected result %q", got)
	}
	if rec.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d", rec.Buffered())
	}
	if got := rec.FinalResult(context.Background()); got != "" {
		t.Fatalf("expected cached result cleared, got %q", got)
	}
	if backend.calls != 1 {
		t.Fatalf("expected one backend call, got %d", backend.calls)
	}
}

func TestFinalResultAbsorbsBackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	rec := NewRecognizer(backend, language.English, WithBufferCapacity(100))
	if full := rec.AcceptWaveForm(make([]int16, 100), 100); !full {
		t.Fatal("expected full buffer")
	}
	if got := rec.FinalResult(context.Background()); got != "" {
		t.Fatalf("expected empty result on failure, got %q", got)
	}
	if rec.Buffered() != 0 {
		t.Fatalf("expected buffer reset after failure, got %d", rec.Buffered())
	}
	if full := rec.AcceptWaveForm(make([]int16, 40), 40); full {
		t.Fatal("expected fresh buffer after failure")
	}
	if rec.Buffered() != 40 {
		t.Fatalf("expected 40 buffered, got %d", rec.Buffered())
	}
}

func TestFinalResultSendsBufferedAudioAsWAV(t *testing.T) {
	backend := &fakeBackend{text: "ok"}
	rec := NewRecognizer(backend, language.English)
	rec.AcceptWaveForm([]int16{100, -100, 200}, 3)
	rec.FinalResult(context.Background())

	clip, err := audio.Decode(bytes.NewReader(backend.wavs[0]))
	if err != nil {
		t.Fatalf("decode sent wav: %v", err)
	}
	if clip.SampleRate != SampleRate || clip.Channels != 1 {
		t.Fatalf("unexpected format %d/%d", clip.SampleRate, clip.Channels)
	}
	if len(clip.Samples) != 3 || clip.Samples[1] != -100 {
		t.Fatalf("unexpected samples %v", clip.Samples)
	}
}

func TestPartialResultPlaceholder(t *testing.T) {
	rec := NewRecognizer(&fakeBackend{}, language.English)
	rec.AcceptWaveForm(make([]int16, SampleRate/2), SampleRate/2)
	if got := rec.PartialResult(); got != "" {
		t.Fatalf("expected no placeholder at exactly half a second, got %q", got)
	}
	rec.AcceptWaveForm(make([]int16, 1), 1)
	if got := rec.PartialResult(); got != PartialPlaceholder {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := rec.Result(); got != "" {
		t.Fatalf("expected empty intermediate result, got %q", got)
	}
	rec.Reset()
	rec.Reset()
	if rec.PartialResult() != "" || rec.Buffered() != 0 {
		t.Fatal("expected reset to clear the buffer")
	}
}

func TestPostProcessAndLocaleSpacing(t *testing.T) {
	backend := &fakeBackend{text: "こんにちは 世界"}
	rec := NewRecognizer(backend, language.Japanese)
	rec.AcceptWaveForm(make([]int16, 10), 10)
	if got := rec.FinalResult(context.Background()); got != "こんにちは世界" {
		t.Fatalf("expected spaces removed for ja, got %q", got)
	}

	backend = &fakeBackend{text: "hello"}
	rec = NewRecognizer(backend, language.English, WithPostProcess(func(s string) string { return s + "!" }))
	rec.AcceptWaveForm(make([]int16, 10), 10)
	if got := rec.FinalResult(context.Background()); got != "hello!" {
		t.Fatalf("expected post-processed text, got %q", got)
	}
}

func TestAcceptWaveFormReportsFullUntilReset(t *testing.T) {
	rec := NewRecognizer(&fakeBackend{}, language.English, WithBufferCapacity(8))
	if rec.AcceptWaveForm(make([]int16, 4), 4) {
		t.Fatal("not full yet")
	}
	if !rec.AcceptWaveForm(make([]int16, 8), 8) {
		t.Fatal("expected full")
	}
	if !rec.AcceptWaveForm(nil, 0) {
		t.Fatal("expected full to persist while position equals capacity")
	}
	if rec.Buffered() != 8 {
		t.Fatalf("expected 8 buffered, got %d", rec.Buffered())
	}
}
