package recognition

import (
	"context"
	"errors"

	"golang.org/x/text/language"
)

var (
	// ErrNotReady is returned when a recognizer is requested outside READY/IN_RAM.
	ErrNotReady = errors.New("recognizer source is not ready")
	// ErrEmptyCredential marks a backend whose credential is missing.
	ErrEmptyCredential = errors.New("credential is empty")
)

// Message keys resolved by the host into localized error text.
const (
	ErrorInvalidAPIKey   = "error_invalid_api_key"
	ErrorModelLoadFailed = "error_model_load_failed"
)

// Recognizer accepts 16-bit PCM audio and produces transcription text.
type Recognizer interface {
	SampleRate() int
	// AcceptWaveForm appends up to n samples and reports whether the buffer
	// is full, in which case the host should stop recording and finalize.
	AcceptWaveForm(samples []int16, n int) bool
	Reset()
	Result() string
	PartialResult() string
	// FinalResult blocks until the utterance is transcribed. Callers must not
	// invoke it from the control loop, nor concurrently on the same instance.
	FinalResult(ctx context.Context) string
	Locale() language.Tag
}

// Source is one selectable speech backend and its lifecycle.
type Source interface {
	// Initialize validates the backend on exec and calls onLoaded once, after
	// the final READY or ERROR state has been posted.
	Initialize(exec Executor, onLoaded func(Source))
	Recognizer() (Recognizer, error)
	Close(freeRAM bool)
	State() *StateObserver

	AddSpaces() bool
	IsBatch() bool
	Closed() bool
	ErrorMessage() string
	Name() string
	Locale() language.Tag
}
