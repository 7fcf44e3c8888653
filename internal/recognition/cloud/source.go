package cloud

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/translit"
)

const (
	WhisperSourceName = "Whisper Cloud (OpenAI)"
	SarvamSourceName  = "Sarvam Cloud (Hinglish)"
)

// WhisperSettings is the read-only configuration of a Whisper source.
type WhisperSettings struct {
	APIKey               string
	Endpoint             string
	Model                string
	Locale               language.Tag
	Prompt               string
	TransliterateToRoman bool
}

// SarvamSettings is the read-only configuration of a Sarvam source.
type SarvamSettings struct {
	APIKey       string
	Endpoint     string
	Model        string
	Mode         string
	LanguageCode string
	Locale       language.Tag
}

// Source is the lifecycle wrapper shared by the cloud backends. There is no
// model to keep warm, so IN_RAM is never entered and Close(true) discards
// the recognizer.
type Source struct {
	name     string
	locale   language.Tag
	apiKey   string
	build    func(*Source) *Recognizer
	dispatch recognition.Dispatcher
	state    *recognition.StateObserver
	client   *http.Client
	log      *slog.Logger

	mu  sync.Mutex
	rec *Recognizer
	// gen advances on every Initialize and Close(true); a load whose
	// generation is stale is discarded.
	gen uint64
}

type SourceOption func(*Source)

// WithDispatcher delivers state changes and the load callback on d.
func WithDispatcher(d recognition.Dispatcher) SourceOption {
	return func(s *Source) { s.dispatch = d }
}

func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) { s.client = c }
}

func WithSourceLogger(log *slog.Logger) SourceOption {
	return func(s *Source) { s.log = log }
}

func newSource(name, apiKey string, locale language.Tag, build func(*Source) *Recognizer, opts []SourceOption) *Source {
	s := &Source{
		name:     name,
		locale:   locale,
		apiKey:   apiKey,
		build:    build,
		dispatch: recognition.DirectDispatcher{},
		state:    recognition.NewStateObserver(recognition.StateNone),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = NewHTTPClient()
	}
	s.log = s.log.With(slog.String("source", name))
	return s
}

func NewWhisperSource(cfg WhisperSettings, opts ...SourceOption) *Source {
	build := func(s *Source) *Recognizer {
		backend := NewWhisperBackend(WhisperOptions{
			APIKey:   cfg.APIKey,
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Language: recognition.LanguageHint(cfg.Locale),
			Prompt:   cfg.Prompt,
		}, s.client)
		recOpts := []RecognizerOption{WithLogger(s.log)}
		if cfg.TransliterateToRoman {
			recOpts = append(recOpts, WithPostProcess(translit.Transliterate))
		}
		return NewRecognizer(backend, cfg.Locale, recOpts...)
	}
	return newSource(WhisperSourceName, cfg.APIKey, cfg.Locale, build, opts)
}

func NewSarvamSource(cfg SarvamSettings, opts ...SourceOption) *Source {
	build := func(s *Source) *Recognizer {
		backend := NewSarvamBackend(SarvamOptions{
			APIKey:       cfg.APIKey,
			Endpoint:     cfg.Endpoint,
			Model:        cfg.Model,
			Mode:         cfg.Mode,
			LanguageCode: cfg.LanguageCode,
		}, s.client)
		return NewRecognizer(backend, cfg.Locale, WithLogger(s.log))
	}
	return newSource(SarvamSourceName, cfg.APIKey, cfg.Locale, build, opts)
}

var _ recognition.Source = (*Source)(nil)

func (s *Source) Initialize(exec recognition.Executor, onLoaded func(recognition.Source)) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.state.Post(recognition.StateLoading)
	exec.Execute(func() {
		valid := strings.TrimSpace(s.apiKey) != ""
		s.dispatch.Post(func() {
			s.mu.Lock()
			stale := s.gen != gen
			s.mu.Unlock()
			if stale {
				s.log.Debug("load finished after close, discarding")
			} else if valid {
				rec := s.build(s)
				s.mu.Lock()
				s.rec = rec
				s.mu.Unlock()
				s.state.Post(recognition.StateReady)
			} else {
				s.log.Error("api key is empty")
				s.state.Post(recognition.StateError)
			}
			if onLoaded != nil {
				onLoaded(s)
			}
		})
	})
}

func (s *Source) Recognizer() (recognition.Recognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil || !s.state.Current().Usable() {
		return nil, recognition.ErrNotReady
	}
	return s.rec, nil
}

// Close releases the recognizer when freeRAM is set, and cancels a load
// still in progress. Without freeRAM the call is a no-op for cloud backends.
func (s *Source) Close(freeRAM bool) {
	if !freeRAM {
		return
	}
	s.mu.Lock()
	s.gen++
	s.rec = nil
	s.mu.Unlock()
	s.state.Post(recognition.StateClosed)
}

func (s *Source) State() *recognition.StateObserver { return s.state }

func (s *Source) AddSpaces() bool { return recognition.AddSpacesFor(s.locale) }

func (s *Source) IsBatch() bool { return true }

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec == nil
}

func (s *Source) ErrorMessage() string { return recognition.ErrorInvalidAPIKey }

func (s *Source) Name() string { return s.name }

func (s *Source) Locale() language.Tag { return s.locale }
