package local

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/recognition"
)

// Settings describe one installed model and how to run it.
type Settings struct {
	Model   recognition.ModelReference
	Command string
	Locale  language.Tag
	Timeout time.Duration
}

// Source loads a local model by validating its path and command. Unlike the
// cloud sources it distinguishes IN_RAM: Close(false) keeps the recognizer
// so the next Initialize is immediate.
type Source struct {
	cfg      Settings
	dispatch recognition.Dispatcher
	state    *recognition.StateObserver
	log      *slog.Logger

	mu  sync.Mutex
	rec *Recognizer
	gen uint64
}

type Option func(*Source)

func WithDispatcher(d recognition.Dispatcher) Option {
	return func(s *Source) { s.dispatch = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Source) { s.log = log }
}

func NewSource(cfg Settings, opts ...Option) *Source {
	s := &Source{
		cfg:      cfg,
		dispatch: recognition.DirectDispatcher{},
		state:    recognition.NewStateObserver(recognition.StateNone),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("source", cfg.Model.Name), slog.String("model", cfg.Model.Path))
	return s
}

var _ recognition.Source = (*Source)(nil)

func (s *Source) Initialize(exec recognition.Executor, onLoaded func(recognition.Source)) {
	s.mu.Lock()
	warm := s.rec != nil && s.state.Current() == recognition.StateInRAM
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	if warm {
		s.dispatch.Post(func() {
			if s.current(gen) {
				s.state.Post(recognition.StateReady)
			}
			if onLoaded != nil {
				onLoaded(s)
			}
		})
		return
	}

	s.state.Post(recognition.StateLoading)
	exec.Execute(func() {
		rec, err := s.load()
		s.dispatch.Post(func() {
			if !s.current(gen) {
				s.log.Debug("load finished after close, discarding")
			} else if err != nil {
				s.log.Error("failed to load model", slog.String("error", err.Error()))
				s.state.Post(recognition.StateError)
			} else {
				s.mu.Lock()
				s.rec = rec
				s.mu.Unlock()
				s.state.Post(recognition.StateReady)
			}
			if onLoaded != nil {
				onLoaded(s)
			}
		})
	})
}

// current reports whether no Close(true) or newer Initialize happened
// since the load tagged gen started.
func (s *Source) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Source) load() (*Recognizer, error) {
	if _, err := os.Stat(s.cfg.Model.Path); err != nil {
		return nil, fmt.Errorf("model %s: %w", s.cfg.Model.Path, err)
	}
	cmd, err := NewCommand(s.cfg.Command, s.cfg.Model.Path, recognition.LanguageHint(s.cfg.Locale))
	if err != nil {
		return nil, err
	}
	return NewRecognizer(cmd, s.cfg.Locale, s.cfg.Timeout, s.log), nil
}

func (s *Source) Recognizer() (recognition.Recognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil || !s.state.Current().Usable() {
		return nil, recognition.ErrNotReady
	}
	return s.rec, nil
}

// Close posts IN_RAM and keeps the recognizer unless freeRAM is set.
// Close(true) also cancels a load still in progress.
func (s *Source) Close(freeRAM bool) {
	s.mu.Lock()
	loading := s.state.Current() == recognition.StateLoading
	if s.rec == nil && !(freeRAM && loading) {
		s.mu.Unlock()
		return
	}
	if freeRAM {
		s.gen++
		s.rec = nil
	}
	s.mu.Unlock()
	if freeRAM {
		s.state.Post(recognition.StateClosed)
	} else {
		s.state.Post(recognition.StateInRAM)
	}
}

func (s *Source) State() *recognition.StateObserver { return s.state }

func (s *Source) AddSpaces() bool { return recognition.AddSpacesFor(s.cfg.Locale) }

func (s *Source) IsBatch() bool { return true }

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec == nil
}

func (s *Source) ErrorMessage() string { return recognition.ErrorModelLoadFailed }

func (s *Source) Name() string { return s.cfg.Model.Name }

func (s *Source) Locale() language.Tag { return s.cfg.Locale }
