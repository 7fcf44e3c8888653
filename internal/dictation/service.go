// Package dictation drives the active recognizer source from bus and
// websocket audio and publishes the resulting transcripts.
package dictation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
	"github.com/loqalabs/loqa-dictate/internal/recognition/providers"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

var (
	// ErrBusy is returned while another session owns the utterance or a
	// final result is being computed.
	ErrBusy = errors.New("dictation busy")
	// ErrUnknownModel is returned for a path that no provider lists.
	ErrUnknownModel = errors.New("model is not installed")
	// ErrModelUnavailable is returned when a listed model cannot be opened.
	ErrModelUnavailable = errors.New("model is no longer available")
	// ErrNoModel is returned when no model has been selected.
	ErrNoModel = errors.New("no model selected")
)

// Status describes the active model.
type Status struct {
	Model    recognition.ModelReference `json:"model"`
	State    string                     `json:"state"`
	Error    string                     `json:"error,omitempty"`
	IsBatch  bool                       `json:"is_batch"`
	Buffered int                        `json:"buffered_samples"`
}

type Service struct {
	cfg      *config.Holder
	registry *providers.Registry
	store    *store.Store
	bus      *bus.Client
	exec     recognition.Executor
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	mu         sync.Mutex
	active     recognition.Source
	activeRef  recognition.ModelReference
	warm       map[string]recognition.Source
	owner      string
	buffered   int
	finalizing bool
}

type Option func(*Service)

// WithExecutor overrides where sources run their load step.
func WithExecutor(exec recognition.Executor) Option {
	return func(s *Service) { s.exec = exec }
}

// NewService wires the service. busClient may be nil, in which case nothing
// is published and only direct Feed/Finalize callers drive it.
func NewService(parent context.Context, cfg *config.Holder, registry *providers.Registry, st *store.Store, busClient *bus.Client, log *slog.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		registry: registry,
		store:    st,
		bus:      busClient,
		exec:     recognition.GoExecutor{},
		log:      log.With(slog.String("component", "dictation")),
		ctx:      ctx,
		cancel:   cancel,
		warm:     make(map[string]recognition.Source),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to audio frames and restores the last selected model.
func (s *Service) Start() error {
	if !s.cfg.Load().Dictation.Enabled {
		return nil
	}
	if s.bus != nil {
		sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
		if err != nil {
			return fmt.Errorf("subscribe audio frames: %w", err)
		}
		s.sub = sub
	}
	s.restoreSelection()
	return nil
}

func (s *Service) restoreSelection() {
	ctx := s.ctx
	candidates := []string{}
	if s.store != nil {
		if saved, err := s.store.SelectedModel(ctx); err != nil {
			s.log.Warn("failed to read selected model", slogError(err))
		} else if saved != "" {
			candidates = append(candidates, saved)
		}
	}
	if def := s.cfg.Load().Dictation.DefaultModel; def != "" {
		candidates = append(candidates, def)
	}
	if models, err := s.Models(ctx); err == nil && len(models) > 0 {
		candidates = append(candidates, models[0].Path)
	}
	for _, path := range candidates {
		err := s.Select(ctx, path)
		if err == nil {
			return
		}
		s.log.Debug("model not restorable", slog.String("model", path), slogError(err))
	}
	s.log.Info("no recognition model available")
}

// Close stops intake, waits for pending finals and releases every source.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()

	s.mu.Lock()
	sources := make([]recognition.Source, 0, len(s.warm)+1)
	if s.active != nil {
		s.active.State().Unsubscribe()
		sources = append(sources, s.active)
	}
	for _, src := range s.warm {
		sources = append(sources, src)
	}
	s.active = nil
	s.warm = map[string]recognition.Source{}
	s.mu.Unlock()

	for _, src := range sources {
		src.Close(true)
	}
}

// Healthy reports whether intake is running.
func (s *Service) Healthy() bool {
	return !s.cfg.Load().Dictation.Enabled || s.bus == nil || s.sub != nil
}

// Models returns the installed models in the user's order and persists the
// reconciled order.
func (s *Service) Models(ctx context.Context) ([]recognition.ModelReference, error) {
	var saved []string
	if s.store != nil {
		var err error
		if saved, err = s.store.ModelOrder(ctx); err != nil {
			return nil, fmt.Errorf("load model order: %w", err)
		}
	}
	models := providers.ReconcileOrder(saved, s.registry.InstalledModels())
	if s.store != nil {
		if err := s.store.SaveModelOrder(ctx, providers.Paths(models)); err != nil {
			return nil, fmt.Errorf("save model order: %w", err)
		}
	}
	return models, nil
}

// SetOrder stores a user-chosen order. Unknown paths are dropped and models
// missing from paths are appended.
func (s *Service) SetOrder(ctx context.Context, paths []string) ([]recognition.ModelReference, error) {
	models := providers.ReconcileOrder(paths, s.registry.InstalledModels())
	if s.store != nil {
		if err := s.store.SaveModelOrder(ctx, providers.Paths(models)); err != nil {
			return nil, fmt.Errorf("save model order: %w", err)
		}
	}
	return models, nil
}

// Select makes the model at path active. Loading completes asynchronously;
// progress is visible through Status and the source state subject.
func (s *Service) Select(ctx context.Context, path string) error {
	ref, ok := s.registry.Find(path)
	if !ok {
		return ErrUnknownModel
	}

	s.mu.Lock()
	if s.finalizing {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.active != nil && s.activeRef.Same(ref) {
		src := s.active
		s.mu.Unlock()
		if st := src.State().Current(); st == recognition.StateError || st == recognition.StateClosed {
			s.initialize(ref, src)
		}
		return nil
	}
	src, warm := s.warm[ref.Path]
	if warm {
		delete(s.warm, ref.Path)
	} else {
		src = s.registry.SourceForModel(ref)
		if src == nil {
			s.mu.Unlock()
			return ErrModelUnavailable
		}
	}
	prev, prevRef := s.active, s.activeRef
	s.active, s.activeRef = src, ref
	s.owner, s.buffered = "", 0
	keep := s.cfg.Load().Dictation.KeepModelInRAM
	if prev != nil && keep {
		s.warm[prevRef.Path] = prev
	}
	s.mu.Unlock()

	if prev != nil {
		prev.State().Unsubscribe()
		prev.Close(!keep)
	}

	s.initialize(ref, src)

	if s.store != nil {
		if err := s.store.SetSelectedModel(ctx, ref.Path); err != nil {
			s.log.Warn("failed to persist selected model", slogError(err))
		}
	}
	return nil
}

func (s *Service) initialize(ref recognition.ModelReference, src recognition.Source) {
	src.State().Subscribe(func(state recognition.State) {
		s.publishState(ref, src, state)
	})
	src.Initialize(s.exec, func(loaded recognition.Source) {
		state := loaded.State().Current()
		switch state {
		case recognition.StateError:
			s.log.Warn("model failed to load", slog.String("model", ref.Path), slog.String("error", loaded.ErrorMessage()))
			return
		case recognition.StateClosed:
			s.log.Debug("model closed before load completed", slog.String("model", ref.Path))
			return
		}
		s.log.Info("model loaded", slog.String("model", ref.Path), slog.String("name", loaded.Name()), slog.String("state", state.String()))
	})
}

// Status reports the active model and its lifecycle state.
func (s *Service) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Status{}, ErrNoModel
	}
	state := s.active.State().Current()
	st := Status{
		Model:    s.activeRef,
		State:    state.String(),
		IsBatch:  s.active.IsBatch(),
		Buffered: s.buffered,
	}
	if state == recognition.StateError {
		st.Error = s.active.ErrorMessage()
	}
	return st, nil
}

// SampleRate returns the rate the active recognizer expects.
func (s *Service) SampleRate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.recognizerLocked()
	if err != nil {
		return 0, err
	}
	return rec.SampleRate(), nil
}

func (s *Service) recognizerLocked() (recognition.Recognizer, error) {
	if s.active == nil {
		return nil, ErrNoModel
	}
	return s.active.Recognizer()
}

// Feed appends samples for sessionID to the current utterance and reports
// whether the buffer is full. Only one session owns the utterance until it
// is finalized.
func (s *Service) Feed(sessionID string, samples []int16) (bool, error) {
	s.mu.Lock()
	if s.finalizing {
		s.mu.Unlock()
		return false, ErrBusy
	}
	if s.owner != "" && s.owner != sessionID {
		s.mu.Unlock()
		return false, ErrBusy
	}
	rec, err := s.recognizerLocked()
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.owner = sessionID
	full := rec.AcceptWaveForm(samples, len(samples))
	s.buffered = min(s.buffered+len(samples), rec.SampleRate()*cloud.MaxUtterance)
	partial := rec.PartialResult()
	ref := s.activeRef
	s.mu.Unlock()

	if partial != "" && s.cfg.Load().Dictation.PublishInterim {
		s.publish(protocol.SubjectTranscriptPartial, protocol.Transcript{
			SessionID: sessionID,
			Text:      partial,
			Partial:   true,
			ModelPath: ref.Path,
			Timestamp: time.Now().UTC(),
		})
	}
	return full, nil
}

// Cancel discards the utterance owned by sessionID without transcribing it.
func (s *Service) Cancel(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return ErrBusy
	}
	if s.owner != sessionID {
		return nil
	}
	if rec, err := s.recognizerLocked(); err == nil {
		rec.Reset()
	}
	s.owner, s.buffered = "", 0
	return nil
}

// Finalize transcribes the utterance owned by sessionID. At most one final
// result is computed at a time; concurrent calls get ErrBusy.
func (s *Service) Finalize(ctx context.Context, sessionID string) (protocol.Transcript, error) {
	s.mu.Lock()
	if s.finalizing || (s.owner != "" && s.owner != sessionID) {
		s.mu.Unlock()
		return protocol.Transcript{}, ErrBusy
	}
	rec, err := s.recognizerLocked()
	if err != nil {
		s.mu.Unlock()
		return protocol.Transcript{}, err
	}
	s.finalizing = true
	ref := s.activeRef
	buffered := s.buffered
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.Load().Dictation.FinalTimeoutMS) * time.Millisecond
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text := rec.FinalResult(ctx)

	s.mu.Lock()
	s.finalizing = false
	s.owner = ""
	s.buffered = 0
	s.mu.Unlock()

	tr := protocol.Transcript{
		SessionID: sessionID,
		Text:      text,
		ModelPath: ref.Path,
		Timestamp: time.Now().UTC(),
	}
	if text == "" {
		return tr, nil
	}
	if s.store != nil {
		saved, err := s.store.AppendTranscript(ctx, store.Transcript{
			SessionID: sessionID,
			ModelPath: ref.Path,
			ModelType: string(ref.Type),
			Text:      text,
			AudioMS:   int64(buffered) * 1000 / int64(rec.SampleRate()),
			CreatedAt: tr.Timestamp,
		})
		if err != nil {
			s.log.Warn("failed to store transcript", slogError(err))
		}
		tr.ID = saved.ID
	}
	s.publish(protocol.SubjectTranscriptFinal, tr)
	return tr, nil
}

func (s *Service) finalizeAsync(sessionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Finalize(s.ctx, sessionID); err != nil {
			s.log.Debug("final result skipped", slog.String("session_id", sessionID), slogError(err))
		}
	}()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.log.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	if len(frame.PCM) > 0 {
		samples, err := audio.PCM16LE(frame.PCM)
		if err != nil {
			s.log.Warn("invalid audio frame", slog.String("session_id", frame.SessionID), slogError(err))
			return
		}
		samples = audio.Mono(samples, frame.Channels)
		if rate, err := s.SampleRate(); err == nil && frame.SampleRate > 0 {
			samples = audio.Resample(samples, frame.SampleRate, rate)
		}
		full, err := s.Feed(frame.SessionID, samples)
		if err != nil {
			s.log.Debug("audio frame dropped", slog.String("session_id", frame.SessionID), slogError(err))
			return
		}
		if full && !frame.Final {
			s.log.Info("buffer full, finalizing", slog.String("session_id", frame.SessionID))
			s.finalizeAsync(frame.SessionID)
			return
		}
	}
	if frame.Final {
		s.finalizeAsync(frame.SessionID)
	}
}

func (s *Service) publishState(ref recognition.ModelReference, src recognition.Source, state recognition.State) {
	msg := protocol.SourceState{
		ModelPath: ref.Path,
		Name:      src.Name(),
		State:     state.String(),
		Timestamp: time.Now().UTC(),
	}
	if state == recognition.StateError {
		msg.Error = src.ErrorMessage()
	}
	s.publish(protocol.SubjectSourceState, msg)
}

func (s *Service) publish(subject string, v any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
