package dictation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/providers"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	n       int
	entered chan struct{}
	release chan struct{}
}

func (r *fakeRecognizer) SampleRate() int { return 16000 }

func (r *fakeRecognizer) AcceptWaveForm(samples []int16, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n += min(n, len(samples))
	return false
}

func (r *fakeRecognizer) Reset() {
	r.mu.Lock()
	r.n = 0
	r.mu.Unlock()
}

func (r *fakeRecognizer) Result() string        { return "" }
func (r *fakeRecognizer) PartialResult() string { return "" }

func (r *fakeRecognizer) FinalResult(context.Context) string {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return ""
	}
	text := fmt.Sprintf("heard %d", r.n)
	r.n = 0
	return text
}

func (r *fakeRecognizer) Locale() language.Tag { return language.English }

type fakeSource struct {
	name  string
	state *recognition.StateObserver
	rec   *fakeRecognizer

	mu     sync.Mutex
	closes []bool
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{name: name, state: recognition.NewStateObserver(recognition.StateNone), rec: &fakeRecognizer{}}
}

func (s *fakeSource) Initialize(exec recognition.Executor, onLoaded func(recognition.Source)) {
	s.state.Post(recognition.StateLoading)
	exec.Execute(func() {
		s.state.Post(recognition.StateReady)
		onLoaded(s)
	})
}

func (s *fakeSource) Recognizer() (recognition.Recognizer, error) {
	if !s.state.Current().Usable() {
		return nil, recognition.ErrNotReady
	}
	return s.rec, nil
}

func (s *fakeSource) Close(freeRAM bool) {
	s.mu.Lock()
	s.closes = append(s.closes, freeRAM)
	s.mu.Unlock()
	if freeRAM {
		s.state.Post(recognition.StateClosed)
	} else {
		s.state.Post(recognition.StateInRAM)
	}
}

func (s *fakeSource) closeCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.closes...)
}

func (s *fakeSource) State() *recognition.StateObserver { return s.state }
func (s *fakeSource) AddSpaces() bool                   { return true }
func (s *fakeSource) IsBatch() bool                     { return true }
func (s *fakeSource) Closed() bool                      { return !s.state.Current().Usable() }
func (s *fakeSource) ErrorMessage() string              { return recognition.ErrorModelLoadFailed }
func (s *fakeSource) Name() string                      { return s.name }
func (s *fakeSource) Locale() language.Tag              { return language.English }

type fakeProvider struct {
	sources map[string]*fakeSource
	order   []string
}

func newFakeProvider(paths ...string) *fakeProvider {
	p := &fakeProvider{sources: map[string]*fakeSource{}, order: paths}
	for _, path := range paths {
		p.sources[path] = newFakeSource(path)
	}
	return p
}

func (p *fakeProvider) Type() recognition.ModelType { return recognition.ModelLocal }

func (p *fakeProvider) InstalledModels() []recognition.ModelReference {
	out := make([]recognition.ModelReference, 0, len(p.order))
	for _, path := range p.order {
		out = append(out, recognition.ModelReference{Path: path, Name: path, Type: recognition.ModelLocal})
	}
	return out
}

func (p *fakeProvider) SourceForModel(ref recognition.ModelReference) recognition.Source {
	if src, ok := p.sources[ref.Path]; ok {
		return src
	}
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, cfg config.Config, provider *fakeProvider, busClient *bus.Client) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "dictate.db"),
		RetentionMode: store.RetentionSession,
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := NewService(context.Background(), config.NewHolder(cfg), providers.NewRegistry(provider), st, busClient, newLogger(),
		WithExecutor(recognition.InlineExecutor{}))
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, st
}

func pcmBytes(n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(i%100)))
	}
	return b
}

func TestServiceTranscribesBusFrames(t *testing.T) {
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	finals := make(chan *nats.Msg, 4)
	states := make(chan *nats.Msg, 16)
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, finals); err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectSourceState, states); err != nil {
		t.Fatalf("subscribe states: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	svc, st := newTestService(t, config.Default(), newFakeProvider("fake://a"), client)
	status, err := svc.Status()
	if err != nil || status.State != "ready" || status.Model.Path != "fake://a" {
		t.Fatalf("expected restored ready model, got %+v %v", status, err)
	}

	subject := protocol.AudioFrameSubject("s1")
	if err := client.PublishJSON(subject, protocol.AudioFrame{SessionID: "s1", SampleRate: 16000, Channels: 1, PCM: pcmBytes(1600)}); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
	if err := client.PublishJSON(subject, protocol.AudioFrame{SessionID: "s1", Sequence: 1, Final: true}); err != nil {
		t.Fatalf("publish final: %v", err)
	}

	select {
	case msg := <-finals:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode transcript: %v", err)
		}
		if tr.Text != "heard 1600" || tr.SessionID != "s1" || tr.ModelPath != "fake://a" || tr.Partial {
			t.Fatalf("unexpected transcript %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}

	saved, err := st.ListTranscripts(context.Background(), "s1", 10)
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected stored transcript, got %v %v", saved, err)
	}
	if saved[0].AudioMS != 100 {
		t.Fatalf("expected 100ms of audio, got %d", saved[0].AudioMS)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen["ready"] {
		select {
		case msg := <-states:
			var ss protocol.SourceState
			if err := json.Unmarshal(msg.Data, &ss); err != nil {
				t.Fatalf("decode state: %v", err)
			}
			seen[ss.State] = true
		case <-timeout:
			t.Fatalf("expected ready state on bus, saw %v", seen)
		}
	}
}

func TestServiceSingleSessionOwnership(t *testing.T) {
	svc, _ := newTestService(t, config.Default(), newFakeProvider("fake://a"), nil)

	if _, err := svc.Feed("s1", make([]int16, 10)); err != nil {
		t.Fatalf("feed s1: %v", err)
	}
	if _, err := svc.Feed("s2", make([]int16, 10)); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for second session, got %v", err)
	}
	if _, err := svc.Finalize(context.Background(), "s2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy finalizing foreign session, got %v", err)
	}
	tr, err := svc.Finalize(context.Background(), "s1")
	if err != nil || tr.Text != "heard 10" {
		t.Fatalf("unexpected final %+v %v", tr, err)
	}
	if _, err := svc.Feed("s2", make([]int16, 5)); err != nil {
		t.Fatalf("expected s2 accepted after finalize, got %v", err)
	}
}

func TestServiceRejectsFramesWhileFinalizing(t *testing.T) {
	provider := newFakeProvider("fake://a")
	rec := provider.sources["fake://a"].rec
	rec.entered = make(chan struct{})
	rec.release = make(chan struct{})
	svc, _ := newTestService(t, config.Default(), provider, nil)

	if _, err := svc.Feed("s1", make([]int16, 4)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	done := make(chan protocol.Transcript, 1)
	go func() {
		tr, _ := svc.Finalize(context.Background(), "s1")
		done <- tr
	}()
	<-rec.entered

	if _, err := svc.Feed("s1", make([]int16, 4)); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected frames ignored while finalizing, got %v", err)
	}
	if _, err := svc.Finalize(context.Background(), "s1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected second finalize rejected, got %v", err)
	}
	if err := svc.Select(context.Background(), "fake://a"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected select rejected while finalizing, got %v", err)
	}
	close(rec.release)

	if tr := <-done; tr.Text != "heard 4" {
		t.Fatalf("unexpected final %+v", tr)
	}
}

func TestServiceSelectKeepsPreviousModelInRAM(t *testing.T) {
	cfg := config.Default()
	cfg.Dictation.KeepModelInRAM = true
	provider := newFakeProvider("fake://a", "fake://b")
	svc, st := newTestService(t, cfg, provider, nil)

	if err := svc.Select(context.Background(), "fake://missing"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if err := svc.Select(context.Background(), "fake://b"); err != nil {
		t.Fatalf("select b: %v", err)
	}
	a := provider.sources["fake://a"]
	if calls := a.closeCalls(); len(calls) != 1 || calls[0] {
		t.Fatalf("expected a closed without freeing RAM, got %v", calls)
	}
	if a.State().Current() != recognition.StateInRAM {
		t.Fatalf("expected a in RAM, got %v", a.State().Current())
	}
	if sel, _ := st.SelectedModel(context.Background()); sel != "fake://b" {
		t.Fatalf("expected selection persisted, got %q", sel)
	}

	if err := svc.Select(context.Background(), "fake://a"); err != nil {
		t.Fatalf("reselect a: %v", err)
	}
	status, err := svc.Status()
	if err != nil || status.Model.Path != "fake://a" || status.State != "ready" {
		t.Fatalf("unexpected status %+v %v", status, err)
	}
}

func TestServiceModelOrder(t *testing.T) {
	svc, st := newTestService(t, config.Default(), newFakeProvider("fake://a", "fake://b", "fake://c"), nil)
	ctx := context.Background()

	models, err := svc.SetOrder(ctx, []string{"fake://c", "fake://gone", "fake://a"})
	if err != nil {
		t.Fatalf("set order: %v", err)
	}
	got := providers.Paths(models)
	want := []string{"fake://c", "fake://a", "fake://b"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	persisted, err := st.ModelOrder(ctx)
	if err != nil || fmt.Sprint(persisted) != fmt.Sprint(want) {
		t.Fatalf("persisted = %v %v", persisted, err)
	}
	listed, err := svc.Models(ctx)
	if err != nil || fmt.Sprint(providers.Paths(listed)) != fmt.Sprint(want) {
		t.Fatalf("models = %v %v", listed, err)
	}
}

func TestServiceCancelReleasesSession(t *testing.T) {
	svc, _ := newTestService(t, config.Default(), newFakeProvider("fake://a"), nil)
	if _, err := svc.Feed("s1", make([]int16, 8)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := svc.Cancel("s2"); err != nil {
		t.Fatalf("cancel of a non-owner should be a no-op, got %v", err)
	}
	if _, err := svc.Feed("s2", make([]int16, 8)); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected s1 to still own the utterance, got %v", err)
	}
	if err := svc.Cancel("s1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	tr, err := svc.Finalize(context.Background(), "s2")
	if err != nil || tr.Text != "" {
		t.Fatalf("expected empty final after cancel, got %+v %v", tr, err)
	}
}
