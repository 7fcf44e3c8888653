package providers

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
	"github.com/loqalabs/loqa-dictate/internal/recognition/local"
)

// Registry holds providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Default registers the local, Whisper and Sarvam providers, in that order.
func Default(cfg *config.Holder, log *slog.Logger, dispatch recognition.Dispatcher) *Registry {
	return NewRegistry(
		NewLocalProvider(cfg, log, local.WithDispatcher(dispatch), local.WithLogger(log)),
		NewWhisperProvider(cfg, cloud.WithDispatcher(dispatch), cloud.WithSourceLogger(log)),
		NewSarvamProvider(cfg, cloud.WithDispatcher(dispatch), cloud.WithSourceLogger(log)),
	)
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
}

// InstalledModels concatenates every provider's models in registration order.
// Discovery re-runs on each call so credential changes are observed.
func (r *Registry) InstalledModels() []recognition.ModelReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []recognition.ModelReference
	for _, p := range r.providers {
		out = append(out, p.InstalledModels()...)
	}
	return out
}

// Find returns the installed model with the given path.
func (r *Registry) Find(path string) (recognition.ModelReference, bool) {
	for _, m := range r.InstalledModels() {
		if m.Path == path {
			return m, true
		}
	}
	return recognition.ModelReference{}, false
}

// SourceForModel dispatches on ref.Type. It returns nil for unknown types and
// for models whose provider no longer offers them.
func (r *Registry) SourceForModel(ref recognition.ModelReference) recognition.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Type() == ref.Type {
			return p.SourceForModel(ref)
		}
	}
	return nil
}

// ObserveModels registers a gauge reporting available models per type.
func (r *Registry) ObserveModels() error {
	meter := otel.Meter("github.com/loqalabs/loqa-dictate/recognition/providers")
	gauge, err := meter.Int64ObservableGauge("loqa.recognition.models_available",
		metric.WithDescription("Installed recognition models by type"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		counts := map[recognition.ModelType]int64{}
		r.mu.RLock()
		for _, p := range r.providers {
			counts[p.Type()] = 0
		}
		r.mu.RUnlock()
		for _, m := range r.InstalledModels() {
			counts[m.Type]++
		}
		for t, n := range counts {
			o.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("type", string(t))))
		}
		return nil
	}, gauge)
	return err
}
