package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/dictation"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/providers"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

type Runtime struct {
	cfg        *config.Holder
	configPath string
	logger     *slog.Logger
	ready      atomic.Bool
	wg         sync.WaitGroup

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *store.Store
	loop      *recognition.ControlLoop
	dictation *dictation.Service
}

// New builds a runtime. configPath is re-read by Reload.
func New(cfg config.Config, configPath string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:        config.NewHolder(cfg),
		configPath: configPath,
		logger:     logger,
	}
}

// Reload re-reads the configuration file. Credentials and model settings
// apply to the next discovery or model selection.
func (r *Runtime) Reload() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	r.cfg.Store(cfg)
	r.logger.Info("configuration reloaded", slog.String("path", r.configPath))
	return nil
}

// Start runs until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	cfg := r.cfg.Load()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx, cfg); err != nil {
		return errors.Join(err, r.shutdown())
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(cfg, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		r.metricsServer = &http.Server{
			Addr:              bind,
			Handler:           metricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return r.shutdown()
}

func (r *Runtime) startServices(ctx context.Context, cfg config.Config) error {
	var err error
	r.nats, err = natsserver.Start(cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	busCfg := cfg.Bus
	if r.nats != nil {
		busCfg.Servers = []string{r.nats.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	if err := r.bus.EnsureStream(protocol.StreamTranscripts, []string{protocol.SubjectTranscriptFinal}, retention); err != nil {
		r.logger.Warn("transcript stream unavailable", slog.String("error", err.Error()))
	}

	r.store, err = store.Open(ctx, cfg.Store, r.logger)
	if err != nil {
		return err
	}

	r.loop = recognition.NewControlLoop(0)
	registry := providers.Default(r.cfg, r.logger, r.loop)
	if err := registry.ObserveModels(); err != nil {
		r.logger.Warn("failed to register model gauge", slog.String("error", err.Error()))
	}

	r.dictation = dictation.NewService(ctx, r.cfg, registry, r.store, r.bus, r.logger)
	return r.dictation.Start()
}

func (r *Runtime) routes(cfg config.Config, metrics http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	a := &api{svc: r.dictation, store: r.store, log: r.logger.With(slog.String("component", "api"))}
	router.Route("/v1", func(v chi.Router) {
		a.routes(v)
		if cfg.Dictation.WebSocket {
			v.Handle("/dictate", newDictateHandler(r.dictation, cfg.Dictation.MaxMessageBytes, r.logger))
		}
	})
	return router
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	r.wg.Wait()

	if r.dictation != nil {
		r.dictation.Close()
	}
	if r.loop != nil {
		r.loop.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.dictation.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
