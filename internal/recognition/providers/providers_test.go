package providers

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCloudDiscoveryFollowsCredential(t *testing.T) {
	cfg := config.Default()
	holder := config.NewHolder(cfg)
	registry := Default(holder, testLogger(), recognition.DirectDispatcher{})

	if models := registry.InstalledModels(); len(models) != 0 {
		t.Fatalf("expected no models without credentials, got %+v", models)
	}

	cfg.Whisper.APIKey = "sk-test"
	cfg.Sarvam.APIKey = "sv-test"
	holder.Store(cfg)
	want := []string{recognition.WhisperCloudPath, recognition.SarvamCloudPath}
	if got := Paths(registry.InstalledModels()); !reflect.DeepEqual(got, want) {
		t.Fatalf("models = %v, want %v", got, want)
	}

	ref, ok := registry.Find(recognition.WhisperCloudPath)
	if !ok || ref.Type != recognition.ModelWhisperCloud || ref.Name != cloud.WhisperSourceName {
		t.Fatalf("unexpected whisper reference %+v", ref)
	}
	src := registry.SourceForModel(ref)
	if src == nil || src.Name() != cloud.WhisperSourceName {
		t.Fatalf("expected whisper source, got %v", src)
	}

	cfg.Whisper.APIKey = ""
	holder.Store(cfg)
	if got := Paths(registry.InstalledModels()); !reflect.DeepEqual(got, []string{recognition.SarvamCloudPath}) {
		t.Fatalf("expected whisper removed after credential removal, got %v", got)
	}
	if src := registry.SourceForModel(ref); src != nil {
		t.Fatal("expected nil source once the credential is gone")
	}
}

func TestSarvamSourceUsesConfiguredLocale(t *testing.T) {
	cfg := config.Default()
	cfg.Sarvam.APIKey = "key"
	cfg.Sarvam.Locale = ""
	registry := NewRegistry(NewSarvamProvider(config.NewHolder(cfg)))

	src := registry.SourceForModel(recognition.ModelReference{Path: recognition.SarvamCloudPath, Type: recognition.ModelSarvamCloud})
	if src == nil {
		t.Fatal("expected sarvam source")
	}
	if src.Locale() != cloud.SarvamDefaultLocale {
		t.Fatalf("expected default locale, got %v", src.Locale())
	}
}

func TestSourceForUnknownType(t *testing.T) {
	cfg := config.Default()
	cfg.Whisper.APIKey = "k"
	registry := NewRegistry(NewWhisperProvider(config.NewHolder(cfg)))
	if src := registry.SourceForModel(recognition.ModelReference{Path: recognition.WhisperCloudPath, Type: recognition.ModelLocal}); src != nil {
		t.Fatal("expected nil for a type with no provider")
	}
}

func TestLocalDiscovery(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "vosk-small-en"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Local.ModelsDir = dir
	cfg.Local.Command = "true"
	holder := config.NewHolder(cfg)
	registry := Default(holder, testLogger(), recognition.DirectDispatcher{})

	if models := registry.InstalledModels(); len(models) != 0 {
		t.Fatalf("expected no local models while disabled, got %+v", models)
	}

	cfg.Local.Enabled = true
	cfg.Whisper.APIKey = "k"
	holder.Store(cfg)
	models := registry.InstalledModels()
	if len(models) != 2 || models[0].Type != recognition.ModelLocal || models[1].Path != recognition.WhisperCloudPath {
		t.Fatalf("expected local model before whisper, got %+v", models)
	}
	src := registry.SourceForModel(models[0])
	if src == nil || src.Name() != "vosk-small-en" {
		t.Fatalf("unexpected local source %v", src)
	}

	missing := recognition.ModelReference{Path: filepath.Join(dir, "other"), Type: recognition.ModelLocal}
	if registry.SourceForModel(missing) != nil {
		t.Fatal("expected nil for a model that is not installed")
	}
}

func TestReconcileOrder(t *testing.T) {
	installed := []recognition.ModelReference{
		{Path: "/m/a", Type: recognition.ModelLocal},
		{Path: recognition.WhisperCloudPath, Type: recognition.ModelWhisperCloud},
		{Path: recognition.SarvamCloudPath, Type: recognition.ModelSarvamCloud},
	}
	saved := []string{recognition.SarvamCloudPath, "/m/removed", "/m/a", recognition.SarvamCloudPath}

	got := Paths(ReconcileOrder(saved, installed))
	want := []string{recognition.SarvamCloudPath, "/m/a", recognition.WhisperCloudPath}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	if got := ReconcileOrder(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty order, got %v", got)
	}
}
