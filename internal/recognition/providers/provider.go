// Package providers maps installed model references to recognizer sources.
package providers

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
	"github.com/loqalabs/loqa-dictate/internal/recognition/local"
)

// Provider owns one model type. SourceForModel returns nil when the model is
// no longer available.
type Provider interface {
	Type() recognition.ModelType
	InstalledModels() []recognition.ModelReference
	SourceForModel(ref recognition.ModelReference) recognition.Source
}

// WhisperProvider exposes the Whisper backend as one virtual model while an
// API key is configured.
type WhisperProvider struct {
	cfg  *config.Holder
	opts []cloud.SourceOption
}

func NewWhisperProvider(cfg *config.Holder, opts ...cloud.SourceOption) *WhisperProvider {
	return &WhisperProvider{cfg: cfg, opts: opts}
}

func (p *WhisperProvider) Type() recognition.ModelType { return recognition.ModelWhisperCloud }

func (p *WhisperProvider) available() (config.WhisperConfig, bool) {
	c := p.cfg.Load().Whisper
	return c, strings.TrimSpace(c.APIKey) != ""
}

func (p *WhisperProvider) InstalledModels() []recognition.ModelReference {
	if _, ok := p.available(); !ok {
		return nil
	}
	return []recognition.ModelReference{{
		Path: recognition.WhisperCloudPath,
		Name: cloud.WhisperSourceName,
		Type: recognition.ModelWhisperCloud,
	}}
}

func (p *WhisperProvider) SourceForModel(ref recognition.ModelReference) recognition.Source {
	c, ok := p.available()
	if !ok || ref.Path != recognition.WhisperCloudPath {
		return nil
	}
	return cloud.NewWhisperSource(cloud.WhisperSettings{
		APIKey:               c.APIKey,
		Endpoint:             c.Endpoint,
		Model:                c.Model,
		Locale:               recognition.ParseLocale(c.Language),
		Prompt:               c.Prompt,
		TransliterateToRoman: c.TransliterateToRoman,
	}, p.opts...)
}

// SarvamProvider exposes the Sarvam backend as one virtual model while a
// subscription key is configured.
type SarvamProvider struct {
	cfg  *config.Holder
	opts []cloud.SourceOption
}

func NewSarvamProvider(cfg *config.Holder, opts ...cloud.SourceOption) *SarvamProvider {
	return &SarvamProvider{cfg: cfg, opts: opts}
}

func (p *SarvamProvider) Type() recognition.ModelType { return recognition.ModelSarvamCloud }

func (p *SarvamProvider) available() (config.SarvamConfig, bool) {
	c := p.cfg.Load().Sarvam
	return c, strings.TrimSpace(c.APIKey) != ""
}

func (p *SarvamProvider) InstalledModels() []recognition.ModelReference {
	if _, ok := p.available(); !ok {
		return nil
	}
	return []recognition.ModelReference{{
		Path: recognition.SarvamCloudPath,
		Name: cloud.SarvamSourceName,
		Type: recognition.ModelSarvamCloud,
	}}
}

func (p *SarvamProvider) SourceForModel(ref recognition.ModelReference) recognition.Source {
	c, ok := p.available()
	if !ok || ref.Path != recognition.SarvamCloudPath {
		return nil
	}
	locale := recognition.ParseLocale(c.Locale)
	if locale == language.Und {
		locale = cloud.SarvamDefaultLocale
	}
	return cloud.NewSarvamSource(cloud.SarvamSettings{
		APIKey:       c.APIKey,
		Endpoint:     c.Endpoint,
		Model:        c.Model,
		Mode:         c.Mode,
		LanguageCode: c.LanguageCode,
		Locale:       locale,
	}, p.opts...)
}

// LocalProvider lists the models under the configured models directory.
type LocalProvider struct {
	cfg  *config.Holder
	log  *slog.Logger
	opts []local.Option
}

func NewLocalProvider(cfg *config.Holder, log *slog.Logger, opts ...local.Option) *LocalProvider {
	return &LocalProvider{cfg: cfg, log: log.With(slog.String("provider", string(recognition.ModelLocal))), opts: opts}
}

func (p *LocalProvider) Type() recognition.ModelType { return recognition.ModelLocal }

func (p *LocalProvider) InstalledModels() []recognition.ModelReference {
	c := p.cfg.Load().Local
	if !c.Enabled || strings.TrimSpace(c.Command) == "" {
		return nil
	}
	models, err := local.Discover(c.ModelsDir)
	if err != nil {
		p.log.Warn("model discovery failed", slog.String("error", err.Error()))
		return nil
	}
	return models
}

func (p *LocalProvider) SourceForModel(ref recognition.ModelReference) recognition.Source {
	c := p.cfg.Load().Local
	for _, m := range p.InstalledModels() {
		if !m.Same(ref) {
			continue
		}
		return local.NewSource(local.Settings{
			Model:   m,
			Command: c.Command,
			Locale:  recognition.ParseLocale(c.Language),
			Timeout: time.Duration(c.TimeoutMS) * time.Millisecond,
		}, p.opts...)
	}
	return nil
}
