package cloud

import (
	"context"
	"net/http"
)

const (
	WhisperBackendName     = "whisper"
	DefaultWhisperEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	DefaultWhisperModel    = "whisper-1"
)

// WhisperOptions are the request parameters of the Whisper-style backend.
type WhisperOptions struct {
	APIKey   string
	Endpoint string
	Model    string
	// Language is an ISO 639 code; empty lets the service detect it.
	Language string
	Prompt   string
}

// WhisperBackend talks to an OpenAI-compatible transcription endpoint.
type WhisperBackend struct {
	opts   WhisperOptions
	client *http.Client
}

func NewWhisperBackend(opts WhisperOptions, client *http.Client) *WhisperBackend {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultWhisperEndpoint
	}
	if opts.Model == "" {
		opts.Model = DefaultWhisperModel
	}
	if opts.Language == "und" {
		opts.Language = ""
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &WhisperBackend{opts: opts, client: client}
}

func (b *WhisperBackend) Name() string { return WhisperBackendName }

type whisperResponse struct {
	Text string `json:"text"`
}

func (b *WhisperBackend) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f := newForm(wav)
	f.field("model", b.opts.Model)
	if b.opts.Language != "" {
		f.field("language", b.opts.Language)
	}
	if b.opts.Prompt != "" {
		f.field("prompt", b.opts.Prompt)
	}
	req, err := f.request(ctx, b.opts.Endpoint)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.opts.APIKey)

	var out whisperResponse
	if err := do(b.client, WhisperBackendName, req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}
