package cloud

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

const (
	SarvamBackendName     = "sarvam"
	DefaultSarvamEndpoint = "https://api.sarvam.ai/speech-to-text"
	DefaultSarvamModel    = "saaras:v3"
	DefaultSarvamMode     = "translit"
	// SarvamAutoDetect asks the service to detect the spoken language.
	SarvamAutoDetect = "unknown"
)

// SarvamDefaultLocale is the locale reported for Hinglish output.
var SarvamDefaultLocale = language.MustParse("en-IN")

// SarvamOptions are the request parameters of the Sarvam-style backend.
type SarvamOptions struct {
	APIKey       string
	Endpoint     string
	Model        string
	Mode         string
	LanguageCode string
}

// SarvamBackend talks to the Sarvam speech-to-text endpoint.
type SarvamBackend struct {
	opts   SarvamOptions
	client *http.Client
}

func NewSarvamBackend(opts SarvamOptions, client *http.Client) *SarvamBackend {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultSarvamEndpoint
	}
	if opts.Model == "" {
		opts.Model = DefaultSarvamModel
	}
	if opts.Mode == "" {
		opts.Mode = DefaultSarvamMode
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = SarvamAutoDetect
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &SarvamBackend{opts: opts, client: client}
}

func (b *SarvamBackend) Name() string { return SarvamBackendName }

type sarvamResponse struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code,omitempty"`
}

func (b *SarvamBackend) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f := newForm(wav)
	f.field("model", b.opts.Model)
	f.field("mode", b.opts.Mode)
	f.field("language_code", b.opts.LanguageCode)
	f.field("with_timestamps", "false")
	req, err := f.request(ctx, b.opts.Endpoint)
	if err != nil {
		return "", err
	}
	req.Header.Set("api-subscription-key", b.opts.APIKey)

	var out sarvamResponse
	if err := do(b.client, SarvamBackendName, req, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}
