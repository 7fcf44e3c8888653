package cloud

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type capturedRequest struct {
	header http.Header
	fields map[string]string
	file   []byte
	name   string
	ctype  string
}

func captureServer(t *testing.T, status int, body string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.header = r.Header.Clone()
		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		file, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			got.name = fh.Filename
			got.ctype = fh.Header.Get("Content-Type")
			got.file, _ = io.ReadAll(file)
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWhisperBackendRequest(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusOK, `{"text":"namaste duniya"}`, &got)

	backend := NewWhisperBackend(WhisperOptions{
		APIKey:   "sk-test",
		Endpoint: srv.URL,
		Language: "hi",
		Prompt:   "Hinglish",
	}, srv.Client())
	wav := EncodeWAV([]int16{1, 2, 3}, SampleRate)
	text, err := backend.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "namaste duniya" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.header.Get("Authorization") != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", got.header.Get("Authorization"))
	}
	if got.fields["model"] != DefaultWhisperModel || got.fields["language"] != "hi" || got.fields["prompt"] != "Hinglish" {
		t.Fatalf("unexpected fields %v", got.fields)
	}
	if got.name != "audio.wav" || got.ctype != "audio/wav" {
		t.Fatalf("unexpected file part %q %q", got.name, got.ctype)
	}
	if string(got.file) != string(wav) {
		t.Fatal("uploaded audio differs from encoded wav")
	}
}

func TestWhisperBackendOmitsUndeterminedLanguage(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusOK, `{"text":"hi"}`, &got)

	backend := NewWhisperBackend(WhisperOptions{APIKey: "k", Endpoint: srv.URL, Language: "und"}, srv.Client())
	if _, err := backend.Transcribe(context.Background(), EncodeWAV(nil, SampleRate)); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if _, ok := got.fields["language"]; ok {
		t.Fatalf("expected language to be omitted, got %v", got.fields)
	}
	if _, ok := got.fields["prompt"]; ok {
		t.Fatalf("expected prompt to be omitted, got %v", got.fields)
	}
}

func TestWhisperBackendStatusError(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusUnauthorized, `{"error":"bad key"}`, &got)

	backend := NewWhisperBackend(WhisperOptions{APIKey: "bad", Endpoint: srv.URL}, srv.Client())
	_, err := backend.Transcribe(context.Background(), EncodeWAV([]int16{1}, SampleRate))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized || statusErr.Backend != WhisperBackendName {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestSarvamBackendRequest(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusOK, `{"transcript":"kya haal hai","language_code":"hi-IN"}`, &got)

	backend := NewSarvamBackend(SarvamOptions{APIKey: "sv-test", Endpoint: srv.URL}, srv.Client())
	text, err := backend.Transcribe(context.Background(), EncodeWAV([]int16{5}, SampleRate))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "kya haal hai" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.header.Get("api-subscription-key") != "sv-test" {
		t.Fatalf("unexpected key header %q", got.header.Get("api-subscription-key"))
	}
	if got.header.Get("Authorization") != "" {
		t.Fatal("sarvam requests must not carry a bearer token")
	}
	want := map[string]string{
		"model":           DefaultSarvamModel,
		"mode":            DefaultSarvamMode,
		"language_code":   SarvamAutoDetect,
		"with_timestamps": "false",
	}
	for k, v := range want {
		if got.fields[k] != v {
			t.Fatalf("field %s = %q, want %q", k, got.fields[k], v)
		}
	}
	if got.name != "audio.wav" || got.ctype != "audio/wav" {
		t.Fatalf("unexpected file part %q %q", got.name, got.ctype)
	}
}

func TestRecognizerAbsorbsHTTPFailure(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusInternalServerError, `oops`, &got)

	backend := NewSarvamBackend(SarvamOptions{APIKey: "k", Endpoint: srv.URL}, srv.Client())
	rec := NewRecognizer(backend, SarvamDefaultLocale)
	rec.AcceptWaveForm(make([]int16, 320), 320)
	if text := rec.FinalResult(context.Background()); text != "" {
		t.Fatalf("expected empty text on server error, got %q", text)
	}
	if rec.Buffered() != 0 {
		t.Fatalf("expected reset after server error, got %d", rec.Buffered())
	}
}

func TestHTTPClientTimeouts(t *testing.T) {
	client := NewHTTPClient()
	transport := client.Transport.(*http.Transport)
	if transport.ResponseHeaderTimeout != ReadTimeout || transport.TLSHandshakeTimeout != ConnectTimeout {
		t.Fatalf("unexpected transport timeouts %v %v", transport.ResponseHeaderTimeout, transport.TLSHandshakeTimeout)
	}
	if client.Timeout != ConnectTimeout+WriteTimeout+ReadTimeout {
		t.Fatalf("unexpected client timeout %v", client.Timeout)
	}
}

func TestRecognizerAbsorbsReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewHTTPClient()
	client.Transport.(*http.Transport).ResponseHeaderTimeout = 50 * time.Millisecond

	backend := NewWhisperBackend(WhisperOptions{APIKey: "k", Endpoint: srv.URL}, client)
	_, err := backend.Transcribe(context.Background(), EncodeWAV([]int16{1}, SampleRate))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected a timeout error, got %v", err)
	}

	rec := NewRecognizer(backend, SarvamDefaultLocale)
	rec.AcceptWaveForm(make([]int16, 320), 320)
	if text := rec.FinalResult(context.Background()); text != "" {
		t.Fatalf("expected empty text after timeout, got %q", text)
	}
	if rec.Buffered() != 0 {
		t.Fatalf("expected reset after timeout, got %d", rec.Buffered())
	}
	if full := rec.AcceptWaveForm(make([]int16, 10), 10); full || rec.Buffered() != 10 {
		t.Fatal("expected a fresh buffer after timeout")
	}
}
