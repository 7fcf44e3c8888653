package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"time"
)

const (
	ConnectTimeout = 30 * time.Second
	ReadTimeout    = 60 * time.Second
	WriteTimeout   = 60 * time.Second
)

// Backend performs one transcription request for a WAV payload.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// StatusError is returned for non-2xx transcription responses.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Backend, e.Code, e.Body)
}

// NewHTTPClient returns a client bounded by the connect, write and read
// timeouts. The overall deadline covers a full write followed by a full read.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   ConnectTimeout + WriteTimeout + ReadTimeout,
	}
}

// form builds a multipart body with the audio attached as file=audio.wav.
type form struct {
	buf    bytes.Buffer
	writer *multipart.Writer
	err    error
}

func newForm(wav []byte) *form {
	f := &form{}
	f.writer = multipart.NewWriter(&f.buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	h.Set("Content-Type", "audio/wav")
	part, err := f.writer.CreatePart(h)
	if err != nil {
		f.err = fmt.Errorf("create form file: %w", err)
		return f
	}
	if _, err := part.Write(wav); err != nil {
		f.err = fmt.Errorf("write audio data: %w", err)
	}
	return f
}

func (f *form) field(name, value string) {
	if f.err != nil {
		return
	}
	if err := f.writer.WriteField(name, value); err != nil {
		f.err = fmt.Errorf("write field %s: %w", name, err)
	}
}

// request finalizes the body and builds a POST to url.
func (f *form) request(ctx context.Context, url string) (*http.Request, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &f.buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", f.writer.FormDataContentType())
	return req, nil
}

// do sends req and decodes a JSON body into out.
func do(client *http.Client, backend string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Backend: backend, Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", backend, err)
	}
	return nil
}
