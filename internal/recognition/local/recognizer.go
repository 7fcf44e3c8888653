package local

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
)

// Recognizer buffers an utterance and hands it to a Command on finalize.
type Recognizer struct {
	cmd     *Command
	locale  language.Tag
	timeout time.Duration
	buf     *cloud.Buffer
	last    string
	log     *slog.Logger
}

func NewRecognizer(cmd *Command, locale language.Tag, timeout time.Duration, log *slog.Logger) *Recognizer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recognizer{
		cmd:     cmd,
		locale:  locale,
		timeout: timeout,
		buf:     cloud.NewBuffer(cloud.BufferCapacity),
		log:     log,
	}
}

var _ recognition.Recognizer = (*Recognizer)(nil)

func (r *Recognizer) SampleRate() int { return cloud.SampleRate }

func (r *Recognizer) Locale() language.Tag { return r.locale }

func (r *Recognizer) AcceptWaveForm(samples []int16, n int) bool {
	if _, filled := r.buf.Write(samples, n); filled {
		r.log.Info("audio buffer full", slog.Int("samples", r.buf.Capacity()))
	}
	return r.buf.Full()
}

func (r *Recognizer) Reset() {
	r.buf.Reset()
	r.last = ""
}

// Result returns the text of the previous utterance.
func (r *Recognizer) Result() string { return r.last }

func (r *Recognizer) PartialResult() string {
	if r.buf.Position() > cloud.SampleRate/2 {
		return cloud.PartialPlaceholder
	}
	return ""
}

func (r *Recognizer) FinalResult(ctx context.Context) string {
	if r.buf.Position() == 0 {
		return ""
	}
	defer r.buf.Reset()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	text, err := r.cmd.Run(ctx, r.buf.Samples(), cloud.SampleRate)
	if err != nil {
		r.log.Warn("local transcription failed", slog.String("error", err.Error()))
		return ""
	}
	r.last = recognition.RemoveSpaceForLocale(strings.TrimSpace(text), r.locale)
	return r.last
}
