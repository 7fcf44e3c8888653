package protocol

import "time"

// AudioFrame carries PCM16LE audio for a dictation session. Final marks the
// end of the utterance and may carry no samples.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is recognizer output broadcast on the bus.
type Transcript struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	ModelPath string    `json:"model_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceState reports a lifecycle change of the active recognizer source.
type SourceState struct {
	ModelPath string    `json:"model_path"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectSourceState       = "stt.source.state"

	// StreamTranscripts retains final transcripts when JetStream is enabled.
	StreamTranscripts = "DICTATION_TRANSCRIPTS"
)

// AudioFrameSubject is the subject a session publishes its frames on.
func AudioFrameSubject(sessionID string) string {
	return SubjectAudioFramePrefix + "." + sessionID
}
