package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/dictation"
)

// wsMessage is the JSON envelope for text frames in both directions.
type wsMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	wsTypeReady  = "ready"
	wsTypeStop   = "stop"
	wsTypeCancel = "cancel"
	wsTypeFinal  = "final"
	wsTypeError  = "error"
)

// dictateHandler accepts PCM16LE audio as binary messages. A text
// {"type":"stop"} finalizes the utterance and is answered with
// {"type":"final","text":...}. The sample rate of the client audio is taken
// from the sample_rate query parameter.
type dictateHandler struct {
	svc      *dictation.Service
	upgrader websocket.Upgrader
	maxBytes int64
	log      *slog.Logger
}

func newDictateHandler(svc *dictation.Service, maxBytes int, log *slog.Logger) *dictateHandler {
	return &dictateHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxBytes: int64(maxBytes),
		log:      log.With(slog.String("component", "ws-dictate")),
	}
}

func (h *dictateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inRate := 0
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid sample_rate", http.StatusBadRequest)
			return
		}
		inRate = n
	}
	sessionID := q.Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	log := h.log.With(slog.String("session_id", sessionID))
	log.Info("dictation session opened")
	defer func() {
		if err := h.svc.Cancel(sessionID); err != nil {
			log.Debug("cancel on close skipped", slog.String("error", err.Error()))
		}
		log.Info("dictation session closed")
	}()

	if err := conn.WriteJSON(wsMessage{Type: wsTypeReady, SessionID: sessionID}); err != nil {
		return
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if !h.feed(r, conn, sessionID, inRate, data) {
				return
			}
		case websocket.TextMessage:
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				if conn.WriteJSON(wsMessage{Type: wsTypeError, Error: "invalid message"}) != nil {
					return
				}
				continue
			}
			switch msg.Type {
			case wsTypeStop:
				if !h.finalize(r, conn, sessionID) {
					return
				}
			case wsTypeCancel:
				if err := h.svc.Cancel(sessionID); err != nil {
					if conn.WriteJSON(wsMessage{Type: wsTypeError, Error: err.Error()}) != nil {
						return
					}
				}
			default:
				if conn.WriteJSON(wsMessage{Type: wsTypeError, Error: "unknown message type"}) != nil {
					return
				}
			}
		}
	}
}

// feed returns false when the connection should be closed.
func (h *dictateHandler) feed(r *http.Request, conn *websocket.Conn, sessionID string, inRate int, data []byte) bool {
	samples, err := audio.PCM16LE(data)
	if err != nil {
		return conn.WriteJSON(wsMessage{Type: wsTypeError, Error: err.Error()}) == nil
	}
	if inRate > 0 {
		if rate, err := h.svc.SampleRate(); err == nil {
			samples = audio.Resample(samples, inRate, rate)
		}
	}
	full, err := h.svc.Feed(sessionID, samples)
	if err != nil {
		return conn.WriteJSON(wsMessage{Type: wsTypeError, Error: err.Error()}) == nil
	}
	if full {
		return h.finalize(r, conn, sessionID)
	}
	return true
}

func (h *dictateHandler) finalize(r *http.Request, conn *websocket.Conn, sessionID string) bool {
	tr, err := h.svc.Finalize(r.Context(), sessionID)
	if err != nil {
		return conn.WriteJSON(wsMessage{Type: wsTypeError, Error: err.Error()}) == nil
	}
	return conn.WriteJSON(wsMessage{Type: wsTypeFinal, SessionID: sessionID, ID: tr.ID, Text: tr.Text}) == nil
}
