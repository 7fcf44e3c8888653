package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/loqa-dictate/internal/dictation"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

// api serves model management and transcript history.
type api struct {
	svc   *dictation.Service
	store *store.Store
	log   *slog.Logger
}

func (a *api) routes(r chi.Router) {
	r.Get("/models", a.listModels)
	r.Put("/models/order", a.setOrder)
	r.Post("/models/select", a.selectModel)
	r.Get("/state", a.state)
	r.Get("/transcripts", a.transcripts)
}

type modelsResponse struct {
	Models   []recognition.ModelReference `json:"models"`
	Selected string                       `json:"selected,omitempty"`
}

func (a *api) modelsResponse(w http.ResponseWriter, models []recognition.ModelReference) {
	resp := modelsResponse{Models: models}
	if resp.Models == nil {
		resp.Models = []recognition.ModelReference{}
	}
	if st, err := a.svc.Status(); err == nil {
		resp.Selected = st.Model.Path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.svc.Models(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.modelsResponse(w, models)
}

func (a *api) setOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	models, err := a.svc.SetOrder(r.Context(), req.Order)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.modelsResponse(w, models)
}

func (a *api) selectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := a.svc.Select(r.Context(), req.Path); err != nil {
		a.fail(w, err)
		return
	}
	st, err := a.svc.Status()
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (a *api) state(w http.ResponseWriter, _ *http.Request) {
	st, err := a.svc.Status()
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) transcripts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := a.store.ListTranscripts(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if list == nil {
		list = []store.Transcript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": list})
}

func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dictation.ErrUnknownModel), errors.Is(err, dictation.ErrNoModel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dictation.ErrModelUnavailable), errors.Is(err, dictation.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.log.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
