package consultation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"medical-interview-agent/internal/observability"
)

type Handler struct {
	svc      Service
	upgrader websocket.Upgrader
}

func NewHandler(svc Service) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS is open for the frontend, so is the socket.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type CreateConsultationRequest struct {
	PatientID string `json:"patient_id"`
	Symptoms  string `json:"symptoms"`
}

type ChatRequest struct {
	ConsultationID string `json:"consultation_id"`
	Text           string `json:"text"`
}

type TTSRequest struct {
	Text string `json:"text"`
}

type TurnResponse struct {
	Text        string   `json:"text,omitempty"`
	Response    string   `json:"response"`
	AudioBase64 string   `json:"audio_base64,omitempty"`
	State       Snapshot `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrComplete):
		status = http.StatusConflict
	case errors.Is(err, ErrOracle):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// lastAssistantText is what the patient should hear or read next.
func lastAssistantText(s Snapshot) string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i].Text
		}
	}
	return ""
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	snap, err := h.svc.CreateConsultation(r.Context(), req.PatientID, req.Symptoms)
	if err != nil && !errors.Is(err, ErrOracle) {
		writeError(w, err)
		return
	}
	resp := map[string]any{
		"consultation_id": snap.ID.String(),
		"response":        lastAssistantText(snap),
		"state":           snap,
	}
	if err != nil {
		// The session exists; the symptoms just need resubmitting.
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.ConsultationID)
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return
	}

	snap, err := h.svc.Submit(r.Context(), id, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TurnResponse{Response: lastAssistantText(snap), State: snap})
}

func (h *Handler) HandleAudioUpload(w http.ResponseWriter, r *http.Request) {
	// Limit upload size (e.g. 10MB)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(r.FormValue("consultation_id"))
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Error retrieving audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		http.Error(w, "Failed to read audio file", http.StatusInternalServerError)
		return
	}

	// 1. Transcribe
	text, err := h.svc.TranscribeAudio(r.Context(), buf.Bytes())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	// 2. Process as if it was text input; silence is ignored by the engine
	snap, err := h.svc.Submit(r.Context(), id, text)
	if err != nil {
		writeError(w, err)
		return
	}
	response := lastAssistantText(snap)

	// 3. Generate TTS immediately to save roundtrip time
	var audioBase64 string
	if text != "" && response != "" {
		if audio, err := h.svc.SynthesizeSpeech(r.Context(), response); err == nil {
			audioBase64 = base64.StdEncoding.EncodeToString(audio)
		} else {
			observability.LoggerFromContext(r.Context()).Warn("tts failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, TurnResponse{Text: text, Response: response, AudioBase64: audioBase64, State: snap})
}

func (h *Handler) HandleTTS(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	audioData, err := h.svc.SynthesizeSpeech(r.Context(), req.Text)
	if err != nil {
		http.Error(w, "TTS failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(audioData)
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.State(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return
	}
	o, err := h.svc.Outcome(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleSpeech upgrades to a WebSocket and attaches it as the session's speech adapter.
// When the socket closes the session falls back to manual text entry.
func (h *Handler) HandleSpeech(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.State(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	adapter := NewWSSpeechAdapter(conn, h.svc.SynthesizeSpeech)
	defer adapter.Close()

	ctx := observability.WithConsultation(r.Context(), id.String())
	events, err := h.svc.AttachSpeech(id, adapter)
	if err != nil {
		_ = adapter.Send(MsgError, map[string]string{"message": err.Error()})
		return
	}
	defer h.svc.DetachSpeech(id, adapter)

	pushState := func() {
		snap, err := h.svc.State(ctx, id)
		if err != nil {
			return
		}
		if snap.Status == StatusComplete {
			_ = adapter.Send(MsgComplete, map[string]string{"summary": snap.Summary})
			return
		}
		_ = adapter.Send(MsgState, snap)
	}
	pushState()
	adapter.Serve(ctx, events, h.svc.TranscribeAudio, pushState)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/consultation", h.CreateConsultation)
	r.Post("/consultation/chat", h.HandleChat)
	r.Post("/consultation/audio", h.HandleAudioUpload)
	r.Get("/consultation/{id}", h.GetState)
	r.Get("/consultation/{id}/outcome", h.GetOutcome)
	r.Get("/consultation/{id}/speech", h.HandleSpeech)
	r.Post("/tts", h.HandleTTS)
}
