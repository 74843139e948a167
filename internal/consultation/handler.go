package consultation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"drcare/internal/agent"
	"drcare/internal/history"
	"drcare/internal/report"
	"drcare/internal/session"
	"drcare/internal/voice"
)

const maxUpload = 10 << 20

type Handler struct {
	svc  *Service
	feed http.Handler
	mic  *voice.PushSource
	log  zerolog.Logger
}

// NewHandler exposes svc over HTTP. feed serves the websocket and mic
// receives recorded clips; either may be nil.
func NewHandler(svc *Service, feed http.Handler, mic *voice.PushSource, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, feed: feed, mic: mic, log: log.With().Str("component", "http").Logger()}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type firstAidRequest struct {
	ID string `json:"id"`
}

type micPermissionRequest struct {
	Allowed bool `json:"allowed"`
}

type bodyPartRequest struct {
	Part    string `json:"part"`
	Symptom string `json:"symptom"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var p session.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Start(r.Context(), p); err != nil {
		h.fail(w, err)
		return
	}
	h.writeView(w, r, http.StatusCreated)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, r, http.StatusOK)
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		http.Error(w, "Live feed disabled", http.StatusNotFound)
		return
	}
	h.feed.ServeHTTP(w, r)
}

func (h *Handler) SelectMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, r, h.svc.SelectMode(r.Context(), mode))
}

func (h *Handler) ResetMode(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.ResetMode(r.Context()))
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.Send(r.Context(), req.Text))
}

func (h *Handler) ToggleMic(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.ToggleMic(r.Context()))
}

// MicAudio receives the clip recorded for the capture session in progress.
func (h *Handler) MicAudio(w http.ResponseWriter, r *http.Request) {
	if h.mic == nil {
		http.Error(w, "Voice capture disabled", http.StatusNotFound)
		return
	}
	data, _, err := readUpload(r, "audio")
	if err != nil {
		http.Error(w, "Error retrieving audio file", http.StatusBadRequest)
		return
	}
	if err := h.mic.Push(data); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// MicPermission records whether the browser was granted microphone access.
// While blocked, capture sessions fail with a permission notice.
func (h *Handler) MicPermission(w http.ResponseWriter, r *http.Request) {
	if h.mic == nil {
		http.Error(w, "Voice capture disabled", http.StatusNotFound)
		return
	}
	var req micPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.mic.Deny(!req.Allowed)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StopSpeaking(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.StopSpeaking(r.Context()))
}

func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	data, img, err := readUpload(r, "file")
	if err != nil {
		http.Error(w, "Error retrieving file", http.StatusBadRequest)
		return
	}
	img.Data = data
	h.respond(w, r, h.svc.SelectFile(r.Context(), img))
}

func (h *Handler) SelectFirstAid(w http.ResponseWriter, r *http.Request) {
	var req firstAidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.SelectFirstAid(r.Context(), req.ID))
}

func (h *Handler) ReportBodyPart(w http.ResponseWriter, r *http.Request) {
	var req bodyPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Part == "" || req.Symptom == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.ReportBodyPart(r.Context(), req.Part, req.Symptom))
}

func (h *Handler) DownloadPanel(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.DownloadPanel(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeDocument(w, doc)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []session.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) ExportRecord(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.ExportRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeDocument(w, doc)
}

func (h *Handler) ShareRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ShareRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) HistorySheet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.HistorySheet(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeDocument(w, doc)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	img, ok := h.svc.Preview(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if img.ContentType != "" {
		w.Header().Set("Content-Type", img.ContentType)
	}
	w.Write(img.Data)
}

// requireProfile is the entry gate: nothing but the profile form is usable
// until a profile exists.
func (h *Handler) requireProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := h.svc.HasProfile(r.Context())
		if err != nil {
			h.fail(w, err)
			return
		}
		if !ok {
			http.Error(w, ErrNoProfile.Error(), http.StatusPreconditionRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeView(w, r, http.StatusOK)
}

func (h *Handler) writeView(w http.ResponseWriter, r *http.Request, status int) {
	v, err := h.svc.View(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, status, v)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownMode), errors.Is(err, session.ErrUnknownFirstAid):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrProfileExists), errors.Is(err, session.ErrStalePanel),
		errors.Is(err, ErrNothingToExport), errors.Is(err, voice.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, report.ErrSharingDisabled), errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readUpload(r *http.Request, field string) ([]byte, agent.Image, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, agent.Image{}, err
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, agent.Image{}, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return nil, agent.Image{}, err
	}
	return buf.Bytes(), agent.Image{Name: header.Filename, ContentType: header.Header.Get("Content-Type")}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDocument(w http.ResponseWriter, doc report.Document) {
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	w.Write(doc.Data)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/session", h.StartSession)
	r.Get("/state", h.State)
	r.Get("/ws", h.Feed)
	r.Get("/history", h.ListHistory)
	r.Get("/history/sheet", h.HistorySheet)
	r.Get("/history/{id}/pdf", h.ExportRecord)
	r.Post("/history/{id}/share", h.ShareRecord)
	r.Get("/previews/{id}", h.Preview)

	r.Group(func(r chi.Router) {
		r.Use(h.requireProfile)
		r.Post("/mode", h.SelectMode)
		r.Post("/mode/reset", h.ResetMode)
		r.Post("/messages", h.SendMessage)
		r.Post("/mic", h.ToggleMic)
		r.Post("/mic/audio", h.MicAudio)
		r.Post("/mic/permission", h.MicPermission)
		r.Post("/speech/stop", h.StopSpeaking)
		r.Post("/files", h.UploadFile)
		r.Post("/firstaid", h.SelectFirstAid)
		r.Post("/bodymap", h.ReportBodyPart)
		r.Get("/panel/download", h.DownloadPanel)
	})
}
