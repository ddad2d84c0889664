// Package server exposes the story pipeline over HTTP.
//
// The JSON API drives the two-phase flow (generate, preview, confirm) and
// the post-production operations (voice swap, line preview). Media files are
// served statically from the media directory.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbleier/fabelwerk/internal/health"
	"github.com/tbleier/fabelwerk/internal/job"
	"github.com/tbleier/fabelwerk/internal/observe"
	"github.com/tbleier/fabelwerk/internal/orchestrator"
	"github.com/tbleier/fabelwerk/internal/scriptgen"
	"github.com/tbleier/fabelwerk/internal/storystore"
	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/tts"
)

// Server wires the HTTP surface to the orchestrator.
type Server struct {
	orch          *orchestrator.Orchestrator
	health        *health.Handler
	metrics       *observe.Metrics
	mediaDir      string
	publicBaseURL string
}

// Config bundles the Server's collaborators.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Handler
	Metrics      *observe.Metrics
	MediaDir     string

	// PublicBaseURL prefixes media links in responses. Empty renders them
	// relative.
	PublicBaseURL string
}

// New creates a Server.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		orch:          cfg.Orchestrator,
		health:        cfg.Health,
		metrics:       m,
		mediaDir:      cfg.MediaDir,
		publicBaseURL: cfg.PublicBaseURL,
	}
}

// Handler builds the full route table wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/generate/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/status/{id}/ws", s.handleStatusWS)
	mux.HandleFunc("POST /api/preview-line", s.handlePreviewLine)
	mux.HandleFunc("POST /api/stories/{id}/swap-voice", s.handleSwapVoice)
	mux.HandleFunc("GET /api/stories/{id}", s.handleGetStory)
	mux.HandleFunc("GET /api/voices", s.handleVoices)

	mux.Handle("GET /media/", http.StripPrefix("/media/",
		http.FileServer(http.Dir(s.mediaDir))))

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// generateRequest is the POST /api/generate body.
type generateRequest struct {
	Prompt     string                    `json:"prompt"`
	AgeGroup   string                    `json:"age_group,omitempty"`
	Characters []scriptgen.CharacterHint `json:"characters,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid JSON body: %v", err))
		return
	}

	id, err := s.orch.Submit(r.Context(), orchestrator.SubmitRequest{
		Prompt:         req.Prompt,
		AgeGroup:       req.AgeGroup,
		CharacterHints: req.Characters,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         id,
		"status_url": "/api/status/" + id,
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Confirm(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         id,
		"status_url": "/api/status/" + id,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusView(st))
}

// previewLineRequest is the POST /api/preview-line body. Settings and the
// surrounding-text fields are optional.
type previewLineRequest struct {
	Text         string       `json:"text"`
	VoiceID      string       `json:"voice_id"`
	Settings     tts.Settings `json:"voice_settings"`
	PreviousText string       `json:"previous_text,omitempty"`
	NextText     string       `json:"next_text,omitempty"`
}

func (s *Server) handlePreviewLine(w http.ResponseWriter, r *http.Request) {
	var req previewLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid JSON body: %v", err))
		return
	}

	audio, err := s.orch.PreviewLine(r.Context(), tts.Request{
		Text:         req.Text,
		VoiceID:      req.VoiceID,
		Settings:     req.Settings,
		PreviousText: req.PreviousText,
		NextText:     req.NextText,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Debug("preview-line write aborted", "error", err)
	}
}

// swapVoiceRequest is the POST /api/stories/{id}/swap-voice body.
type swapVoiceRequest struct {
	Character string `json:"character"`
	VoiceID   string `json:"voice_id"`
}

func (s *Server) handleSwapVoice(w http.ResponseWriter, r *http.Request) {
	var req swapVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid JSON body: %v", err))
		return
	}

	st, err := s.orch.SwapVoice(r.Context(), r.PathValue("id"), req.Character, req.VoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusView(st))
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if st.State != job.StateDone {
		writeError(w, fault.NotFoundf("story %s is not finished", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, s.statusView(st))
}

// voiceView is one entry of the GET /api/voices listing.
type voiceView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	all := s.orch.Catalog().All()
	views := make([]voiceView, 0, len(all))
	for _, v := range all {
		views = append(views, voiceView{
			ID:          v.ID,
			DisplayName: v.DisplayName,
			Description: v.Description,
			Category:    string(v.Category),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": views})
}

// statusView is the wire shape of a story status.
type statusView struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`

	Title    string            `json:"title,omitempty"`
	Preview  *previewView      `json:"preview,omitempty"`
	AudioURL string            `json:"audio_url,omitempty"`
	CoverURL string            `json:"cover_url,omitempty"`
}

// previewView carries the draft script and its voice plan.
type previewView struct {
	Title    string            `json:"title"`
	Summary  string            `json:"summary,omitempty"`
	Script   any               `json:"script"`
	VoiceMap map[string]string `json:"voice_map"`
}

func (s *Server) statusView(st *orchestrator.Status) statusView {
	v := statusView{
		ID:       st.ID,
		State:    string(st.State),
		Progress: st.Progress,
		Error:    st.Error,
		Title:    st.Title,
		AudioURL: s.mediaURL(st.AudioPath),
		CoverURL: s.mediaURL(st.CoverPath),
	}
	if st.Preview != nil {
		v.Preview = s.previewOf(st.Preview)
		v.Title = st.Preview.Script.Title
	}
	return v
}

func (s *Server) previewOf(d *storystore.Draft) *previewView {
	return &previewView{
		Title:    d.Script.Title,
		Summary:  d.Script.Summary,
		Script:   d.Script,
		VoiceMap: d.VoiceMap,
	}
}

// mediaURL maps an on-disk media path to its public URL.
func (s *Server) mediaURL(path string) string {
	if path == "" {
		return ""
	}
	return s.publicBaseURL + "/media/" + filepath.Base(path)
}

// errorBody renders an error as the standard JSON error shape.
func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// writeError maps the fault taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, fault.ErrConfiguration):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody(err))
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
