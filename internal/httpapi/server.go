package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/internal/archive"
	"github.com/voxrelay/voxrelay/internal/asr"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/llm"
	"github.com/voxrelay/voxrelay/internal/observability"
	"github.com/voxrelay/voxrelay/internal/pipeline"
	"github.com/voxrelay/voxrelay/internal/tts"
)

// maxAudioBytes caps uploaded audio bodies.
const maxAudioBytes = 32 << 20

type Server struct {
	cfg       config.Config
	pipe      *pipeline.Orchestrator
	exchanges archive.Store
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, pipe *pipeline.Orchestrator, exchanges archive.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		pipe:      pipe,
		exchanges: exchanges,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/llm", s.handleLLMUsage)
	r.Post("/llm", s.handleLLM)
	r.Get("/transcribe", s.handleTranscribeUsage)
	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/llm_tts", s.handleLLMTTS)
	r.Get("/tts", s.handleTTS)

	r.Get("/v1/exchanges", s.handleListExchanges)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	transcription := "unconfigured"
	if s.pipe.Transcribing() {
		transcription = "ready"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"transcription": transcription,
	})
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}

	recs, err := s.exchanges.RecentExchanges(r.Context(), strings.TrimSpace(r.URL.Query().Get("session")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	if recs == nil {
		recs = []archive.Exchange{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"exchanges": recs,
	})
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		// Plain io.EOF means no token was consumed at all; a truncated
		// document surfaces as io.ErrUnexpectedEOF and stays a decode error.
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// classifyError maps pipeline failures to an HTTP status and error code.
// Missing configuration is the deployment's fault, upstream rejections are
// the remote service's, and deadline hits get their own code so clients can
// retry sensibly.
func classifyError(err error) (int, string) {
	var lup *llm.UpstreamError
	var tup *tts.UpstreamError
	var eng *asr.EngineError
	switch {
	case errors.Is(err, llm.ErrNoAPIKey), errors.Is(err, asr.ErrNotConfigured):
		return http.StatusInternalServerError, "not_configured"
	case errors.As(err, &lup), errors.As(err, &tup):
		return http.StatusBadGateway, "upstream_error"
	case errors.As(err, &eng):
		return http.StatusInternalServerError, "engine_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	respondError(w, status, code, err.Error())
}

func (s *Server) countRequest(endpoint, mode, outcome string) {
	s.metrics.Requests.WithLabelValues(endpoint, mode, outcome).Inc()
}
