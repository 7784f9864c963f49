package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/voxrelay/voxrelay/internal/asr"
	"github.com/voxrelay/voxrelay/internal/audio"
	"github.com/voxrelay/voxrelay/internal/pipeline"
)

// chatControls are the knobs shared by every conversational endpoint. They
// may arrive in the JSON body or as query parameters; the query wins when
// both are present.
type chatControls struct {
	Session string `json:"session"`
	Model   string `json:"llm_model"`
	System  string `json:"system"`
	Reset   bool   `json:"reset"`
}

type llmRequest struct {
	Text string `json:"text"`
	chatControls
}

type llmResponse struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	Session  string `json:"session"`
	Model    string `json:"model"`
	User     string `json:"user"`
	Reply    string `json:"reply"`
}

func mergeControls(r *http.Request, body chatControls) chatControls {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("session")); v != "" {
		body.Session = v
	}
	if v := strings.TrimSpace(q.Get("llm_model")); v != "" {
		body.Model = v
	}
	if v := strings.TrimSpace(q.Get("system")); v != "" {
		body.System = v
	}
	if v := strings.ToLower(strings.TrimSpace(q.Get("reset"))); v != "" {
		body.Reset = v == "1" || v == "true" || v == "yes"
	}
	return body
}

func toChatResponse(res pipeline.ChatResult) llmResponse {
	return llmResponse{
		OK:       true,
		Provider: res.Provider,
		Session:  res.Session,
		Model:    res.Model,
		User:     res.User,
		Reply:    res.Reply,
	}
}

func (s *Server) handleLLMUsage(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"usage":  "POST JSON {\"text\": \"...\"} to run one conversation turn",
		"params": []string{"session", "llm_model", "system", "reset"},
	})
}

func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	var body llmRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		s.countRequest("/llm", "chat", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctl := mergeControls(r, body.chatControls)

	res, err := s.pipe.Chat(r.Context(), pipeline.ChatRequest{
		Session: ctl.Session,
		Model:   ctl.Model,
		System:  ctl.System,
		Reset:   ctl.Reset,
		Text:    body.Text,
	})
	if err != nil {
		s.countRequest("/llm", "chat", "error")
		s.respondPipelineError(w, err)
		return
	}
	s.countRequest("/llm", "chat", "ok")
	respondJSON(w, http.StatusOK, toChatResponse(res))
}

func (s *Server) handleTranscribeUsage(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"usage":  "POST raw audio bytes; the response is multipart/mixed with a JSON part and an audio part",
		"params": []string{"return (original|tts|none|llm_tts)", "voice", "session", "llm_model", "system", "reset"},
	})
}

// transcribeDoc is the JSON part of the mixed response. LLM is an explicit
// null unless a completion ran, so clients can key off the field directly.
type transcribeDoc struct {
	OK         bool           `json:"ok"`
	Transcript asr.Transcript `json:"transcript"`
	LLM        *llmResponse   `json:"llm"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	mode, err := pipeline.ParseReturnMode(r.URL.Query().Get("return"))
	if err != nil {
		s.countRequest("/transcribe", "invalid", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	audioBytes, ok := s.readAudio(w, r, string(mode))
	if !ok {
		return
	}
	ctl := mergeControls(r, chatControls{})

	res, err := s.pipe.Voice(r.Context(), pipeline.VoiceRequest{
		Audio:       audioBytes,
		ContentType: r.Header.Get("Content-Type"),
		Mode:        mode,
		Voice:       strings.TrimSpace(r.URL.Query().Get("voice")),
		Session:     ctl.Session,
		Model:       ctl.Model,
		System:      ctl.System,
		Reset:       ctl.Reset,
	})
	if err != nil {
		s.countRequest("/transcribe", string(mode), "error")
		s.respondPipelineError(w, err)
		return
	}

	doc := transcribeDoc{OK: true, Transcript: res.Transcript}
	if res.Chat != nil {
		llmDoc := toChatResponse(*res.Chat)
		doc.LLM = &llmDoc
	}

	if mode == pipeline.ReturnNone {
		s.countRequest("/transcribe", string(mode), "ok")
		respondJSON(w, http.StatusOK, doc)
		return
	}

	s.countRequest("/transcribe", string(mode), "ok")
	s.writeMixed(w, doc, res.Audio, res.AudioContentType)
}

func (s *Server) handleLLMTTS(w http.ResponseWriter, r *http.Request) {
	voice := strings.TrimSpace(r.URL.Query().Get("voice"))
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))

	// A JSON body carries the user text directly; anything else is treated
	// as recorded audio and transcribed first.
	if strings.HasPrefix(strings.ToLower(contentType), "application/json") {
		var body llmRequest
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
			s.countRequest("/llm_tts", "text", "bad_request")
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		ctl := mergeControls(r, body.chatControls)
		if strings.TrimSpace(body.Text) == "" {
			s.countRequest("/llm_tts", "text", "bad_request")
			respondError(w, http.StatusBadRequest, "invalid_request", "text must not be empty")
			return
		}

		_, audioOut, audioType, err := s.pipe.ChatSpeak(r.Context(), pipeline.ChatRequest{
			Session: ctl.Session,
			Model:   ctl.Model,
			System:  ctl.System,
			Reset:   ctl.Reset,
			Text:    body.Text,
		}, voice)
		if err != nil {
			s.countRequest("/llm_tts", "text", "error")
			s.respondPipelineError(w, err)
			return
		}
		s.countRequest("/llm_tts", "text", "ok")
		writeAudio(w, audioOut, audioType)
		return
	}

	audioBytes, ok := s.readAudio(w, r, "audio")
	if !ok {
		return
	}
	ctl := mergeControls(r, chatControls{})

	res, err := s.pipe.Voice(r.Context(), pipeline.VoiceRequest{
		Audio:       audioBytes,
		ContentType: contentType,
		Mode:        pipeline.ReturnLLMTTS,
		Voice:       voice,
		Session:     ctl.Session,
		Model:       ctl.Model,
		System:      ctl.System,
		Reset:       ctl.Reset,
	})
	if err != nil {
		s.countRequest("/llm_tts", "audio", "error")
		s.respondPipelineError(w, err)
		return
	}
	s.countRequest("/llm_tts", "audio", "ok")
	writeAudio(w, res.Audio, res.AudioContentType)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		s.countRequest("/tts", "speak", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter text is required")
		return
	}

	audioOut, audioType, err := s.pipe.Speak(r.Context(), strings.TrimSpace(r.URL.Query().Get("voice")), text)
	if err != nil {
		s.countRequest("/tts", "speak", "error")
		s.respondPipelineError(w, err)
		return
	}
	s.countRequest("/tts", "speak", "ok")
	writeAudio(w, audioOut, audioType)
}

// readAudio drains the upload with the size cap applied. It writes the error
// response itself so handlers can just bail out.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request, mode string) ([]byte, bool) {
	defer r.Body.Close()
	if ct := r.Header.Get("Content-Type"); !audio.IsAudio(ct) {
		s.countRequest(r.URL.Path, mode, "bad_request")
		respondError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected an audio body, got "+ct)
		return nil, false
	}
	audioBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		s.countRequest(r.URL.Path, mode, "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read audio body: "+err.Error())
		return nil, false
	}
	if len(audioBytes) == 0 {
		s.countRequest(r.URL.Path, mode, "bad_request")
		respondError(w, http.StatusBadRequest, "invalid_request", "audio body must not be empty")
		return nil, false
	}
	return audioBytes, true
}

// writeMixed frames the JSON document and the audio bytes as one
// multipart/mixed body. The boundary rides both in the Content-Type and in
// X-Boundary so thin clients can split without a header parser.
func (s *Server) writeMixed(w http.ResponseWriter, doc transcribeDoc, audioBytes []byte, audioType string) {
	jsonBody, err := json.Marshal(doc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	boundary := strings.ReplaceAll(uuid.NewString(), "-", "")
	payload := pipeline.EncodeMultipart(boundary, []pipeline.Part{
		{ContentType: "application/json", Body: jsonBody},
		{ContentType: audioType, Body: audioBytes},
	})

	w.Header().Set("Content-Type", pipeline.MultipartContentType(boundary))
	w.Header().Set("X-Boundary", boundary)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeAudio(w http.ResponseWriter, audioBytes []byte, audioType string) {
	if strings.TrimSpace(audioType) == "" {
		audioType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", audioType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audioBytes)
}
