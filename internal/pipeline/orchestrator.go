// Package pipeline chains the relay stages for one exchange: optional
// transcription, optional completion, optional synthesis, and the framing of
// the mixed response body.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/internal/archive"
	"github.com/voxrelay/voxrelay/internal/asr"
	"github.com/voxrelay/voxrelay/internal/llm"
	"github.com/voxrelay/voxrelay/internal/observability"
	"github.com/voxrelay/voxrelay/internal/session"
	"github.com/voxrelay/voxrelay/internal/tts"
)

// DefaultSessionKey is used when a request names no session.
const DefaultSessionKey = "default"

// baselineDirective is always appended after any caller-supplied system
// directive. Replies may be spoken aloud, so markup is off the table.
const baselineDirective = "Keep replies short and conversational. Use plain sentences only: no markdown, no lists, no emoji."

// fallbackSpeech is spoken whenever the pipeline would otherwise hand empty
// text to synthesis.
const fallbackSpeech = "I did not catch that."

// Transcriber turns recorded audio into a transcript document.
type Transcriber interface {
	Configured() bool
	Transcribe(ctx context.Context, audioBytes []byte, contentTypeHint string) (asr.Transcript, error)
}

// Completer produces one assistant reply for a composed prompt.
type Completer interface {
	Provider() string
	Complete(ctx context.Context, model, systemText string, msgs []session.Message, params llm.GenParams) (string, error)
}

// Synthesizer renders text to audio bytes plus their content type.
type Synthesizer interface {
	Synthesize(ctx context.Context, voice, text string) ([]byte, string, error)
}

// Timeouts bound each upstream stage independently. Zero means unbounded.
type Timeouts struct {
	Transcribe time.Duration
	Complete   time.Duration
	Synthesize time.Duration
}

// Settings are the fixed per-process knobs of the pipeline.
type Settings struct {
	DefaultModel string
	DefaultVoice string
	Timeouts     Timeouts
}

// Orchestrator drives the stages. Adapters are injected so tests swap in
// fakes without touching the network or spawning processes.
type Orchestrator struct {
	sessions  *session.Store
	stt       Transcriber
	brain     Completer
	speech    Synthesizer
	exchanges archive.Store
	metrics   *observability.Metrics
	settings  Settings
}

// New wires the orchestrator. Any adapter may be nil when the deployment does
// not configure that stage; requests touching a nil stage fail per call.
func New(sessions *session.Store, stt Transcriber, brain Completer, speech Synthesizer, exchanges archive.Store, metrics *observability.Metrics, settings Settings) *Orchestrator {
	if settings.DefaultModel == "" {
		settings.DefaultModel = llm.DefaultModel
	}
	if settings.DefaultVoice == "" {
		settings.DefaultVoice = tts.DefaultVoice
	}
	return &Orchestrator{
		sessions:  sessions,
		stt:       stt,
		brain:     brain,
		speech:    speech,
		exchanges: exchanges,
		metrics:   metrics,
		settings:  settings,
	}
}

// ChatRequest is one text exchange against a named session.
type ChatRequest struct {
	Session string
	Model   string
	System  string
	Reset   bool
	Text    string
}

// ChatResult echoes the resolved request back alongside the reply.
type ChatResult struct {
	Provider string
	Session  string
	Model    string
	User     string
	Reply    string
}

// ReturnMode selects what the audio endpoint hands back after transcription.
type ReturnMode string

const (
	// ReturnOriginal echoes the uploaded audio untouched.
	ReturnOriginal ReturnMode = "original"
	// ReturnTTS re-speaks the transcript through synthesis.
	ReturnTTS ReturnMode = "tts"
	// ReturnNone sends the transcript document only, no audio part.
	ReturnNone ReturnMode = "none"
	// ReturnLLMTTS runs the transcript through the conversation and speaks
	// the reply.
	ReturnLLMTTS ReturnMode = "llm_tts"
)

// ParseReturnMode maps the request parameter to a mode; empty means original.
func ParseReturnMode(s string) (ReturnMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ReturnOriginal):
		return ReturnOriginal, nil
	case string(ReturnTTS):
		return ReturnTTS, nil
	case string(ReturnNone):
		return ReturnNone, nil
	case string(ReturnLLMTTS):
		return ReturnLLMTTS, nil
	}
	return "", fmt.Errorf("pipeline: unknown return mode %q", s)
}

// VoiceRequest is one audio upload plus its processing controls.
type VoiceRequest struct {
	Audio       []byte
	ContentType string
	Mode        ReturnMode
	Voice       string
	Session     string
	Model       string
	System      string
	Reset       bool
}

// VoiceResult carries whatever the selected mode produced. Chat is nil for
// modes that never reach the conversation; Audio is nil for ReturnNone.
type VoiceResult struct {
	Transcript       asr.Transcript
	Chat             *ChatResult
	Audio            []byte
	AudioContentType string
	SynthFellBack    bool
}

// Chat runs one text exchange: resolve session and model, compose the prompt,
// complete, and fold the finished turn back into the session. A request with
// empty text still applies its reset but skips the upstream call.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	return o.converse(ctx, req, "chat", "")
}

func (o *Orchestrator) converse(ctx context.Context, req ChatRequest, mode, voice string) (ChatResult, error) {
	key := strings.TrimSpace(req.Session)
	if key == "" {
		key = DefaultSessionKey
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = o.settings.DefaultModel
	}

	if req.Reset {
		o.sessions.Reset(key)
		o.metrics.SessionEvents.WithLabelValues("reset").Inc()
		o.metrics.Sessions.Set(float64(o.sessions.Len()))
	}

	text := strings.TrimSpace(req.Text)
	res := ChatResult{
		Session: key,
		Model:   model,
		User:    text,
	}
	if o.brain != nil {
		res.Provider = o.brain.Provider()
	}
	if text == "" {
		return res, nil
	}
	if o.brain == nil {
		return res, errors.New("pipeline: completion not configured")
	}

	msgs := o.sessions.Compose(key, req.System, text)
	if len(msgs) > 0 && msgs[0].Role == session.RoleSystem {
		msgs = msgs[1:]
	}
	systemText := baselineDirective
	if directive := o.sessions.EffectiveSystem(key, req.System); directive != "" {
		systemText = directive + "\n\n" + baselineDirective
	}

	cctx, cancel := withTimeout(ctx, o.settings.Timeouts.Complete)
	start := time.Now()
	reply, err := o.brain.Complete(cctx, model, systemText, msgs, llm.GenParams{})
	cancel()
	o.metrics.ObserveStage("complete", time.Since(start))
	if err != nil {
		o.noteUpstreamError(o.brain.Provider(), err)
		return res, err
	}
	res.Reply = reply

	o.sessions.Upsert(key, req.System, text, reply)
	o.metrics.SessionEvents.WithLabelValues("turn").Inc()
	o.metrics.Sessions.Set(float64(o.sessions.Len()))

	o.archiveExchange(archive.Exchange{
		SessionKey: key,
		Mode:       mode,
		Model:      model,
		Voice:      voice,
		UserText:   text,
		ReplyText:  reply,
	})
	return res, nil
}

// Voice runs the audio path: transcribe, then hand off per mode. Synthesis
// failure never aborts the exchange; the original upload is echoed instead so
// the caller always gets playable audio back.
func (o *Orchestrator) Voice(ctx context.Context, req VoiceRequest) (VoiceResult, error) {
	if o.stt == nil {
		return VoiceResult{}, asr.ErrNotConfigured
	}

	tctx, cancel := withTimeout(ctx, o.settings.Timeouts.Transcribe)
	start := time.Now()
	transcript, err := o.stt.Transcribe(tctx, req.Audio, req.ContentType)
	cancel()
	o.metrics.ObserveStage("transcribe", time.Since(start))
	if err != nil {
		return VoiceResult{}, err
	}

	res := VoiceResult{Transcript: transcript}
	var speakText string

	switch req.Mode {
	case ReturnNone:
		return res, nil

	case ReturnOriginal:
		res.Audio = req.Audio
		res.AudioContentType = contentTypeOrDefault(req.ContentType)
		return res, nil

	case ReturnTTS:
		speakText = transcript.Text

	case ReturnLLMTTS:
		chatRes, err := o.converse(ctx, ChatRequest{
			Session: req.Session,
			Model:   req.Model,
			System:  req.System,
			Reset:   req.Reset,
			Text:    transcript.Text,
		}, "llm_tts", req.Voice)
		if err != nil {
			return VoiceResult{}, err
		}
		// An empty transcript never reached the completion stage, so the
		// response document keeps its llm field null.
		if chatRes.User != "" {
			res.Chat = &chatRes
		}
		speakText = chatRes.Reply

	default:
		return VoiceResult{}, fmt.Errorf("pipeline: unknown return mode %q", req.Mode)
	}

	if speakText == "" {
		speakText = fallbackSpeech
	}
	audioOut, contentType, err := o.speak(ctx, req.Voice, speakText)
	if err != nil {
		log.Printf("pipeline: synthesis failed, echoing original audio: %v", err)
		o.metrics.SynthFallbacks.Inc()
		res.Audio = req.Audio
		res.AudioContentType = contentTypeOrDefault(req.ContentType)
		res.SynthFellBack = true
		return res, nil
	}
	res.Audio = audioOut
	res.AudioContentType = contentType
	return res, nil
}

// ChatSpeak runs a text exchange and renders the reply as audio. There is no
// original upload to fall back to here, so synthesis errors propagate.
func (o *Orchestrator) ChatSpeak(ctx context.Context, req ChatRequest, voice string) (ChatResult, []byte, string, error) {
	chatRes, err := o.converse(ctx, req, "llm_tts", voice)
	if err != nil {
		return chatRes, nil, "", err
	}
	speakText := chatRes.Reply
	if speakText == "" {
		speakText = fallbackSpeech
	}
	audioOut, contentType, err := o.speak(ctx, voice, speakText)
	if err != nil {
		return chatRes, nil, "", err
	}
	return chatRes, audioOut, contentType, nil
}

// Speak renders arbitrary text to audio with the stage timeout applied.
func (o *Orchestrator) Speak(ctx context.Context, voice, text string) ([]byte, string, error) {
	return o.speak(ctx, voice, text)
}

// Transcribing reports whether the transcription stage is usable.
func (o *Orchestrator) Transcribing() bool {
	return o.stt != nil && o.stt.Configured()
}

func (o *Orchestrator) speak(ctx context.Context, voice, text string) ([]byte, string, error) {
	if o.speech == nil {
		return nil, "", errors.New("pipeline: synthesis not configured")
	}
	if strings.TrimSpace(voice) == "" {
		voice = o.settings.DefaultVoice
	}
	sctx, cancel := withTimeout(ctx, o.settings.Timeouts.Synthesize)
	defer cancel()
	start := time.Now()
	audioOut, contentType, err := o.speech.Synthesize(sctx, voice, text)
	o.metrics.ObserveStage("synthesize", time.Since(start))
	if err != nil {
		o.noteUpstreamError("streamelements", err)
		return nil, "", err
	}
	return audioOut, contentType, nil
}

// archiveExchange persists the audit record on a fresh short-lived context so
// a canceled request cannot lose the write. Failures are logged, never
// surfaced.
func (o *Orchestrator) archiveExchange(rec archive.Exchange) {
	if o.exchanges == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.exchanges.SaveExchange(ctx, rec); err != nil {
		log.Printf("pipeline: archive write failed: %v", err)
	}
}

func (o *Orchestrator) noteUpstreamError(provider string, err error) {
	code := "error"
	var lerr *llm.UpstreamError
	var terr *tts.UpstreamError
	switch {
	case errors.As(err, &lerr):
		code = strconv.Itoa(lerr.Status)
	case errors.As(err, &terr):
		code = strconv.Itoa(terr.Status)
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	}
	o.metrics.UpstreamErrors.WithLabelValues(provider, code).Inc()
}

func contentTypeOrDefault(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
