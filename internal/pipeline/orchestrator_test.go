package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/internal/archive"
	"github.com/voxrelay/voxrelay/internal/asr"
	"github.com/voxrelay/voxrelay/internal/llm"
	"github.com/voxrelay/voxrelay/internal/observability"
	"github.com/voxrelay/voxrelay/internal/session"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics("test_pipeline_" + strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + strconv.FormatInt(metricsSeq.Add(1), 10))
}

type fakeSTT struct {
	transcript asr.Transcript
	err        error
	calls      int
}

func (f *fakeSTT) Configured() bool { return true }

func (f *fakeSTT) Transcribe(_ context.Context, _ []byte, _ string) (asr.Transcript, error) {
	f.calls++
	return f.transcript, f.err
}

type fakeBrain struct {
	reply     string
	err       error
	calls     int
	gotModel  string
	gotSystem string
	gotMsgs   []session.Message
}

func (f *fakeBrain) Provider() string { return "fake" }

func (f *fakeBrain) Complete(_ context.Context, model, systemText string, msgs []session.Message, _ llm.GenParams) (string, error) {
	f.calls++
	f.gotModel = model
	f.gotSystem = systemText
	f.gotMsgs = append([]session.Message(nil), msgs...)
	return f.reply, f.err
}

type fakeSpeech struct {
	audio    []byte
	ctype    string
	err      error
	calls    int
	gotVoice string
	gotText  string
}

func (f *fakeSpeech) Synthesize(_ context.Context, voice, text string) ([]byte, string, error) {
	f.calls++
	f.gotVoice = voice
	f.gotText = text
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, f.ctype, nil
}

func newTestOrchestrator(stt *fakeSTT, brain *fakeBrain, speech *fakeSpeech) (*Orchestrator, *session.Store, archive.Store) {
	sessions := session.NewStore(0)
	exchanges := archive.NewInMemoryStore()
	var sttIface Transcriber
	if stt != nil {
		sttIface = stt
	}
	var speechIface Synthesizer
	if speech != nil {
		speechIface = speech
	}
	var brainIface Completer
	if brain != nil {
		brainIface = brain
	}
	o := New(sessions, sttIface, brainIface, speechIface, exchanges, newTestMetrics(), Settings{
		DefaultModel: "test-model",
		DefaultVoice: "TestVoice",
	})
	return o, sessions, exchanges
}

func TestChatThreadsHistoryAcrossCalls(t *testing.T) {
	brain := &fakeBrain{reply: "first answer"}
	o, _, exchanges := newTestOrchestrator(nil, brain, nil)
	ctx := context.Background()

	res, err := o.Chat(ctx, ChatRequest{Session: "s1", Text: "hello"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Reply != "first answer" || res.Provider != "fake" || res.Model != "test-model" {
		t.Fatalf("unexpected result: %+v", res)
	}

	brain.reply = "second answer"
	if _, err := o.Chat(ctx, ChatRequest{Session: "s1", Text: "and then?"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	want := []session.Message{
		{Role: session.RoleUser, Text: "hello"},
		{Role: session.RoleAssistant, Text: "first answer"},
		{Role: session.RoleUser, Text: "and then?"},
	}
	if len(brain.gotMsgs) != len(want) {
		t.Fatalf("composed %d messages, want %d: %+v", len(brain.gotMsgs), len(want), brain.gotMsgs)
	}
	for i := range want {
		if brain.gotMsgs[i] != want[i] {
			t.Fatalf("message[%d] = %+v, want %+v", i, brain.gotMsgs[i], want[i])
		}
	}

	recs, err := exchanges.RecentExchanges(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("RecentExchanges() error = %v", err)
	}
	if len(recs) != 2 || recs[0].Mode != "chat" || recs[1].ReplyText != "second answer" {
		t.Fatalf("archived exchanges = %+v", recs)
	}
}

func TestChatEmptyTextAppliesResetWithoutCompletion(t *testing.T) {
	brain := &fakeBrain{reply: "r"}
	o, sessions, _ := newTestOrchestrator(nil, brain, nil)
	ctx := context.Background()

	if _, err := o.Chat(ctx, ChatRequest{Session: "s1", Text: "hi"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	res, err := o.Chat(ctx, ChatRequest{Session: "s1", Reset: true})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Reply != "" {
		t.Fatalf("reply = %q, want empty", res.Reply)
	}
	if brain.calls != 1 {
		t.Fatalf("completion calls = %d, want 1", brain.calls)
	}
	if _, ok := sessions.Get("s1"); ok {
		t.Fatalf("session should be gone after reset")
	}
}

func TestChatResetTakesEffectWithinSameCall(t *testing.T) {
	brain := &fakeBrain{reply: "r"}
	o, _, _ := newTestOrchestrator(nil, brain, nil)
	ctx := context.Background()

	if _, err := o.Chat(ctx, ChatRequest{Session: "s1", Text: "old"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if _, err := o.Chat(ctx, ChatRequest{Session: "s1", Reset: true, Text: "fresh"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(brain.gotMsgs) != 1 || brain.gotMsgs[0].Text != "fresh" {
		t.Fatalf("composed messages after reset = %+v, want single fresh user turn", brain.gotMsgs)
	}
}

func TestChatSystemDirectivePrecedesBaseline(t *testing.T) {
	brain := &fakeBrain{reply: "r"}
	o, _, _ := newTestOrchestrator(nil, brain, nil)

	if _, err := o.Chat(context.Background(), ChatRequest{Session: "s1", System: "Be terse.", Text: "hi"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	want := "Be terse.\n\n" + baselineDirective
	if brain.gotSystem != want {
		t.Fatalf("system text = %q, want %q", brain.gotSystem, want)
	}
	for _, m := range brain.gotMsgs {
		if m.Role == session.RoleSystem {
			t.Fatalf("system entry leaked into the message list: %+v", brain.gotMsgs)
		}
	}
}

func TestChatBaselineAloneWhenNoDirective(t *testing.T) {
	brain := &fakeBrain{reply: "r"}
	o, _, _ := newTestOrchestrator(nil, brain, nil)

	if _, err := o.Chat(context.Background(), ChatRequest{Session: "s1", Text: "hi"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if brain.gotSystem != baselineDirective {
		t.Fatalf("system text = %q, want baseline only", brain.gotSystem)
	}
}

func TestChatCompletionFailureLeavesSessionUntouched(t *testing.T) {
	brain := &fakeBrain{err: &llm.UpstreamError{Status: 500, Body: "boom"}}
	o, sessions, exchanges := newTestOrchestrator(nil, brain, nil)
	ctx := context.Background()

	_, err := o.Chat(ctx, ChatRequest{Session: "s1", Text: "hi"})
	var uerr *llm.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Chat() error = %v, want UpstreamError", err)
	}
	if _, ok := sessions.Get("s1"); ok {
		t.Fatalf("failed exchange must not create the session")
	}
	recs, _ := exchanges.RecentExchanges(ctx, "s1", 10)
	if len(recs) != 0 {
		t.Fatalf("failed exchange must not be archived: %+v", recs)
	}
}

func TestVoiceReturnNoneSkipsAudio(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: "hi"}}
	speech := &fakeSpeech{audio: []byte("x"), ctype: "audio/mpeg"}
	o, _, _ := newTestOrchestrator(stt, &fakeBrain{}, speech)

	res, err := o.Voice(context.Background(), VoiceRequest{Audio: []byte("wav"), Mode: ReturnNone})
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if res.Transcript.Text != "hi" {
		t.Fatalf("transcript = %q, want %q", res.Transcript.Text, "hi")
	}
	if res.Audio != nil || res.Chat != nil {
		t.Fatalf("none mode must carry no audio and no chat: %+v", res)
	}
	if speech.calls != 0 {
		t.Fatalf("synthesis should not run in none mode")
	}
}

func TestVoiceReturnOriginalEchoesUpload(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: "hi"}}
	o, _, _ := newTestOrchestrator(stt, &fakeBrain{}, &fakeSpeech{})
	upload := []byte{0x52, 0x49, 0x46, 0x46}

	res, err := o.Voice(context.Background(), VoiceRequest{Audio: upload, ContentType: "audio/wav", Mode: ReturnOriginal})
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if !bytes.Equal(res.Audio, upload) || res.AudioContentType != "audio/wav" {
		t.Fatalf("original mode must echo the upload: %+v", res)
	}
}

func TestVoiceReturnTTSSpeaksTranscript(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: "hello there"}}
	speech := &fakeSpeech{audio: []byte("mp3"), ctype: "audio/mpeg"}
	o, _, _ := newTestOrchestrator(stt, &fakeBrain{}, speech)

	res, err := o.Voice(context.Background(), VoiceRequest{Audio: []byte("wav"), Mode: ReturnTTS, Voice: "Amy"})
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if speech.gotText != "hello there" || speech.gotVoice != "Amy" {
		t.Fatalf("synthesized %q with voice %q", speech.gotText, speech.gotVoice)
	}
	if string(res.Audio) != "mp3" || res.AudioContentType != "audio/mpeg" {
		t.Fatalf("audio = %q (%s)", res.Audio, res.AudioContentType)
	}
}

func TestVoiceSynthesisFailureFallsBackToUpload(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: "hi"}}
	speech := &fakeSpeech{err: errors.New("upstream down")}
	o, _, _ := newTestOrchestrator(stt, &fakeBrain{}, speech)
	upload := []byte{0x52, 0x49, 0x46, 0x46, 0x00}

	res, err := o.Voice(context.Background(), VoiceRequest{Audio: upload, ContentType: "audio/wav", Mode: ReturnTTS})
	if err != nil {
		t.Fatalf("fallback path must not error, got %v", err)
	}
	if !res.SynthFellBack {
		t.Fatalf("expected fallback flag")
	}
	if !bytes.Equal(res.Audio, upload) || res.AudioContentType != "audio/wav" {
		t.Fatalf("fallback must echo the upload byte for byte: %+v", res)
	}
}

func TestVoiceEmptyTranscriptSpeaksFallbackPhrase(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: ""}}
	speech := &fakeSpeech{audio: []byte("mp3"), ctype: "audio/mpeg"}
	o, _, _ := newTestOrchestrator(stt, &fakeBrain{}, speech)

	if _, err := o.Voice(context.Background(), VoiceRequest{Audio: []byte("wav"), Mode: ReturnTTS}); err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if speech.gotText != fallbackSpeech {
		t.Fatalf("synthesized %q, want the fallback phrase", speech.gotText)
	}
}

func TestChatWithoutCompleterFailsPerCall(t *testing.T) {
	o, _, _ := newTestOrchestrator(nil, nil, nil)

	res, err := o.Chat(context.Background(), ChatRequest{Session: "s1", Text: "hi"})
	if err == nil {
		t.Fatalf("expected an error with no completion adapter")
	}
	if res.Provider != "" {
		t.Fatalf("provider = %q, want empty", res.Provider)
	}

	// A bare reset still succeeds; it never touches the completion stage.
	if _, err := o.Chat(context.Background(), ChatRequest{Session: "s1", Reset: true}); err != nil {
		t.Fatalf("reset-only call error = %v", err)
	}
}

func TestVoiceLLMTTSEmptyTranscriptKeepsLLMNull(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: ""}}
	brain := &fakeBrain{reply: "should not run"}
	speech := &fakeSpeech{audio: []byte("mp3"), ctype: "audio/mpeg"}
	o, _, _ := newTestOrchestrator(stt, brain, speech)

	res, err := o.Voice(context.Background(), VoiceRequest{Audio: []byte("wav"), Mode: ReturnLLMTTS})
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if brain.calls != 0 {
		t.Fatalf("completion calls = %d, want 0", brain.calls)
	}
	if res.Chat != nil {
		t.Fatalf("chat result = %+v, want nil when no completion ran", res.Chat)
	}
	if speech.gotText != fallbackSpeech {
		t.Fatalf("synthesized %q, want the fallback phrase", speech.gotText)
	}
}

func TestVoiceLLMTTSRunsConversationAndSpeaksReply(t *testing.T) {
	stt := &fakeSTT{transcript: asr.Transcript{Text: "what time is it"}}
	brain := &fakeBrain{reply: "it is noon"}
	speech := &fakeSpeech{audio: []byte("mp3"), ctype: "audio/mpeg"}
	o, sessions, _ := newTestOrchestrator(stt, brain, speech)

	res, err := o.Voice(context.Background(), VoiceRequest{
		Audio:   []byte("wav"),
		Mode:    ReturnLLMTTS,
		Session: "kitchen",
	})
	if err != nil {
		t.Fatalf("Voice() error = %v", err)
	}
	if res.Chat == nil || res.Chat.Reply != "it is noon" {
		t.Fatalf("chat result = %+v", res.Chat)
	}
	if speech.gotText != "it is noon" {
		t.Fatalf("synthesized %q, want the reply", speech.gotText)
	}
	sess, ok := sessions.Get("kitchen")
	if !ok || len(sess.Turns) != 2 {
		t.Fatalf("session after voice exchange = %+v, %v", sess, ok)
	}
}

func TestChatSpeakPropagatesSynthesisError(t *testing.T) {
	brain := &fakeBrain{reply: "spoken reply"}
	speech := &fakeSpeech{err: errors.New("down")}
	o, _, _ := newTestOrchestrator(nil, brain, speech)

	_, _, _, err := o.ChatSpeak(context.Background(), ChatRequest{Session: "s1", Text: "hi"}, "Amy")
	if err == nil {
		t.Fatalf("expected synthesis error to propagate")
	}
}

func TestParseReturnMode(t *testing.T) {
	cases := map[string]ReturnMode{
		"":         ReturnOriginal,
		"original": ReturnOriginal,
		"TTS":      ReturnTTS,
		"none":     ReturnNone,
		"llm_tts":  ReturnLLMTTS,
	}
	for in, want := range cases {
		got, err := ParseReturnMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseReturnMode(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseReturnMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
