package tts

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesizeReturnsAudio(t *testing.T) {
	var gotVoice, gotText string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		gotText = r.URL.Query().Get("text")
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer ts.Close()

	s := NewStreamElements(WithBaseURL(ts.URL))
	audio, contentType, err := s.Synthesize(context.Background(), "Joanna", "hello world")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !bytes.Equal(audio, []byte("mp3-bytes")) {
		t.Fatalf("audio = %q, want upstream bytes", audio)
	}
	if contentType != "audio/mpeg" {
		t.Fatalf("contentType = %q, want audio/mpeg", contentType)
	}
	if gotVoice != "Joanna" || gotText != "hello world" {
		t.Fatalf("upstream saw voice=%q text=%q", gotVoice, gotText)
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	var gotVoice string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		_, _ = w.Write([]byte("x"))
	}))
	defer ts.Close()

	s := NewStreamElements(WithBaseURL(ts.URL))
	if _, _, err := s.Synthesize(context.Background(), "", "hi"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if gotVoice != DefaultVoice {
		t.Fatalf("voice = %q, want default %q", gotVoice, DefaultVoice)
	}
}

func TestSynthesizeUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("voice backend down"))
	}))
	defer ts.Close()

	s := NewStreamElements(WithBaseURL(ts.URL))
	_, _, err := s.Synthesize(context.Background(), "Brian", "hi")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Synthesize() error = %v, want *UpstreamError", err)
	}
	if upstream.Status != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", upstream.Status)
	}
}
