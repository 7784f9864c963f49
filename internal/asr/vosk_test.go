package asr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeRunner writes a shell script that stands in for the Python Vosk
// runner, so adapter behavior is testable without the real engine.
func fakeRunner(t *testing.T, body string) (python, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner uses /bin/sh")
	}
	dir := t.TempDir()
	script = filepath.Join(dir, "runner.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake runner: %v", err)
	}
	return "/bin/sh", script
}

func TestTranscribeNotConfigured(t *testing.T) {
	v := NewVosk(VoskConfig{ModelDir: ""})
	_, err := v.Transcribe(context.Background(), []byte("xx"), "audio/wav")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Transcribe() error = %v, want ErrNotConfigured", err)
	}

	v = NewVosk(VoskConfig{ModelDir: filepath.Join(t.TempDir(), "missing")})
	_, err = v.Transcribe(context.Background(), []byte("xx"), "audio/wav")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Transcribe() with missing dir error = %v, want ErrNotConfigured", err)
	}
}

func TestTranscribeParsesEngineOutput(t *testing.T) {
	python, script := fakeRunner(t, `echo '{"text":" hi there ","words":[{"word":"hi","start":0.1,"end":0.4,"conf":0.98}]}'`)
	v := NewVosk(VoskConfig{Python: python, Script: script, ModelDir: t.TempDir()})

	tr, err := v.Transcribe(context.Background(), []byte("fake audio"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if tr.Text != "hi there" {
		t.Fatalf("Text = %q, want trimmed %q", tr.Text, "hi there")
	}
	if len(tr.Words) != 1 || tr.Words[0].Word != "hi" {
		t.Fatalf("Words = %+v, want one entry %q", tr.Words, "hi")
	}
}

func TestTranscribeEngineExitFailure(t *testing.T) {
	python, script := fakeRunner(t, `echo "model load failed" >&2; exit 3`)
	v := NewVosk(VoskConfig{Python: python, Script: script, ModelDir: t.TempDir()})

	_, err := v.Transcribe(context.Background(), []byte("fake audio"), "audio/wav")
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Transcribe() error = %v, want *EngineError", err)
	}
	if engineErr.Detail != "model load failed" {
		t.Fatalf("Detail = %q, want engine stderr", engineErr.Detail)
	}
}

func TestTranscribeUnparseableOutput(t *testing.T) {
	python, script := fakeRunner(t, `echo "this is not json"`)
	v := NewVosk(VoskConfig{Python: python, Script: script, ModelDir: t.TempDir()})

	_, err := v.Transcribe(context.Background(), []byte("fake audio"), "audio/wav")
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Transcribe() error = %v, want *EngineError", err)
	}
}

func TestTranscribeCanceledContext(t *testing.T) {
	python, script := fakeRunner(t, `sleep 5; echo '{"text":"late"}'`)
	v := NewVosk(VoskConfig{Python: python, Script: script, ModelDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Transcribe(ctx, []byte("fake audio"), "audio/wav")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Transcribe() error = %v, want context.Canceled", err)
	}
}
