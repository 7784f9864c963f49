// Package asr wraps the external speech-to-text engine.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/voxrelay/voxrelay/internal/audio"
)

// ErrNotConfigured means the Vosk model directory is unset or invalid.
// Requests needing transcription fail fast with it; the process itself
// stays up.
var ErrNotConfigured = errors.New("asr: vosk model directory not configured")

// EngineError is a failed engine run: non-zero exit or output that could
// not be parsed as the expected transcript document.
type EngineError struct {
	Detail string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("asr: engine failure: %s", e.Detail)
}

// Word is one recognized word with engine timing info. Kept opaque beyond
// what the engine emits.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

// Transcript is the engine's structured result for one audio input. Only
// Text is interpreted by the pipeline; the rest rides along for callers.
type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"words,omitempty"`
}

// VoskConfig locates the Python Vosk runner and its model.
type VoskConfig struct {
	Python   string
	Script   string
	ModelDir string
}

// Vosk transcribes by spawning one independent runner process per request
// and waiting for it. A hang in the engine blocks only that request's
// goroutine; there is no shared engine state.
type Vosk struct {
	python   string
	script   string
	modelDir string
}

// NewVosk resolves the runner. A missing model directory is not fatal here:
// the service can still serve text chat, and Transcribe reports
// ErrNotConfigured per request.
func NewVosk(cfg VoskConfig) *Vosk {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		script = "scripts/vosk_transcribe.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	return &Vosk{
		python:   py,
		script:   script,
		modelDir: strings.TrimSpace(cfg.ModelDir),
	}
}

// Configured reports whether the model directory exists.
func (v *Vosk) Configured() bool {
	if v.modelDir == "" {
		return false
	}
	info, err := os.Stat(v.modelDir)
	return err == nil && info.IsDir()
}

// Transcribe writes the audio to a temp file (extension from the
// Content-Type hint), runs the Vosk runner against it and parses the JSON
// document it prints. Temp cleanup is best-effort; a leaked file is logged,
// never fatal.
func (v *Vosk) Transcribe(ctx context.Context, audioBytes []byte, contentTypeHint string) (Transcript, error) {
	if !v.Configured() {
		return Transcript{}, ErrNotConfigured
	}
	if v.python == "" {
		return Transcript{}, fmt.Errorf("asr: python interpreter not found: %w", ErrNotConfigured)
	}
	if _, err := os.Stat(v.script); err != nil {
		return Transcript{}, fmt.Errorf("asr: runner script not found at %s: %w", v.script, ErrNotConfigured)
	}

	f, err := os.CreateTemp("", "voxrelay-asr-*"+audio.ExtensionForMIME(contentTypeHint))
	if err != nil {
		return Transcript{}, fmt.Errorf("asr: temp file: %w", err)
	}
	inputPath := f.Name()
	defer func() {
		if rmErr := os.Remove(inputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Printf("asr: temp file not removed: %v", rmErr)
		}
	}()

	_, writeErr := f.Write(audioBytes)
	closeErr := f.Close()
	if writeErr != nil {
		return Transcript{}, fmt.Errorf("asr: write temp file: %w", writeErr)
	}
	if closeErr != nil {
		return Transcript{}, fmt.Errorf("asr: close temp file: %w", closeErr)
	}

	cmd := exec.CommandContext(ctx, v.python, "-u", v.script, "--model", v.modelDir, "--input", inputPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		// The engine can be chatty on failure; keep errors readable.
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		return Transcript{}, &EngineError{Detail: detail}
	}

	var tr Transcript
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &tr); err != nil {
		return Transcript{}, &EngineError{Detail: fmt.Sprintf("unparseable engine output: %v", err)}
	}
	tr.Text = strings.TrimSpace(tr.Text)
	return tr, nil
}
