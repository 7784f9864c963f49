// Package tts wraps the remote speech-synthesis service.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public StreamElements speech endpoint.
const DefaultBaseURL = "https://api.streamelements.com/kappa/v2/speech"

// DefaultVoice is used when a request names no voice.
const DefaultVoice = "Brian"

// UpstreamError is a non-success response from the synthesis API. Callers
// in the pipeline catch it and fall back to the original input audio.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("tts: upstream status %d: %s", e.Status, e.Body)
}

// StreamElements is the synthesis adapter. It holds no per-call state.
type StreamElements struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the adapter.
type Option func(*StreamElements)

// WithBaseURL overrides the API endpoint (tests point this at a fake).
func WithBaseURL(u string) Option {
	return func(s *StreamElements) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *StreamElements) { s.httpClient = c }
}

// NewStreamElements creates the adapter.
func NewStreamElements(opts ...Option) *StreamElements {
	s := &StreamElements{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renders text with the named voice and returns the audio bytes
// plus their content type (audio/mpeg unless the upstream says otherwise).
func (s *StreamElements) Synthesize(ctx context.Context, voice, text string) ([]byte, string, error) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = DefaultVoice
	}

	q := url.Values{}
	q.Set("voice", voice)
	q.Set("text", text)
	endpoint := s.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("tts: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: call upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, "", fmt.Errorf("tts: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, "", &UpstreamError{Status: resp.StatusCode, Body: detail}
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return body, contentType, nil
}
