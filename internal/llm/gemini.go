// Package llm wraps the Gemini generateContent API.
//
// The wire format is small enough that the request/response documents are
// declared inline; the API uses camelCase field names.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/voxrelay/voxrelay/internal/session"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-2.0-flash"

// GenParams are the generation knobs exposed per call. Zero values fall
// back to the fixed defaults.
type GenParams struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

const (
	defaultTemperature     = 0.7
	defaultTopP            = 0.95
	defaultMaxOutputTokens = 512
)

// Gemini is the completion adapter. It holds no per-call state.
type Gemini struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the adapter.
type Option func(*Gemini)

// WithBaseURL overrides the API endpoint (tests point this at a fake).
func WithBaseURL(u string) Option {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.httpClient = c }
}

// NewGemini creates the adapter. An empty key is allowed at construction;
// Complete reports ErrNoAPIKey per call so text-free deployments still boot.
func NewGemini(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider names the upstream for response documents and metrics labels.
func (g *Gemini) Provider() string { return "gemini" }

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends one prompt and returns the flattened reply text. The
// assistant role maps to Gemini's "model" turn; every other role is sent as
// a user turn. An empty flattened reply is valid, not an error.
func (g *Gemini) Complete(ctx context.Context, model, systemText string, msgs []session.Message, params GenParams) (string, error) {
	if g.apiKey == "" {
		return "", ErrNoAPIKey
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}

	req := geminiRequest{
		Contents:         translateMessages(msgs),
		GenerationConfig: buildGenConfig(params),
	}
	if strings.TrimSpace(systemText) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemText}}}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: call gemini: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: unmarshal response: %w", err)
	}
	return flattenReply(parsed), nil
}

func translateMessages(msgs []session.Message) []geminiContent {
	contents := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == session.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Text}},
		})
	}
	return contents
}

func buildGenConfig(params GenParams) *geminiGenConfig {
	temp := params.Temperature
	if temp <= 0 {
		temp = defaultTemperature
	}
	topP := params.TopP
	if topP <= 0 {
		topP = defaultTopP
	}
	maxTokens := params.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	return &geminiGenConfig{
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: &maxTokens,
	}
}

// flattenReply concatenates every text part of the first candidate, joined
// by single spaces.
func flattenReply(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var fragments []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			fragments = append(fragments, part.Text)
		}
	}
	return strings.TrimSpace(strings.Join(fragments, " "))
}
