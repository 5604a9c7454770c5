package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Gemini adapts the generateContent API to the Provider contract, with
// a responseMimeType/safetySettings pair for structured-JSON responses
// and content-safety filtering.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini constructs a Gemini adapter. An empty cfg.APIKey falls back
// to the GEMINI_API_KEY environment variable, then GOOGLE_AI_API_KEY.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_AI_API_KEY")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Gemini{cfg: cfg, client: client}
}

func (p *Gemini) Name() string { return "gemini" }

// HasCredential reports whether an API key is configured.
func (p *Gemini) HasCredential() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

var geminiDefaultSafetySettings = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []geminiSafetySetting   `json:"safetySettings,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Gemini) Analyze(ctx context.Context, req Request) (*Advice, error) {
	if !p.HasCredential() {
		return nil, &Error{Kind: KindAbsentCredential, Provider: p.Name(), Message: "no GEMINI_API_KEY/GOOGLE_AI_API_KEY configured"}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
		SafetySettings: geminiDefaultSafetySettings,
	}
	if req.JSONMode {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Provider: p.Name(), Message: err.Error()}
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(baseURL, "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: p.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Provider: p.Name(), Message: err.Error()}
		}
		return nil, &Error{Kind: KindTransport, Provider: p.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.mapHTTPError(resp.StatusCode, resp.Body)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &Error{Kind: KindParseError, Provider: p.Name(), Message: err.Error()}
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, nil
	}
	c := geminiResp.Candidates[0]
	if c.FinishReason == "SAFETY" {
		return nil, &Error{Kind: KindContentFiltered, Provider: p.Name(), Message: "response blocked by safety settings"}
	}
	if len(c.Content.Parts) == 0 {
		return nil, nil
	}

	var env adviceEnvelope
	text := c.Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &env); err != nil || strings.TrimSpace(env.Advice) == "" {
		return nil, nil
	}
	return &Advice{Advice: env.Advice}, nil
}

func (p *Gemini) mapHTTPError(status int, body io.Reader) *Error {
	data, _ := io.ReadAll(body)
	var envelope geminiErrorEnvelope
	msg := string(data)
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAbsentCredential, Provider: p.Name(), Message: msg}
	default:
		return &Error{Kind: KindTransport, Provider: p.Name(), Message: msg}
	}
}
