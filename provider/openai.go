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

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // OPENAI_URL
	APIVersion  string // OPENAI_API_VERSION
	Model       string
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAI adapts the chat-completions API to the Provider contract.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI constructs an OpenAI adapter. An empty cfg.APIKey falls back
// to the OPENAI_API_KEY environment variable. A credential that does not
// begin with "sk-" is treated as absent.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAI{cfg: cfg, client: client}
}

func (p *OpenAI) Name() string { return "openai" }

// HasCredential reports whether an "sk-"-prefixed API key is configured.
func (p *OpenAI) HasCredential() bool {
	return strings.HasPrefix(p.cfg.APIKey, "sk-")
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIChatMessage  `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    float32              `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatChoice struct {
	Message openAIChatMessage `json:"message"`
}

type openAIChatResponse struct {
	Choices []openAIChatChoice `json:"choices"`
}

type openAIErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type adviceEnvelope struct {
	Advice string `json:"advice"`
}

func (p *OpenAI) Analyze(ctx context.Context, req Request) (*Advice, error) {
	if !p.HasCredential() {
		return nil, &Error{Kind: KindAbsentCredential, Provider: p.Name(), Message: "no sk- prefixed OPENAI_API_KEY configured"}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := openAIChatRequest{
		Model:       model,
		Messages:    []openAIChatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Provider: p.Name(), Message: err.Error()}
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/v1/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: p.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIVersion != "" {
		httpReq.Header.Set("OpenAI-Version", p.cfg.APIVersion)
	}

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

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &Error{Kind: KindParseError, Provider: p.Name(), Message: err.Error()}
	}
	if len(chatResp.Choices) == 0 {
		return nil, nil
	}

	var env adviceEnvelope
	content := chatResp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &env); err != nil || strings.TrimSpace(env.Advice) == "" {
		return nil, nil // no-advice, not a failure
	}
	return &Advice{Advice: env.Advice}, nil
}

func (p *OpenAI) mapHTTPError(status int, body io.Reader) *Error {
	data, _ := io.ReadAll(body)
	var envelope openAIErrorEnvelope
	msg := string(data)
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAbsentCredential, Provider: p.Name(), Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindTransport, Provider: p.Name(), Message: fmt.Sprintf("rate-limited: %s", msg)}
	case strings.Contains(strings.ToLower(msg), "content") && strings.Contains(strings.ToLower(msg), "polic"):
		return &Error{Kind: KindContentFiltered, Provider: p.Name(), Message: msg}
	default:
		return &Error{Kind: KindTransport, Provider: p.Name(), Message: msg}
	}
}
