package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Chatter/common/redact"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is sent as a bearer token. It is stripped from every error.
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint (OpenAI, Azure,
	// Ollama, vLLM). Defaults to DefaultBaseURL.
	BaseURL string
	// Model is used when a request leaves Model empty. Defaults to
	// DefaultModel.
	Model string
	// Timeout bounds one HTTP round trip. Defaults to 60 s.
	Timeout time.Duration
	// HTTPClient overrides the client, mainly for tests.
	HTTPClient *http.Client
}

// OpenAI implements Provider over POST {base}/chat/completions.
type OpenAI struct {
	cfg    Config
	client *http.Client
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI returns a provider for cfg.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{cfg: cfg, client: client}
}

// Model returns the default model name.
func (o *OpenAI) Model() string { return o.cfg.Model }

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete implements Provider.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := o.complete(ctx, req)
	return resp, redact.Error(err, o.cfg.APIKey)
}

func (o *OpenAI) complete(ctx context.Context, req Request) (*Response, error) {
	body := oaiRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]oaiMessage, len(req.Messages)),
	}
	if body.Model == "" {
		body.Model = o.cfg.Model
	}
	for i, m := range req.Messages {
		body.Messages[i] = oaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response body: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (HTTP 429): %s", ErrRateLimit, errorDetail(respBody))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("llm: HTTP %d: %s", httpResp.StatusCode, errorDetail(respBody))
	}

	var decoded oaiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("llm: decode API response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("llm: API error (%s): %s", decoded.Error.Type, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := decoded.Choices[0]
	return &Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}, nil
}

// errorDetail extracts error.message from a JSON error body, or quotes the
// start of the raw body.
func errorDetail(body []byte) string {
	var decoded oaiResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}
