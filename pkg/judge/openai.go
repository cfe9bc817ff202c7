package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// OpenAIConfig configures a judge backed by an OpenAI-compatible
// chat completions endpoint with image input.
type OpenAIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	MaxTokens  int           `yaml:"max_tokens"`
}

// IsConfigured reports whether an endpoint is set.
func (c OpenAIConfig) IsConfigured() bool { return c.BaseURL != "" }

// OpenAI asks a vision model for a judgment over HTTP.
type OpenAI struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAI creates a judge for cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

const systemPrompt = `You audit photos of waste placed in disposal bins.
Answer with one JSON object and nothing else:
{"claimed_type": <material>, "detected_type": <general|organic|recyclable|hazardous|unknown>,
 "confidence": <0..1>, "image_quality": <ok|blurry|dark|opaque_container|indeterminate>,
 "contamination": <0..1 or null>,
 "issues": [{"type": <wrong_category|unclear_image|heavy_contamination|light_contamination>, "items": [<item>, ...]}]}`

// Judge sends the material's images and returns the model's text output.
func (o *OpenAI) Judge(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(o.buildRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		resp, retry, err := o.complete(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return resp, err
		}
	}
	return Response{}, lastErr
}

func (o *OpenAI) buildRequest(req Request) chatRequest {
	label := materials.Label(req.Material, "en")
	parts := []contentPart{{
		Type: "text",
		Text: fmt.Sprintf("Claimed material: %s (%s). Judge only this bin.", req.Material, label),
	}}
	for _, img := range req.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img}})
	}
	return chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: systemPrompt}}},
			{Role: "user", Content: parts},
		},
		Temperature:    0,
		MaxTokens:      o.config.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

// complete performs one call. The bool reports whether the failure is
// worth retrying.
func (o *OpenAI) complete(ctx context.Context, body []byte) (Response, bool, error) {
	url := o.config.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, false, context.DeadlineExceeded
		}
		return Response{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// The model rejected the request, which in practice means the images.
		return Response{}, false, fmt.Errorf("%w: HTTP %d: %s",
			auerrors.ErrEvidenceUnavailable, resp.StatusCode, truncate(respBody, 200))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Response{}, true, fmt.Errorf("model error: HTTP %d", resp.StatusCode)
	default:
		return Response{}, false, fmt.Errorf("model error: HTTP %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return Response{}, false, fmt.Errorf("parse response: %w", err)
	}
	out := Response{
		Model: chat.Model,
		Usage: Usage{InputTokens: chat.Usage.PromptTokens, OutputTokens: chat.Usage.CompletionTokens},
	}
	if len(chat.Choices) == 0 {
		return out, false, errors.New("no choices in response")
	}
	out.Output = []byte(stripFences(chat.Choices[0].Message.Content))
	return out, false, nil
}

// stripFences removes a markdown code fence around the output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
