package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicConfig struct {
	BaseURL    string
	Token      string
	Model      string
	Version    string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicClient calls the Messages API. The system prompt travels in its
// own field rather than as a message.
type AnthropicClient struct {
	endpoint  string
	model     string
	maxTokens int
	transport transport
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("anthropic base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("anthropic token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
	}
	header := http.Header{}
	header.Set("x-api-key", token)
	header.Set("anthropic-version", firstNonBlank(cfg.Version, defaultAnthropicVersion))
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		endpoint:  buildAnthropicEndpoint(baseURL),
		model:     model,
		maxTokens: maxTokens,
		transport: newTransport("anthropic", cfg.HTTPClient, header),
	}, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp anthropicChatResponse
	if err := c.transport.postJSON(ctx, c.endpoint, c.buildPayload(req, false), &resp); err != nil {
		return ChatResponse{}, err
	}
	if resp.Error != nil {
		return ChatResponse{}, c.transport.providerError(resp.Error)
	}
	return ChatResponse{
		Content:      flattenAnthropicContent(resp.Content),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
	}, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error) {
	httpResp, err := c.transport.post(ctx, c.endpoint, c.buildPayload(req, true), true)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	out := &collector{handle: handle}
	err = readEvents(httpResp.Body, false, func(data []byte) error {
		var event anthropicStreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		switch event.Type {
		case "error":
			if event.Error != nil {
				return c.transport.providerError(event.Error)
			}
		case "message_start":
			if event.Message != nil && event.Message.Model != "" {
				out.resp.Model = event.Message.Model
			}
		case "message_delta":
			reason := event.StopReason
			if reason == "" && event.Delta != nil {
				reason = event.Delta.StopReason
			}
			if reason != "" {
				out.resp.FinishReason = reason
			}
		case "content_block_delta":
			if event.Delta != nil {
				return out.emit(event.Delta.Text)
			}
		}
		return nil
	})
	if err != nil {
		return ChatResponse{}, err
	}
	return out.response(), nil
}

func (c *AnthropicClient) buildPayload(req ChatRequest, stream bool) anthropicChatRequest {
	messages, system := splitAnthropicMessages(req.Messages)
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return anthropicChatRequest{
		Model:       resolveModel(req.Model, c.model),
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func buildAnthropicEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

func splitAnthropicMessages(messages []Message) ([]Message, string) {
	if len(messages) == 0 || messages[0].Role != RoleSystem {
		return messages, ""
	}
	return messages[1:], messages[0].Content
}

func flattenAnthropicContent(blocks []anthropicContent) string {
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	return builder.String()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

type anthropicChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicChatResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *apiError          `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
	} `json:"message,omitempty"`
	Delta *struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	Error      *apiError `json:"error,omitempty"`
}
