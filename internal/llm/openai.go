package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIConfig struct {
	BaseURL    string
	Token      string
	Model      string
	HTTPClient *http.Client
}

// OpenAIClient talks to any server exposing the OpenAI chat completions API,
// including self-hosted vLLM or llama.cpp endpoints.
type OpenAIClient struct {
	baseURL   string
	model     string
	transport transport
}

// NewOpenAIClient validates cfg. An empty base URL targets the hosted OpenAI
// API. The token may be empty for local servers that run without
// authentication.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("openai model is required")
	}
	header := http.Header{}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &OpenAIClient{
		baseURL:   baseURL,
		model:     model,
		transport: newTransport("openai", cfg.HTTPClient, header),
	}, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp openAIChatResponse
	if err := c.transport.postJSON(ctx, buildChatEndpoint(c.baseURL), c.buildPayload(req, false), &resp); err != nil {
		return ChatResponse{}, err
	}
	if resp.Error != nil {
		return ChatResponse{}, c.transport.providerError(resp.Error)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errors.New("openai response has no choices")
	}
	return ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error) {
	httpResp, err := c.transport.post(ctx, buildChatEndpoint(c.baseURL), c.buildPayload(req, true), true)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	out := &collector{handle: handle}
	err = readEvents(httpResp.Body, false, func(data []byte) error {
		var chunk openAIChatResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return c.transport.providerError(chunk.Error)
		}
		if chunk.Model != "" {
			out.resp.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			out.resp.FinishReason = reason
		}
		return out.emit(chunk.Choices[0].Delta.Content)
	})
	if err != nil {
		return ChatResponse{}, err
	}
	return out.response(), nil
}

func (c *OpenAIClient) buildPayload(req ChatRequest, stream bool) openAIChatRequest {
	payload := openAIChatRequest{
		Model:       resolveModel(req.Model, c.model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	return payload
}

func buildChatEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}
