package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

type GeminiConfig struct {
	BaseURL    string
	Token      string
	Model      string
	HTTPClient *http.Client
}

// GeminiClient calls generateContent. The API key travels as a query
// parameter, so the endpoint is built per request.
type GeminiClient struct {
	baseURL   string
	token     string
	model     string
	transport transport
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("gemini base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("gemini token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("gemini model is required")
	}
	return &GeminiClient{
		baseURL:   baseURL,
		token:     token,
		model:     model,
		transport: newTransport("gemini", cfg.HTTPClient, nil),
	}, nil
}

func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), false, c.token)
	if err != nil {
		return ChatResponse{}, err
	}
	var resp geminiGenerateContentResponse
	if err := c.transport.postJSON(ctx, endpoint, buildGeminiPayload(req), &resp); err != nil {
		return ChatResponse{}, err
	}
	if resp.Error != nil {
		return ChatResponse{}, c.transport.providerError(resp.Error)
	}
	if len(resp.Candidates) == 0 {
		return ChatResponse{}, errors.New("gemini response has no candidates")
	}
	return ChatResponse{
		Content:      flattenGeminiContent(resp.Candidates[0].Content),
		Model:        resp.ModelVersion,
		FinishReason: resp.Candidates[0].FinishReason,
	}, nil
}

func (c *GeminiClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), true, c.token)
	if err != nil {
		return ChatResponse{}, err
	}
	httpResp, err := c.transport.post(ctx, endpoint, buildGeminiPayload(req), true)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	out := &collector{handle: handle}
	err = readEvents(httpResp.Body, true, func(data []byte) error {
		var chunk geminiGenerateContentResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return c.transport.providerError(chunk.Error)
		}
		if chunk.ModelVersion != "" {
			out.resp.Model = chunk.ModelVersion
		}
		if len(chunk.Candidates) == 0 {
			return nil
		}
		if reason := chunk.Candidates[0].FinishReason; reason != "" {
			out.resp.FinishReason = reason
		}
		return out.emit(flattenGeminiContent(chunk.Candidates[0].Content))
	})
	if err != nil {
		return ChatResponse{}, err
	}
	return out.response(), nil
}

func buildGeminiPayload(req ChatRequest) geminiGenerateContentRequest {
	contents, system := buildGeminiContents(req.Messages)
	return geminiGenerateContentRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  buildGeminiGenerationConfig(req),
	}
}

func buildGeminiEndpoint(baseURL, model string, stream bool, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	apiPath := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(apiPath, "/v1") && !strings.HasSuffix(apiPath, "/v1beta") {
		apiPath = path.Join(apiPath, "/v1beta")
	}
	verb := "generateContent"
	if stream {
		verb = "streamGenerateContent"
	}
	u.Path = path.Join(apiPath, "models", fmt.Sprintf("%s:%s", strings.TrimSpace(model), verb))
	query := u.Query()
	query.Set("key", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func buildGeminiGenerationConfig(req ChatRequest) *geminiGenerationConfig {
	if req.Temperature == nil && req.MaxTokens <= 0 {
		return nil
	}
	return &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
}

// buildGeminiContents lifts a leading system message into the system
// instruction and renames the assistant role to "model".
func buildGeminiContents(messages []Message) ([]geminiContent, *geminiSystemInstruction) {
	var system *geminiSystemInstruction
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		system = &geminiSystemInstruction{Parts: []geminiPart{{Text: messages[0].Content}}}
		messages = messages[1:]
	}
	if len(messages) == 0 {
		return nil, system
	}
	contents := make([]geminiContent, 0, len(messages))
	for _, message := range messages {
		role := message.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: message.Content}}})
	}
	return contents, system
}

func flattenGeminiContent(content geminiContent) string {
	var builder strings.Builder
	for _, part := range content.Parts {
		builder.WriteString(part.Text)
	}
	return builder.String()
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates   []geminiCandidate `json:"candidates"`
	ModelVersion string            `json:"modelVersion,omitempty"`
	Error        *apiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}
