package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
)

// Config selects and configures one provider client.
type Config struct {
	Type    string
	URL     string
	Token   string
	Model   string
	Timeout time.Duration
}

// New builds the Client matching cfg.Type. An empty type means openai.
func New(cfg Config) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			HTTPClient: httpClient,
		})
	case TypeAnthropic, "anthropics":
		return NewAnthropicClient(AnthropicConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			HTTPClient: httpClient,
		})
	case TypeGemini:
		return NewGeminiClient(GeminiConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			HTTPClient: httpClient,
		})
	default:
		return nil, fmt.Errorf("unsupported llm.type: %s", cfg.Type)
	}
}
