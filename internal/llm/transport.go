package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 1 << 20

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s request failed: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
}

// apiError is the {"error": {"message": ...}} envelope all three providers
// use for failures.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
}

// transport posts JSON payloads for one provider.
type transport struct {
	provider string
	client   *http.Client
	header   http.Header
}

func newTransport(provider string, client *http.Client, header http.Header) transport {
	if client == nil {
		client = &http.Client{}
	}
	return transport{provider: provider, client: client, header: header}
}

// post sends payload and returns the response of a 2xx answer. The caller
// closes the body.
func (t transport) post(ctx context.Context, endpoint string, payload any, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for key, values := range t.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", t.provider, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, t.statusError(resp)
	}
	return resp, nil
}

// postJSON sends payload and decodes the answer into out.
func (t transport) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	resp, err := t.post(ctx, endpoint, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (t transport) statusError(resp *http.Response) error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(data, &envelope)
	statusErr := &StatusError{Provider: t.provider, StatusCode: resp.StatusCode}
	if envelope.Error != nil {
		statusErr.Message = envelope.Error.Message
	}
	return statusErr
}

// providerError reports an error envelope carried in a 2xx body or stream
// chunk.
func (t transport) providerError(e *apiError) error {
	return fmt.Errorf("%s error: %s", t.provider, e.Message)
}

// readEvents calls fn with the payload of each server-sent event until the
// body ends or a [DONE] marker arrives. With bare set, JSON lines without a
// "data:" prefix are accepted too.
func readEvents(body io.Reader, bare bool, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok && !(bare && strings.HasPrefix(line, "{")) {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		if data == "" {
			continue
		}
		if err := fn([]byte(data)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// collector accumulates streamed deltas and forwards them to handle.
type collector struct {
	handle  StreamHandler
	content strings.Builder
	resp    ChatResponse
}

func (c *collector) emit(delta string) error {
	if delta == "" {
		return nil
	}
	c.content.WriteString(delta)
	if c.handle != nil {
		return c.handle(delta)
	}
	return nil
}

func (c *collector) response() ChatResponse {
	resp := c.resp
	resp.Content = c.content.String()
	return resp
}

func resolveModel(override, fallback string) string {
	if strings.TrimSpace(override) == "" {
		return fallback
	}
	return override
}
