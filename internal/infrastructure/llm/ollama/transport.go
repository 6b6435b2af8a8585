package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

// maxResponseBytes bounds a single generate answer. Classification replies
// are a few hundred bytes of JSON.
const maxResponseBytes = 1 << 20

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Format string   `json:"format"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) roundTrip(ctx context.Context, path string, in generateRequest) (generateResponse, error) {
	var out generateResponse

	payload, err := json.Marshal(in)
	if err != nil {
		return out, fmt.Errorf("encode ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("call ollama %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, resilience.NewHTTPStatusError("ollama", path, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return out, fmt.Errorf("decode ollama %s answer: %w", path, err)
	}
	return out, nil
}
