package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/infrastructure/llm/classify"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, visionModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		executor:    executor,
	}
}

// Generate asks the vision model for a JSON answer. Images travel in the
// images field; every other mimetype is classified from the prompt text,
// which already carries the file name and any extracted excerpt.
func (c *Client) Generate(ctx context.Context, req classify.Request) (string, error) {
	in := generateRequest{
		Model:  c.visionModel,
		Prompt: req.Prompt,
		Format: "json",
	}
	if strings.HasPrefix(strings.ToLower(req.Media.MimeType), "image/") && len(req.Media.Data) > 0 {
		in.Images = []string{base64.StdEncoding.EncodeToString(req.Media.Data)}
	}

	out, err := resilience.Do(ctx, c.executor, "ollama.generate", func(callCtx context.Context) (generateResponse, error) {
		return c.roundTrip(callCtx, "/api/generate", in)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapTemporary("ollama generate", err, nil)
	}
	return strings.TrimSpace(out.Response), nil
}
