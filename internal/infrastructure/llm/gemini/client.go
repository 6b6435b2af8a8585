package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/infrastructure/llm/classify"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash-latest:generateContent"

// Inline request parts above this size are rejected by the API.
const maxInlineBytes = 18 << 20

var ErrMissingAPIKey = errors.New("gemini api key is not configured")

type Options struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

// Client calls the generateContent REST method with the media inlined.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		executor:   opts.Executor,
	}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) Generate(ctx context.Context, req classify.Request) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	parts := []part{{Text: req.Prompt}}
	if mimeType, ok := inlineMimeType(req.Media.MimeType); ok && len(req.Media.Data) <= maxInlineBytes {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(req.Media.Data),
		}})
	}
	payload := generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: map[string]any{"responseMimeType": "application/json"},
	}

	resp, err := resilience.Do(ctx, c.executor, "gemini.generate", func(callCtx context.Context) (generateResponse, error) {
		var out generateResponse
		err := c.postJSON(callCtx, payload, &out)
		return out, err
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapTemporary("gemini generate", err, nil)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate: response has no candidates")
	}
	var texts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

func (c *Client) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("gemini", "generate", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode generate response: %w", err)
	}
	return nil
}

// inlineMimeType reports whether the API accepts this mimetype as inline data.
// Spreadsheets and office files are classified from their text excerpt.
func inlineMimeType(value string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return "", false
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"),
		mediaType == "application/pdf",
		mediaType == "text/plain":
		return mediaType, true
	default:
		return "", false
	}
}
