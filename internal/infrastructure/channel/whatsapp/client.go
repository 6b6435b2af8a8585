package whatsapp

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

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

const (
	DefaultGraphURL   = "https://graph.facebook.com"
	DefaultAPIVersion = "v20.0"

	defaultMaxMediaBytes = 25 << 20
)

var ErrMediaTooLarge = errors.New("media exceeds size limit")

type Options struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	GraphURL      string
	MaxMediaBytes int64
	HTTPClient    *http.Client
	Executor      *resilience.Executor
}

// Client talks to the WhatsApp Cloud API. It sends outbound messages and
// downloads inbound media.
type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	maxMediaBytes int64
	httpClient    *http.Client
	executor      *resilience.Executor
}

func New(opts Options) *Client {
	graphURL := strings.TrimRight(strings.TrimSpace(opts.GraphURL), "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	version := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	maxBytes := opts.MaxMediaBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:       graphURL + "/" + version,
		token:         strings.TrimSpace(opts.Token),
		phoneNumberID: strings.TrimSpace(opts.PhoneNumberID),
		maxMediaBytes: maxBytes,
		httpClient:    httpClient,
		executor:      opts.Executor,
	}
}

func (c *Client) Send(ctx context.Context, userID string, msg domain.OutboundMessage) error {
	payload := buildMessage(userID, msg)
	_, err := resilience.Do(ctx, c.executor, "whatsapp.send", func(callCtx context.Context) (struct{}, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return struct{}{}, fmt.Errorf("marshal message: %w", err)
		}
		resp, err := c.request(callCtx, http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/messages", bytes.NewReader(body), "send")
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return struct{}{}, nil
	}, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary("whatsapp send", err, nil)
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// Fetch resolves a media id to its download URL and downloads it. Payloads
// that already carry a URL are downloaded directly.
func (c *Client) Fetch(ctx context.Context, file domain.FilePayload) ([]byte, error) {
	downloadURL := strings.TrimSpace(file.URL)
	if downloadURL == "" {
		if strings.TrimSpace(file.MediaID) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "fetch media", errors.New("media id is empty"))
		}
		info, err := resilience.Do(ctx, c.executor, "whatsapp.media_info", func(callCtx context.Context) (mediaInfo, error) {
			return c.mediaInfo(callCtx, file.MediaID)
		}, resilience.ClassifyHTTPError)
		if err != nil {
			return nil, resilience.WrapTemporary("whatsapp media info", err, nil)
		}
		if info.FileSize > c.maxMediaBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrMediaTooLarge, info.FileSize)
		}
		downloadURL = info.URL
	}

	data, err := resilience.Do(ctx, c.executor, "whatsapp.media_download", func(callCtx context.Context) ([]byte, error) {
		return c.download(callCtx, downloadURL)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("whatsapp media download", err, nil)
	}
	return data, nil
}

func (c *Client) mediaInfo(ctx context.Context, mediaID string) (mediaInfo, error) {
	resp, err := c.request(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil, "media info")
	if err != nil {
		return mediaInfo{}, err
	}
	defer resp.Body.Close()

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return mediaInfo{}, fmt.Errorf("decode media info response: %w", err)
	}
	if info.URL == "" {
		return mediaInfo{}, fmt.Errorf("media info response has no url")
	}
	return info, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.request(ctx, http.MethodGet, url, nil, "media download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrMediaTooLarge, c.maxMediaBytes)
	}
	return data, nil
}

// request performs an authenticated call and returns the response of a 2xx
// answer; the caller closes its body.
func (c *Client) request(ctx context.Context, method, url string, body io.Reader, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, resilience.NewHTTPStatusError("whatsapp", operation, resp)
	}
	return resp, nil
}
