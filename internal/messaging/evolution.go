// Package messaging talks to the WhatsApp gateway and orders outbound sends.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/retry"
)

const defaultUserAgent = "clinic-assistant/0.1"

// Gateway is the outbound surface of the WhatsApp provider.
type Gateway interface {
	SendText(ctx context.Context, number, text string) error
	SendAudio(ctx context.Context, number string, audioBase64 string) error
	SendImage(ctx context.Context, number, imageURL, caption string) error
}

// MediaFetcher downloads inbound media referenced by a message key.
type MediaFetcher interface {
	FetchMediaBase64(ctx context.Context, messageID string) (*Media, error)
}

// Media is a downloaded attachment.
type Media struct {
	Base64   string
	Mimetype string
}

// Config controls how the Evolution API client behaves.
type Config struct {
	BaseURL    string
	APIToken   string
	Instance   string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Evolution API endpoints the assistant needs.
type Client struct {
	baseURL    string
	apiToken   string
	instance   string
	httpClient *http.Client
	retry      retry.Policy
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("messaging: base URL is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("messaging: API token is required")
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("messaging: instance name is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		instance:   cfg.Instance,
		httpClient: httpClient,
		retry:      policy,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("messaging: empty text")
	}
	payload := map[string]any{
		"number":      number,
		"text":        text,
		"delay":       0,
		"linkPreview": false,
	}
	_, err := c.invoke(ctx, "/message/sendText/"+c.instance, payload)
	return err
}

// SendAudio delivers a voice note from base64-encoded audio.
func (c *Client) SendAudio(ctx context.Context, number string, audioBase64 string) error {
	if audioBase64 == "" {
		return errors.New("messaging: empty audio payload")
	}
	payload := map[string]any{
		"number":   number,
		"audio":    audioBase64,
		"encoding": true,
	}
	_, err := c.invoke(ctx, "/message/sendWhatsAppAudio/"+c.instance, payload)
	return err
}

// SendImage delivers an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, number, imageURL, caption string) error {
	if strings.TrimSpace(imageURL) == "" {
		return errors.New("messaging: empty image url")
	}
	payload := map[string]any{
		"number":    number,
		"mediatype": "image",
		"media":     imageURL,
		"caption":   caption,
	}
	_, err := c.invoke(ctx, "/message/sendMedia/"+c.instance, payload)
	return err
}

// FetchMediaBase64 downloads the media attached to an inbound message.
func (c *Client) FetchMediaBase64(ctx context.Context, messageID string) (*Media, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, errors.New("messaging: message id required")
	}
	payload := map[string]any{
		"message": map[string]any{
			"key": map[string]any{"id": messageID},
		},
		"convertToMp4": false,
	}
	data, err := c.invoke(ctx, "/chat/getBase64FromMediaMessage/"+c.instance, payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("messaging: decode media response: %w", err)
	}
	if out.Base64 == "" {
		return nil, errors.New("messaging: media response without payload")
	}
	if out.Mimetype == "" {
		out.Mimetype = SniffMimetype(out.Base64)
	}
	return &Media{Base64: out.Base64, Mimetype: out.Mimetype}, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal payload: %w", err)
	}
	fullURL := c.baseURL + path

	var data []byte
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("messaging: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", c.apiToken)
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return retry.Transient(fmt.Errorf("messaging: http timeout: %w", err))
			}
			return retry.Transient(fmt.Errorf("messaging: http error: %w", err))
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("messaging: read response: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		apiErr := fmt.Errorf("messaging: gateway returned %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("gateway retry", "path", path, "status", resp.StatusCode)
			return retry.Transient(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
