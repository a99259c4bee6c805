// Package scribe talks to the speech-to-text provider: upload a local media
// file, start a transcription, and poll until it resolves. Provider failures
// are normalized into the shared sentinel taxonomy before they reach the
// retry controller.
package scribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"lectern/internal/services"
)

const stageName = "transcribing"

// Config captures the runtime settings required to talk to the provider.
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Client wraps the transcription REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleeper overrides how poll waits are performed (used in tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Hour
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcribe uploads the media file, starts a transcription, and polls until
// the provider resolves it.
func (c *Client) Transcribe(ctx context.Context, mediaPath string) (Transcript, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Transcript{}, services.Wrap(services.ErrConfiguration, stageName, "transcribe", "transcriber api key required", nil)
	}

	uploadURL, err := c.upload(ctx, mediaPath)
	if err != nil {
		return Transcript{}, err
	}
	id, err := c.start(ctx, uploadURL)
	if err != nil {
		return Transcript{}, err
	}
	return c.poll(ctx, id)
}

func (c *Client) upload(ctx context.Context, mediaPath string) (string, error) {
	file, err := os.Open(mediaPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "upload", "open media file", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload", file)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "upload", "build request", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var payload struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(req, "upload", &payload); err != nil {
		return "", err
	}
	if payload.UploadURL == "" {
		return "", services.Wrap(services.ErrTransient, stageName, "upload", "provider returned no upload url", nil)
	}
	return payload.UploadURL, nil
}

func (c *Client) start(ctx context.Context, uploadURL string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"audio_url":   uploadURL,
		"punctuate":   true,
		"format_text": true,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "start", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "start", "build request", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var payload transcriptResponse
	if err := c.do(req, "start", &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", services.Wrap(services.ErrTransient, stageName, "start", "provider returned no transcript id", nil)
	}
	return payload.ID, nil
}

func (c *Client) poll(ctx context.Context, id string) (Transcript, error) {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	for {
		if time.Now().After(deadline) {
			return Transcript{}, services.Wrap(services.ErrTimeout, stageName, "poll",
				fmt.Sprintf("transcription %s exceeded %s", id, c.cfg.PollTimeout), nil)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/transcript/"+id, nil)
		if err != nil {
			return Transcript{}, services.Wrap(services.ErrTransient, stageName, "poll", "build request", err)
		}
		req.Header.Set("Authorization", c.cfg.APIKey)

		var payload transcriptResponse
		if err := c.do(req, "poll", &payload); err != nil {
			return Transcript{}, err
		}

		switch payload.Status {
		case "completed":
			return payload.toTranscript(), nil
		case "error":
			return Transcript{}, services.Wrap(services.ErrValidation, stageName, "poll", payload.Error, nil)
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return Transcript{}, err
		}
	}
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Words  []struct {
		Start int    `json:"start"` // milliseconds
		End   int    `json:"end"`
		Text  string `json:"text"`
	} `json:"words"`
	Paragraphs []struct {
		Start int    `json:"start"`
		End   int    `json:"end"`
		Text  string `json:"text"`
	} `json:"paragraphs"`
	Text string `json:"text"`
}

func (r transcriptResponse) toTranscript() Transcript {
	t := Transcript{ID: r.ID}
	if len(r.Paragraphs) > 0 {
		for _, p := range r.Paragraphs {
			t.Paragraphs = append(t.Paragraphs, Paragraph{
				Start: time.Duration(p.Start) * time.Millisecond,
				End:   time.Duration(p.End) * time.Millisecond,
				Text:  p.Text,
			})
		}
		return t
	}
	if r.Text != "" {
		t.Paragraphs = []Paragraph{{Text: r.Text}}
	}
	return t
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return services.Wrap(services.ErrTimeout, stageName, op, "request aborted", err)
		}
		return services.Wrap(services.ErrTransient, stageName, op, "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, op, "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return services.NewRateLimit(stageName, op, parseRetryAfter(resp.Header.Get("Retry-After")), nil)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stageName, op, "provider rejected api key", nil)
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTransient, stageName, op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(body)), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return services.Wrap(services.ErrValidation, stageName, op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(body)), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrTransient, stageName, op, "decode response", err)
	}
	return nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
