// Package model wraps the Gemini API behind a small surface that the
// summarizer and slide extractor share. Provider failures are normalized
// into the shared sentinel taxonomy (rate limits carry the advertised retry
// delay) so downstream classification never inspects provider error strings.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"lectern/internal/services"
)

// Config captures the per-purpose model settings.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Part is one unit of multimodal input to a generation call.
type Part struct {
	Text string
	Data []byte
	MIME string
}

// TextPart builds a text input part.
func TextPart(text string) Part { return Part{Text: text} }

// DataPart builds an inline binary input part (video segment, PDF).
func DataPart(data []byte, mime string) Part { return Part{Data: data, MIME: mime} }

// Generator issues generation calls with a caller-supplied credential per
// call, which is what makes key rotation possible above this layer.
type Generator struct {
	cfg      Config
	generate func(ctx context.Context, apiKey, model string, parts []Part) (string, error)
}

// NewGenerator constructs a generator for the configured model.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{cfg: cfg}
	g.generate = g.generateLive
	return g
}

// WithGenerateFunc overrides the provider call (used in tests).
func (g *Generator) WithGenerateFunc(fn func(ctx context.Context, apiKey, model string, parts []Part) (string, error)) *Generator {
	if fn != nil {
		g.generate = fn
	}
	return g
}

// Model returns the configured model name for cache fingerprints and logs.
func (g *Generator) Model() string { return g.cfg.Model }

// Generate runs one generation call with the supplied credential and returns
// the produced text. Empty model output is a transient failure so the retry
// controller re-attempts it.
func (g *Generator) Generate(ctx context.Context, apiKey string, parts ...Part) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, "model", "generate", "api key required", nil)
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	text, err := g.generate(ctx, apiKey, g.cfg.Model, parts)
	if err != nil {
		return "", classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", services.Wrap(services.ErrTransient, "model", "generate", "empty model output", nil)
	}
	return text, nil
}

func (g *Generator) generateLive(ctx context.Context, apiKey, modelName string, parts []Part) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	content := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Data != nil:
			content = append(content, genai.NewPartFromBytes(part.Data, part.MIME))
		default:
			content = append(content, genai.NewPartFromText(part.Text))
		}
	}
	contents := []*genai.Content{genai.NewContentFromParts(content, genai.RoleUser)}

	result, err := client.Models.GenerateContent(ctx, modelName, contents, nil)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// classify maps a raw provider error into the closed outcome set. The genai
// SDK surfaces HTTP status through APIError codes; the string checks cover
// wrapped transport errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "model", "generate", "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate limit"):
		return services.NewRateLimit("model", "generate", parseAdvertisedDelay(msg), err)
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "INVALID_ARGUMENT"),
		strings.Contains(msg, "FAILED_PRECONDITION"):
		return services.Wrap(services.ErrValidation, "model", "generate", "provider rejected input", err)
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "PERMISSION_DENIED"),
		strings.Contains(msg, "UNAUTHENTICATED"):
		return services.Wrap(services.ErrConfiguration, "model", "generate", "provider rejected credential", err)
	case strings.Contains(lower, "deadline"),
		strings.Contains(lower, "timeout"):
		return services.Wrap(services.ErrTimeout, "model", "generate", "request timed out", err)
	default:
		return services.Wrap(services.ErrTransient, "model", "generate", "provider error", err)
	}
}

// parseAdvertisedDelay extracts "retry in Ns" style hints the provider
// embeds in RESOURCE_EXHAUSTED messages. Zero when absent.
func parseAdvertisedDelay(msg string) time.Duration {
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, "retry in ")
	if idx < 0 {
		return 0
	}
	rest := lower[idx+len("retry in "):]
	var seconds float64
	if _, err := fmt.Sscanf(rest, "%f", &seconds); err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
