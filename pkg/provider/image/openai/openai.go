// Package openai provides a cover-art provider backed by the OpenAI Images API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/image"
)

const defaultModel = oai.ImageModelGPTImage1

// Provider implements image.Provider using the OpenAI Images API.
type Provider struct {
	client oai.Client
	model  oai.ImageModel
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the image model (e.g., "dall-e-3").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout. Image generation is slow;
// anything under a minute risks false failures.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI image Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai image: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	model := defaultModel
	if cfg.model != "" {
		model = oai.ImageModel(cfg.model)
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// GenerateCover implements image.Provider. It returns the PNG bytes of a
// single square cover image.
func (p *Provider) GenerateCover(ctx context.Context, req image.CoverRequest) ([]byte, error) {
	resp, err := p.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Model:  p.model,
		Prompt: buildPrompt(req),
		Size:   oai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return nil, fault.Upstreamf("openai image: generate: %v", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fault.Upstreamf("openai image: empty image response")
	}

	png, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai image: decode b64: %w", err)
	}
	return png, nil
}

// buildPrompt renders the cover brief. Split out for tests.
func buildPrompt(req image.CoverRequest) string {
	var b strings.Builder
	b.WriteString("Children's book cover illustration, soft colors, no text. ")
	b.WriteString("Story: ")
	b.WriteString(req.Title)
	if req.Summary != "" {
		b.WriteString(". ")
		b.WriteString(req.Summary)
	}
	if len(req.CharacterNames) > 0 {
		b.WriteString(" Featuring: ")
		b.WriteString(strings.Join(req.CharacterNames, ", "))
		b.WriteString(".")
	}
	return b.String()
}
