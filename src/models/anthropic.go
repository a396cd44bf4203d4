package models

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/apex/log"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// Anthropic uses the Messages API with a base64 image block.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if err := requireFields("anthropic.new", cfg, true); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.cfg.Model }
func (a *Anthropic) Close() error  { return nil }

func (a *Anthropic) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error) {
	const op = "anthropic.analyze"

	mt := imageMIME(mimeType)
	if mt == "" {
		return nil, errs.Provider(op, "unsupported image type %q", mimeType)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.timeout())
	defer cancel()

	log.WithFields(log.Fields{"model": a.cfg.Model, "bytes": len(image)}).Debug("anthropic: sending image")

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mt, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return nil, classify(op, anthropicStatus(err), err)
	}

	if string(msg.StopReason) == "refusal" {
		return finish(a.cfg, "Anthropic", "", string(msg.StopReason))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return finish(a.cfg, "Anthropic", sb.String(), "")
}

func (a *Anthropic) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.timeout())
	defer cancel()

	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	if err != nil {
		return unhealthy(a.Name(), a.cfg.Model, classify("anthropic.health", anthropicStatus(err), err))
	}
	return healthy(a.Name(), a.cfg.Model)
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ Adapter = (*Anthropic)(nil)
