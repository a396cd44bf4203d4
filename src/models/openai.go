package models

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/apex/log"
	"github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// OpenAI talks to the chat completions API or any compatible server.
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if err := requireFields("openai.new", cfg, true); err != nil {
		return nil, err
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{}

	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.cfg.Model }
func (o *OpenAI) Close() error  { return nil }

func (o *OpenAI) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error) {
	const op = "openai.analyze"

	mt := imageMIME(mimeType)
	if mt == "" {
		return nil, errs.Provider(op, "unsupported image type %q", mimeType)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.timeout())
	defer cancel()

	log.WithFields(log.Fields{"model": o.cfg.Model, "bytes": len(image)}).Debug("openai: sending image")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.maxTokens(),
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(image),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		}},
	})
	if err != nil {
		return nil, classify(op, openaiStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return finish(o.cfg, "OpenAI", "", "")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return finish(o.cfg, "OpenAI", "", string(choice.FinishReason))
	}
	return finish(o.cfg, "OpenAI", choice.Message.Content, "")
}

func (o *OpenAI) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.timeout())
	defer cancel()

	if _, err := o.client.ListModels(ctx); err != nil {
		return unhealthy(o.Name(), o.cfg.Model, classify("openai.health", openaiStatus(err), err))
	}
	return healthy(o.Name(), o.cfg.Model)
}

func openaiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var _ Adapter = (*OpenAI)(nil)
