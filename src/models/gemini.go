package models

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/apex/log"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// ---------------------------- Google Gemini ----------------------------------

// Gemini uses the Generative Language API through the official client.
type Gemini struct {
	client *genai.Client
	cfg    Config
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	const op = "gemini.new"
	if err := requireFields(op, cfg, true); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, op, err, "create client")
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.cfg.Model }
func (g *Gemini) Close() error  { return g.client.Close() }

func (g *Gemini) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error) {
	const op = "gemini.analyze"

	mt := imageMIME(mimeType)
	if mt == "" {
		return nil, errs.Provider(op, "unsupported image type %q", mimeType)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetMaxOutputTokens(int32(g.cfg.maxTokens()))

	log.WithFields(log.Fields{"model": g.cfg.Model, "bytes": len(image)}).Debug("gemini: sending image")

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mt, Data: image}, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return finish(g.cfg, "Gemini", "", blockReason(blocked))
		}
		return nil, classifyGemini(op, err)
	}
	return finish(g.cfg, "Gemini", responseText(resp), "")
}

func (g *Gemini) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	it := g.client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return unhealthy(g.Name(), g.cfg.Model, classifyGemini("gemini.health", err))
	}
	return healthy(g.Name(), g.cfg.Model)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func blockReason(b *genai.BlockedError) string {
	switch {
	case b.PromptFeedback != nil:
		return b.PromptFeedback.BlockReason.String()
	case b.Candidate != nil:
		return b.Candidate.FinishReason.String()
	default:
		return "unspecified"
	}
}

// classifyGemini recognises the ways Google APIs report a bad key: a 400
// with reason API_KEY_INVALID, HTTP 401 or gRPC Unauthenticated.
func classifyGemini(op string, err error) error {
	code := 0

	var ae *apierror.APIError
	if errors.As(err, &ae) {
		code = ae.HTTPCode()
		if ae.Reason() == "API_KEY_INVALID" {
			code = http.StatusUnauthorized
		}
		if s := ae.GRPCStatus(); s != nil && s.Code() == codes.Unauthenticated {
			code = http.StatusUnauthorized
		}
	}

	var ge *googleapi.Error
	if code <= 0 && errors.As(err, &ge) {
		code = ge.Code
	}

	if code <= 0 {
		if s, ok := status.FromError(err); ok && s.Code() == codes.Unauthenticated {
			code = http.StatusUnauthorized
		}
	}

	return classify(op, max(code, 0), err)
}

var _ Adapter = (*Gemini)(nil)
