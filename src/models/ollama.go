package models

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/apex/log"
	ollama "github.com/ollama/ollama/api"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// DefaultOllamaHost is used when no base URL is configured.
const DefaultOllamaHost = "http://localhost:11434"

// ---------------------------- Ollama -----------------------------------------

// Ollama calls a local or hosted Ollama server with a multimodal model.
type Ollama struct {
	client *ollama.Client
	cfg    Config
	host   string
}

// errUnauthorized marks a 401 seen at the transport.
var errUnauthorized = errors.New("ollama: unauthorized")

// authGuard adds the optional bearer key and turns 401 responses into
// errUnauthorized so they are recognisable whatever the client does with them.
type authGuard struct {
	next http.RoundTripper
	key  string
}

func (g authGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.key != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+g.key)
	}
	resp, err := g.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, errUnauthorized
	}
	return resp, nil
}

func NewOllama(cfg Config) (*Ollama, error) {
	const op = "ollama.new"
	if err := requireFields(op, cfg, false); err != nil {
		return nil, err
	}

	host := strings.TrimSpace(cfg.BaseURL)
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.Config(op, "invalid ollama host %q", host)
	}

	httpClient := &http.Client{
		Transport: authGuard{next: http.DefaultTransport, key: cfg.APIKey},
	}

	return &Ollama{
		client: ollama.NewClient(u, httpClient),
		cfg:    cfg,
		host:   host,
	}, nil
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.cfg.Model }
func (o *Ollama) Close() error  { return nil }

func (o *Ollama) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error) {
	const op = "ollama.analyze"

	if imageMIME(mimeType) == "" {
		return nil, errs.Provider(op, "unsupported image type %q", mimeType)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.timeout())
	defer cancel()

	log.WithFields(log.Fields{"model": o.cfg.Model, "host": o.host, "bytes": len(image)}).Debug("ollama: sending image")

	stream := false
	req := &ollama.GenerateRequest{
		Model:   o.cfg.Model,
		Prompt:  prompt,
		Images:  []ollama.ImageData{image},
		Stream:  &stream,
		Options: map[string]any{"num_predict": o.cfg.maxTokens()},
	}

	var text strings.Builder
	if err := o.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	}); err != nil {
		return nil, classify(op, ollamaStatus(err), err)
	}

	return finish(o.cfg, "Ollama", text.String(), "")
}

func (o *Ollama) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.timeout())
	defer cancel()

	if _, err := o.client.List(ctx); err != nil {
		return unhealthy(o.Name(), o.cfg.Model, classify("ollama.health", ollamaStatus(err), err))
	}
	return healthy(o.Name(), o.cfg.Model)
}

func ollamaStatus(err error) int {
	if errors.Is(err, errUnauthorized) {
		return http.StatusUnauthorized
	}
	var se ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

var _ Adapter = (*Ollama)(nil)
