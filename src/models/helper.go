package models

import (
	"context"
	"strings"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
)

var backendAliases = map[string]string{
	"google": "gemini",
	"claude": "anthropic",
}

// Canonical resolves a backend identifier to its adapter name.
func Canonical(backend string) string {
	b := strings.ToLower(strings.TrimSpace(backend))
	if alias, ok := backendAliases[b]; ok {
		return alias
	}
	return b
}

// New returns the adapter for cfg.Backend. Construction never touches the
// network; missing settings fail with errs.KindConfig.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	switch Canonical(cfg.Backend) {
	case "openai":
		return NewOpenAI(cfg)
	case "gemini":
		return NewGemini(ctx, cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	case "ollama":
		return NewOllama(cfg)
	case "dummy":
		return NewDummy(cfg), nil
	case "":
		return nil, errs.Config("models.new", "no backend selected")
	default:
		return nil, errs.Config("models.new", "unknown backend %q", cfg.Backend)
	}
}

func requireFields(op string, cfg Config, needKey bool) error {
	if needKey && strings.TrimSpace(cfg.APIKey) == "" {
		return errs.Config(op, "api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errs.Config(op, "model is required")
	}
	return nil
}

// imageMIME coerces mt to an image type every supported backend accepts,
// or "" when it is not one.
func imageMIME(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/png", "image/x-png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	default:
		return ""
	}
}
