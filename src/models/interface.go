package models

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Protocol-Lattice/roomcleaner/src/cache"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 1000
)

// Adapter sends one image and prompt to a vision backend.
//
// AnalyzeImage fails with errs.KindInvalidCredentials or errs.KindProvider
// for backend failures, and errs.KindAI when the reply is JSON of the wrong
// shape. HealthCheck never fails; problems are reported in the status.
type Adapter interface {
	Name() string
	Model() string
	AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error)
	HealthCheck(ctx context.Context) HealthStatus
	Close() error
}

// HealthStatus is the outcome of a reachability probe.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
	Model   string `json:"model,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend   string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration

	// SuppressEmptyNotice returns an empty task list for empty or blocked
	// responses instead of a single task describing what happened.
	SuppressEmptyNotice bool
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return c.MaxTokens
}

// Fingerprint identifies configs that can share an adapter. The credential
// only enters through the hash.
func (c Config) Fingerprint() string {
	return cache.HashBytes([]byte(strings.Join([]string{
		Canonical(c.Backend),
		c.Model,
		c.APIKey,
		c.BaseURL,
		strconv.Itoa(c.maxTokens()),
		c.timeout().String(),
		strconv.FormatBool(c.SuppressEmptyNotice),
	}, "\x00")))
}

func healthy(backend, model string) HealthStatus {
	return HealthStatus{OK: true, Backend: backend, Model: model}
}

func unhealthy(backend, model string, err error) HealthStatus {
	return HealthStatus{Backend: backend, Model: model, Detail: err.Error()}
}
