package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := New(KindProvider, "openai.analyze", "status %d", 503)

	assert.ErrorIs(t, err, ErrProvider)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "openai.analyze: status 503", err.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Image("imaging.govern", "empty image")
	outer := Wrap(KindProvider, "analyzer", fmt.Errorf("step: %w", inner), "failed")

	assert.Equal(t, KindImageProcessing, KindOf(outer))
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(KindProvider, "ollama.analyze", context.DeadlineExceeded, "request timed out")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Nil(t, Wrap(KindProvider, "noop", nil, ""))
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain", errors.New("x"), KindUnknown},
		{"config", Config("models.new", "unknown backend"), KindConfig},
		{"wrapped ai", fmt.Errorf("parse: %w", AI("parser", "bad shape")), KindAI},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
