package models

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func TestNewResolvesBackends(t *testing.T) {
	cases := []struct {
		backend string
		want    string
	}{
		{"openai", "openai"},
		{"Claude", "anthropic"},
		{"anthropic", "anthropic"},
		{"ollama", "ollama"},
		{"dummy", "dummy"},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			a, err := New(context.Background(), Config{Backend: tc.backend, Model: "m", APIKey: "k"})
			require.NoError(t, err)
			defer a.Close()
			assert.Equal(t, tc.want, a.Name())
		})
	}
}

func TestNewUnknownBackendIsConfigError(t *testing.T) {
	for _, backend := range []string{"unknown", ""} {
		_, err := New(context.Background(), Config{Backend: backend, Model: "m", APIKey: "k"})
		assert.ErrorIs(t, err, errs.ErrConfig, backend)
	}
}

func TestNewMissingSettingsIsConfigError(t *testing.T) {
	cases := []Config{
		{Backend: "openai", Model: "gpt-4o"},
		{Backend: "gemini", Model: "gemini-1.5-flash"},
		{Backend: "google", Model: "gemini-1.5-flash"},
		{Backend: "anthropic", Model: "claude-3-5-sonnet-latest"},
		{Backend: "openai", APIKey: "k"},
		{Backend: "ollama"},
		{Backend: "ollama", Model: "llava", BaseURL: "::not a url"},
	}
	for _, cfg := range cases {
		_, err := New(context.Background(), cfg)
		assert.ErrorIs(t, err, errs.ErrConfig, "%+v", cfg)
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "gemini", Canonical(" Google "))
	assert.Equal(t, "anthropic", Canonical("CLAUDE"))
	assert.Equal(t, "openai", Canonical("openai"))
}

func TestFingerprint(t *testing.T) {
	a := Config{Backend: "openai", Model: "gpt-4o", APIKey: "k1"}
	b := a
	b.Backend = "OpenAI"
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.APIKey = "k2"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotContains(t, a.Fingerprint(), "k1")

	// zero values and explicit defaults are the same configuration
	d := a
	d.Timeout = DefaultTimeout
	d.MaxTokens = DefaultMaxTokens
	assert.Equal(t, a.Fingerprint(), d.Fingerprint())
}

func TestFinishDescribesEmptyAndBlocked(t *testing.T) {
	cfg := Config{Model: "m"}

	got, err := finish(cfg, "Gemini", "", "SAFETY")
	require.NoError(t, err)
	assert.Equal(t, []parser.Task{{
		Mess:   "Content blocked by Gemini. Reason: SAFETY",
		Reason: "Blocked by AI safety filter",
	}}, got)

	got, err = finish(cfg, "OpenAI", "  \n", "")
	require.NoError(t, err)
	assert.Equal(t, []parser.Task{{
		Mess:   "The AI returned an empty response, indicating no mess was found.",
		Reason: "Empty response",
	}}, got)
}

func TestFinishSuppressedNotice(t *testing.T) {
	cfg := Config{Model: "m", SuppressEmptyNotice: true}

	got, err := finish(cfg, "Gemini", "", "SAFETY")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = finish(cfg, "Ollama", "", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFinishParsesText(t *testing.T) {
	got, err := finish(Config{}, "OpenAI", `["socks"]`, "")
	require.NoError(t, err)
	assert.Equal(t, []parser.Task{{Mess: "socks", Reason: "N/A"}}, got)

	_, err = finish(Config{}, "OpenAI", `{"foo":1}`, "")
	assert.ErrorIs(t, err, errs.ErrAI)
}

func TestClassify(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name   string
		status int
		err    error
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, boom, errs.ErrInvalidCredentials},
		{"forbidden", http.StatusForbidden, boom, errs.ErrProvider},
		{"rate limited", http.StatusTooManyRequests, boom, errs.ErrProvider},
		{"server error", http.StatusInternalServerError, boom, errs.ErrProvider},
		{"deadline", 0, context.DeadlineExceeded, errs.ErrProvider},
		{"canceled", 0, context.Canceled, errs.ErrProvider},
		{"transport", 0, boom, errs.ErrProvider},
		{"already typed", 0, errs.AI("parser.parse", "bad"), errs.ErrAI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("test.op", tc.status, tc.err)
			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.err)
		})
	}
	assert.NoError(t, classify("test.op", 0, nil))
}

func TestImageMIME(t *testing.T) {
	assert.Equal(t, "image/jpeg", imageMIME("image/jpg"))
	assert.Equal(t, "image/png", imageMIME("IMAGE/PNG; q=1"))
	assert.Equal(t, "", imageMIME("application/pdf"))
}

func TestDummy(t *testing.T) {
	d := NewDummy(Config{})
	assert.Equal(t, "dummy", d.Model())

	got, err := d.AnalyzeImage(context.Background(), jpegStub, "image/jpeg", "find the mess")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Clothes piled on the floor", got[0].Mess)
	assert.Equal(t, int64(1), d.Calls())

	d.Err = errors.New("backend down")
	_, err = d.AnalyzeImage(context.Background(), jpegStub, "image/jpeg", "p")
	assert.ErrorIs(t, err, errs.ErrProvider)

	assert.True(t, d.HealthCheck(context.Background()).OK)
}

func TestDummyHonoursContext(t *testing.T) {
	d := NewDummy(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := d.AnalyzeImage(ctx, jpegStub, "image/jpeg", "p")
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.HealthCheck(ctx).OK)
}
