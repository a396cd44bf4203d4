// Package config builds the analyzer's inputs from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/imaging"
	"github.com/Protocol-Lattice/roomcleaner/src/models"
)

// DefaultPrompt asks for the task format the parser expects.
const DefaultPrompt = `You are a meticulous home organisation assistant. Look at the attached photo of a room and identify the messes that should be cleaned up, most important first.
Respond with JSON only, in exactly this shape:
{"tasks": [{"mess": "short description of the mess", "reason": "why it should be cleaned"}]}
List at most 10 tasks. If the room is tidy, respond with {"tasks": []}.`

var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"gemini":    "gemini-1.5-pro-latest",
	"anthropic": "claude-3-5-sonnet-latest",
	"ollama":    "llava",
	"dummy":     "dummy",
}

// backend specific credential variables, consulted when AI_API_KEY is unset
var keyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"ollama":    {"OLLAMA_API_KEY"},
}

// Config holds every setting of the room cleaner.
type Config struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Prompt    string        `yaml:"prompt"`

	// DescribeEmptyResponses turns empty or blocked replies into one
	// explanatory task.
	DescribeEmptyResponses bool `yaml:"describe_empty_responses"`

	Image       ImageConfig `yaml:"image"`
	HistorySize int         `yaml:"history_size"`
	Log         LogConfig   `yaml:"log"`
}

type ImageConfig struct {
	MaxSizeMB         int           `yaml:"max_size_mb"`
	MaxDimension      int           `yaml:"max_dimension"`
	HighRiskDimension int           `yaml:"high_risk_dimension"`
	MaxPixels         int64         `yaml:"max_pixels"`
	// CacheSize of 0 or less turns the governed image cache off.
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	Workers           int           `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Provider:               "openai",
		MaxTokens:              models.DefaultMaxTokens,
		Timeout:                models.DefaultTimeout,
		Prompt:                 DefaultPrompt,
		DescribeEmptyResponses: true,
		Image: ImageConfig{
			MaxSizeMB:         10,
			MaxDimension:      2048,
			HighRiskDimension: 4096,
			MaxPixels:         100_000_000,
			CacheSize:         64,
			CacheTTL:          10 * time.Minute,
		},
		HistorySize: 50,
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration. path may be empty; a missing .env file is not
// an error.
func Load(path string) (*Config, error) {
	const op = "config.load"
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, op, err, "read config file")
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.KindConfig, op, err, "parse config file")
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("config: could not read .env file")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var bad []string

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := parseDuration(strings.TrimSpace(v))
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = b
		}
	}

	setString("AI_PROVIDER", &c.Provider)
	setString("AI_MODEL", &c.Model)
	setString("AI_API_KEY", &c.APIKey)
	setString("AI_BASE_URL", &c.BaseURL)
	setInt("AI_MAX_TOKENS", &c.MaxTokens)
	setDuration("AI_TIMEOUT", &c.Timeout)
	setString("AI_PROMPT", &c.Prompt)
	setBool("DESCRIBE_EMPTY_RESPONSES", &c.DescribeEmptyResponses)

	setInt("MAX_IMAGE_SIZE_MB", &c.Image.MaxSizeMB)
	setInt("MAX_IMAGE_DIMENSION", &c.Image.MaxDimension)
	setInt("HIGH_RISK_DIMENSION_THRESHOLD", &c.Image.HighRiskDimension)
	setInt64("MAX_IMAGE_PIXELS", &c.Image.MaxPixels)
	setInt("IMAGE_CACHE_SIZE", &c.Image.CacheSize)
	setDuration("IMAGE_CACHE_TTL", &c.Image.CacheTTL)
	setInt("IMAGE_WORKERS", &c.Image.Workers)

	setInt("HISTORY_SIZE", &c.HistorySize)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if models.Canonical(c.Provider) == "ollama" && c.BaseURL == "" {
		setString("OLLAMA_HOST", &c.BaseURL)
	}

	if len(bad) > 0 {
		return errs.Config("config.env", "invalid value for %s", strings.Join(bad, ", "))
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *Config) fillDefaults() {
	backend := models.Canonical(c.Provider)
	if c.APIKey == "" {
		for _, key := range keyEnv[backend] {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				c.APIKey = v
				break
			}
		}
	}
	if c.Model == "" {
		c.Model = defaultModels[backend]
	}
	if strings.TrimSpace(c.Prompt) == "" {
		c.Prompt = DefaultPrompt
	}
}

// Validate checks values that would otherwise fail later and less clearly.
// Missing credentials are left to the adapter.
func (c *Config) Validate() error {
	const op = "config.validate"

	if _, ok := defaultModels[models.Canonical(c.Provider)]; !ok {
		return errs.Config(op, "unknown provider %q", c.Provider)
	}
	switch {
	case c.MaxTokens <= 0:
		return errs.Config(op, "max tokens must be positive, got %d", c.MaxTokens)
	case c.Timeout <= 0:
		return errs.Config(op, "timeout must be positive, got %s", c.Timeout)
	case c.Image.MaxSizeMB <= 0:
		return errs.Config(op, "max image size must be positive, got %d MB", c.Image.MaxSizeMB)
	case c.Image.MaxDimension <= 0:
		return errs.Config(op, "max image dimension must be positive, got %d", c.Image.MaxDimension)
	case c.Image.HighRiskDimension < c.Image.MaxDimension:
		return errs.Config(op, "high risk dimension %d is below max dimension %d",
			c.Image.HighRiskDimension, c.Image.MaxDimension)
	case c.Image.MaxPixels <= 0:
		return errs.Config(op, "max image pixels must be positive, got %d", c.Image.MaxPixels)
	case c.Image.CacheTTL <= 0:
		return errs.Config(op, "image cache ttl must be positive, got %s", c.Image.CacheTTL)
	}
	if _, err := log.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return errs.Config(op, "invalid log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errs.Config(op, "invalid log format %q", c.Log.Format)
	}
	return nil
}

// ModelConfig is the backend selection handed to the analyzer.
func (c *Config) ModelConfig() models.Config {
	return models.Config{
		Backend:             c.Provider,
		Model:               c.Model,
		APIKey:              c.APIKey,
		BaseURL:             c.BaseURL,
		MaxTokens:           c.MaxTokens,
		Timeout:             c.Timeout,
		SuppressEmptyNotice: !c.DescribeEmptyResponses,
	}
}

// Limits converts the image settings.
func (c *Config) Limits() imaging.Limits {
	return imaging.Limits{
		MaxBytes:          int64(c.Image.MaxSizeMB) << 20,
		MaxDimension:      c.Image.MaxDimension,
		HighRiskDimension: c.Image.HighRiskDimension,
		MaxPixels:         c.Image.MaxPixels,
	}
}

// GovernorOptions configures the image governor.
func (c *Config) GovernorOptions() imaging.Options {
	size := c.Image.CacheSize
	if size <= 0 {
		size = -1
	}
	return imaging.Options{
		Limits:    c.Limits(),
		CacheSize: size,
		CacheTTL:  c.Image.CacheTTL,
		Workers:   c.Image.Workers,
	}
}
