// Package roomcleaner turns a photo of a room into a short list of cleanup
// tasks using a vision-capable model.
package roomcleaner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/Protocol-Lattice/roomcleaner/src/cache"
	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/imaging"
	"github.com/Protocol-Lattice/roomcleaner/src/metrics"
	"github.com/Protocol-Lattice/roomcleaner/src/models"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// Adapter reuse defaults. An adapter idle past the TTL, or pushed out by
// newer configurations, is closed.
const (
	DefaultMaxAdapters = 8
	DefaultAdapterTTL  = time.Hour
)

// Resolver builds the adapter for a backend configuration.
type Resolver func(ctx context.Context, cfg models.Config) (models.Adapter, error)

// Recorder receives every successful result.
type Recorder interface {
	Append(Result)
	List(limit int) []Result
	Clear()
}

// Request is one fully prepared call to a backend.
type Request struct {
	Image   *imaging.Governed
	Prompt  string
	Backend models.Config
}

// Result is the outcome of a successful analysis.
type Result struct {
	ID          string        `json:"id"`
	Tasks       []parser.Task `json:"tasks"`
	Backend     string        `json:"backend"`
	Model       string        `json:"model"`
	ImageHash   string        `json:"image_hash"`
	ImageWidth  int           `json:"image_width"`
	ImageHeight int           `json:"image_height"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration"`
}

// Options configure a new Analyzer.
type Options struct {
	// Governor processes images. Defaults to one with default limits.
	Governor *imaging.Governor
	// Resolver defaults to models.New.
	Resolver Resolver
	// Recorder is optional.
	Recorder Recorder
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Prompt is used when a call passes an empty prompt.
	Prompt string
	// MaxAdapters bounds how many backend clients stay open. Defaults to
	// DefaultMaxAdapters.
	MaxAdapters int
	// AdapterTTL defaults to DefaultAdapterTTL.
	AdapterTTL time.Duration
}

// Analyzer runs the pipeline from raw image bytes to tasks. It is safe for
// concurrent use; the image cache and the adapters are shared by all calls.
type Analyzer struct {
	governor *imaging.Governor
	resolve  Resolver
	recorder Recorder
	metrics  *metrics.Metrics
	prompt   string

	mu       sync.Mutex
	adapters *cache.LRU[models.Adapter]
}

// New creates an Analyzer with the provided options.
func New(opts Options) *Analyzer {
	gov := opts.Governor
	if gov == nil {
		gov = imaging.NewGovernor(imaging.Options{OnCacheLookup: opts.Metrics.ObserveCache})
	}
	resolve := opts.Resolver
	if resolve == nil {
		resolve = models.New
	}
	maxAdapters := opts.MaxAdapters
	if maxAdapters <= 0 {
		maxAdapters = DefaultMaxAdapters
	}
	ttl := opts.AdapterTTL
	if ttl <= 0 {
		ttl = DefaultAdapterTTL
	}

	return &Analyzer{
		governor: gov,
		resolve:  resolve,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		prompt:   opts.Prompt,
		adapters: cache.NewLRU[models.Adapter](maxAdapters, ttl).OnEvict(closeAdapter),
	}
}

func closeAdapter(_ string, ad models.Adapter) {
	fields := log.Fields{"backend": ad.Name(), "model": ad.Model()}
	if err := ad.Close(); err != nil {
		log.WithFields(fields).WithError(err).Warn("analyzer: failed to close evicted backend")
		return
	}
	log.WithFields(fields).Debug("analyzer: evicted backend closed")
}

// Analyze validates and governs image, then asks the configured backend for
// tasks. Errors carry the kind assigned by the layer that failed.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mimeType, prompt string, cfg models.Config) (*Result, error) {
	start := time.Now()
	backend := models.Canonical(cfg.Backend)

	res, err := a.analyze(ctx, image, mimeType, prompt, cfg)
	if err != nil {
		a.metrics.ObserveAnalysis(backend, errs.KindOf(err).String(), time.Since(start))
		log.WithFields(log.Fields{
			"backend": backend,
			"kind":    errs.KindOf(err).String(),
		}).WithError(err).Error("analyzer: analysis failed")
		return nil, err
	}

	res.Duration = time.Since(start)
	a.metrics.ObserveAnalysis(backend, "", res.Duration)
	if a.recorder != nil {
		a.recorder.Append(*res)
	}

	log.WithFields(log.Fields{
		"id":      res.ID,
		"backend": res.Backend,
		"model":   res.Model,
		"tasks":   len(res.Tasks),
		"took":    res.Duration.Round(time.Millisecond).String(),
	}).Info("analyzer: analysis complete")
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, image []byte, mimeType, prompt string, cfg models.Config) (*Result, error) {
	asset, err := imaging.Admit(imaging.Asset{Data: image, MIMEType: mimeType}, a.governor.Limits())
	if err != nil {
		return nil, err
	}

	governed, err := a.governor.Govern(ctx, asset)
	if err != nil {
		return nil, err
	}

	clean := SanitizePrompt(prompt)
	if clean == "" {
		clean = SanitizePrompt(a.prompt)
	}
	if clean == "" {
		return nil, errs.Config("analyzer.analyze", "prompt is empty")
	}

	return a.dispatch(ctx, Request{Image: governed, Prompt: clean, Backend: cfg})
}

func (a *Analyzer) dispatch(ctx context.Context, req Request) (*Result, error) {
	adapter, err := a.adapter(ctx, req.Backend)
	if err != nil {
		return nil, err
	}

	tasks, err := adapter.AnalyzeImage(ctx, req.Image.Data, req.Image.MIMEType, req.Prompt)
	if err != nil {
		return nil, err
	}
	if len(tasks) > parser.MaxTasks {
		tasks = tasks[:parser.MaxTasks]
	}
	if tasks == nil {
		tasks = []parser.Task{}
	}

	return &Result{
		ID:          uuid.NewString(),
		Tasks:       tasks,
		Backend:     adapter.Name(),
		Model:       adapter.Model(),
		ImageHash:   req.Image.SourceHash,
		ImageWidth:  req.Image.Width,
		ImageHeight: req.Image.Height,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HealthCheck reports whether the configured backend is reachable. A
// configuration problem is reported as an unhealthy status.
func (a *Analyzer) HealthCheck(ctx context.Context, cfg models.Config) models.HealthStatus {
	adapter, err := a.adapter(ctx, cfg)
	if err != nil {
		return models.HealthStatus{Backend: models.Canonical(cfg.Backend), Model: cfg.Model, Detail: err.Error()}
	}
	st := adapter.HealthCheck(ctx)
	if !st.OK {
		log.WithFields(log.Fields{"backend": st.Backend, "detail": st.Detail}).Warn("analyzer: backend unhealthy")
	}
	return st
}

// History returns up to limit recorded results, newest first.
func (a *Analyzer) History(limit int) []Result {
	if a.recorder == nil {
		return nil
	}
	return a.recorder.List(limit)
}

// ClearHistory drops all recorded results.
func (a *Analyzer) ClearHistory() {
	if a.recorder != nil {
		a.recorder.Clear()
	}
}

// Close releases every open adapter and drops cached images. The Analyzer
// stays usable; later calls open new adapters.
func (a *Analyzer) Close() error {
	a.governor.Purge()

	var errList []error
	for _, ad := range a.adapters.Drain() {
		if err := ad.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// adapter returns the memoized adapter for cfg, creating it on first use.
// Only the most recently used configurations keep an open adapter.
func (a *Analyzer) adapter(ctx context.Context, cfg models.Config) (models.Adapter, error) {
	key := cfg.Fingerprint()

	if ad, ok := a.adapters.Get(key); ok {
		return ad, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ad, ok := a.adapters.Get(key); ok {
		return ad, nil
	}
	ad, err := a.resolve(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "analyzer.adapter", err, "resolve backend")
	}
	if ad == nil {
		return nil, errs.Config("analyzer.adapter", "no adapter for backend %q", cfg.Backend)
	}
	a.adapters.Add(key, ad)

	log.WithFields(log.Fields{
		"backend": ad.Name(),
		"model":   ad.Model(),
	}).Info("analyzer: backend ready")
	return ad, nil
}
