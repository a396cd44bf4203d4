// Package imaging bounds the size of images before they are sent to a vision
// backend. Every accepted image leaves as a JPEG whose longer side fits the
// configured ceiling.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/apex/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/Protocol-Lattice/roomcleaner/src/cache"
	"github.com/Protocol-Lattice/roomcleaner/src/concurrent"
	"github.com/Protocol-Lattice/roomcleaner/src/errs"
)

// JPEGQuality is the encoder quality of governed output.
const JPEGQuality = 85

// Limits are the ceilings enforced on every image.
type Limits struct {
	MaxBytes          int64 // checked before decoding
	MaxDimension      int   // longer side of the output
	HighRiskDimension int   // above this a coarse first pass runs
	MaxPixels         int64 // header width*height ceiling
}

// DefaultLimits returns 10 MiB, 2048px output, 4096px high-risk threshold and
// a 100 megapixel header ceiling.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:          10 << 20,
		MaxDimension:      2048,
		HighRiskDimension: 4096,
		MaxPixels:         100_000_000,
	}
}

// Governed is the processed image. Values are shared between callers through
// the cache and must not be modified.
type Governed struct {
	Data         []byte
	Width        int
	Height       int
	MIMEType     string
	SourceHash   string
	SourceWidth  int
	SourceHeight int
}

// Cache defaults used when Options leave them zero.
const (
	DefaultCacheSize = 64
	DefaultCacheTTL  = 10 * time.Minute
)

// Options configure a Governor. Zero values pick defaults.
type Options struct {
	Limits Limits
	// CacheSize is the number of governed images kept. Zero means
	// DefaultCacheSize; a negative value disables the cache.
	CacheSize int
	CacheTTL  time.Duration
	Workers   int
	// OnCacheLookup, if set, is told whether each Govern call hit the cache.
	OnCacheLookup func(hit bool)
}

// Governor turns assets into governed images, caching by content.
type Governor struct {
	limits Limits
	cache  *cache.LRU[*Governed]
	flight singleflight.Group
	pool   *concurrent.WorkerPool
	onHit  func(bool)
}

// NewGovernor builds a governor. A negative CacheSize disables caching.
func NewGovernor(opts Options) *Governor {
	l := opts.Limits
	d := DefaultLimits()
	if l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	if l.MaxDimension <= 0 {
		l.MaxDimension = d.MaxDimension
	}
	if l.HighRiskDimension <= 0 {
		l.HighRiskDimension = d.HighRiskDimension
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = d.MaxPixels
	}

	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	onHit := opts.OnCacheLookup
	if onHit == nil {
		onHit = func(bool) {}
	}

	g := &Governor{
		limits: l,
		cache:  cache.NewLRU[*Governed](size, ttl),
		pool:   concurrent.NewWorkerPool(opts.Workers),
		onHit:  onHit,
	}
	log.WithFields(log.Fields{
		"max_dimension": l.MaxDimension,
		"high_risk":     l.HighRiskDimension,
		"cache_size":    max(size, 0),
		"workers":       g.pool.Size(),
	}).Debug("imaging: governor ready")
	return g
}

// Limits returns the effective ceilings.
func (g *Governor) Limits() Limits { return g.limits }

// Workers returns how many images may be decoded at once.
func (g *Governor) Workers() int { return g.pool.Size() }

// Purge drops every cached image.
func (g *Governor) Purge() { g.cache.Purge() }

// Govern validates, downsizes and re-encodes asset. Identical bytes seen
// within the cache TTL return the earlier result.
func (g *Governor) Govern(ctx context.Context, asset Asset) (*Governed, error) {
	const op = "imaging.govern"

	if len(asset.Data) == 0 {
		return nil, errs.Image(op, "image is empty")
	}
	if asset.Size() > g.limits.MaxBytes {
		return nil, errs.Image(op, "image is %d bytes, limit is %d", asset.Size(), g.limits.MaxBytes)
	}

	key := cache.HashBytes(asset.Data)
	if out, ok := g.cache.Get(key); ok {
		g.onHit(true)
		log.WithField("hash", key[:12]).Debug("imaging: cache hit")
		return out, nil
	}
	g.onHit(false)

	for {
		ch := g.flight.DoChan(key, func() (any, error) {
			return g.process(ctx, key, asset.Data)
		})
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindImageProcessing, op, ctx.Err(), "image processing abandoned")
		case r := <-ch:
			if r.Err != nil {
				// the flight belonged to a caller that gave up; ours is still live
				if isContextErr(r.Err) && ctx.Err() == nil {
					continue
				}
				return nil, r.Err
			}
			return r.Val.(*Governed), nil
		}
	}
}

func (g *Governor) process(ctx context.Context, key string, data []byte) (*Governed, error) {
	if out, ok := g.cache.Get(key); ok {
		return out, nil
	}

	start := time.Now()
	out, err := concurrent.Go(ctx, g.pool, func(ctx context.Context) (*Governed, error) {
		return transform(ctx, data, g.limits)
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindImageProcessing, "imaging.govern", err, "process image")
	}
	out.SourceHash = key

	log.WithFields(log.Fields{
		"source":   dims(out.SourceWidth, out.SourceHeight),
		"output":   dims(out.Width, out.Height),
		"bytes_in": len(data),
		"bytes":    len(out.Data),
		"took":     time.Since(start).Round(time.Millisecond).String(),
	}).Info("imaging: image governed")

	stored, _ := g.cache.Add(key, out)
	return stored, nil
}

func transform(ctx context.Context, data []byte, l Limits) (*Governed, error) {
	const op = "imaging.transform"

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindImageProcessing, op, err, "read image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errs.Image(op, "image has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}
	if bandCount(cfg.ColorModel) == 0 {
		return nil, errs.Image(op, "unsupported pixel format in %s image", format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > l.MaxPixels {
		return nil, errs.Image(op, "image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, l.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindImageProcessing, op, err, "decode image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()

	if longer(img) > l.HighRiskDimension {
		log.WithField("size", dims(srcW, srcH)).Warn("imaging: high-risk image, coarse downsample first")
		img = fit(img, l.HighRiskDimension, draw.ApproxBiLinear)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if longer(img) > l.MaxDimension {
		img = fit(img, l.MaxDimension, draw.CatmullRom)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if format == "jpeg" {
		img = orient(img, orientation(data))
	}

	flat := flatten(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, errs.Wrap(errs.KindImageProcessing, op, err, "encode jpeg")
	}

	b := flat.Bounds()
	return &Governed{
		Data:         buf.Bytes(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		MIMEType:     Output,
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, nil
}

// bandCount maps a decoder's color model to a channel count; 0 means the
// format is not one we can convert reliably.
func bandCount(m color.Model) int {
	// palettes are slices; match them before any interface comparison
	if _, ok := m.(color.Palette); ok {
		return 4
	}
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.YCbCrModel:
		return 3
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model,
		color.CMYKModel, color.NYCbCrAModel:
		return 4
	}
	return 0
}

func longer(img image.Image) int {
	b := img.Bounds()
	return max(b.Dx(), b.Dy())
}

// fit scales img so its longer side is exactly target, keeping aspect ratio.
func fit(img image.Image, target int, s draw.Scaler) image.Image {
	b := img.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), target)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	s.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func scaledSize(w, h, target int) (int, int) {
	if w >= h {
		return target, max(1, int(float64(h)*float64(target)/float64(w)+0.5))
	}
	return max(1, int(float64(w)*float64(target)/float64(h)+0.5)), target
}

// flatten composites img over white, dropping alpha.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func dims(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
