package models

import (
	"context"
	"sync/atomic"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

// DummyReply is what a Dummy answers unless told otherwise.
const DummyReply = "```json\n" + `{"tasks":[` +
	`{"mess":"Clothes piled on the floor","reason":"Trip hazard and makes the room look cluttered"},` +
	`{"mess":"Dirty dishes on the desk","reason":"Attracts pests and causes odors"},` +
	`{"mess":"Unmade bed","reason":"Makes the whole room feel untidy"}` +
	"]}\n```"

// Dummy is an offline adapter for local runs and tests. Reply and Err must be
// set before the adapter is shared.
type Dummy struct {
	Reply string
	Err   error

	cfg   Config
	calls atomic.Int64
}

func NewDummy(cfg Config) *Dummy {
	if cfg.Model == "" {
		cfg.Model = "dummy"
	}
	return &Dummy{Reply: DummyReply, cfg: cfg}
}

func (d *Dummy) Name() string  { return "dummy" }
func (d *Dummy) Model() string { return d.cfg.Model }
func (d *Dummy) Close() error  { return nil }

// Calls reports how many times AnalyzeImage ran.
func (d *Dummy) Calls() int64 { return d.calls.Load() }

func (d *Dummy) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) ([]parser.Task, error) {
	d.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, classify("dummy.analyze", 0, err)
	}
	if len(image) == 0 {
		return nil, errs.Provider("dummy.analyze", "no image data")
	}
	if d.Err != nil {
		return nil, classify("dummy.analyze", 0, d.Err)
	}
	return finish(d.cfg, "Dummy", d.Reply, "")
}

func (d *Dummy) HealthCheck(ctx context.Context) HealthStatus {
	if err := ctx.Err(); err != nil {
		return unhealthy(d.Name(), d.cfg.Model, err)
	}
	return healthy(d.Name(), d.cfg.Model)
}

var _ Adapter = (*Dummy)(nil)
