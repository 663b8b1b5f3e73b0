// Package bench measures single-token decode latency through a session's
// caches using the toy decoder as the workload.
package bench

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/strata/internal/config"
	"github.com/samcharles93/strata/internal/session"
	"github.com/samcharles93/strata/internal/toy"
)

// Options configures one benchmark run. Zero fields take the defaults below.
type Options struct {
	Preset  string
	Steps   int
	Layers  int
	QHeads  int
	KVHeads int
	HeadDim int
	Seed    int64
}

func (o *Options) defaults() {
	if o.Steps <= 0 {
		o.Steps = 128
	}
	if o.Layers <= 0 {
		o.Layers = 2
	}
	if o.QHeads <= 0 {
		o.QHeads = 4
	}
	if o.KVHeads <= 0 {
		o.KVHeads = 2
	}
	if o.HeadDim <= 0 {
		o.HeadDim = 64
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
}

// Result summarises the latency distribution of a run. Durations are per
// decoded token.
type Result struct {
	Preset    string        `json:"preset"`
	Steps     int           `json:"steps"`
	Layers    int           `json:"layers"`
	Total     time.Duration `json:"total"`
	Mean      time.Duration `json:"mean"`
	StdDev    time.Duration `json:"std_dev"`
	P50       time.Duration `json:"p50"`
	P99       time.Duration `json:"p99"`
	TokensSec float64       `json:"tokens_per_sec"`
	PeakRSSKB int64         `json:"peak_rss_kb"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d steps, mean %s, p50 %s, p99 %s, %.1f tok/s",
		r.Preset, r.Steps, r.Mean, r.P50, r.P99, r.TokensSec)
}

// Run decodes Options.Steps tokens through a fresh session built from the
// named preset and returns per-token latency statistics. The context is
// checked between steps.
func Run(ctx context.Context, reg *config.Registry, opts Options) (Result, error) {
	opts.defaults()

	s, err := session.New(reg, opts.Preset, opts.Layers)
	if err != nil {
		return Result{}, err
	}
	cfg := toy.Config{
		Vocab:   64,
		Layers:  opts.Layers,
		QHeads:  opts.QHeads,
		KVHeads: opts.KVHeads,
		HeadDim: opts.HeadDim,
	}
	dec, err := toy.NewDecoder(cfg, opts.Seed)
	if err != nil {
		return Result{}, err
	}

	lat := make([]float64, 0, opts.Steps)
	start := time.Now()
	for i := 0; i < opts.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t0 := time.Now()
		if _, err := dec.Step(s.Caches(), i%cfg.Vocab); err != nil {
			return Result{}, fmt.Errorf("bench: step %d: %w", i, err)
		}
		lat = append(lat, float64(time.Since(t0)))
	}
	total := time.Since(start)

	sort.Float64s(lat)
	mean := stat.Mean(lat, nil)
	var std float64
	if len(lat) > 1 {
		std = stat.StdDev(lat, nil)
	}
	res := Result{
		Preset:    s.Preset(),
		Steps:     opts.Steps,
		Layers:    opts.Layers,
		Total:     total,
		Mean:      time.Duration(mean),
		StdDev:    time.Duration(std),
		P50:       time.Duration(stat.Quantile(0.5, stat.Empirical, lat, nil)),
		P99:       time.Duration(stat.Quantile(0.99, stat.Empirical, lat, nil)),
		TokensSec: float64(opts.Steps) / total.Seconds(),
		PeakRSSKB: peakRSSKB(),
	}
	return res, nil
}
