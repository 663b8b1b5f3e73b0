// Package toy provides a minimal attention-only decoder used to exercise the
// cache and attention packages in tests and benchmarks. It plays the role of
// the external generation loop: per token it produces queries, keys and
// values, feeds the per-layer caches and runs the attention operator. There
// are no feed-forward blocks or output heads; the model is deliberately
// simplistic and deterministic.
package toy

import (
	"fmt"
	"math"

	"github.com/samcharles93/strata/pkg/attention"
	"github.com/samcharles93/strata/pkg/cache"
	"github.com/samcharles93/strata/pkg/tensor"
)

// Config sizes the decoder. QHeads must be a multiple of KVHeads.
type Config struct {
	Vocab   int
	Layers  int
	QHeads  int
	KVHeads int
	HeadDim int
}

// Hidden returns the width of the residual stream.
func (c Config) Hidden() int { return c.QHeads * c.HeadDim }

// Decoder holds deterministic random projection weights. Each layer has
// query, key and value projections from the hidden state.
type Decoder struct {
	cfg   Config
	scale float32

	emb *tensor.Tensor   // [vocab, hidden]
	wq  []*tensor.Tensor // per layer [hidden, qHeads*headDim]
	wk  []*tensor.Tensor // per layer [hidden, kvHeads*headDim]
	wv  []*tensor.Tensor // per layer [hidden, kvHeads*headDim]

	h []float32 // scratch hidden state
}

// NewDecoder constructs a decoder with weights derived from seed.
func NewDecoder(cfg Config, seed int64) (*Decoder, error) {
	if cfg.KVHeads <= 0 || cfg.QHeads%cfg.KVHeads != 0 {
		return nil, fmt.Errorf("toy: %d query heads not a multiple of %d kv heads", cfg.QHeads, cfg.KVHeads)
	}
	d := &Decoder{
		cfg:   cfg,
		scale: float32(1 / math.Sqrt(float64(cfg.HeadDim))),
		emb:   tensor.New(tensor.F32, cfg.Vocab, cfg.Hidden()),
		h:     make([]float32, cfg.Hidden()),
	}
	tensor.FillRand(d.emb, seed)
	for l := 0; l < cfg.Layers; l++ {
		wq := tensor.New(tensor.F32, cfg.Hidden(), cfg.QHeads*cfg.HeadDim)
		wk := tensor.New(tensor.F32, cfg.Hidden(), cfg.KVHeads*cfg.HeadDim)
		wv := tensor.New(tensor.F32, cfg.Hidden(), cfg.KVHeads*cfg.HeadDim)
		tensor.FillRand(wq, seed+int64(3*l+1))
		tensor.FillRand(wk, seed+int64(3*l+2))
		tensor.FillRand(wv, seed+int64(3*l+3))
		d.wq = append(d.wq, wq)
		d.wk = append(d.wk, wk)
		d.wv = append(d.wv, wv)
	}
	return d, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.cfg }

// Step decodes one token: for each layer it projects Q/K/V from the hidden
// state, appends K/V to that layer's cache and runs causal attention against
// the accumulated history. The attention output of the last layer is
// returned with shape [1, qHeads, 1, headDim].
func (d *Decoder) Step(caches []cache.Cache, tok int) (*tensor.Tensor, error) {
	if len(caches) != d.cfg.Layers {
		return nil, fmt.Errorf("toy: %d caches for %d layers", len(caches), d.cfg.Layers)
	}
	if tok < 0 || tok >= d.cfg.Vocab {
		tok = ((tok % d.cfg.Vocab) + d.cfg.Vocab) % d.cfg.Vocab
	}
	copy(d.h, d.emb.Row(tok))

	var out *tensor.Tensor
	for l := 0; l < d.cfg.Layers; l++ {
		q := project(d.h, d.wq[l], d.cfg.QHeads, d.cfg.HeadDim)
		k := project(d.h, d.wk[l], d.cfg.KVHeads, d.cfg.HeadDim)
		v := project(d.h, d.wv[l], d.cfg.KVHeads, d.cfg.HeadDim)

		ks, vs, err := caches[l].Update(k, v)
		if err != nil {
			return nil, fmt.Errorf("toy: layer %d update: %w", l, err)
		}
		out, err = attention.Compute(q, ks, vs, caches[l], d.scale, attention.Causal())
		if err != nil {
			return nil, fmt.Errorf("toy: layer %d attention: %w", l, err)
		}

		// Feed the attention output back as the next layer's hidden state,
		// with a residual connection to keep magnitudes stable.
		flat := out.Float32s()
		for i := range d.h {
			d.h[i] = 0.5*d.h[i] + flat[i]
		}
	}
	return out, nil
}

// project computes x*W and shapes the result as [1, heads, 1, headDim].
func project(x []float32, w *tensor.Tensor, heads, headDim int) *tensor.Tensor {
	cols := heads * headDim
	res := make([]float32, cols)
	for i, xv := range x {
		if xv == 0 {
			continue
		}
		row := w.Row(i)
		for j := 0; j < cols; j++ {
			res[j] += xv * row[j]
		}
	}
	// [heads*headDim] laid out head-major maps directly onto the attention
	// layout [1, heads, 1, headDim].
	return tensor.FromFloat32(res, 1, heads, 1, headDim)
}
