package cache

import (
	"fmt"

	"github.com/samcharles93/strata/pkg/quant"
	"github.com/samcharles93/strata/pkg/tensor"
)

// Defaults for the quantized variant, applied when the corresponding
// constructor argument is 0 or less.
const (
	DefaultGroupSize = 64
	DefaultBits      = 8
)

// QuantizedCache stores keys and values as group-quantized blocks. The group
// size and bit width are fixed at construction; the head dimension of the
// tensors passed to Update must be divisible by both the group size and the
// number of codes per 32-bit word.
type QuantizedCache struct {
	keys   quant.Block
	values quant.Block
	offset int
	step   int

	groupSize int
	bits      int
	allocated bool
}

var _ Cache = (*QuantizedCache)(nil)

// NewQuantized constructs an empty quantized cache.
func NewQuantized(groupSize, bits, step int) *QuantizedCache {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	if bits <= 0 {
		bits = DefaultBits
	}
	if step <= 0 {
		step = DefaultStep
	}
	return &QuantizedCache{step: step, groupSize: groupSize, bits: bits}
}

// GroupSize returns the quantization group size.
func (c *QuantizedCache) GroupSize() int { return c.groupSize }

// Bits returns the code width in bits.
func (c *QuantizedCache) Bits() int { return c.bits }

// Update quantizes the given timesteps into the internal block buffers,
// growing them ahead of need, and advances the offset. The returned tensors
// are the inputs themselves, unchanged: callers that need raw keys/values for
// the current step keep a uniform contract across cache variants, while
// attention consumes the stored form via QuantizedData. The return value
// does not reflect the quantization loss of what was stored.
func (c *QuantizedCache) Update(keys, values *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	steps, err := checkUpdate(keys, values)
	if err != nil {
		return nil, nil, err
	}

	qk, err := quant.Quantize(keys, c.groupSize, c.bits)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: quantize keys: %w", err)
	}
	qv, err := quant.Quantize(values, c.groupSize, c.bits)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: quantize values: %w", err)
	}

	prev := c.offset
	if !c.allocated || prev+steps > c.keys.Dim(-1) {
		c.keys = growBlock(c.keys, qk, prev, steps, c.step, c.allocated)
		c.values = growBlock(c.values, qv, prev, steps, c.step, c.allocated)
		c.allocated = true
	}

	c.offset += steps
	copyBlock(c.keys.Narrow(2, prev, steps), qk)
	copyBlock(c.values.Narrow(2, prev, steps), qv)
	return keys, values, nil
}

// QuantizedData returns offset-bounded views of the stored key and value
// blocks. ok is false until the first timestep has been written.
func (c *QuantizedCache) QuantizedData() (keys, values quant.Block, ok bool) {
	if c.offset == 0 {
		return quant.Block{}, quant.Block{}, false
	}
	return c.keys.Narrow(2, 0, c.offset), c.values.Narrow(2, 0, c.offset), true
}

// Trim discards up to n of the most recent timesteps. The quantized buffers
// are untouched; the trimmed tail becomes logically invalid and is
// overwritten by later updates.
func (c *QuantizedCache) Trim(n int) int {
	if n < 0 {
		n = 0
	}
	if n > c.offset {
		n = c.offset
	}
	c.offset -= n
	return n
}

// IsTrimmable always reports true for the quantized variant.
func (c *QuantizedCache) IsTrimmable() bool { return true }

// Offset returns the number of valid timesteps.
func (c *QuantizedCache) Offset() int { return c.offset }

// Step returns the growth granularity.
func (c *QuantizedCache) Step() int { return c.step }

// Capacity returns the number of allocated timesteps.
func (c *QuantizedCache) Capacity() int {
	if !c.allocated {
		return 0
	}
	return c.keys.Dim(-1)
}

// InnerState exposes all six underlying tensors (codes, scales and biases
// for keys and values) for backend evaluation hooks.
func (c *QuantizedCache) InnerState() []*tensor.Tensor {
	if !c.allocated {
		return nil
	}
	return append(c.keys.Tensors(), c.values.Tensors()...)
}

// ToQuantized converts a plain cache into a quantized one, snapshotting the
// valid prefix of its buffers through the quantizer. The plain cache is left
// untouched.
func ToQuantized(p *PlainCache, groupSize, bits int) (*QuantizedCache, error) {
	q := NewQuantized(groupSize, bits, p.Step())
	if p.Offset() == 0 {
		return q, nil
	}
	keys := p.keys.Narrow(2, 0, p.offset)
	values := p.values.Narrow(2, 0, p.offset)

	var err error
	if q.keys, err = quant.Quantize(keys, q.groupSize, q.bits); err != nil {
		return nil, fmt.Errorf("cache: convert keys: %w", err)
	}
	if q.values, err = quant.Quantize(values, q.groupSize, q.bits); err != nil {
		return nil, fmt.Errorf("cache: convert values: %w", err)
	}
	q.offset = p.offset
	q.allocated = true
	return q, nil
}

// growBlock applies the shared growth policy to each of the three tensors of
// a block.
func growBlock(buf, incoming quant.Block, prev, steps, step int, allocated bool) quant.Block {
	bufs := []*tensor.Tensor{nil, nil, nil}
	if allocated {
		bufs = buf.Tensors()
	}
	in := incoming.Tensors()
	out := make([]*tensor.Tensor, 3)
	for i := range out {
		out[i] = grow(bufs[i], in[i], prev, steps, step)
	}
	return quant.Block{Codes: out[0], Scales: out[1], Biases: out[2]}
}

func copyBlock(dst, src quant.Block) {
	tensor.CopyInto(dst.Codes, src.Codes)
	tensor.CopyInto(dst.Scales, src.Scales)
	tensor.CopyInto(dst.Biases, src.Biases)
}
