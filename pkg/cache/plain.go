package cache

import (
	"github.com/samcharles93/strata/pkg/tensor"
)

// PlainCache stores keys and values as raw tensors of whatever dtype the
// first Update provides.
type PlainCache struct {
	keys   *tensor.Tensor
	values *tensor.Tensor
	offset int
	step   int
}

var _ Cache = (*PlainCache)(nil)

// NewPlain constructs an empty full-precision cache. A step of 0 or less
// selects DefaultStep.
func NewPlain(step int) *PlainCache {
	if step <= 0 {
		step = DefaultStep
	}
	return &PlainCache{step: step}
}

// Update appends the given timesteps, growing storage ahead of need, and
// returns views of the stored keys and values covering [0, offset).
func (c *PlainCache) Update(keys, values *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	steps, err := checkUpdate(keys, values)
	if err != nil {
		return nil, nil, err
	}

	prev := c.offset
	if c.keys == nil || prev+steps > c.keys.Dim(2) {
		c.keys = grow(c.keys, keys, prev, steps, c.step)
		c.values = grow(c.values, values, prev, steps, c.step)
	}

	c.offset += steps
	tensor.CopyInto(c.keys.Narrow(2, prev, steps), keys)
	tensor.CopyInto(c.values.Narrow(2, prev, steps), values)
	return c.keys.Narrow(2, 0, c.offset), c.values.Narrow(2, 0, c.offset), nil
}

// Trim discards up to n of the most recent timesteps. Only the offset moves;
// the buffers are reused by subsequent updates.
func (c *PlainCache) Trim(n int) int {
	if n < 0 {
		n = 0
	}
	if n > c.offset {
		n = c.offset
	}
	c.offset -= n
	return n
}

// IsTrimmable always reports true for the plain variant.
func (c *PlainCache) IsTrimmable() bool { return true }

// Offset returns the number of valid timesteps.
func (c *PlainCache) Offset() int { return c.offset }

// Step returns the growth granularity.
func (c *PlainCache) Step() int { return c.step }

// Capacity returns the number of allocated timesteps.
func (c *PlainCache) Capacity() int {
	if c.keys == nil {
		return 0
	}
	return c.keys.Dim(2)
}

// InnerState exposes the underlying buffers for backend evaluation hooks.
func (c *PlainCache) InnerState() []*tensor.Tensor {
	if c.keys == nil {
		return nil
	}
	return []*tensor.Tensor{c.keys, c.values}
}
