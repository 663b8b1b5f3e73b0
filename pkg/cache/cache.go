// Package cache provides appendable, trimmable key/value storage for
// incremental transformer decoding. A cache instance owns the accumulated
// keys and values of one attention layer for one decoding session; it is
// mutated only by Update and Trim and must be used from a single goroutine.
//
// Two variants exist: PlainCache stores raw tensors, QuantizedCache stores
// group-quantized blocks. Both grow their buffers in fixed step-sized
// increments so that appending one timestep at a time stays amortized O(1).
package cache

import (
	"errors"
	"fmt"

	"github.com/samcharles93/strata/pkg/tensor"
)

// DefaultStep is the growth granularity, in timesteps, used when a cache is
// constructed with step <= 0.
const DefaultStep = 256

var (
	// ErrShapeMismatch is returned when the keys and values passed to Update
	// disagree on the number of timesteps.
	ErrShapeMismatch = errors.New("cache: keys and values shape mismatch")
	// ErrRank is returned when Update receives tensors that are not of the
	// form [batch, heads, steps, headDim].
	ErrRank = errors.New("cache: expected rank-4 key/value tensors")
)

// Cache is the capability set shared by both variants. Keys and values
// passed to Update have shape [batch, kvHeads, steps, headDim]; batch and
// head counts must stay fixed for the lifetime of the cache.
type Cache interface {
	// Update appends the given timesteps and returns key/value tensors for
	// immediate use by attention. PlainCache returns offset-bounded views of
	// its buffers; QuantizedCache returns the inputs unchanged and exposes
	// its stored form through QuantizedData instead.
	Update(keys, values *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)

	// Trim discards up to n of the most recent timesteps and returns the
	// number actually discarded. Allocated capacity is retained.
	Trim(n int) int

	// IsTrimmable reports whether Trim is supported.
	IsTrimmable() bool

	// Offset returns the number of valid timesteps written so far.
	Offset() int

	// Step returns the growth granularity in timesteps.
	Step() int

	// InnerState exposes every underlying storage tensor so that a compute
	// backend can force materialization. The semantics of the cache do not
	// depend on it.
	InnerState() []*tensor.Tensor
}

// checkUpdate validates the minimal shape contract of Update. Batch and head
// drift across calls is a caller error and is deliberately not defended.
func checkUpdate(keys, values *tensor.Tensor) (int, error) {
	if keys.Rank() != 4 || values.Rank() != 4 {
		return 0, fmt.Errorf("%w: got ranks %d and %d", ErrRank, keys.Rank(), values.Rank())
	}
	if keys.Dim(2) != values.Dim(2) {
		return 0, fmt.Errorf("%w: %d key steps vs %d value steps", ErrShapeMismatch, keys.Dim(2), values.Dim(2))
	}
	return keys.Dim(2), nil
}

// grow returns storage holding at least prev+steps timesteps along axis 2,
// extending buf in multiples of step. When prev is not itself a multiple of
// step the stale tail past prev is dropped before extending, so previously
// written data is carried forward verbatim. A nil buf allocates fresh
// zero-initialised storage shaped like incoming.
func grow(buf, incoming *tensor.Tensor, prev, steps, step int) *tensor.Tensor {
	chunks := (steps + step - 1) / step
	shape := incoming.Shape()
	shape[2] = chunks * step
	ext := tensor.New(incoming.DType(), shape...)
	if buf == nil {
		return ext
	}
	if prev%step != 0 {
		buf = buf.Narrow(2, 0, prev)
	}
	return tensor.Concat(2, buf, ext)
}
