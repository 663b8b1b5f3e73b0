// Package session groups the per-layer caches of one decoding run. Update
// traffic is single-owner: the generation loop that created the session is
// the only caller feeding its caches, mirroring the exclusive-ownership
// contract of the cache package. Control operations (Offset, Rollback,
// Quantize and the accessors) are serialized by an internal mutex so they can
// be issued from concurrent HTTP handlers.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/strata/internal/config"
	"github.com/samcharles93/strata/pkg/cache"
	"github.com/samcharles93/strata/pkg/tensor"
)

var (
	// ErrNotTrimmable is returned by Rollback when any layer refuses trims.
	ErrNotTrimmable = errors.New("session: cache is not trimmable")
	// ErrNotPlain is returned by Quantize when a layer is already quantized
	// or otherwise not a plain cache.
	ErrNotPlain = errors.New("session: layer cache is not a plain cache")
)

// Session owns one cache per attention layer for the lifetime of a decoding
// run.
type Session struct {
	id     uuid.UUID
	preset string

	mu     sync.Mutex
	caches []cache.Cache
}

// New builds a session with one cache per layer from the named preset.
func New(reg *config.Registry, preset string, layers int) (*Session, error) {
	if preset == "" {
		preset = reg.DefaultName()
	}
	caches, err := reg.Build(preset, layers)
	if err != nil {
		return nil, err
	}
	return &Session{id: uuid.New(), preset: preset, caches: caches}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Preset returns the preset name the session was built from.
func (s *Session) Preset() string { return s.preset }

// Layers returns the number of per-layer caches.
func (s *Session) Layers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.caches)
}

// Layer returns the cache of layer i.
func (s *Session) Layer(i int) cache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caches[i]
}

// Caches returns the per-layer caches in layer order.
func (s *Session) Caches() []cache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caches
}

// Offset returns the number of decoded timesteps. All layers advance in
// lockstep, so layer zero is authoritative.
func (s *Session) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.caches) == 0 {
		return 0
	}
	return s.caches[0].Offset()
}

// Rollback trims n timesteps from every layer, e.g. to discard rejected
// speculative tokens, and returns the number of timesteps removed.
func (s *Session) Rollback(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caches {
		if !c.IsTrimmable() {
			return 0, ErrNotTrimmable
		}
	}
	trimmed := 0
	for i, c := range s.caches {
		got := c.Trim(n)
		if i == 0 {
			trimmed = got
		} else if got != trimmed {
			return trimmed, fmt.Errorf("session: layer %d trimmed %d, expected %d", i, got, trimmed)
		}
	}
	return trimmed, nil
}

// Quantize converts every plain layer cache to a quantized one in place,
// snapshotting accumulated history through the group quantizer. Sessions
// that already hold quantized caches are rejected.
func (s *Session) Quantize(groupSize, bits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	converted := make([]cache.Cache, len(s.caches))
	for i, c := range s.caches {
		pc, ok := c.(*cache.PlainCache)
		if !ok {
			return fmt.Errorf("%w: layer %d is %T", ErrNotPlain, i, c)
		}
		qc, err := cache.ToQuantized(pc, groupSize, bits)
		if err != nil {
			return fmt.Errorf("session: layer %d: %w", i, err)
		}
		converted[i] = qc
	}
	s.caches = converted
	return nil
}

// InnerState concatenates the storage tensors of every layer, in layer
// order, for backend evaluation hooks.
func (s *Session) InnerState() []*tensor.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tensor.Tensor
	for _, c := range s.caches {
		out = append(out, c.InnerState()...)
	}
	return out
}
