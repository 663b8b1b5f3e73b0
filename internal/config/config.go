// Package config defines named cache presets and the registry that builds
// per-layer caches from them. A Registry is constructed once at process or
// session start and passed by reference to whatever owns the decoding
// sessions; there is no package-level mutable state.
package config

import (
	"errors"
	"fmt"
	"io"
	"sort"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/strata/pkg/cache"
)

// Cache kinds accepted by Preset.Kind.
const (
	KindPlain     = "plain"
	KindQuantized = "quantized"
)

var (
	// ErrUnknownPreset is returned when a name is not registered.
	ErrUnknownPreset = errors.New("config: unknown preset")
	// ErrInvalidPreset is returned when a preset fails validation.
	ErrInvalidPreset = errors.New("config: invalid preset")
)

// Preset describes how to build the cache of one attention layer.
type Preset struct {
	Kind      string `json:"kind" yaml:"kind"`
	GroupSize int    `json:"group_size,omitempty" yaml:"group_size,omitempty"`
	Bits      int    `json:"bits,omitempty" yaml:"bits,omitempty"`
	Step      int    `json:"step,omitempty" yaml:"step,omitempty"`
}

// Validate checks the preset without building a cache. Zero values are
// allowed where the cache package has defaults.
func (p Preset) Validate() error {
	switch p.Kind {
	case KindPlain:
	case KindQuantized:
		switch p.Bits {
		case 0, 2, 4, 8:
		default:
			return fmt.Errorf("%w: bits %d", ErrInvalidPreset, p.Bits)
		}
		if p.GroupSize < 0 {
			return fmt.Errorf("%w: group size %d", ErrInvalidPreset, p.GroupSize)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidPreset, p.Kind)
	}
	if p.Step < 0 {
		return fmt.Errorf("%w: step %d", ErrInvalidPreset, p.Step)
	}
	return nil
}

// Build constructs a cache according to the preset.
func (p Preset) Build() (cache.Cache, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Kind == KindPlain {
		return cache.NewPlain(p.Step), nil
	}
	return cache.NewQuantized(p.GroupSize, p.Bits, p.Step), nil
}

// Registry holds the named presets available to a process.
type Registry struct {
	presets     map[string]Preset
	defaultName string
}

// Default returns a registry with the built-in presets: full-precision
// "plain", and quantized "q8" / "q4".
func Default() *Registry {
	r := &Registry{presets: map[string]Preset{
		"plain": {Kind: KindPlain},
		"q8":    {Kind: KindQuantized, GroupSize: 64, Bits: 8},
		"q4":    {Kind: KindQuantized, GroupSize: 32, Bits: 4},
	}}
	r.defaultName = "plain"
	return r
}

// Register adds or replaces a preset.
func (r *Registry) Register(name string, p Preset) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%q: %w", name, err)
	}
	r.presets[name] = p
	return nil
}

// Get looks up a preset by name. An empty name selects the default.
func (r *Registry) Get(name string) (Preset, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// DefaultName returns the name selected when callers pass an empty preset.
func (r *Registry) DefaultName() string { return r.defaultName }

// Names returns all registered preset names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs one cache per layer for the named preset.
func (r *Registry) Build(name string, layers int) ([]cache.Cache, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	caches := make([]cache.Cache, layers)
	for i := range caches {
		if caches[i], err = p.Build(); err != nil {
			return nil, err
		}
	}
	return caches, nil
}

// file is the on-disk registry layout shared by the YAML and JSON loaders.
type file struct {
	Default string            `json:"default" yaml:"default"`
	Presets map[string]Preset `json:"presets" yaml:"presets"`
}

// LoadYAML extends the default registry with presets read from a YAML
// document.
func LoadYAML(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return fromFile(f)
}

// LoadJSON extends the default registry with presets read from a JSON
// document.
func LoadJSON(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	return fromFile(f)
}

func fromFile(f file) (*Registry, error) {
	r := Default()
	for name, p := range f.Presets {
		if err := r.Register(name, p); err != nil {
			return nil, err
		}
	}
	if f.Default != "" {
		if _, ok := r.presets[f.Default]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownPreset, f.Default)
		}
		r.defaultName = f.Default
	}
	return r, nil
}
