package engine

import (
	"fmt"
	"sync"
)

// Factory builds a new Provider instance for a given model identifier.
// Factories are registered once per family at process startup.
type Factory func(model string) (Provider, error)

// Registry lazily builds and caches Provider instances keyed by
// "<family>:<model>", so repeated jobs against the same model reuse one
// live adapter (and its underlying connection, loaded weights, or
// subprocess) instead of paying setup cost per call.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Provider
}

// NewRegistry returns an empty registry. Register factories before
// calling Get.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
	}
}

// Register associates a family name with a Factory. Calling Register
// twice for the same family replaces the factory but does not evict
// already-built instances for that family.
func (r *Registry) Register(family string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = f
}

// Get returns the cached provider for family:model, building it via the
// registered factory on first use.
func (r *Registry) Get(family, model string) (Provider, error) {
	key := Key(family, model)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[key]; ok {
		return p, nil
	}

	factory, ok := r.factories[family]
	if !ok {
		return nil, fmt.Errorf("engine: no factory registered for family %q", family)
	}
	p, err := factory(model)
	if err != nil {
		return nil, fmt.Errorf("engine: build provider %s: %w", key, err)
	}
	r.instances[key] = p
	return p, nil
}

// Default derives the "<family>:<model>" identifier a process should
// use when the operator sets only a family (e.g. WHISPER_IMPLEMENTATION)
// and leaves the model unset, mirroring each backend's own sensible
// default model.
func Default(family, model string) (resolvedFamily, resolvedModel string) {
	if model != "" {
		return family, model
	}
	switch family {
	case "deepgram":
		return family, "nova-2"
	case "openai":
		return family, "whisper-1"
	case "remote-asr":
		return family, "openai/whisper-large-v3-turbo"
	default:
		return family, model
	}
}
