package plugin

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
)

// Registry holds plugin descriptors by name.
type Registry struct {
	plugins map[string]*Descriptor
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Descriptor),
		logger:  Logger().With(zap.String("component", "plugin-registry")),
	}
}

// Register validates d and adds it. Names are unique within a registry.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.plugins[d.Name]; ok {
		return errors.New(errors.PhaseHost, errors.KindRegistration).
			Path(d.Name).
			Detail("plugin already registered with version %s", existing.Version).
			Build()
	}
	r.plugins[d.Name] = d

	r.logger.Info("plugin registered",
		zap.String("name", d.Name),
		zap.String("version", d.Version),
		zap.Int("modules", len(d.Modules)))
	return nil
}

// Lookup returns the descriptor registered as name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.plugins[name]
	return d, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.plugins))
	for _, d := range r.plugins {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Unregister removes name and reports whether it was present. Instances
// already linked from the plugin are not affected.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return false
	}
	delete(r.plugins, name)
	r.logger.Info("plugin unregistered", zap.String("name", name))
	return true
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Instantiate links the plugin registered as name into store.
func (r *Registry) Instantiate(ctx context.Context, name string, store *linker.Store) ([]*linker.Instance, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "plugin", name)
	}
	return d.Instantiate(ctx, store)
}
