package plugin

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
)

// FactoryFunc builds the import object of one namespace.
type FactoryFunc func(ctx context.Context) (*linker.ImportObject, error)

// ModuleFactory produces one host namespace of a plugin.
type ModuleFactory struct {
	Name string
	New  FactoryFunc
}

// Descriptor describes a plugin and the namespaces it provides.
type Descriptor struct {
	Name    string
	Version string
	Modules []ModuleFactory
}

// Validate checks that the descriptor is complete and that module names are
// unique.
func (d *Descriptor) Validate() error {
	if d == nil {
		return errors.InvalidInput(errors.PhaseConfig, "nil plugin descriptor")
	}
	var err error
	if d.Name == "" {
		err = multierr.Append(err, invalid(d.Name, "name", "is required"))
	}
	if d.Version == "" {
		err = multierr.Append(err, invalid(d.Name, "version", "is required"))
	}
	if len(d.Modules) == 0 {
		err = multierr.Append(err, invalid(d.Name, "modules", "at least one module is required"))
	}
	seen := make(map[string]bool, len(d.Modules))
	for _, m := range d.Modules {
		switch {
		case m.Name == "":
			err = multierr.Append(err, invalid(d.Name, "modules", "module name is required"))
		case seen[m.Name]:
			err = multierr.Append(err, invalid(d.Name, "modules."+m.Name, "duplicate module"))
		}
		if m.New == nil {
			err = multierr.Append(err, invalid(d.Name, "modules."+m.Name, "factory is nil"))
		}
		seen[m.Name] = true
	}
	return err
}

// Instantiate builds every namespace of d and links it into store. The
// returned instances follow module order. On failure, namespaces already
// linked by this call are unregistered again.
func (d *Descriptor) Instantiate(ctx context.Context, store *linker.Store) ([]*linker.Instance, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.InvalidInput(errors.PhaseLinking, "nil store")
	}

	log := Logger().With(zap.String("plugin", d.Name), zap.String("version", d.Version))
	insts := make([]*linker.Instance, 0, len(d.Modules))
	rollback := func(cause error) error {
		for i := len(insts) - 1; i >= 0; i-- {
			cause = multierr.Append(cause, store.Unregister(ctx, insts[i].Name()))
		}
		log.Debug("plugin instantiation rolled back", zap.Error(cause))
		return cause
	}

	for _, m := range d.Modules {
		obj, err := m.New(ctx)
		if err != nil {
			return nil, rollback(errors.Registration(errors.PhaseHost, d.Name, m.Name, err))
		}
		if obj == nil {
			return nil, rollback(errors.Registration(errors.PhaseHost, d.Name, m.Name,
				errors.InvalidInput(errors.PhaseHost, "factory returned no import object")))
		}
		if obj.Namespace() != m.Name {
			return nil, rollback(errors.New(errors.PhaseConfig, errors.KindManifest).
				Path(d.Name, m.Name).
				Detail("factory built namespace %q", obj.Namespace()).
				Build())
		}
		inst, err := store.LinkImports(ctx, obj)
		if err != nil {
			return nil, rollback(err)
		}
		insts = append(insts, inst)
	}

	log.Info("plugin instantiated", zap.Int("modules", len(insts)))
	return insts, nil
}

func invalid(plugin, field, msg string) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindManifest).
		Path(plugin, field).
		Detail("%s", msg).
		Build()
}
