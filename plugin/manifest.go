package plugin

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

// Manifest is the YAML form of a plugin descriptor.
type Manifest struct {
	Name        string           `yaml:"name"`
	Version     string           `yaml:"version"`
	Description string           `yaml:"description,omitempty"`
	Modules     []ManifestModule `yaml:"modules"`
}

// ManifestModule declares one namespace and the functions it must export.
type ManifestModule struct {
	Name      string             `yaml:"name"`
	Functions []ManifestFunction `yaml:"functions,omitempty"`
}

// ManifestFunction declares a function signature with value type names
// such as i32 or externref.
type ManifestFunction struct {
	Name    string   `yaml:"name"`
	Params  []string `yaml:"params,omitempty"`
	Results []string `yaml:"results,omitempty"`
}

// ParseManifest decodes and validates a manifest. Unknown keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.PhaseConfig, errors.KindManifest).
				Detail("empty manifest").
				Build()
		}
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindManifest, err, "decode manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every problem found in the manifest.
func (m *Manifest) Validate() error {
	var err error
	if m.Name == "" {
		err = multierr.Append(err, invalid(m.Name, "name", "is required"))
	}
	if m.Version == "" {
		err = multierr.Append(err, invalid(m.Name, "version", "is required"))
	}
	if len(m.Modules) == 0 {
		err = multierr.Append(err, invalid(m.Name, "modules", "at least one module is required"))
	}

	modules := make(map[string]bool, len(m.Modules))
	for _, mod := range m.Modules {
		field := "modules." + mod.Name
		if mod.Name == "" {
			err = multierr.Append(err, invalid(m.Name, "modules", "module name is required"))
			continue
		}
		if modules[mod.Name] {
			err = multierr.Append(err, invalid(m.Name, field, "duplicate module"))
		}
		modules[mod.Name] = true

		funcs := make(map[string]bool, len(mod.Functions))
		for _, fn := range mod.Functions {
			if fn.Name == "" {
				err = multierr.Append(err, invalid(m.Name, field, "function name is required"))
				continue
			}
			if funcs[fn.Name] {
				err = multierr.Append(err, invalid(m.Name, field+"."+fn.Name, "duplicate function"))
			}
			funcs[fn.Name] = true
			if _, terr := fn.Type(); terr != nil {
				err = multierr.Append(err, invalid(m.Name, field+"."+fn.Name, terr.Error()))
			}
		}
	}
	return err
}

// Type converts the declared signature.
func (f ManifestFunction) Type() (types.FuncType, error) {
	params, err := parseValTypes(f.Params)
	if err != nil {
		return types.FuncType{}, err
	}
	results, err := parseValTypes(f.Results)
	if err != nil {
		return types.FuncType{}, err
	}
	return types.Func(params, results), nil
}

var valTypeNames = map[string]types.ValType{
	"i32":       types.I32,
	"i64":       types.I64,
	"f32":       types.F32,
	"f64":       types.F64,
	"v128":      types.V128,
	"funcref":   types.FuncRef,
	"externref": types.ExternRef,
}

func parseValTypes(names []string) ([]types.ValType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]types.ValType, len(names))
	for i, n := range names {
		vt, ok := valTypeNames[n]
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseConfig, "unknown value type "+n)
		}
		out[i] = vt
	}
	return out, nil
}

// Bind pairs the manifest with one factory per declared module. The
// resulting descriptor checks each built namespace against the declared
// functions before it is linked.
func (m *Manifest) Bind(factories map[string]FactoryFunc) (*Descriptor, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var err error
	d := &Descriptor{Name: m.Name, Version: m.Version}
	for _, mod := range m.Modules {
		f, ok := factories[mod.Name]
		if !ok {
			err = multierr.Append(err, invalid(m.Name, "modules."+mod.Name, "no factory for module"))
			continue
		}
		d.Modules = append(d.Modules, ModuleFactory{Name: mod.Name, New: checked(m.Name, mod, f)})
	}
	for name := range factories {
		if !m.declares(name) {
			err = multierr.Append(err, invalid(m.Name, "modules."+name, "factory for undeclared module"))
		}
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Manifest) declares(name string) bool {
	for _, mod := range m.Modules {
		if mod.Name == name {
			return true
		}
	}
	return false
}

func checked(plugin string, mod ManifestModule, f FactoryFunc) FactoryFunc {
	return func(ctx context.Context) (*linker.ImportObject, error) {
		obj, err := f(ctx)
		if err != nil || obj == nil {
			return obj, err
		}
		for _, decl := range mod.Functions {
			want, _ := decl.Type()
			ext, ok := obj.Get(decl.Name)
			if !ok {
				return nil, errors.NotFound(errors.PhaseConfig, "function", mod.Name+"."+decl.Name)
			}
			fn, ok := ext.(*linker.Function)
			if !ok {
				return nil, errors.New(errors.PhaseConfig, errors.KindManifest).
					Path(plugin, mod.Name, decl.Name).
					Detail("declared function is a %s", ext.Kind()).
					Build()
			}
			if !fn.Type().Equal(want) {
				return nil, errors.New(errors.PhaseConfig, errors.KindManifest).
					Path(plugin, mod.Name, decl.Name).
					Detail("declared %s, built %s", want, fn.Type()).
					Build()
			}
		}
		return obj, nil
	}
}
