package linker

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
)

// hiddenPrefix starts the names of host modules backing synthetic instances.
const hiddenPrefix = "\x00host:"

// FunctionExporter adds a set of host functions to a host module, as the
// engine's WASI implementation does.
type FunctionExporter interface {
	ExportFunctions(builder wazero.HostModuleBuilder)
}

type importEntry struct {
	ext  Extern
	name string
}

// ImportBuilder collects host objects for one import namespace. Adding a
// handle transfers it: the handle is Borrowed afterwards.
type ImportBuilder struct {
	seen      map[string]struct{}
	entries   []importEntry
	exporters []FunctionExporter
	dups      []string
	problems  []error
	built     bool
}

// NewImportBuilder creates an empty builder.
func NewImportBuilder() *ImportBuilder {
	return &ImportBuilder{seen: make(map[string]struct{})}
}

// WithFunc adds a host function.
func (b *ImportBuilder) WithFunc(name string, ft types.FuncType, fn HostFunc) *ImportBuilder {
	if fn == nil {
		return b.missing(name, types.KindFunction)
	}
	return b.WithFunction(name, NewFunction(ft, fn))
}

// WithAsyncFunc adds a host function that may suspend with fiber.Await.
func (b *ImportBuilder) WithAsyncFunc(name string, ft types.FuncType, fn HostFunc) *ImportBuilder {
	if fn == nil {
		return b.missing(name, types.KindFunction)
	}
	return b.WithFunction(name, NewAsyncFunction(ft, fn))
}

// WithFunction adds a function handle, either host-created or fetched from an instance.
func (b *ImportBuilder) WithFunction(name string, f *Function) *ImportBuilder {
	if f == nil {
		return b.missing(name, types.KindFunction)
	}
	return b.add(name, f, &f.handle)
}

// WithTable adds a table handle.
func (b *ImportBuilder) WithTable(name string, t *Table) *ImportBuilder {
	if t == nil {
		return b.missing(name, types.KindTable)
	}
	return b.add(name, t, &t.handle)
}

// WithMemory adds a memory handle.
func (b *ImportBuilder) WithMemory(name string, m *Memory) *ImportBuilder {
	if m == nil {
		return b.missing(name, types.KindMemory)
	}
	return b.add(name, m, &m.handle)
}

// WithGlobal adds a global handle.
func (b *ImportBuilder) WithGlobal(name string, g *Global) *ImportBuilder {
	if g == nil {
		return b.missing(name, types.KindGlobal)
	}
	return b.add(name, g, &g.handle)
}

func (b *ImportBuilder) missing(name string, kind types.ExternKind) *ImportBuilder {
	b.problems = append(b.problems, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("nil %s %q", kind, name)))
	return b
}

// WithExporter adds every function e exports. Functions added by name take
// precedence over exporter functions with the same name.
func (b *ImportBuilder) WithExporter(e FunctionExporter) *ImportBuilder {
	b.exporters = append(b.exporters, e)
	return b
}

// add transfers h even when name is a duplicate, since the caller gave it up.
func (b *ImportBuilder) add(name string, ext Extern, h *handle) *ImportBuilder {
	if !h.borrow() {
		b.problems = append(b.problems, errors.Released(ext.Kind().String()+" "+name))
		return b
	}
	if _, dup := b.seen[name]; dup {
		b.dups = append(b.dups, name)
		return b
	}
	b.seen[name] = struct{}{}
	b.entries = append(b.entries, importEntry{name: name, ext: ext})
	return b
}

// Build checks the collected entries and returns the import object.
// A builder can be built once.
func (b *ImportBuilder) Build(namespace string) (*ImportObject, error) {
	if b.built {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidState).
			Detail("import builder already built").
			Build()
	}
	b.built = true

	var err error
	switch {
	case namespace == "":
		err = multierr.Append(err, errors.InvalidInput(errors.PhaseHost, "empty import namespace"))
	case strings.HasPrefix(namespace, hiddenPrefix):
		err = multierr.Append(err, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("namespace %q is reserved", namespace)))
	}
	for _, name := range b.dups {
		err = multierr.Append(err, errors.DuplicateName(namespace, name))
	}
	err = multierr.Append(err, multierr.Combine(b.problems...))

	memories := 0
	for _, e := range b.entries {
		switch ext := e.ext.(type) {
		case *Function:
			err = multierr.Append(err, checkBindable(namespace, e.name, ext.Type()))
		case *Memory:
			memories++
		case *Global:
			err = multierr.Append(err, checkGlobal(namespace, e.name, ext))
		}
	}
	if memories > 1 {
		err = multierr.Append(err, errors.Unsupported(errors.PhaseHost, fmt.Sprintf("%d memories in %q, at most one is supported", memories, namespace)))
	}
	if err != nil {
		return nil, err
	}

	obj := &ImportObject{
		namespace: namespace,
		entries:   b.entries,
		exporters: b.exporters,
		index:     make(map[string]int, len(b.entries)),
	}
	for i, e := range b.entries {
		obj.index[e.name] = i
		if h := handleOf(e.ext); h.name == "" {
			h.name, h.module = e.name, namespace
		}
	}
	Logger().Debug("import object built",
		zap.String("namespace", namespace),
		zap.Int("entries", len(obj.entries)),
		zap.Int("exporters", len(obj.exporters)))
	return obj, nil
}

func checkBindable(namespace, name string, ft types.FuncType) error {
	for _, t := range append(append([]types.ValType(nil), ft.Params...), ft.Results...) {
		if !bindable(t) {
			return errors.New(errors.PhaseHost, errors.KindUnsupported).
				Path(namespace, name).
				WasmType(ft.String()).
				Detail("host functions cannot take or return %s", t).
				Build()
		}
	}
	return nil
}

func checkGlobal(namespace, name string, g *Global) error {
	gt := g.Type()
	if gt.Value == types.V128 {
		return errors.New(errors.PhaseHost, errors.KindUnsupported).
			Path(namespace, name).
			WasmType(gt.String()).
			Detail("v128 host globals are not supported").
			Build()
	}
	if gt.Mutability == types.Const && gt.Value.IsRef() && !g.val.IsNull() {
		return errors.New(errors.PhaseHost, errors.KindUnsupported).
			Path(namespace, name).
			WasmType(gt.String()).
			Detail("const reference globals must be null").
			Build()
	}
	return nil
}

func handleOf(ext Extern) *handle {
	switch v := ext.(type) {
	case *Function:
		return &v.handle
	case *Table:
		return &v.handle
	case *Memory:
		return &v.handle
	case *Global:
		return &v.handle
	}
	return nil
}

// ImportObject is an immutable set of host objects under one namespace.
type ImportObject struct {
	index     map[string]int
	namespace string
	entries   []importEntry
	exporters []FunctionExporter
	linked    atomic.Bool
}

// Namespace returns the module name imports use to reach the object.
func (o *ImportObject) Namespace() string { return o.namespace }

// Len returns the number of named entries, excluding exporter functions.
func (o *ImportObject) Len() int { return len(o.entries) }

// Names returns the entry names in insertion order.
func (o *ImportObject) Names() []string {
	out := make([]string, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.name
	}
	return out
}

// Get returns the entry bound to name.
func (o *ImportObject) Get(name string) (Extern, bool) {
	i, ok := o.index[name]
	if !ok {
		return nil, false
	}
	return o.entries[i].ext, true
}

// Exports describes the named entries.
func (o *ImportObject) Exports() []types.ExportDescriptor {
	out := make([]types.ExportDescriptor, len(o.entries))
	for i, e := range o.entries {
		out[i] = types.ExportDescriptor{Name: e.name, Kind: e.ext.Kind(), Type: e.ext.ExternType()}
	}
	return out
}
