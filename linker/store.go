package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/module"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/types"
)

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	refs    *resource.Table
}

// WithRuntime makes the store use rt instead of creating its own runtime.
// The store does not close rt.
func WithRuntime(rt wazero.Runtime) StoreOption {
	return func(o *storeOptions) { o.runtime = rt }
}

// WithCompilationCache shares a compilation cache between stores.
// The store does not close it.
func WithCompilationCache(c wazero.CompilationCache) StoreOption {
	return func(o *storeOptions) { o.cache = c }
}

// WithRefTable makes the store use t for externref payloads.
// The store does not close it.
func WithRefTable(t *resource.Table) StoreOption {
	return func(o *storeOptions) { o.refs = t }
}

// LinkOption configures a single Link.
type LinkOption func(*linkOptions)

type linkOptions struct {
	configure []func(wazero.ModuleConfig) wazero.ModuleConfig
	start     []string
}

// WithModuleConfig adjusts the engine module config, e.g. to set WASI
// arguments or standard streams. The instance name is always the link name.
func WithModuleConfig(fn func(wazero.ModuleConfig) wazero.ModuleConfig) LinkOption {
	return func(o *linkOptions) { o.configure = append(o.configure, fn) }
}

// WithStartFunctions names exports to call after instantiation, in order.
// By default none are called; the module's start section always runs.
func WithStartFunctions(names ...string) LinkOption {
	return func(o *linkOptions) { o.start = append(o.start, names...) }
}

// Store is the registry of linked instances. Named instances can satisfy
// imports of later links; the anonymous instance is the single active one.
//
// Store is safe for concurrent use. Links are serialized.
type Store struct {
	runtime   wazero.Runtime
	cache     wazero.CompilationCache
	refs      *resource.Table
	refWords  *resource.Refs
	cfg       *config.Config
	instances map[string]*Instance
	active    *Instance
	order     []string
	linkMu    sync.Mutex
	mu        sync.RWMutex
	ownsRT    bool
	ownsCache bool
	ownsRefs  bool
	closed    bool
}

// NewStore creates a store. A nil cfg uses config.Default().
func NewStore(ctx context.Context, cfg *config.Config, opts ...StoreOption) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		cfg:       cfg,
		runtime:   o.runtime,
		cache:     o.cache,
		refs:      o.refs,
		instances: make(map[string]*Instance),
	}
	if s.refs == nil {
		s.refs = resource.NewTable()
		s.ownsRefs = true
	}
	s.refWords = s.refs.Refs()

	if s.runtime == nil {
		if s.cache == nil {
			cache, err := cfg.Engine.NewCache()
			if err != nil {
				return nil, err
			}
			s.cache = cache
			s.ownsCache = true
		}
		s.runtime = wazero.NewRuntimeWithConfig(ctx, cfg.Engine.RuntimeConfig(s.cache))
		s.ownsRT = true
	}

	Logger().Debug("store created",
		zap.String("compiler", cfg.Engine.Compiler),
		zap.Bool("shared_runtime", !s.ownsRT))
	return s, nil
}

// Runtime returns the engine runtime.
func (s *Store) Runtime() wazero.Runtime { return s.runtime }

// Config returns the store configuration.
func (s *Store) Config() *config.Config { return s.cfg }

// RefTable returns the externref payload table.
func (s *Store) RefTable() *resource.Table { return s.refs }

// Refs returns the externref word mapping used for value conversion.
func (s *Store) Refs() types.Refs { return s.refWords }

// Link instantiates m. A non-empty name registers the instance for later
// imports; "" makes it the active instance, replacing and closing the
// previous one. On error the store is unchanged.
func (s *Store) Link(ctx context.Context, name string, m *module.CompiledModule, opts ...LinkOption) (*Instance, error) {
	if strings.HasPrefix(name, hiddenPrefix) {
		return nil, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("instance name %q is reserved", name))
	}
	var o linkOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseLinking, "nil compiled module")
	}
	holder := m.Clone()
	if holder == nil {
		return nil, errors.Released("compiled module")
	}
	parsed, engineBin := holder.Parsed(), holder.EngineBytes()
	if parsed == nil || engineBin == nil {
		_ = holder.Close()
		return nil, errors.Released("compiled module")
	}

	label := displayName(name, holder.Name())
	Logger().Debug("link start", zap.String("name", label), zap.String("hash", holder.Hash()))

	inst, err := s.instantiate(ctx, name, label, holder, o)
	if err != nil {
		_ = holder.Close()
		Logger().Debug("link failed", zap.String("name", label), zap.Error(err))
		return nil, err
	}
	s.register(ctx, inst)

	Logger().Info("module linked",
		zap.String("name", label),
		zap.Int("imports", len(parsed.Imports)),
		zap.Int("exports", len(inst.exports)))
	return inst, nil
}

func (s *Store) instantiate(ctx context.Context, name, label string, holder *module.CompiledModule, o linkOptions) (*Instance, error) {
	parsed := holder.Parsed()
	res, err := s.resolveImports(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if err := checkSegments(label, parsed, res); err != nil {
		return nil, err
	}

	compiled, err := s.runtime.CompileModule(ctx, holder.EngineBytes())
	if err != nil {
		return nil, errors.Instantiation(label, err)
	}
	mc := wazero.NewModuleConfig().WithName(name).WithStartFunctions(o.start...)
	for _, fn := range o.configure {
		mc = fn(mc)
	}
	mod, err := s.runtime.InstantiateModule(ctx, compiled, mc)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, instantiationError(label, err)
	}

	inst := newInstance(name, mod, holder.Exports(), s.refWords)
	inst.compiled = compiled
	inst.module = holder
	return inst, nil
}

// LinkImports registers obj under its namespace. An import object can be
// linked once; afterwards its handles operate on the engine objects.
func (s *Store) LinkImports(ctx context.Context, obj *ImportObject) (*Instance, error) {
	if obj == nil {
		return nil, errors.InvalidInput(errors.PhaseLinking, "nil import object")
	}
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if err := s.checkName(obj.namespace); err != nil {
		return nil, err
	}
	if !obj.linked.CompareAndSwap(false, true) {
		return nil, errors.New(errors.PhaseLinking, errors.KindInvalidState).
			Path(obj.namespace).
			Detail("import object already linked").
			Build()
	}

	inst, err := s.linkSynthetic(ctx, obj)
	if err != nil {
		obj.linked.Store(false)
		Logger().Debug("import link failed", zap.String("namespace", obj.namespace), zap.Error(err))
		return nil, err
	}
	s.register(ctx, inst)

	Logger().Info("imports linked",
		zap.String("namespace", obj.namespace),
		zap.Int("exports", len(inst.exports)))
	return inst, nil
}

// exportedFunction returns the export name of mod, or nil when the engine
// refuses to hand it out.
func exportedFunction(mod api.Module, name string) (fn api.Function) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Debug("exported function unavailable",
				zap.String("module", mod.Name()),
				zap.String("name", name),
				zap.Any("panic", r))
			fn = nil
		}
	}()
	return mod.ExportedFunction(name)
}

// hostModule instantiates the functions of obj as a host module named name.
func (s *Store) hostModule(ctx context.Context, name string, obj *ImportObject) (api.Module, error) {
	b := s.runtime.NewHostModuleBuilder(name)
	for _, e := range obj.exporters {
		e.ExportFunctions(b)
	}
	for _, e := range obj.entries {
		f, ok := e.ext.(*Function)
		if !ok {
			continue
		}
		if f.IsHost() {
			f.refs = s.refWords
		}
		ft := f.Type()
		b.NewFunctionBuilder().
			WithGoModuleFunction(f.goFunc(), toAPITypes(ft.Params), toAPITypes(ft.Results)).
			WithName(e.name).
			Export(e.name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(obj.namespace, err)
	}
	return mod, nil
}

func (s *Store) linkSynthetic(ctx context.Context, obj *ImportObject) (inst *Instance, err error) {
	hidden := hiddenPrefix + obj.namespace
	hostMod, err := s.hostModule(ctx, hidden, obj)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = hostMod.Close(ctx)
		}
	}()

	sm := newSynthModule(obj.namespace, hidden)
	defs := hostMod.ExportedFunctionDefinitions()
	var fns []hostFunc
	for _, name := range functionOrder(obj, defs) {
		def := defs[name]
		fns = append(fns, hostFunc{name: name, typ: types.Func(fromAPITypes(def.ParamTypes()), fromAPITypes(def.ResultTypes()))})
	}
	sm.funcs(fns)
	for _, e := range obj.entries {
		switch ext := e.ext.(type) {
		case *Table:
			size, err := ext.Size(ctx)
			if err != nil {
				return nil, err
			}
			tt := ext.Type()
			tt.Min = size
			sm.table(e.name, tt)
		case *Memory:
			pages, err := ext.Size()
			if err != nil {
				return nil, err
			}
			mt := ext.Type()
			mt.Min = pages
			sm.memory(e.name, mt)
		case *Global:
			v, err := ext.Get()
			if err != nil {
				return nil, err
			}
			sm.global(e.name, ext.Type(), v)
		}
	}

	bin, err := sm.build()
	if err != nil {
		return nil, errors.Instantiation(obj.namespace, err)
	}
	compiled, err := s.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Instantiation(obj.namespace, err)
	}
	mod, err := s.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(obj.namespace).WithStartFunctions())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(obj.namespace, err)
	}

	for _, e := range obj.entries {
		switch ext := e.ext.(type) {
		case *Table:
			err = ext.attach(ctx, mod, e.name, s.refWords)
		case *Memory:
			err = ext.attach(mod.ExportedMemory(e.name))
		case *Global:
			err = ext.attach(mod.ExportedGlobal(e.name), s.refWords)
		}
		if err != nil {
			_ = mod.Close(ctx)
			_ = compiled.Close(ctx)
			return nil, err
		}
	}
	s.bindFunctions(mod, obj)

	inst = newInstance(obj.namespace, mod, hostExports(defs, obj), s.refWords)
	inst.forwarded = true
	inst.hidden = []api.Module{hostMod}
	inst.compiled = compiled
	return inst, nil
}

func (s *Store) bindFunctions(mod api.Module, obj *ImportObject) {
	for _, e := range obj.entries {
		if f, ok := e.ext.(*Function); ok && f.IsHost() {
			if fn := exportedFunction(mod, callName(e.name)); fn != nil {
				f.bind(fn)
			}
		}
	}
}

// functionOrder lists named functions first, then exporter functions by name.
func functionOrder(obj *ImportObject, defs map[string]api.FunctionDefinition) []string {
	var names []string
	named := make(map[string]struct{})
	for _, e := range obj.entries {
		if e.ext.Kind() == types.KindFunction {
			names = append(names, e.name)
			named[e.name] = struct{}{}
		}
	}
	var extra []string
	for name := range defs {
		if _, ok := named[name]; !ok && !hiddenExport(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// hostExports describes the named entries followed by exporter functions.
// defs are the definitions of the hidden host module.
func hostExports(defs map[string]api.FunctionDefinition, obj *ImportObject) []types.ExportDescriptor {
	out := obj.Exports()
	for _, name := range functionOrder(obj, defs)[countFunctions(obj):] {
		def := defs[name]
		out = append(out, types.ExportDescriptor{
			Name: name,
			Kind: types.KindFunction,
			Type: types.Func(fromAPITypes(def.ParamTypes()), fromAPITypes(def.ResultTypes())),
		})
	}
	return out
}

func countFunctions(obj *ImportObject) int {
	n := 0
	for _, e := range obj.entries {
		if e.ext.Kind() == types.KindFunction {
			n++
		}
	}
	return n
}

func (s *Store) checkName(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.PhaseLinking, errors.KindClosed).Detail("store is closed").Build()
	}
	if name == "" {
		return nil
	}
	if _, exists := s.instances[name]; exists {
		Logger().Debug("name conflict", zap.String("name", name))
		return errors.NameConflict(name)
	}
	return nil
}

func (s *Store) register(ctx context.Context, inst *Instance) {
	s.mu.Lock()
	var replaced *Instance
	if inst.name == "" {
		replaced, s.active = s.active, inst
	} else {
		s.instances[inst.name] = inst
		s.order = append(s.order, inst.name)
	}
	s.mu.Unlock()

	if replaced != nil {
		Logger().Info("replacing active instance")
		if err := replaced.Close(ctx); err != nil {
			Logger().Warn("close replaced instance", zap.Error(err))
		}
	}
}

// Unregister removes and closes the instance name; "" removes the active instance.
func (s *Store) Unregister(ctx context.Context, name string) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	s.mu.Lock()
	var inst *Instance
	if name == "" {
		inst, s.active = s.active, nil
	} else if inst = s.instances[name]; inst != nil {
		delete(s.instances, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if inst == nil {
		return errors.NotFound(errors.PhaseLinking, "instance", name)
	}
	Logger().Debug("instance unregistered", zap.String("name", displayName(name, "")))
	return inst.Close(ctx)
}

// Instance returns the instance registered as name; "" returns the active instance.
func (s *Store) Instance(name string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "" {
		return s.active, s.active != nil
	}
	inst, ok := s.instances[name]
	return inst, ok
}

// Instances returns the named instances in registration order.
func (s *Store) Instances() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Instance, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.instances[name])
	}
	return out
}

// Active returns the anonymous active instance, or nil.
func (s *Store) Active() *Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Len returns the number of named instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Close closes every instance in reverse registration order, then the
// resources the store created.
func (s *Store) Close(ctx context.Context) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active, order, instances := s.active, s.order, s.instances
	s.active, s.order, s.instances = nil, nil, make(map[string]*Instance)
	s.mu.Unlock()

	var err error
	if active != nil {
		err = multierr.Append(err, active.Close(ctx))
	}
	for i := len(order) - 1; i >= 0; i-- {
		err = multierr.Append(err, instances[order[i]].Close(ctx))
	}
	if s.ownsRT {
		err = multierr.Append(err, s.runtime.Close(ctx))
	}
	if s.ownsCache {
		err = multierr.Append(err, s.cache.Close(ctx))
	}
	if s.ownsRefs {
		err = multierr.Append(err, s.refs.Close())
	}
	Logger().Debug("store closed", zap.Int("instances", len(order)))
	return err
}
