package linker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

// resolution is what linking needs to know about the resolved imports,
// indexed like the importing module's index spaces.
type resolution struct {
	globals    []types.Value
	tableSizes []uint32
	memPages   []uint32
}

// resolveImports checks every import of parsed, in declaration order,
// against the registered instances.
func (s *Store) resolveImports(ctx context.Context, parsed *wasm.Module) (*resolution, error) {
	res := &resolution{}
	for _, imp := range parsed.Imports {
		want, ok := parsed.ImportType(imp)
		if !ok {
			return nil, errors.UnknownImport(imp.Module, imp.Name, "import has no type")
		}
		ext, err := s.resolveImport(imp)
		if err != nil {
			Logger().Debug("import unresolved",
				zap.String("module", imp.Module),
				zap.String("name", imp.Name),
				zap.Error(err))
			return nil, err
		}
		if ext.Kind() != want.Kind() {
			return nil, errors.IncompatibleImport(imp.Module, imp.Name, want.String(), ext.Kind().String()+" "+ext.ExternType().String())
		}
		if err := checkImportType(ctx, imp, want, ext, res); err != nil {
			Logger().Debug("import incompatible",
				zap.String("module", imp.Module),
				zap.String("name", imp.Name),
				zap.Error(err))
			return nil, err
		}
	}
	return res, nil
}

func (s *Store) resolveImport(imp wasm.Import) (Extern, error) {
	if imp.Module == "" {
		return nil, errors.UnknownImport(imp.Module, imp.Name, "the anonymous instance cannot be imported from")
	}
	s.mu.RLock()
	inst := s.instances[imp.Module]
	s.mu.RUnlock()
	if inst == nil {
		return nil, errors.UnknownImport(imp.Module, imp.Name, "no instance registered under this name")
	}
	ext, ok := inst.lookup(imp.Name)
	if !ok {
		return nil, errors.UnknownImport(imp.Module, imp.Name, "instance has no such export")
	}
	return ext, nil
}

func checkImportType(ctx context.Context, imp wasm.Import, want types.ExternType, ext Extern, res *resolution) error {
	incompatible := func(got string) error {
		return errors.IncompatibleImport(imp.Module, imp.Name, want.String(), got)
	}

	switch w := want.(type) {
	case types.FuncType:
		got := ext.(*Function).Type()
		if !w.Equal(got) {
			return incompatible(got.String())
		}
	case types.TableType:
		t := ext.(*Table)
		size, err := t.Size(ctx)
		if err != nil {
			return err
		}
		got := types.TableType{Elem: t.Type().Elem, Min: size, Max: t.Type().Max}
		if got.Elem != w.Elem || !w.Limits().Accepts(got.Limits()) {
			return incompatible(got.String())
		}
		res.tableSizes = append(res.tableSizes, size)
	case types.MemoryType:
		m := ext.(*Memory)
		pages, err := m.Size()
		if err != nil {
			return err
		}
		mt := m.Type()
		got := types.MemoryType{Min: pages, Max: mt.Max, Shared: mt.Shared}
		if got.Shared != w.Shared || !w.Limits().Accepts(got.Limits()) {
			return incompatible(got.String())
		}
		res.memPages = append(res.memPages, pages)
	case types.GlobalType:
		g := ext.(*Global)
		if got := g.Type(); !w.Equal(got) {
			return incompatible(got.String())
		}
		v, err := g.Get()
		if err != nil {
			// v128 globals cannot be read back; they never appear in offsets.
			v = types.Zero(w.Value)
		}
		res.globals = append(res.globals, v)
	}
	return nil
}

// constGlobals resolves global.get in constant expressions. A defined global
// may only refer to globals before it.
func constGlobals(parsed *wasm.Module, imported []types.Value) wasm.GlobalLookup {
	var upTo func(limit uint32) wasm.GlobalLookup
	upTo = func(limit uint32) wasm.GlobalLookup {
		return func(idx uint32) (types.Value, bool) {
			if idx >= limit {
				return types.Value{}, false
			}
			if idx < uint32(len(imported)) {
				return imported[idx], true
			}
			g := parsed.Globals[idx-uint32(len(imported))]
			v, err := wasm.EvalConst(g.Init, upTo(idx))
			return v, err == nil
		}
	}
	return upTo(uint32(len(imported) + len(parsed.Globals)))
}

// checkSegments verifies that every active data and element segment fits
// its memory or table before the engine is asked to instantiate.
func checkSegments(name string, parsed *wasm.Module, res *resolution) error {
	globals := constGlobals(parsed, res.globals)

	for i, seg := range parsed.Data {
		if seg.Mode != wasm.ModeActive {
			continue
		}
		pages, ok := memoryPages(parsed, res, seg.Memory)
		if !ok {
			continue
		}
		off, err := wasm.EvalConst(seg.Offset, globals)
		if err != nil || off.Type() != types.I32 {
			continue
		}
		end := uint64(uint32(off.I32())) + uint64(len(seg.Init))
		if limit := uint64(pages) * wasm.PageSize; end > limit {
			return errors.DataSegDoesNotFit(name, i,
				fmt.Errorf("bytes [%d, %d) outside memory of %d bytes", uint32(off.I32()), end, limit))
		}
	}

	for i, el := range parsed.Elements {
		if el.Mode != wasm.ModeActive {
			continue
		}
		size, ok := tableSize(parsed, res, el.Table)
		if !ok {
			continue
		}
		off, err := wasm.EvalConst(el.Offset, globals)
		if err != nil || off.Type() != types.I32 {
			continue
		}
		count := el.Count
		if el.Funcs != nil {
			count = uint32(len(el.Funcs))
		}
		end := uint64(uint32(off.I32())) + uint64(count)
		if end > uint64(size) {
			return errors.ElemSegDoesNotFit(name, i,
				fmt.Errorf("elements [%d, %d) outside table of %d", uint32(off.I32()), end, size))
		}
	}
	return nil
}

func memoryPages(parsed *wasm.Module, res *resolution, idx uint32) (uint32, bool) {
	if idx < uint32(len(res.memPages)) {
		return res.memPages[idx], true
	}
	local := idx - uint32(len(res.memPages))
	if int(local) >= len(parsed.Memories) {
		return 0, false
	}
	return parsed.Memories[local].Min, true
}

func tableSize(parsed *wasm.Module, res *resolution, idx uint32) (uint32, bool) {
	if idx < uint32(len(res.tableSizes)) {
		return res.tableSizes[idx], true
	}
	local := idx - uint32(len(res.tableSizes))
	if int(local) >= len(parsed.Tables) {
		return 0, false
	}
	return parsed.Tables[local].Min, true
}
