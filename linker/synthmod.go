package linker

import (
	"strings"

	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

// synthModule builds the wasm module that stands for an import object under
// its namespace. Host functions live in a hidden host module. The synthetic
// module imports each one and exports it twice: unchanged, so guests that
// import it are still the caller the host function sees, and as a defined
// forwarding function under callName, which the host binds to. The engine
// cannot hand out host module functions or re-exported imports to Go.
func newSynthModule(name, host string) *synthModule {
	return &synthModule{
		host:    host,
		typeIdx: make(map[string]uint32),
		m:       wasm.Module{Name: name},
	}
}

func (s *synthModule) typeOf(ft types.FuncType) uint32 {
	key := ft.String()
	if idx, ok := s.typeIdx[key]; ok {
		return idx
	}
	idx := uint32(len(s.m.Types))
	s.m.Types = append(s.m.Types, ft)
	s.typeIdx[key] = idx
	return idx
}

// hostFunc is one function of the hidden host module.
type hostFunc struct {
	name string
	typ  types.FuncType
}

// funcs imports fns from the host module and exports them with their
// forwarding functions. It must be called once, before anything else is
// added, so that import indices are function indices.
func (s *synthModule) funcs(fns []hostFunc) {
	for i, f := range fns {
		s.m.Imports = append(s.m.Imports, wasm.Import{
			Module: s.host,
			Name:   f.name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: s.typeOf(f.typ)},
		})
		s.export(f.name, wasm.KindFunc, uint32(i))
	}
	base := uint32(len(fns))
	for i, f := range fns {
		s.m.Funcs = append(s.m.Funcs, s.typeOf(f.typ))
		s.m.Code = append(s.m.Code, wasm.ForwardBody(uint32(i), len(f.typ.Params)))
		s.export(callName(f.name), wasm.KindFunc, base+uint32(i))
	}
}

func (s *synthModule) table(name string, tt types.TableType) {
	s.m.Tables = append(s.m.Tables, tt)
	s.export(name, wasm.KindTable, uint32(len(s.m.Tables)-1))
}

func (s *synthModule) memory(name string, mt types.MemoryType) {
	s.m.Memories = append(s.m.Memories, mt)
	s.export(name, wasm.KindMemory, uint32(len(s.m.Memories)-1))
}

// global defines a global initialized to v. Host references cannot appear in
// constant expressions and start out null.
func (s *synthModule) global(name string, gt types.GlobalType, v types.Value) {
	init := wasm.ValueConst(v)
	if gt.Value.IsRef() {
		init = wasm.ValueConst(types.Zero(gt.Value))
	}
	s.m.Globals = append(s.m.Globals, wasm.Global{Type: gt, Init: init})
	s.export(name, wasm.KindGlobal, uint32(len(s.m.Globals)-1))
}

// callPrefix starts the export names of forwarding functions.
const callPrefix = "\x00call:"

func callName(name string) string { return callPrefix + name }

// hiddenExport reports whether an export name is internal to synthetic modules.
func hiddenExport(name string) bool {
	return strings.HasPrefix(name, callPrefix) || wasm.IsAccessor(name)
}

func (s *synthModule) export(name string, kind byte, idx uint32) {
	s.m.Exports = append(s.m.Exports, wasm.Export{Name: name, Kind: kind, Index: idx})
}

// build encodes the module with table accessors added.
func (s *synthModule) build() ([]byte, error) {
	if err := wasm.Validate(&s.m); err != nil {
		return nil, err
	}
	return wasm.InjectTableAccessors(wasm.Encode(&s.m), &s.m)
}
