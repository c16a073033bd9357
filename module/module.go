package module

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

// shared is the immutable state behind every holder of a compiled module.
type shared struct {
	parsed    *wasm.Module
	bin       []byte
	engineBin []byte
	imports   []types.ImportDescriptor
	exports   []types.ExportDescriptor
	name      string
	hash      [sha256.Size]byte
	refs      atomic.Int64
}

// CompiledModule is a validated module shared by reference count. Each
// value returned by Load* or Clone is one holder and must be closed once.
type CompiledModule struct {
	s        *shared
	released atomic.Bool
}

// LoadFromBytes parses and validates bin. The slice is retained; callers
// must not modify it afterwards.
func LoadFromBytes(bin []byte) (*CompiledModule, error) {
	parsed, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Load("parse module", err)
	}
	if err := wasm.Validate(parsed); err != nil {
		return nil, errors.Load("validate module", err)
	}

	engineBin, err := wasm.InjectTableAccessors(bin, parsed)
	if err != nil {
		return nil, errors.Load("prepare tables", err)
	}

	s := &shared{
		parsed:    parsed,
		bin:       bin,
		engineBin: engineBin,
		name:      parsed.Name,
		hash:      sha256.Sum256(bin),
	}
	if s.imports, err = importDescriptors(parsed); err != nil {
		return nil, err
	}
	if s.exports, err = exportDescriptors(parsed); err != nil {
		return nil, err
	}
	s.refs.Store(1)

	Logger().Debug("module loaded",
		zap.String("name", s.name),
		zap.Int("imports", len(s.imports)),
		zap.Int("exports", len(s.exports)),
		zap.Int("size", len(bin)))
	return &CompiledModule{s: s}, nil
}

// LoadFromFile reads and loads a module from disk.
func LoadFromFile(path string) (*CompiledModule, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return LoadFromBytes(bin)
}

func importDescriptors(m *wasm.Module) ([]types.ImportDescriptor, error) {
	out := make([]types.ImportDescriptor, 0, len(m.Imports))
	for _, imp := range m.Imports {
		t, ok := m.ImportType(imp)
		if !ok {
			return nil, errors.Load("import "+imp.Module+"."+imp.Name+": unresolved type", nil)
		}
		out = append(out, types.ImportDescriptor{Module: imp.Module, Name: imp.Name, Kind: t.Kind(), Type: t})
	}
	return out, nil
}

func exportDescriptors(m *wasm.Module) ([]types.ExportDescriptor, error) {
	out := make([]types.ExportDescriptor, 0, len(m.Exports))
	for _, e := range m.Exports {
		t, ok := m.ExternType(e)
		if !ok {
			return nil, errors.Load("export "+e.Name+": unresolved type", nil)
		}
		out = append(out, types.ExportDescriptor{Name: e.Name, Kind: t.Kind(), Type: t})
	}
	return out, nil
}

// Clone returns a new holder of the same module in O(1). Cloning a closed
// holder returns nil.
func (m *CompiledModule) Clone() *CompiledModule {
	if m == nil || m.released.Load() {
		return nil
	}
	for {
		n := m.s.refs.Load()
		if n <= 0 {
			return nil
		}
		if m.s.refs.CompareAndSwap(n, n+1) {
			return &CompiledModule{s: m.s}
		}
	}
}

// Close releases this holder. The last holder frees the parsed module.
// Closing a holder twice is a no-op.
func (m *CompiledModule) Close() error {
	if m == nil || !m.released.CompareAndSwap(false, true) {
		return nil
	}
	if m.s.refs.Add(-1) == 0 {
		Logger().Debug("module freed", zap.String("name", m.s.name))
		m.s.parsed = nil
		m.s.engineBin = nil
	}
	return nil
}

// Closed reports whether this holder has been closed.
func (m *CompiledModule) Closed() bool {
	return m.released.Load()
}

// RefCount returns the number of open holders.
func (m *CompiledModule) RefCount() int64 {
	return m.s.refs.Load()
}

// Imports returns a copy of the import descriptors in declaration order.
func (m *CompiledModule) Imports() []types.ImportDescriptor {
	return slices.Clone(m.s.imports)
}

// Exports returns a copy of the export descriptors in declaration order.
func (m *CompiledModule) Exports() []types.ExportDescriptor {
	return slices.Clone(m.s.exports)
}

// Name returns the name-section module name, or "".
func (m *CompiledModule) Name() string {
	return m.s.name
}

// Bytes returns the original binary.
func (m *CompiledModule) Bytes() []byte {
	return m.s.bin
}

// Hash returns the hex sha256 of the original binary.
func (m *CompiledModule) Hash() string {
	return hex.EncodeToString(m.s.hash[:])
}

// Parsed returns the decoded module, or nil once every holder is closed.
func (m *CompiledModule) Parsed() *wasm.Module {
	if m.released.Load() {
		return nil
	}
	return m.s.parsed
}

// EngineBytes returns the binary handed to the engine. It differs from
// Bytes when exported tables need accessor functions.
func (m *CompiledModule) EngineBytes() []byte {
	if m.released.Load() {
		return nil
	}
	return m.s.engineBin
}
