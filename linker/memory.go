package linker

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasm"
)

type memoryBinding struct {
	mem api.Memory
}

// Memory is a linear memory. A host-created memory keeps its bytes in Go
// until it is linked.
type Memory struct {
	handle
	bound atomic.Pointer[memoryBinding]
	data  []byte
	typ   types.MemoryType
}

// NewMemory creates an owned, zeroed memory of mt.Min pages.
func NewMemory(mt types.MemoryType) (*Memory, error) {
	if mt.Min > wasm.MaxPages || (mt.Max != nil && *mt.Max > wasm.MaxPages) {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("memory limits exceed %d pages", wasm.MaxPages))
	}
	if mt.Max != nil && mt.Min > *mt.Max {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("memory min %d greater than max %d", mt.Min, *mt.Max))
	}
	if mt.Shared && mt.Max == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "shared memory requires a maximum")
	}
	return &Memory{typ: mt, data: make([]byte, uint64(mt.Min)*wasm.PageSize)}, nil
}

func newBoundMemory(module, name string, mt types.MemoryType, mem api.Memory) *Memory {
	m := &Memory{typ: mt}
	m.init(module, name, Borrowed)
	m.bound.Store(&memoryBinding{mem: mem})
	return m
}

// Kind returns types.KindMemory.
func (m *Memory) Kind() types.ExternKind { return types.KindMemory }

// ExternType returns the memory type.
func (m *Memory) ExternType() types.ExternType { return m.Type() }

// Type returns the memory type, read from the engine definition once bound.
func (m *Memory) Type() types.MemoryType {
	b := m.bound.Load()
	if b == nil {
		return m.typ
	}
	def := b.mem.Definition()
	mt := types.MemoryType{Min: def.Min(), Shared: m.typ.Shared}
	if hi, ok := def.Max(); ok {
		mt.Max = types.Uint32(hi)
	}
	return mt
}

// Release frees the bytes of an owned, unlinked memory.
func (m *Memory) Release() {
	if m.release() {
		m.data = nil
	}
}

// attach copies the host bytes into mem and routes later operations to it.
func (m *Memory) attach(mem api.Memory) error {
	if used := bytes.TrimRight(m.data, "\x00"); len(used) > 0 {
		if !mem.Write(0, used) {
			return errors.OutOfBounds(errors.PhaseLinking, m.path(), uint64(len(used)), uint64(mem.Size()))
		}
	}
	m.bound.Store(&memoryBinding{mem: mem})
	m.data = nil
	return nil
}

// Size returns the current size in pages.
func (m *Memory) Size() (uint32, error) {
	if err := m.check("memory"); err != nil {
		return 0, err
	}
	if b := m.bound.Load(); b != nil {
		return b.mem.Size() / wasm.PageSize, nil
	}
	return uint32(len(m.data) / wasm.PageSize), nil
}

// Grow adds delta pages and returns the previous size in pages.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	size, err := m.Size()
	if err != nil {
		return 0, err
	}
	limit := uint32(wasm.MaxPages)
	if m.typ.Max != nil {
		limit = *m.typ.Max
	}
	if b := m.bound.Load(); b != nil {
		prev, ok := b.mem.Grow(delta)
		if !ok {
			return 0, m.growError(delta, size, limit)
		}
		return prev, nil
	}
	if uint64(size)+uint64(delta) > uint64(limit) {
		return 0, m.growError(delta, size, limit)
	}
	m.data = append(m.data, make([]byte, uint64(delta)*wasm.PageSize)...)
	return size, nil
}

// Read returns a copy of n bytes at offset.
func (m *Memory) Read(offset, n uint32) ([]byte, error) {
	if err := m.check("memory"); err != nil {
		return nil, err
	}
	if b := m.bound.Load(); b != nil {
		buf, ok := b.mem.Read(offset, n)
		if !ok {
			return nil, errors.OutOfBounds(errors.PhaseRuntime, m.path(), uint64(offset)+uint64(n), uint64(b.mem.Size()))
		}
		return bytes.Clone(buf), nil
	}
	end := uint64(offset) + uint64(n)
	if end > uint64(len(m.data)) {
		return nil, errors.OutOfBounds(errors.PhaseRuntime, m.path(), end, uint64(len(m.data)))
	}
	return bytes.Clone(m.data[offset:end]), nil
}

// Write copies data into memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if err := m.check("memory"); err != nil {
		return err
	}
	if b := m.bound.Load(); b != nil {
		if !b.mem.Write(offset, data) {
			return errors.OutOfBounds(errors.PhaseRuntime, m.path(), uint64(offset)+uint64(len(data)), uint64(b.mem.Size()))
		}
		return nil
	}
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return errors.OutOfBounds(errors.PhaseRuntime, m.path(), end, uint64(len(m.data)))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *Memory) growError(delta, size, limit uint32) error {
	return errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
		Path(m.path()...).
		Value(delta).
		Detail("grow by %d pages from %d exceeds maximum %d", delta, size, limit).
		Build()
}
