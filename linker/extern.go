package linker

import (
	"sync/atomic"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
)

// Ownership records who frees a handle's host-side storage.
type Ownership uint8

const (
	// Owned handles were created by the host and are freed by Release.
	Owned Ownership = iota
	// Borrowed handles belong to an import object or an instance.
	Borrowed
)

func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "borrowed"
}

// Extern is a function, table, memory or global handle.
type Extern interface {
	Kind() types.ExternKind
	ExternType() types.ExternType
	Name() string
	ModuleName() string
	Ownership() Ownership
	Release()
}

// handle is the bookkeeping shared by all extern handles.
type handle struct {
	name      string
	module    string
	ownership atomic.Uint32
	released  atomic.Bool
}

func (h *handle) init(module, name string, o Ownership) {
	h.module = module
	h.name = name
	h.ownership.Store(uint32(o))
}

// Name returns the export name, or "" for an unexported host object.
func (h *handle) Name() string { return h.name }

// ModuleName returns the name of the exporting instance, if any.
func (h *handle) ModuleName() string { return h.module }

// Ownership reports the current ownership tag.
func (h *handle) Ownership() Ownership { return Ownership(h.ownership.Load()) }

// borrow flips Owned to Borrowed. It reports false if the handle was released.
func (h *handle) borrow() bool {
	if h.released.Load() {
		return false
	}
	h.ownership.Store(uint32(Borrowed))
	return true
}

// release marks an owned handle released. It reports whether storage should be freed.
func (h *handle) release() bool {
	if h.Ownership() != Owned {
		return false
	}
	return h.released.CompareAndSwap(false, true)
}

func (h *handle) check(what string) error {
	if h.released.Load() {
		return errors.Released(what)
	}
	return nil
}

func (h *handle) path() []string {
	if h.module == "" && h.name == "" {
		return nil
	}
	return []string{h.module, h.name}
}
