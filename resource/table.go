package resource

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Table stores host values behind integer handles and reports lifecycle
// events to observers.
type Table struct {
	backend   Backend
	interned  map[any]Handle
	observers []Observer
	obsMu     sync.RWMutex
	internMu  sync.Mutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates an empty table backed by a LocalBackend.
func NewTable() *Table {
	return &Table{
		backend:  NewLocalBackend(),
		interned: make(map[any]Handle),
	}
}

// Insert adds a value and returns its handle, or 0 after Close.
func (t *Table) Insert(kind Kind, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(kind, value)
	if err != nil {
		Logger().Debug("insert after close", zap.Stringer("kind", kind))
		return 0
	}

	t.notify(Event{Type: EventCreated, Handle: handle, Kind: kind, Value: value})
	return handle
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it was inserted with kind.
func (t *Table) GetTyped(handle Handle, kind Kind) (any, bool) {
	actual, ok := t.backend.Kind(handle)
	if !ok || actual != kind {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Remove drops a value, calling Drop if it implements Dropper.
func (t *Table) Remove(handle Handle) (any, bool) {
	kind, _ := t.backend.Kind(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}
	if kind == KindExternRef && isComparable(value) {
		t.internMu.Lock()
		if t.interned[value] == handle {
			delete(t.interned, value)
		}
		t.internMu.Unlock()
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{Type: EventDropped, Handle: handle, Kind: kind, Value: value})
	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live values.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Clear drops all values.
func (t *Table) Clear() {
	var handles []Handle
	t.backend.Each(func(h Handle, _ Kind, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all values and stops accepting inserts.
func (t *Table) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	t.internMu.Lock()
	t.interned = make(map[any]Handle)
	t.internMu.Unlock()

	return t.backend.Close()
}

// Refs adapts a table to carry externref payloads across the engine boundary.
type Refs struct {
	table *Table
}

// Refs returns the externref view of t.
func (t *Table) Refs() *Refs {
	return &Refs{table: t}
}

// Insert implements types.Refs. Comparable payloads are interned so passing
// the same value repeatedly reuses one word.
func (r *Refs) Insert(payload any) uint64 {
	t := r.table
	if !isComparable(payload) {
		return uint64(t.Insert(KindExternRef, payload))
	}

	t.internMu.Lock()
	defer t.internMu.Unlock()
	if h, ok := t.interned[payload]; ok {
		return uint64(h)
	}
	h := t.Insert(KindExternRef, payload)
	if h != 0 {
		t.interned[payload] = h
	}
	return uint64(h)
}

// Lookup implements types.Refs.
func (r *Refs) Lookup(word uint64) (any, bool) {
	if word == 0 || word > uint64(^Handle(0)) {
		return nil, false
	}
	return r.table.GetTyped(Handle(word), KindExternRef)
}

func isComparable(v any) bool {
	if v == nil {
		return false
	}
	return reflect.TypeOf(v).Comparable()
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
